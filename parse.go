package miroflow

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/titanous/json5"
)

// NativeToolCall is one entry of a native tool-calls list, as returned by
// chat-completion style providers. Arguments is a JSON string.
type NativeToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// OutputItem is one entry of a structured output-items list, as returned by
// response-API style providers. Only items whose Type is "function_call"
// carry tool calls.
type OutputItem struct {
	Type      string
	Name      string
	Arguments string
	CallID    string
}

// ToolCallSource is the provider-shaped input handed to the parser. Exactly
// one field is meaningful: a native tool-calls list, a structured
// output-items list, or raw assistant text carrying XML-tagged MCP blocks.
type ToolCallSource struct {
	Native []NativeToolCall
	Items  []OutputItem
	Text   string
}

// ParseToolCalls converts a completed LLM response into valid and malformed
// tool calls. Tool names of native and output-item calls are split at the
// last '-' into (server_name, tool_name); XML blocks carry both explicitly.
func ParseToolCalls(src ToolCallSource) ([]ToolCall, []MalformedToolCall) {
	switch {
	case src.Native != nil:
		var calls []ToolCall
		for _, tc := range src.Native {
			server, tool := splitToolName(tc.Name)
			calls = append(calls, ToolCall{
				ServerName: server,
				ToolName:   tool,
				Arguments:  parseArguments(tc.Arguments),
				CallID:     tc.ID,
				Raw:        tc.Arguments,
			})
		}
		return calls, nil
	case src.Items != nil:
		var calls []ToolCall
		for _, item := range src.Items {
			if item.Type != "function_call" {
				continue
			}
			server, tool := splitToolName(item.Name)
			calls = append(calls, ToolCall{
				ServerName: server,
				ToolName:   tool,
				Arguments:  parseArguments(item.Arguments),
				CallID:     item.CallID,
				Raw:        item.Arguments,
			})
		}
		return calls, nil
	default:
		return parseMCPText(src.Text, false)
	}
}

// splitToolName splits a combined provider tool name at the last '-' into
// (server_name, tool_name). A name with no separator is all tool name.
func splitToolName(name string) (string, string) {
	if i := strings.LastIndex(name, "-"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// mcpBlockRe matches a complete <use_mcp_tool> block. Tag matching is
// case-insensitive, tolerates attributes, and requires full nesting.
var mcpBlockRe = regexp.MustCompile(
	`(?is)<use_mcp_tool[^>]*?>\s*<server_name[^>]*?>(.*?)</server_name>\s*<tool_name[^>]*?>(.*?)</tool_name>\s*<arguments[^>]*?>\s*([\s\S]*?)\s*</arguments>\s*</use_mcp_tool>`)

// mcpTags lists the tag names checked for unclosed occurrences.
var mcpTags = []string{"use_mcp_tool", "server_name", "tool_name", "arguments"}

// parseMCPText extracts XML-tagged tool calls from assistant text. A single
// unclosed </arguments> triggers one transparent re-parse after best-effort
// closure insertion; repaired guards the recursion.
func parseMCPText(text string, repaired bool) ([]ToolCall, []MalformedToolCall) {
	var calls []ToolCall
	var malformed []MalformedToolCall

	for _, tag := range mcpTags {
		malformed = append(malformed, findUnclosed(text, tag)...)
	}

	for _, m := range mcpBlockRe.FindAllStringSubmatch(text, -1) {
		calls = append(calls, ToolCall{
			ServerName: strings.TrimSpace(m[1]),
			ToolName:   strings.TrimSpace(m[2]),
			Arguments:  parseArguments(strings.TrimSpace(m[3])),
			Raw:        m[0],
		})
	}

	if !repaired {
		for _, bad := range malformed {
			if bad.Err != "Unclosed arguments tag" {
				continue
			}
			if fixed, ok := closeArgumentsTag(text); ok {
				return parseMCPText(fixed, true)
			}
		}
	}

	return calls, malformed
}

// findUnclosed reports opener tags with no matching closer. Openers and
// closers are paired in document order; every surplus opener yields one
// malformed entry carrying the text from the opener onward.
func findUnclosed(text string, tag string) []MalformedToolCall {
	openRe := regexp.MustCompile(`(?i)<` + tag + `(\s[^>]*)?>`)
	closeRe := regexp.MustCompile(`(?i)</` + tag + `\s*>`)

	opens := openRe.FindAllStringIndex(text, -1)
	closes := closeRe.FindAllStringIndex(text, -1)

	var out []MalformedToolCall
	ci := 0
	for _, op := range opens {
		// Advance to the first closer after this opener.
		for ci < len(closes) && closes[ci][0] < op[1] {
			ci++
		}
		if ci < len(closes) {
			ci++
			continue
		}
		out = append(out, MalformedToolCall{
			Err:     "Unclosed " + tag + " tag",
			Content: text[op[0]:],
		})
	}
	return out
}

// closeArgumentsTag inserts a missing </arguments> before the next closing
// tag after the dangling <arguments>, or at the end of the text.
func closeArgumentsTag(text string) (string, bool) {
	lower := strings.ToLower(text)
	start := strings.Index(lower, "<arguments>")
	if start < 0 || strings.Contains(lower, "</arguments>") {
		return "", false
	}
	argsStart := start + len("<arguments>")
	if next := strings.Index(text[argsStart:], "</"); next >= 0 {
		at := argsStart + next
		return text[:at] + "</arguments>" + text[at:], true
	}
	return text + "</arguments>", true
}

// parseArguments decodes a tool-call argument string, repairing malformed
// JSON when possible. The repair chain is: strict JSON, lenient JSON5, a
// key-by-key re-escape with per-key fixup policies, and finally an error
// payload the downstream tool can surface verbatim.
func parseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	if err := json5.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}
	for _, keyRe := range []*regexp.Regexp{jsonKeyLineRe, jsonKeyAnyRe} {
		fixed, ok := repairJSONByKey(raw, keyRe)
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(fixed), &args); err == nil {
			return args
		}
		if err := json5.Unmarshal([]byte(fixed), &args); err == nil && args != nil {
			return args
		}
	}
	return map[string]any{"error": "Failed to parse arguments", "raw": raw}
}

// jsonKeyLineRe matches a "key": prefix at the start of a line; jsonKeyAnyRe
// matches one anywhere that is not preceded by a backslash. The line-start
// form is tried first since it cannot mistake quoted text inside a value for
// a key.
var (
	jsonKeyLineRe = regexp.MustCompile(`(?m)^\s*"([\w\-]+)"\s*:`)
	jsonKeyAnyRe  = regexp.MustCompile(`(?:^|[^\\])"([\w\-]+)"\s*:`)
)

// repairJSONByKey walks the raw object key by key, re-escaping each string
// value and applying a fixup policy chosen by key name. Returns false when
// no keys can be located.
func repairJSONByKey(raw string, keyRe *regexp.Regexp) (string, bool) {
	keys := keyRe.FindAllStringSubmatchIndex(raw, -1)
	if len(keys) == 0 {
		return "", false
	}

	var b strings.Builder
	last := 0
	for i, km := range keys {
		keyName := raw[km[2]:km[3]]
		keyEnd := km[1]
		b.WriteString(raw[last:keyEnd])

		// Locate the opening quote of the value.
		vs := keyEnd
		for vs < len(raw) && (raw[vs] == ' ' || raw[vs] == '\t') {
			vs++
		}
		if vs >= len(raw) || raw[vs] != '"' {
			last = keyEnd
			continue
		}
		contentStart := vs + 1

		limit := len(raw)
		if i < len(keys)-1 {
			// The next key's opening quote bounds this value.
			limit = keys[i+1][2] - 1
		}
		ve := findValueEnd(raw, contentStart, limit)
		if ve < 0 {
			last = keyEnd
			continue
		}

		escaped := escapeValue(raw[contentStart:ve], keyName)
		b.WriteString(` "`)
		b.WriteString(escaped)
		b.WriteString(`"`)
		last = ve + 1
	}
	b.WriteString(raw[last:])
	return b.String(), true
}

// findValueEnd scans backwards from limit for the closing quote of a string
// value: a '"' followed only by ',' or '}' or whitespace.
func findValueEnd(raw string, start, limit int) int {
	for pos := limit - 1; pos > start; pos-- {
		if raw[pos] != '"' {
			continue
		}
		rest := strings.TrimSpace(raw[pos+1 : limit])
		if rest == "" || strings.HasPrefix(rest, ",") || strings.HasPrefix(rest, "}") {
			return pos
		}
	}
	return -1
}

var (
	wordNullRe  = regexp.MustCompile(`\bnull\b`)
	wordTrueRe  = regexp.MustCompile(`\btrue\b`)
	wordFalseRe = regexp.MustCompile(`\bfalse\b`)
	wordNoneRe  = regexp.MustCompile(`\bNone\b`)
	wordTrueC   = regexp.MustCompile(`\bTrue\b`)
	wordFalseC  = regexp.MustCompile(`\bFalse\b`)
)

// escapeValue escapes JSON-significant characters in a raw string value and
// applies the per-key literal fixups: code_block values keep source-language
// literals (None/True/False), command values use shell literals, everything
// else is normalized to JSON literals.
func escapeValue(content, keyName string) string {
	var b strings.Builder
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case c == '\\' && i+1 < len(content):
			b.WriteByte(c)
			b.WriteByte(content[i+1])
			i++
		case c == '"':
			b.WriteString(`\"`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	s := b.String()

	switch keyName {
	case "code_block":
		s = wordNullRe.ReplaceAllString(s, "None")
		s = wordTrueRe.ReplaceAllString(s, "True")
		s = wordFalseRe.ReplaceAllString(s, "False")
	case "command":
		s = wordTrueC.ReplaceAllString(s, "true")
		s = wordFalseC.ReplaceAllString(s, "false")
		s = wordNoneRe.ReplaceAllString(s, "")
	default:
		s = wordNoneRe.ReplaceAllString(s, "null")
		s = wordTrueC.ReplaceAllString(s, "true")
		s = wordFalseC.ReplaceAllString(s, "false")
	}
	return s
}
