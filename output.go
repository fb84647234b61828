package miroflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxToolResultLen caps tool-result text fed back to the model.
const maxToolResultLen = 100_000

// boxedRe matches \boxed{...} with one level of brace nesting.
var boxedRe = regexp.MustCompile(`\\boxed\{([^{}]*(?:\{[^{}]*\}[^{}]*)*)\}`)

// boxedShallowRe is the non-nested fallback.
var boxedShallowRe = regexp.MustCompile(`\\boxed\{([^}]+)\}`)

// NoFinalAnswer is the boxed-answer sentinel for runs that produced no
// summary text at all.
const NoFinalAnswer = "No final answer generated."

// noBoxedContent is the boxed-answer sentinel when a summary exists but
// carries no \boxed{} pattern.
const noBoxedContent = "Final response is generated by LLM, but no \\boxed{} content found."

// ExtractBoxedContent returns the content of the last \boxed{...} occurrence
// in text. The primary pattern allows one level of brace nesting; a shallow
// pattern is the fallback. Returns "" when nothing matches.
func ExtractBoxedContent(text string) string {
	if text == "" {
		return ""
	}
	matches := boxedRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		matches = boxedShallowRe.FindAllStringSubmatch(text, -1)
	}
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// FormatToolResultForUser renders one tool execution result as the text fed
// back to the model. Errors are surfaced concisely; oversized results are
// truncated with a marker; an empty result is called out explicitly.
func FormatToolResultForUser(tr ToolResult) string {
	if tr.Error != "" {
		return fmt.Sprintf("Tool call to %s on %s failed. Error: %s", tr.ToolName, tr.ServerName, tr.Error)
	}
	if tr.Result == "" {
		return fmt.Sprintf("Tool '%s' completed but returned empty text - this may be expected or indicate an issue", tr.ToolName)
	}
	content := tr.Result
	if len(content) > maxToolResultLen {
		content = content[:maxToolResultLen] + "\n... [Result truncated]"
	}
	return content
}

// TruncateScrapeResult bounds scrape output to maxLen characters. JSON
// results carrying a "text" field are truncated field-wise and re-encoded;
// anything else is truncated as a raw string.
func TruncateScrapeResult(result string, maxLen int) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(result), &payload); err == nil {
		text, _ := payload["text"].(string)
		if len(text) > maxLen {
			text = text[:maxLen]
		}
		out, err := json.Marshal(map[string]any{"text": text})
		if err == nil {
			return string(out)
		}
	}
	if len(result) > maxLen {
		return result[:maxLen]
	}
	return result
}

// UsageSummary labels one LLM client's token counters for the final
// summary's usage section.
type UsageSummary struct {
	AgentName string
	Usage     Usage
}

// tokenUsageTitle heads the usage section of the framed summary.
const tokenUsageTitle = " Token Usage & Cost "

// FormatFinalSummary frames the summary text with the extracted boxed
// answer and a token-usage section built from the given client snapshots.
// Returns the framed summary and the boxed answer (or its sentinel).
func FormatFinalSummary(finalAnswerText string, usages ...UsageSummary) (string, string) {
	var lines []string
	lines = append(lines, "\n"+strings.Repeat("=", 30)+" Final Answer "+strings.Repeat("=", 30))
	lines = append(lines, finalAnswerText)

	boxed := ExtractBoxedContent(finalAnswerText)
	lines = append(lines, "\n"+strings.Repeat("-", 20)+" Extracted Result "+strings.Repeat("-", 20))
	switch {
	case boxed != "":
		lines = append(lines, boxed)
	case finalAnswerText != "":
		lines = append(lines, "No \\boxed{} content found.")
		boxed = noBoxedContent
	default:
		lines = append(lines, "No \\boxed{} content found.")
		boxed = NoFinalAnswer
	}

	lines = append(lines, "\n"+strings.Repeat("-", 20)+tokenUsageTitle+strings.Repeat("-", 20))
	if len(usages) == 0 {
		lines = append(lines, "Token usage information not available.")
	} else {
		for _, u := range usages {
			lines = append(lines, formatUsageLine(u))
		}
	}
	lines = append(lines, strings.Repeat("-", 40+len(tokenUsageTitle)))

	return strings.Join(lines, "\n"), boxed
}

// formatUsageLine renders one client's counters. Cost-in-USD estimation is
// owned by the LLM client; the engine renders the counters it can read.
func formatUsageLine(u UsageSummary) string {
	line := fmt.Sprintf("%s: input=%d, cached=%d, output=%d, reasoning=%d tokens",
		u.AgentName, u.Usage.InputTokens, u.Usage.CachedTokens,
		u.Usage.OutputTokens, u.Usage.ReasoningTokens)
	if len(u.Usage.ToolCalls) > 0 {
		total := 0
		for _, n := range u.Usage.ToolCalls {
			total += n
		}
		line += fmt.Sprintf(", %d tool calls", total)
	}
	return line
}
