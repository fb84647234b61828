package miroflow

import (
	"regexp"
	"strings"
	"testing"
)

func TestParseNativeToolCalls(t *testing.T) {
	valid, malformed := ParseToolCalls(ToolCallSource{Native: []NativeToolCall{
		{ID: "call_1", Name: "tool-code-run_command", Arguments: `{"command":"ls"}`},
	}})
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed calls: %v", malformed)
	}
	if len(valid) != 1 {
		t.Fatalf("got %d calls, want 1", len(valid))
	}
	call := valid[0]
	if call.ServerName != "tool-code" || call.ToolName != "run_command" {
		t.Errorf("name split: got (%q, %q)", call.ServerName, call.ToolName)
	}
	if call.CallID != "call_1" {
		t.Errorf("call id: got %q", call.CallID)
	}
	if call.Arguments["command"] != "ls" {
		t.Errorf("arguments: got %v", call.Arguments)
	}
}

func TestParseOutputItems(t *testing.T) {
	valid, _ := ParseToolCalls(ToolCallSource{Items: []OutputItem{
		{Type: "reasoning", Name: "ignored"},
		{Type: "function_call", Name: "srvA-echo", Arguments: `{"x":"hi"}`, CallID: "c9"},
	}})
	if len(valid) != 1 {
		t.Fatalf("got %d calls, want 1", len(valid))
	}
	if valid[0].ServerName != "srvA" || valid[0].ToolName != "echo" || valid[0].CallID != "c9" {
		t.Errorf("unexpected call: %+v", valid[0])
	}
}

func TestParseMCPBlock(t *testing.T) {
	text := `Let me check. <use_mcp_tool><server_name>srvA</server_name><tool_name>echo</tool_name><arguments>{"x":"hi"}</arguments></use_mcp_tool>`
	valid, malformed := ParseToolCalls(ToolCallSource{Text: text})
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed calls: %v", malformed)
	}
	if len(valid) != 1 {
		t.Fatalf("got %d calls, want 1", len(valid))
	}
	call := valid[0]
	if call.ServerName != "srvA" || call.ToolName != "echo" {
		t.Errorf("got (%q, %q)", call.ServerName, call.ToolName)
	}
	if call.Arguments["x"] != "hi" {
		t.Errorf("arguments: %v", call.Arguments)
	}
	if call.CallID != "" {
		t.Errorf("XML-style calls carry no call id, got %q", call.CallID)
	}
}

func TestParseMCPBlockTolerance(t *testing.T) {
	// Mixed case, attributes, and loose whitespace must all parse.
	text := "<USE_MCP_TOOL attr=\"1\">\n  <Server_Name> srvA </Server_Name>\n  <tool_NAME>echo</tool_NAME>\n  <arguments>\n  {\"x\": 1}\n  </arguments>\n</USE_MCP_TOOL>"
	valid, _ := ParseToolCalls(ToolCallSource{Text: text})
	if len(valid) != 1 {
		t.Fatalf("got %d calls, want 1", len(valid))
	}
	if valid[0].ServerName != "srvA" || valid[0].ToolName != "echo" {
		t.Errorf("got (%q, %q)", valid[0].ServerName, valid[0].ToolName)
	}
}

func TestParseMCPMultipleBlocks(t *testing.T) {
	text := mcpBlockString("s1", "a", `{"i":1}`) + "\nand\n" + mcpBlockString("s2", "b", `{"i":2}`)
	valid, _ := ParseToolCalls(ToolCallSource{Text: text})
	if len(valid) != 2 {
		t.Fatalf("got %d calls, want 2", len(valid))
	}
	if valid[0].ServerName != "s1" || valid[1].ServerName != "s2" {
		t.Errorf("order not preserved: %q, %q", valid[0].ServerName, valid[1].ServerName)
	}
}

// Round trip: a canonically serialized block parses into a ToolCall whose
// re-serialization is byte-identical up to whitespace normalization.
func TestParseMCPRoundTrip(t *testing.T) {
	original := mcpBlockString("srvA", "echo", `{"x":"hi"}`)
	valid, _ := ParseToolCalls(ToolCallSource{Text: original})
	if len(valid) != 1 {
		t.Fatalf("got %d calls", len(valid))
	}
	rendered := mcpBlockString(valid[0].ServerName, valid[0].ToolName, `{"x":"hi"}`)
	if normalizeSpace(rendered) != normalizeSpace(original) {
		t.Errorf("round trip mismatch:\n%s\n%s", rendered, original)
	}
}

func TestParseUnclosedUseMCPTool(t *testing.T) {
	text := `<use_mcp_tool><server_name>srvA</server_name><tool_name>echo</tool_name><arguments>{not json</arguments>`
	valid, malformed := ParseToolCalls(ToolCallSource{Text: text})
	if len(valid) != 0 {
		t.Fatalf("unclosed block must not produce valid calls, got %d", len(valid))
	}
	if len(malformed) == 0 {
		t.Fatal("expected malformed entries")
	}
	found := false
	for _, m := range malformed {
		if strings.Contains(m.Err, "use_mcp_tool") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unclosed use_mcp_tool entry, got %v", malformed)
	}
}

func TestParseUnclosedArgumentsRepaired(t *testing.T) {
	// Missing </arguments> with the wrapping tag still closed: one
	// transparent re-parse recovers the call.
	text := `<use_mcp_tool><server_name>srvA</server_name><tool_name>echo</tool_name><arguments>{"x":"hi"}</use_mcp_tool>`
	valid, _ := ParseToolCalls(ToolCallSource{Text: text})
	if len(valid) != 1 {
		t.Fatalf("repair re-parse: got %d valid calls, want 1", len(valid))
	}
	if valid[0].Arguments["x"] != "hi" {
		t.Errorf("arguments after repair: %v", valid[0].Arguments)
	}
}

func TestParseArgumentsRepair(t *testing.T) {
	t.Run("lenient json5", func(t *testing.T) {
		args := parseArguments(`{x: 'hi', trailing: 'yes',}`)
		if args["x"] != "hi" {
			t.Errorf("json5 repair failed: %v", args)
		}
	})

	t.Run("code_block keeps source literals", func(t *testing.T) {
		raw := "{\n\"code_block\": \"flag = null\nprint(\"done\")\"\n}"
		args := parseArguments(raw)
		code, _ := args["code_block"].(string)
		if !strings.Contains(code, "flag = None") {
			t.Errorf("null not converted for code_block: %q", code)
		}
		if !strings.Contains(code, `print("done")`) {
			t.Errorf("quotes lost: %q", code)
		}
	})

	t.Run("command uses shell literals", func(t *testing.T) {
		raw := "{\"command\": \"echo True\necho False\"}"
		args := parseArguments(raw)
		cmd, _ := args["command"].(string)
		if !strings.Contains(cmd, "echo true") || !strings.Contains(cmd, "echo false") {
			t.Errorf("shell literal fixup failed: %q", cmd)
		}
	})

	t.Run("other keys get json literals", func(t *testing.T) {
		raw := "{\n\"note\": \"value is None\ndone\"\n}"
		args := parseArguments(raw)
		note, _ := args["note"].(string)
		if !strings.Contains(note, "value is null") {
			t.Errorf("json literal fixup failed: %q", note)
		}
	})

	t.Run("unrepairable yields error payload", func(t *testing.T) {
		args := parseArguments("completely hopeless ][")
		if args["error"] != "Failed to parse arguments" {
			t.Errorf("got %v", args)
		}
		if args["raw"] != "completely hopeless ][" {
			t.Errorf("raw not preserved: %v", args["raw"])
		}
	})
}

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		name   string
		server string
		tool   string
	}{
		{"tool-code-run_command", "tool-code", "run_command"},
		{"srvA-echo", "srvA", "echo"},
		{"standalone", "", "standalone"},
	}
	for _, tt := range tests {
		server, tool := splitToolName(tt.name)
		if server != tt.server || tool != tt.tool {
			t.Errorf("splitToolName(%q) = (%q, %q), want (%q, %q)", tt.name, server, tool, tt.server, tt.tool)
		}
	}
}

func mcpBlockString(server, tool, args string) string {
	return "<use_mcp_tool>\n<server_name>" + server + "</server_name>\n<tool_name>" + tool +
		"</tool_name>\n<arguments>\n" + args + "\n</arguments>\n</use_mcp_tool>"
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalizeSpace(s string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}
