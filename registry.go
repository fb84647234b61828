package miroflow

import (
	"context"
	"strings"
)

// ToolRegistry is the remote-tool contract the engine consumes. Tools are
// addressed by (server_name, tool_name, arguments); implementations enforce
// their own inner timeouts beneath the engine's hard per-call bound.
type ToolRegistry interface {
	GetAllToolDefinitions(ctx context.Context) ([]ServerDef, error)
	ExecuteToolCall(ctx context.Context, serverName, toolName string, arguments map[string]any) (ToolResult, error)
}

// SubAgentServerPrefix marks tool calls routed to the sub-agent invoker.
// No call whose server name carries it ever reaches the tool registry.
const SubAgentServerPrefix = "agent-"

// restrictedHosts are dataset-hosting URL fragments the scrape tool must not
// touch; matching calls are refused without contacting the registry.
var restrictedHosts = []string{
	"huggingface.co/datasets",
	"huggingface.co/spaces",
}

// restrictedScrapeURL reports whether a scrape call targets a restricted
// host, based on its url argument.
func restrictedScrapeURL(toolName string, arguments map[string]any) bool {
	if toolName != "scrape" {
		return false
	}
	url, _ := arguments["url"].(string)
	if url == "" {
		return false
	}
	for _, h := range restrictedHosts {
		if strings.Contains(url, h) {
			return true
		}
	}
	return false
}
