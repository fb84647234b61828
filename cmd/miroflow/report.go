package main

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	miroflow "github.com/MiroMindAI/MiroFlow"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// renderMarkdown converts message markdown to HTML, falling back to escaped
// preformatted text when conversion fails.
func renderMarkdown(source string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "<pre>" + html.EscapeString(source) + "</pre>"
	}
	return buf.String()
}

const pageHeader = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>MiroFlow Task Report</title>
<style>
body { font-family: sans-serif; max-width: 960px; margin: 2em auto; color: #222; }
.msg { border: 1px solid #ddd; border-radius: 6px; padding: 0.6em 1em; margin: 0.6em 0; }
.msg.user { background: #f4f8ff; }
.msg.assistant { background: #f8f8f4; }
.role { font-size: 0.8em; color: #777; text-transform: uppercase; }
.step { font-family: monospace; font-size: 0.85em; }
.step.failed { color: #b00; }
.step.warning { color: #a60; }
h2 { border-bottom: 1px solid #ccc; padding-bottom: 0.2em; }
</style></head><body>
`

// renderReport renders a persisted task state as a standalone HTML page:
// the run overview, the main-agent conversation, every sub-agent session,
// and the step log.
func renderReport(state miroflow.TaskState) ([]byte, error) {
	var b strings.Builder
	b.WriteString(pageHeader)

	fmt.Fprintf(&b, "<h1>Task %s</h1>\n", html.EscapeString(state.TaskID))
	fmt.Fprintf(&b, "<p>Status: <b>%s</b>", html.EscapeString(state.Status))
	if state.FinalBoxedAnswer != "" {
		fmt.Fprintf(&b, " &mdash; Answer: <b>%s</b>", html.EscapeString(state.FinalBoxedAnswer))
	}
	b.WriteString("</p>\n")
	if state.Error != "" {
		fmt.Fprintf(&b, "<p class=\"step failed\">%s</p>\n", html.EscapeString(state.Error))
	}

	b.WriteString("<h2>Main agent</h2>\n")
	writeHistory(&b, state.MainHistory)

	for id, session := range state.SubHistorySessions {
		fmt.Fprintf(&b, "<h2>Sub agent session %s</h2>\n", html.EscapeString(id))
		writeHistory(&b, session)
	}

	b.WriteString("<h2>Step log</h2>\n")
	for _, s := range state.StepLogs {
		fmt.Fprintf(&b, "<div class=\"step %s\">[%s] %s: %s</div>\n",
			html.EscapeString(s.Status), html.EscapeString(s.Status),
			html.EscapeString(s.StepName), html.EscapeString(s.Message))
	}

	b.WriteString("</body></html>\n")
	return []byte(b.String()), nil
}

func writeHistory(b *strings.Builder, session miroflow.SessionHistory) {
	if session.SystemPrompt != "" {
		fmt.Fprintf(b, "<details><summary>System prompt</summary><pre>%s</pre></details>\n",
			html.EscapeString(session.SystemPrompt))
	}
	for _, msg := range session.MessageHistory {
		fmt.Fprintf(b, "<div class=\"msg %s\"><div class=\"role\">%s</div>%s</div>\n",
			msg.Role, msg.Role, renderMarkdown(msg.Text()))
	}
}
