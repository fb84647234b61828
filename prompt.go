package miroflow

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PromptOptions carries per-run prompt modifiers.
type PromptOptions struct {
	ChineseContext bool
	ExtraContext   string
	// Date pins the "today" line in system prompts; zero means time.Now.
	Date time.Time
}

// PromptProvider supplies the system prompt and the end-of-session summary
// prompt for one agent class. A configuration string selects among the
// implementations registered at program start; there is no runtime loading.
type PromptProvider interface {
	SystemPrompt(servers []ServerDef, opts PromptOptions) string
	SummaryPrompt(task string, taskFailed bool, opts PromptOptions) string
}

var promptProviders = map[string]func() PromptProvider{}

// RegisterPromptProvider adds a named provider constructor to the closed
// registry. Call from init or program start; later registrations with the
// same name replace earlier ones.
func RegisterPromptProvider(name string, ctor func() PromptProvider) {
	promptProviders[name] = ctor
}

// NewPromptProvider resolves a registered provider by its config name.
func NewPromptProvider(name string) (PromptProvider, error) {
	ctor, ok := promptProviders[name]
	if !ok {
		known := make([]string, 0, len(promptProviders))
		for k := range promptProviders {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown prompt provider %q (registered: %s)", name, strings.Join(known, ", "))
	}
	return ctor(), nil
}

func init() {
	RegisterPromptProvider("main", func() PromptProvider { return mainPrompt{} })
	RegisterPromptProvider("sub", func() PromptProvider { return subAgentPrompt{} })
}

// subAgentTaskSuffix is appended to every delegated task description so the
// sub-agent reports evidence alongside its answer.
const subAgentTaskSuffix = "\n\nPlease provide the answer and detailed supporting information of the subtask given to you."

// chineseTaskGuidance is appended to the task description when the run is
// configured for Chinese context.
const chineseTaskGuidance = `

## 中文任务处理指导

如果任务涉及中文语境，请遵循以下指导：

- **信息收集策略**：使用中文关键词进行网络搜索，优先浏览中文网页，以获取更准确和全面的中文资源
- **思考过程**：所有分析、推理、判断等思考过程都应使用中文表达，保持语义的一致性
- **证据文档化**：保持中文资源的原始格式，避免不必要的翻译或改写，确保信息的准确性
- **结果组织**：以中文组织和呈现最终报告，使用恰当的中文术语和表达习惯
`

// chineseSummaryGuidance extends the summary prompt under Chinese context.
const chineseSummaryGuidance = `

## 中文总结要求

如果原始问题涉及中文语境：
- **总结语言**：使用中文进行总结和回答
- **信息组织**：保持中文信息的原始格式和表达方式
- **最终答案**：确保最终答案符合中文表达习惯和用户期望
`

// toolUsageInstructions explains the XML tool-call markup to models driven
// through in-text MCP blocks.
const toolUsageInstructions = `# Tool-Use Formatting Instructions

Tool-use is formatted using XML-style tags. The tool-use is enclosed in <use_mcp_tool></use_mcp_tool> and each parameter is similarly enclosed within its own set of tags.

Parameters:
- server_name: (required) The name of the server providing the tool
- tool_name: (required) The name of the tool to execute
- arguments: (required) A JSON object containing the tool's input parameters, following the tool's input schema; quotes within strings must be properly escaped, ensure it is valid JSON

Usage:
<use_mcp_tool>
<server_name>server name here</server_name>
<tool_name>tool name here</tool_name>
<arguments>
{
"param1": "value1"
}
</arguments>
</use_mcp_tool>

Always adhere to this format for the tool use to ensure proper parsing and execution.`

// renderToolServers renders the per-server tool listing embedded in system
// prompts.
func renderToolServers(servers []ServerDef) string {
	if len(servers) == 0 {
		return "(No tools are available in this session.)"
	}
	var b strings.Builder
	b.WriteString("# Available Tools\n")
	for _, srv := range servers {
		fmt.Fprintf(&b, "\n## Server: %s\n", srv.Name)
		for _, t := range srv.Tools {
			fmt.Fprintf(&b, "\n### Tool: %s\n%s\n", t.Name, t.Description)
			if len(t.Schema) > 0 {
				fmt.Fprintf(&b, "Input schema:\n%s\n", string(t.Schema))
			}
		}
	}
	return b.String()
}

func promptDate(opts PromptOptions) string {
	d := opts.Date
	if d.IsZero() {
		d = time.Now()
	}
	return d.Format("2006-01-02")
}

// mainPrompt is the default prompt set for the top-level agent.
type mainPrompt struct{}

func (mainPrompt) SystemPrompt(servers []ServerDef, opts PromptOptions) string {
	var b strings.Builder
	b.WriteString("You are an advanced research assistant that solves tasks through step-by-step tool use.\n")
	if opts.ExtraContext != "" {
		b.WriteString("\n" + strings.TrimSpace(opts.ExtraContext) + "\n")
	}
	b.WriteString("\nIn this environment you have access to a set of tools you can use to answer the user's question. You can use one or more tools per message, and will receive the results of those tools in the user's next response. You use tools step-by-step to accomplish a given task, with each tool-use informed by the result of the previous tool-use.\n")
	fmt.Fprintf(&b, "\nToday is: %s. For time-dependent questions, answer based on the world as it would reasonably be today.\n\n", promptDate(opts))
	b.WriteString(toolUsageInstructions)
	b.WriteString("\n\n")
	b.WriteString(renderToolServers(servers))
	b.WriteString("\n\nWhen you have gathered enough information, stop calling tools and state your conclusion. Wrap the final answer in \\boxed{}.\n")
	if opts.ChineseContext {
		b.WriteString(chineseTaskGuidance)
	}
	return b.String()
}

func (mainPrompt) SummaryPrompt(task string, taskFailed bool, opts PromptOptions) string {
	var b strings.Builder
	b.WriteString("Please provide a comprehensive final research summary based entirely on all previous reasoning.\n\n")
	b.WriteString("Please include the key findings, the evidence supporting them, remaining uncertainties, and any contradictions.\n\n")
	if taskFailed {
		b.WriteString("The task could not be fully completed. Report all partially relevant findings organized like a scientific report; do not make up any content.\n\n")
	}
	b.WriteString("The final report must be written in the same language as the user.\n\n")
	b.WriteString("Important: no further tool calls are allowed at this stage, and the summary must rely solely on the information already obtained.")
	if opts.ChineseContext {
		b.WriteString(chineseSummaryGuidance)
	}
	return b.String()
}

// subAgentPrompt is the default prompt set for delegated agents.
type subAgentPrompt struct{}

func (subAgentPrompt) SystemPrompt(servers []ServerDef, opts PromptOptions) string {
	var b strings.Builder
	b.WriteString("You are a focused specialist agent. You receive one subtask and solve it through step-by-step tool use, then report your findings with supporting evidence.\n")
	fmt.Fprintf(&b, "\nToday is: %s.\n\n", promptDate(opts))
	b.WriteString(toolUsageInstructions)
	b.WriteString("\n\n")
	b.WriteString(renderToolServers(servers))
	if opts.ChineseContext {
		b.WriteString(chineseTaskGuidance)
	}
	return b.String()
}

func (subAgentPrompt) SummaryPrompt(task string, taskFailed bool, opts PromptOptions) string {
	var b strings.Builder
	b.WriteString("Summarize the work above and answer the subtask you were given.\n\n")
	b.WriteString("The original subtask is repeated here for reference:\n\n")
	b.WriteString("\"" + task + "\"\n\n")
	if taskFailed {
		b.WriteString("The subtask could not be fully completed. Return all partially relevant findings; clearly indicate partial, conflicting, or inconclusive information.\n\n")
	}
	b.WriteString("First provide the answer to the subtask, then the detailed supporting information. Do not include any tool call instructions.")
	if opts.ChineseContext {
		b.WriteString(chineseSummaryGuidance)
	}
	return b.String()
}

// HintPrompt builds the helper-model prompt that produces preliminary notes
// for a task. The result is appended to the initial user message; failures
// are non-fatal.
func HintPrompt(task string, chineseContext bool) string {
	var b strings.Builder
	b.WriteString("Read the following task and list subtle or easily misunderstood points that could trip up an analyst: ambiguous phrasing, unit conversions, date arithmetic, or format requirements. Be brief and concrete; do not attempt to solve the task.\n\n")
	b.WriteString("Task:\n" + task)
	if chineseContext {
		b.WriteString("\n\n请用中文回答。")
	}
	return b.String()
}

// hintNotesHeader introduces helper-generated notes in the initial message.
const hintNotesHeader = "\n\nBefore you begin, please review the following preliminary notes highlighting subtle or easily misunderstood points in the question, which might help you avoid common pitfalls during your analysis (for reference only; these may not be exhaustive):\n\n"

// AnswerExtractionPrompt builds the helper-model prompt that distills a
// final boxed answer from a full summary.
func AnswerExtractionPrompt(task, summary string) string {
	var b strings.Builder
	b.WriteString("Given the original task and a research summary, extract the single final answer the task asks for. Follow the format instructions in the task exactly and wrap the answer in \\boxed{}.\n\n")
	b.WriteString("Task:\n" + task + "\n\n")
	b.WriteString("Summary:\n" + summary)
	return b.String()
}
