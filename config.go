package miroflow

import (
	"math"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds everything a run needs to know about budgets, prompt
// selection, and processing toggles. It is read-only for the duration of a
// run.
type Config struct {
	MainAgent       MainAgentConfig           `toml:"main_agent"`
	SubAgents       map[string]SubAgentConfig `toml:"sub_agents"`
	ScrapeMaxLength int                       `toml:"scrape_max_length"`
}

// MainAgentConfig configures the top-level agent.
type MainAgentConfig struct {
	PromptClass         string              `toml:"prompt_class"`
	MaxTurns            int                 `toml:"max_turns"`
	MaxToolCallsPerTurn int                 `toml:"max_tool_calls_per_turn"`
	KeepToolResult      int                 `toml:"keep_tool_result"`
	ChineseContext      bool                `toml:"chinese_context"`
	AddMessageID        bool                `toml:"add_message_id"`
	InputProcess        InputProcessConfig  `toml:"input_process"`
	OutputProcess       OutputProcessConfig `toml:"output_process"`
}

// InputProcessConfig toggles pre-run input enrichment.
type InputProcessConfig struct {
	HintGeneration bool `toml:"hint_generation"`
}

// OutputProcessConfig toggles post-summary answer extraction.
type OutputProcessConfig struct {
	FinalAnswerExtraction bool `toml:"final_answer_extraction"`
}

// SubAgentConfig configures one delegated agent, keyed by its agent-* server
// name.
type SubAgentConfig struct {
	PromptClass         string `toml:"prompt_class"`
	MaxTurns            int    `toml:"max_turns"`
	MaxToolCallsPerTurn int    `toml:"max_tool_calls_per_turn"`
}

// DefaultScrapeMaxLength bounds scrape tool output when no override is set.
const DefaultScrapeMaxLength = 20_000

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() Config {
	return Config{
		MainAgent: MainAgentConfig{
			PromptClass:         "main",
			MaxTurns:            20,
			MaxToolCallsPerTurn: 10,
			KeepToolResult:      -1,
		},
		ScrapeMaxLength: DefaultScrapeMaxLength,
	}
}

// LoadConfig reads configuration: defaults -> TOML file -> env vars (env
// wins). A missing file leaves the defaults untouched.
func LoadConfig(path string) Config {
	cfg := DefaultConfig()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = toml.Unmarshal(data, &cfg)
		}
	}

	if v := os.Getenv("SCRAPE_MAX_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScrapeMaxLength = n
		}
	}
	if cfg.ScrapeMaxLength <= 0 {
		cfg.ScrapeMaxLength = DefaultScrapeMaxLength
	}

	return cfg
}

// effectiveMaxTurns maps a negative budget to "effectively unbounded".
func effectiveMaxTurns(n int) int {
	if n < 0 {
		return math.MaxInt
	}
	return n
}
