package agent

import (
	"strings"

	"github.com/chessmate/chessmate/internal/platform/envutil"
)

// Config is the Agent Evaluator's configuration, read from the env vars
// named in spec §6. The stage is optional: Enabled is false whenever
// AGENT_API_KEY is unset, and internal/app only constructs an Evaluator
// when an agent API key is configured.
type Config struct {
	Enabled bool

	APIKey          string
	Model           string
	ReasoningEffort string
	Verbosity       string

	MaxConcurrency int
	Weight         float64
	CacheCapacity  int

	CostInputPer1K     float64
	CostOutputPer1K    float64
	CostReasoningPer1K float64
}

const (
	defaultMaxConcurrency = 4
	defaultWeight         = 0.5
)

// LoadConfigFromEnv reads AGENT_* env vars. Config.Enabled is false when
// AGENT_API_KEY is unset (the other fields are still read from their env
// vars or defaults), matching spec §4.10's "invoked only when configuration contains
// an agent API key".
func LoadConfigFromEnv() Config {
	apiKey := strings.TrimSpace(envutil.String("AGENT_API_KEY", ""))
	cfg := Config{
		Enabled:            apiKey != "",
		APIKey:             apiKey,
		Model:              envutil.String("AGENT_MODEL", "gpt-5.2"),
		ReasoningEffort:    envutil.String("AGENT_REASONING_EFFORT", "medium"),
		Verbosity:          envutil.String("AGENT_VERBOSITY", ""),
		MaxConcurrency:     envutil.Int("AGENT_MAX_CONCURRENCY", defaultMaxConcurrency),
		Weight:             envutil.Float64("AGENT_WEIGHT", defaultWeight),
		CacheCapacity:      envutil.Int("AGENT_CACHE_CAPACITY", 0),
		CostInputPer1K:     envutil.Float64("AGENT_COST_INPUT_PER_1K", 0),
		CostOutputPer1K:    envutil.Float64("AGENT_COST_OUTPUT_PER_1K", 0),
		CostReasoningPer1K: envutil.Float64("AGENT_COST_REASONING_PER_1K", 0),
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.Weight < 0 {
		cfg.Weight = 0
	}
	if cfg.Weight > 1 {
		cfg.Weight = 1
	}
	return cfg
}
