// Package app is the composition root: it reads configuration once and
// wires the repositories, platform adapters, and pipeline components every
// cmd/chessmate subcommand needs, in the style of the teacher's main.go
// wiring pass but organized as reusable constructors instead of one long
// function.
package app

import (
	"github.com/chessmate/chessmate/internal/platform/envutil"
)

// Config is every environment variable spec.md §6 recognizes, plus the
// worker/HTTP-only variables the teacher's own main.go reads inline
// (PORT, WORKERS) rather than naming in its external interface table.
type Config struct {
	DatabaseURL string

	QdrantURL        string
	QdrantCollection string
	QdrantVectorDim  int

	OpenAIAPIKey string

	MaxPendingEmbeddings int

	AgentAPIKey             string
	AgentModel              string
	AgentReasoningEffort    string
	AgentVerbosity          string
	AgentCacheCapacity      int
	AgentMaxConcurrency     int
	AgentWeight             float64
	AgentCostInputPer1K     float64
	AgentCostOutputPer1K    float64
	AgentCostReasoningPer1K float64

	ChessmateAPIURL string

	HTTPAddr         string
	Workers          int
	PollSleepSeconds int

	LogMode        string
	MetricsEnabled bool
	MetricsAddr    string
}

const (
	defaultMaxPendingEmbeddings = 250000
	defaultWorkers              = 4
	defaultPollSleepSeconds     = 1
	defaultHTTPAddr             = ":8080"
)

// LoadConfig reads every recognized env var. The fields that switch an
// optional component on (QDRANT_URL, OPENAI_API_KEY, AGENT_API_KEY,
// CHESSMATE_API_URL) default to empty, so callers can branch on "configured
// or not" the same way internal/agent.Config.Enabled already does; the
// agent's tuning fields (model, effort, concurrency, weight) carry defaults.
func LoadConfig() Config {
	return Config{
		DatabaseURL: envutil.String("DATABASE_URL", ""),

		QdrantURL:        envutil.String("QDRANT_URL", ""),
		QdrantCollection: envutil.String("QDRANT_COLLECTION", ""),
		QdrantVectorDim:  envutil.Int("QDRANT_VECTOR_DIM", 0),

		OpenAIAPIKey: envutil.String("OPENAI_API_KEY", ""),

		MaxPendingEmbeddings: envutil.Int("CHESSMATE_MAX_PENDING_EMBEDDINGS", defaultMaxPendingEmbeddings),

		AgentAPIKey:             envutil.String("AGENT_API_KEY", ""),
		AgentModel:              envutil.String("AGENT_MODEL", "gpt-5.2"),
		AgentReasoningEffort:    envutil.String("AGENT_REASONING_EFFORT", "medium"),
		AgentVerbosity:          envutil.String("AGENT_VERBOSITY", ""),
		AgentCacheCapacity:      envutil.Int("AGENT_CACHE_CAPACITY", 0),
		AgentMaxConcurrency:     envutil.Int("AGENT_MAX_CONCURRENCY", 4),
		AgentWeight:             envutil.Float64("AGENT_WEIGHT", 0.5),
		AgentCostInputPer1K:     envutil.Float64("AGENT_COST_INPUT_PER_1K", 0),
		AgentCostOutputPer1K:    envutil.Float64("AGENT_COST_OUTPUT_PER_1K", 0),
		AgentCostReasoningPer1K: envutil.Float64("AGENT_COST_REASONING_PER_1K", 0),

		ChessmateAPIURL: envutil.String("CHESSMATE_API_URL", ""),

		HTTPAddr:         envutil.String("HTTP_ADDR", defaultHTTPAddr),
		Workers:          envutil.Int("WORKERS", defaultWorkers),
		PollSleepSeconds: envutil.Int("POLL_SLEEP_SECONDS", defaultPollSleepSeconds),

		LogMode:        envutil.String("LOG_MODE", "development"),
		MetricsEnabled: envutil.Bool("METRICS_ENABLED", false),
		MetricsAddr:    envutil.String("METRICS_ADDR", ":9090"),
	}
}

func (c Config) QdrantConfigured() bool { return c.QdrantURL != "" }
func (c Config) OpenAIConfigured() bool { return c.OpenAIAPIKey != "" }
func (c Config) AgentConfigured() bool  { return c.AgentAPIKey != "" }
