package app

import (
	"context"
	"fmt"
	"time"

	"github.com/chessmate/chessmate/internal/agent"
	"github.com/chessmate/chessmate/internal/data/db"
	"github.com/chessmate/chessmate/internal/data/repos/embedqueue"
	"github.com/chessmate/chessmate/internal/data/repos/metadata"
	"github.com/chessmate/chessmate/internal/embedworker"
	chessmatehttp "github.com/chessmate/chessmate/internal/http"
	"github.com/chessmate/chessmate/internal/hybrid"
	"github.com/chessmate/chessmate/internal/ingest"
	"github.com/chessmate/chessmate/internal/observability"
	"github.com/chessmate/chessmate/internal/platform/logger"
	"github.com/chessmate/chessmate/internal/platform/openai"
	"github.com/chessmate/chessmate/internal/platform/qdrant"
)

// NewLogger builds the zap-backed logger every subcommand starts with.
func NewLogger(cfg Config) (*logger.Logger, error) {
	return logger.New(cfg.LogMode)
}

// NewDatabase connects to Postgres and runs the schema migration pass.
// Every subcommand that touches the metadata store or job queue needs one.
func NewDatabase(cfg Config, log *logger.Logger) (*db.PostgresService, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPostgresService(cfg.DatabaseURL, log)
}

// NewRepos builds the two repositories that sit directly on the database
// handle: the metadata store and the embedding job queue.
func NewRepos(svc *db.PostgresService, log *logger.Logger) (*metadata.Repo, *embedqueue.Repo) {
	return metadata.New(svc.DB(), log), embedqueue.New(svc.DB(), log)
}

// NewVectorStore returns the Qdrant adapter, or (nil, nil) when QDRANT_URL
// is unset: callers branch on a nil Store the same way the Hybrid Executor
// degrades to keyword-only scoring when vector search is unavailable.
func NewVectorStore(cfg Config, log *logger.Logger) (qdrant.Store, error) {
	if !cfg.QdrantConfigured() {
		return nil, nil
	}
	qcfg := qdrant.Config{URL: cfg.QdrantURL, Collection: cfg.QdrantCollection, VectorDim: cfg.QdrantVectorDim}
	return qdrant.NewVectorStore(log, qcfg)
}

// NewEmbedder returns the OpenAI-compatible embedder client, or (nil, nil)
// when OPENAI_API_KEY is unset.
func NewEmbedder(cfg Config, log *logger.Logger) (openai.Client, error) {
	if !cfg.OpenAIConfigured() {
		return nil, nil
	}
	return openai.NewClient(log)
}

// NewAgentEvaluator returns the Agent Evaluator, or nil when AGENT_API_KEY
// is unset, matching spec §4.10's "invoked only when configuration
// contains an agent API key". It points its generator at AGENT_MODEL
// independently of the embedder's OPENAI_MODEL via NewClientWithModel.
func NewAgentEvaluator(cfg Config, log *logger.Logger) (*agent.Evaluator, error) {
	if !cfg.AgentConfigured() {
		return nil, nil
	}
	gen, err := openai.NewClientWithModel(log, cfg.AgentModel)
	if err != nil {
		return nil, err
	}
	agentCfg := agent.Config{
		Enabled:             true,
		APIKey:              cfg.AgentAPIKey,
		Model:               cfg.AgentModel,
		ReasoningEffort:     cfg.AgentReasoningEffort,
		Verbosity:           cfg.AgentVerbosity,
		MaxConcurrency:      cfg.AgentMaxConcurrency,
		Weight:              cfg.AgentWeight,
		CacheCapacity:       cfg.AgentCacheCapacity,
		CostInputPer1K:      cfg.AgentCostInputPer1K,
		CostOutputPer1K:     cfg.AgentCostOutputPer1K,
		CostReasoningPer1K:  cfg.AgentCostReasoningPer1K,
	}
	return agent.NewEvaluator(agentCfg, gen, log), nil
}

// NewHybridExecutor wires the metadata repository, vector store, query
// embedder, and agent evaluator into one Hybrid Executor. Vectors,
// Embedder, and AgentEval are all optional (nil is a valid "not
// configured" value for each).
func NewHybridExecutor(log *logger.Logger, meta *metadata.Repo, vectors qdrant.Store, embedder openai.Client, agentEval *agent.Evaluator) *hybrid.Executor {
	deps := hybrid.Deps{Log: log, Metadata: meta}
	if vectors != nil {
		deps.Vectors = vectors
	}
	if embedder != nil {
		deps.Embedder = embedder
	}
	if agentEval != nil {
		deps.Agent = agentEval
	}
	return hybrid.New(deps)
}

// NewIngestController wires the Ingestion Controller against the shared
// database handle and repositories.
func NewIngestController(svc *db.PostgresService, log *logger.Logger, meta *metadata.Repo, queue *embedqueue.Repo) *ingest.Controller {
	return ingest.New(ingest.Deps{DB: svc.DB(), Log: log, Metadata: meta, Queue: queue})
}

// NewEmbedWorkerPool wires the Embedding Worker Pool. The embedder and
// vector store are required here (unlike the Hybrid Executor, the worker
// pool has no degraded mode: a missing dependency is a startup error).
func NewEmbedWorkerPool(cfg Config, svc *db.PostgresService, log *logger.Logger, meta *metadata.Repo, queue *embedqueue.Repo, embedder embedworker.Embedder, vectors qdrant.Store) (*embedworker.Pool, error) {
	if embedder == nil {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the embedding worker")
	}
	if vectors == nil {
		return nil, fmt.Errorf("QDRANT_URL is required for the embedding worker")
	}
	pool := embedworker.New(embedworker.Deps{
		DB: svc.DB(), Log: log, Queue: queue, Metadata: meta, Embedder: embedder, Vectors: vectors,
	},
		embedworker.WithWorkers(cfg.Workers),
		embedworker.WithPollSleep(time.Duration(cfg.PollSleepSeconds)*time.Second),
	)
	return pool, nil
}

// InitMetrics wires the observability singleton when METRICS_ENABLED is
// set; the ingest, embedding-worker and serve subcommands call this once
// regardless of whether metrics end up enabled, since Metrics methods are
// nil-safe no-ops otherwise.
func InitMetrics(log *logger.Logger) {
	observability.Init(log)
}

// StartMetricsServer starts the Prometheus text-format /metrics listener in
// the background; it returns immediately and the listener shuts down when
// ctx is cancelled.
func StartMetricsServer(ctx context.Context, log *logger.Logger, cfg Config) {
	observability.Current().StartServer(ctx, log, cfg.MetricsAddr)
}

// NewHTTPServer wires the query server's router against a Hybrid Executor.
func NewHTTPServer(log *logger.Logger, exec *hybrid.Executor) *chessmatehttp.Server {
	return chessmatehttp.NewServer(log, exec)
}
