package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chessmate/chessmate/internal/observability"
	"github.com/chessmate/chessmate/internal/pkg/httpx"
	"github.com/chessmate/chessmate/internal/platform/logger"
)

// Generator is the narrow surface the Agent Evaluator calls: schema
// constrained JSON generation. openai.Client satisfies this directly.
type Generator interface {
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

// ScoredCandidate is one candidate's agent judgement, or a neutral
// fallback with a Warning set when the call failed or returned malformed
// JSON.
type ScoredCandidate struct {
	GameID      string
	Score       float64
	Themes      []string
	Explanation string
	Warning     string
	CacheHit    bool
}

// Evaluator re-ranks a hybrid query's top-K candidates with bounded
// concurrency, an optional LRU cache, and per-call telemetry.
type Evaluator struct {
	cfg   Config
	gen   Generator
	log   *logger.Logger
	cache *lru
}

func NewEvaluator(cfg Config, gen Generator, log *logger.Logger) *Evaluator {
	return &Evaluator{
		cfg:   cfg,
		gen:   gen,
		log:   log.With("component", "agent.Evaluator"),
		cache: newLRU(cfg.CacheCapacity),
	}
}

func (e *Evaluator) Weight() float64 { return e.cfg.Weight }

// Evaluate scores every candidate in req concurrently, capped at
// AGENT_MAX_CONCURRENCY, and returns the per-candidate judgements plus the
// aggregate telemetry for the whole call.
func (e *Evaluator) Evaluate(ctx context.Context, req EvaluationRequest) ([]ScoredCandidate, AggregateTelemetry) {
	out := make([]ScoredCandidate, len(req.Candidates))
	telemetry := &telemetryAccumulator{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)

	for i, cand := range req.Candidates {
		i, cand := i, cand
		g.Go(func() error {
			out[i] = e.evaluateOne(gctx, req, cand, telemetry)
			return nil
		})
	}
	// Every goroutine above always returns nil; cancellation only shortens
	// individual calls via gctx, it never aborts the group early.
	_ = g.Wait()

	return out, telemetry.snapshot()
}

func (e *Evaluator) evaluateOne(ctx context.Context, req EvaluationRequest, cand Candidate, telemetry *telemetryAccumulator) ScoredCandidate {
	key := cacheKey{model: e.cfg.Model, effort: e.cfg.ReasoningEffort, planFp: req.PlanFingerprint, gameID: cand.GameID}
	if j, ok := e.cache.Get(key); ok {
		telemetry.recordCacheHit()
		if m := observability.Current(); m != nil {
			m.ObserveAgentEvaluation("cached", true, 0, 0)
		}
		return ScoredCandidate{GameID: cand.GameID, Score: j.Score, Themes: j.Themes, Explanation: j.Explanation, CacheHit: true}
	}

	system, user := buildPrompt(req, cand)
	obj, latency, err := e.callWithRetry(ctx, system, user)

	if err != nil {
		e.log.Warn("agent-telemetry", "game_id", cand.GameID, "latency_ms", latency.Milliseconds(), "outcome", "error", "error", err)
		if m := observability.Current(); m != nil {
			m.ObserveAgentEvaluation("error", false, 0, 0)
		}
		return ScoredCandidate{GameID: cand.GameID, Score: 0.5, Warning: "agent evaluation failed: " + err.Error()}
	}

	judgement, malformed := parseJudgement(obj)
	inputTokens := estimateTokens(system + user)
	outputTokens := estimateTokens(judgement.Explanation)
	cost := e.estimateCost(inputTokens, outputTokens)
	telemetry.recordCall(inputTokens, outputTokens, 0, cost)

	outcome := "scored"
	if malformed {
		outcome = "malformed"
	}
	e.log.Info("agent-telemetry",
		"game_id", cand.GameID,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"reasoning_effort", e.cfg.ReasoningEffort,
		"estimated_cost_usd", cost,
		"outcome", outcome,
	)
	if m := observability.Current(); m != nil {
		m.ObserveAgentEvaluation(outcome, false, inputTokens, outputTokens)
	}

	if !malformed {
		e.cache.Put(key, judgement)
	}

	result := ScoredCandidate{GameID: cand.GameID, Score: judgement.Score, Themes: judgement.Themes, Explanation: judgement.Explanation}
	if malformed {
		result.Warning = "malformed agent response for game " + cand.GameID
	}
	return result
}

// callWithRetry gives the agent call up to three attempts with jittered
// backoff between retryable failures, per spec §7's "up to 3 attempts with
// jittered delay" policy.
func (e *Evaluator) callWithRetry(ctx context.Context, system, user string) (map[string]any, time.Duration, error) {
	const maxAttempts = 3
	backoff := 2 * time.Second

	var lastErr error
	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		obj, err := e.gen.GenerateJSON(ctx, system, user, "agent_judgement", judgementSchema())
		if err == nil {
			return obj, time.Since(start), nil
		}
		lastErr = err
		if attempt == maxAttempts || !httpx.IsRetryableError(err) {
			break
		}
		e.log.Warn("agent call retrying", "attempt", attempt, "error", err)
		time.Sleep(httpx.JitterSleep(backoff))
		backoff *= 2
	}
	return nil, time.Since(start), lastErr
}

func (e *Evaluator) estimateCost(inputTokens, outputTokens int) float64 {
	cost := 0.0
	if inputTokens > 0 && e.cfg.CostInputPer1K > 0 {
		cost += (float64(inputTokens) / 1000.0) * e.cfg.CostInputPer1K
	}
	if outputTokens > 0 && e.cfg.CostOutputPer1K > 0 {
		cost += (float64(outputTokens) / 1000.0) * e.cfg.CostOutputPer1K
	}
	return cost
}

// parseJudgement extracts a Judgement from the model's JSON object,
// tolerating a missing/unparseable score by returning a neutral 0.5 and
// reporting malformed=true, per spec §4.10.
func parseJudgement(obj map[string]any) (Judgement, bool) {
	score, ok := numberFromAny(obj["score"])
	if !ok {
		return Judgement{Score: 0.5}, true
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	var themes []string
	if raw, ok := obj["themes"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				themes = append(themes, s)
			}
		}
	}

	explanation, _ := obj["explanation"].(string)

	return Judgement{Score: score, Themes: themes, Explanation: explanation}, false
}

func numberFromAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
