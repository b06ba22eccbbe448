package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/chessmate/chessmate/internal/platform/logger"
)

type fakeGenerator struct {
	calls int
	obj   map[string]any
	err   error
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.obj, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestEvaluateScoresEveryCandidate(t *testing.T) {
	gen := &fakeGenerator{obj: map[string]any{"score": 0.8, "themes": []any{"sacrifice"}, "explanation": "sharp tactics"}}
	cfg := Config{Enabled: true, Model: "test-model", ReasoningEffort: "medium", MaxConcurrency: 2, Weight: 0.5}
	eval := NewEvaluator(cfg, gen, testLogger(t))

	req := EvaluationRequest{
		PlanFingerprint: "fp1",
		Candidates: []Candidate{
			{GameID: "g1", White: "Kasparov", Black: "Karpov", PGN: "1. e4 e5"},
			{GameID: "g2", White: "Fischer", Black: "Spassky", PGN: "1. d4 d5"},
		},
	}

	results, telemetry := eval.Evaluate(context.Background(), req)
	if len(results) != 2 {
		t.Fatalf("results: want=2 got=%d", len(results))
	}
	for _, r := range results {
		if r.Score != 0.8 {
			t.Fatalf("result %s: want score=0.8 got=%v", r.GameID, r.Score)
		}
		if r.Warning != "" {
			t.Fatalf("result %s: unexpected warning %q", r.GameID, r.Warning)
		}
	}
	if telemetry.Calls != 2 {
		t.Fatalf("telemetry calls: want=2 got=%d", telemetry.Calls)
	}
	if telemetry.CacheHits != 0 {
		t.Fatalf("telemetry cache hits: want=0 got=%d", telemetry.CacheHits)
	}
}

func TestEvaluateCachesRepeatedKey(t *testing.T) {
	gen := &fakeGenerator{obj: map[string]any{"score": 0.6, "themes": []any{}, "explanation": "even game"}}
	cfg := Config{Enabled: true, Model: "test-model", ReasoningEffort: "medium", MaxConcurrency: 2, CacheCapacity: 8}
	eval := NewEvaluator(cfg, gen, testLogger(t))

	req := EvaluationRequest{PlanFingerprint: "fp1", Candidates: []Candidate{{GameID: "g1"}}}

	if _, _ = eval.Evaluate(context.Background(), req); gen.calls != 1 {
		t.Fatalf("first call: want generator calls=1 got=%d", gen.calls)
	}
	results, telemetry := eval.Evaluate(context.Background(), req)
	if gen.calls != 1 {
		t.Fatalf("second call should hit cache: want generator calls=1 got=%d", gen.calls)
	}
	if !results[0].CacheHit {
		t.Fatalf("expected cache hit on second evaluate")
	}
	if telemetry.CacheHits != 1 {
		t.Fatalf("telemetry cache hits: want=1 got=%d", telemetry.CacheHits)
	}
}

func TestEvaluateMalformedResponseIsNeutral(t *testing.T) {
	gen := &fakeGenerator{obj: map[string]any{"themes": []any{}, "explanation": "no score field"}}
	cfg := Config{Enabled: true, Model: "test-model", MaxConcurrency: 2}
	eval := NewEvaluator(cfg, gen, testLogger(t))

	req := EvaluationRequest{Candidates: []Candidate{{GameID: "g1"}}}
	results, _ := eval.Evaluate(context.Background(), req)
	if results[0].Score != 0.5 {
		t.Fatalf("malformed response: want neutral score=0.5 got=%v", results[0].Score)
	}
	if results[0].Warning == "" {
		t.Fatalf("malformed response: expected a warning")
	}
}

func TestEvaluateExhaustsRetriesOnPersistentError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	cfg := Config{Enabled: true, Model: "test-model", MaxConcurrency: 2}
	eval := NewEvaluator(cfg, gen, testLogger(t))

	req := EvaluationRequest{Candidates: []Candidate{{GameID: "g1"}}}
	results, _ := eval.Evaluate(context.Background(), req)
	if results[0].Score != 0.5 {
		t.Fatalf("error response: want neutral score=0.5 got=%v", results[0].Score)
	}
	if results[0].Warning == "" {
		t.Fatalf("error response: expected a warning")
	}
	// "boom" is not a retryable error (no HTTPStatusCoder, not a timeout),
	// so callWithRetry should give up after the first attempt.
	if gen.calls != 1 {
		t.Fatalf("generator calls: want=1 got=%d", gen.calls)
	}
}
