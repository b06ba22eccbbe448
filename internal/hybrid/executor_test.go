package hybrid

import (
	"context"
	"errors"
	"testing"

	"github.com/chessmate/chessmate/internal/agent"
	"github.com/chessmate/chessmate/internal/data/repos/metadata"
	"github.com/chessmate/chessmate/internal/data/repos/testutil"
	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/pkg/dbctx"
	"github.com/chessmate/chessmate/internal/platform/qdrant"
)

type fakeGameSearcher struct {
	summaries []domain.GameSummary
	details   []domain.GameDetail
	searchErr error
}

func (f *fakeGameSearcher) SearchGames(dc dbctx.Context, plan metadata.SearchPlan) ([]domain.GameSummary, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.summaries, nil
}

func (f *fakeGameSearcher) FetchGamesWithPGN(dc dbctx.Context, ids []string) ([]domain.GameDetail, error) {
	byID := make(map[string]domain.GameDetail, len(f.details))
	for _, d := range f.details {
		byID[d.ID] = d
	}
	out := make([]domain.GameDetail, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeVectors struct {
	matches []qdrant.VectorMatch
	err     error
}

func (f *fakeVectors) QueryMatches(ctx context.Context, q []float32, topK int, filter map[string]any) ([]qdrant.VectorMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

type fakeAgentEvaluator struct {
	weight     float64
	candidates []agent.ScoredCandidate
}

func (f *fakeAgentEvaluator) Evaluate(ctx context.Context, req agent.EvaluationRequest) ([]agent.ScoredCandidate, agent.AggregateTelemetry) {
	return f.candidates, agent.AggregateTelemetry{Calls: len(req.Candidates)}
}

func (f *fakeAgentEvaluator) Weight() float64 { return f.weight }

func summary(id, white, black string) domain.GameSummary {
	return domain.GameSummary{ID: id, WhiteName: white, BlackName: black, Event: "Test Open", Result: domain.ResultWhiteWins}
}

func TestExecuteFusesVectorAndKeywordScores(t *testing.T) {
	searcher := &fakeGameSearcher{summaries: []domain.GameSummary{
		summary("g1", "Carlsen", "Caruana"),
		summary("g2", "Nepomniachtchi", "Ding"),
	}}
	vectors := &fakeVectors{matches: []qdrant.VectorMatch{
		{ID: "p1", Score: 0.9, Metadata: map[string]any{"game_id": "g1"}},
	}}
	exec := New(Deps{Log: testutil.Logger(t), Metadata: searcher, Vectors: vectors})

	plan := intent.Plan{CleanedText: "carlsen games", Limit: 5, Keywords: []string{"carlsen"}}
	result, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
	if len(result.Results) != 2 {
		t.Fatalf("results: want=2 got=%d", len(result.Results))
	}
	if result.Results[0].GameID != "g1" {
		t.Fatalf("expected g1 ranked first (vector hit + keyword match), got %s", result.Results[0].GameID)
	}
	if result.Results[0].VectorScore != 0.9 {
		t.Fatalf("vector score: want=0.9 got=%v", result.Results[0].VectorScore)
	}
}

func TestExecuteDegradesToKeywordOnlyWhenVectorStoreFails(t *testing.T) {
	searcher := &fakeGameSearcher{summaries: []domain.GameSummary{
		summary("g1", "Carlsen", "Caruana"),
		summary("g2", "Nepomniachtchi", "Ding"),
	}}
	vectors := &fakeVectors{err: errors.New("qdrant unreachable")}
	exec := New(Deps{Log: testutil.Logger(t), Metadata: searcher, Vectors: vectors})

	plan := intent.Plan{CleanedText: "carlsen games", Limit: 5, Keywords: []string{"carlsen"}}
	result, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != "Vector search unavailable" {
		t.Fatalf("expected degradation warning, got %v", result.Warnings)
	}
	for _, r := range result.Results {
		if r.VectorScore != 0 {
			t.Fatalf("vector score should be zero in degraded mode, got %v for %s", r.VectorScore, r.GameID)
		}
	}
	if result.Results[0].GameID != "g1" {
		t.Fatalf("expected g1 ranked first on keyword match alone, got %s", result.Results[0].GameID)
	}
}

func TestExecuteMergesAgentScoresAndResorts(t *testing.T) {
	searcher := &fakeGameSearcher{
		summaries: []domain.GameSummary{
			summary("g1", "Carlsen", "Caruana"),
			summary("g2", "Nepomniachtchi", "Ding"),
		},
		details: []domain.GameDetail{
			{GameSummary: summary("g1", "Carlsen", "Caruana"), PGNText: "1. e4 e5"},
			{GameSummary: summary("g2", "Nepomniachtchi", "Ding"), PGNText: "1. d4 d5"},
		},
	}
	vectors := &fakeVectors{matches: []qdrant.VectorMatch{
		{ID: "p1", Score: 0.9, Metadata: map[string]any{"game_id": "g1"}},
	}}
	ag := &fakeAgentEvaluator{
		weight: 1.0,
		candidates: []agent.ScoredCandidate{
			{GameID: "g1", Score: 0.1, Explanation: "low relevance"},
			{GameID: "g2", Score: 0.95, Explanation: "exact thematic match", Themes: []string{"queens gambit"}},
		},
	}
	exec := New(Deps{Log: testutil.Logger(t), Metadata: searcher, Vectors: vectors, Agent: ag})

	plan := intent.Plan{CleanedText: "queens gambit", Limit: 5, Keywords: []string{"gambit"}}
	result, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Agent == nil {
		t.Fatalf("expected agent telemetry to be attached")
	}
	if result.Results[0].GameID != "g2" {
		t.Fatalf("expected g2 to outrank g1 after full-weight agent re-ranking, got %s", result.Results[0].GameID)
	}
	if result.Results[0].AgentScore == nil || *result.Results[0].AgentScore != 0.95 {
		t.Fatalf("expected agent score 0.95 on g2, got %v", result.Results[0].AgentScore)
	}
}
