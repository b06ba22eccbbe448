package hybrid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/chessmate/chessmate/internal/agent"
	"github.com/chessmate/chessmate/internal/data/repos/metadata"
	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/pkg/dbctx"
	"github.com/chessmate/chessmate/internal/platform/logger"
	"github.com/chessmate/chessmate/internal/platform/qdrant"
)

const vectorSearchTopK = 100

// GameSearcher is the metadata read path Execute depends on; satisfied by
// *metadata.Repo.
type GameSearcher interface {
	SearchGames(dc dbctx.Context, plan metadata.SearchPlan) ([]domain.GameSummary, error)
	FetchGamesWithPGN(dc dbctx.Context, ids []string) ([]domain.GameDetail, error)
}

// VectorSearcher is the vector-store read path Execute depends on;
// satisfied by qdrant.Store.
type VectorSearcher interface {
	QueryMatches(ctx context.Context, q []float32, topK int, filter map[string]any) ([]qdrant.VectorMatch, error)
}

// Embedder embeds the cleaned question text when an online query embedder
// is configured; satisfied by openai.Client. Nil means "not configured",
// and Execute falls back to the hashing pseudo-vector.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// AgentEvaluator is the capability internal/agent.Evaluator exposes to
// Execute; kept as an interface so tests can substitute a fake without an
// external model call.
type AgentEvaluator interface {
	Evaluate(ctx context.Context, req agent.EvaluationRequest) ([]agent.ScoredCandidate, agent.AggregateTelemetry)
	Weight() float64
}

// Deps bundles the capabilities Execute orchestrates, in the style of the
// other pipeline components' Deps structs. Vectors and Agent are both
// optional: a nil Vectors degrades to keyword-only scoring, a nil Agent
// skips the re-ranking stage entirely.
type Deps struct {
	Log      *logger.Logger
	Metadata GameSearcher
	Vectors  VectorSearcher
	Embedder Embedder
	Agent    AgentEvaluator
}

type Executor struct {
	log      *logger.Logger
	metadata GameSearcher
	vectors  VectorSearcher
	embedder Embedder
	agentEv  AgentEvaluator
}

func New(deps Deps) *Executor {
	return &Executor{
		log:      deps.Log.With("component", "hybrid.Executor"),
		metadata: deps.Metadata,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		agentEv:  deps.Agent,
	}
}

// Execute runs the full §4.9 pipeline for one parsed Plan: metadata
// search, vector search, score fusion, and (if configured) agent
// re-ranking.
func (e *Executor) Execute(ctx context.Context, plan intent.Plan) (*Result, error) {
	dc := dbctx.Context{Ctx: ctx}

	summaries, err := e.metadata.SearchGames(dc, toSearchPlan(plan))
	if err != nil {
		return nil, fmt.Errorf("hybrid: metadata search failed: %w", err)
	}

	result := &Result{}

	hits, vectorDegraded := e.runVectorSearch(ctx, plan, result)
	hitsByGame := indexHitsByGame(hits)

	scored := make([]ScoredResult, 0, len(summaries))
	for _, s := range summaries {
		haystack := scoringHaystack(s)
		kwScore := keywordScore(plan.Keywords, haystack)

		var vecScore float64
		if hit, ok := hitsByGame[s.ID]; ok {
			vecScore = hit
		} else if !vectorDegraded {
			vecScore = fallbackVectorScore(plan.Keywords, haystack)
		}

		total := fuseScore(vecScore, kwScore, vectorDegraded)
		scored = append(scored, ScoredResult{
			GameID:       s.ID,
			White:        s.WhiteName,
			Black:        s.BlackName,
			Event:        s.Event,
			PlayedOn:     s.PlayedOn,
			Result:       s.Result,
			OpeningName:  s.OpeningName,
			ECOCode:      s.ECOCode,
			VectorScore:  vecScore,
			KeywordScore: kwScore,
			TotalScore:   total,
		})
	}

	sortResults(scored)
	limit := plan.Limit
	if limit <= 0 || limit > len(scored) {
		limit = len(scored)
	}
	scored = scored[:limit]

	if e.agentEv != nil && len(scored) > 0 {
		scored, result.Agent = e.runAgentStage(ctx, dc, plan, scored)
	}

	result.Results = scored
	return result, nil
}

func (e *Executor) runVectorSearch(ctx context.Context, plan intent.Plan, result *Result) ([]qdrant.VectorMatch, bool) {
	if e.vectors == nil {
		result.Warnings = append(result.Warnings, "Vector search unavailable")
		return nil, true
	}

	queryVector := e.buildQueryVector(ctx, plan)
	filter := buildVectorFilter(plan)

	hits, err := e.vectors.QueryMatches(ctx, queryVector, vectorSearchTopK, filter)
	if err != nil {
		e.log.Warn("vector search degraded", "error", err)
		result.Warnings = append(result.Warnings, "Vector search unavailable")
		return nil, true
	}
	return hits, false
}

func (e *Executor) buildQueryVector(ctx context.Context, plan intent.Plan) []float32 {
	if e.embedder != nil {
		vectors, err := e.embedder.Embed(ctx, []string{plan.CleanedText})
		if err == nil && len(vectors) == 1 && len(vectors[0]) > 0 {
			return vectors[0]
		}
		e.log.Warn("query embed failed, falling back to pseudo-vector", "error", err)
	}
	return pseudoVector(plan.Keywords)
}

// runAgentStage sends the post-ranking top-K (already truncated to
// plan.Limit) to the Agent Evaluator, merges scores per spec §4.10, and
// re-sorts.
func (e *Executor) runAgentStage(ctx context.Context, dc dbctx.Context, plan intent.Plan, candidates []ScoredResult) ([]ScoredResult, *agent.AggregateTelemetry) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.GameID
	}
	details, err := e.metadata.FetchGamesWithPGN(dc, ids)
	if err != nil {
		e.log.Warn("agent stage skipped: failed to fetch PGNs", "error", err)
		return candidates, nil
	}
	pgnByGame := make(map[string]string, len(details))
	for _, d := range details {
		pgnByGame[d.ID] = d.PGNText
	}

	req := agent.EvaluationRequest{
		PlanFingerprint: fingerprint(plan),
		FilterSummary:   filterSummary(plan),
		Keywords:        plan.Keywords,
	}
	for _, c := range candidates {
		opening := ""
		if c.OpeningName != nil {
			opening = *c.OpeningName
		}
		eco := ""
		if c.ECOCode != nil {
			eco = *c.ECOCode
		}
		req.Candidates = append(req.Candidates, agent.Candidate{
			GameID:      c.GameID,
			White:       c.White,
			Black:       c.Black,
			Event:       c.Event,
			OpeningName: opening,
			ECOCode:     eco,
			PGN:         pgnByGame[c.GameID],
			BaseScore:   c.TotalScore,
		})
	}

	judged, telemetry := e.agentEv.Evaluate(ctx, req)
	judgedByGame := make(map[string]agent.ScoredCandidate, len(judged))
	for _, j := range judged {
		judgedByGame[j.GameID] = j
	}

	weight := e.agentEv.Weight()
	merged := make([]ScoredResult, len(candidates))
	for i, c := range candidates {
		merged[i] = c
		j, ok := judgedByGame[c.GameID]
		if !ok {
			continue
		}
		score := j.Score
		merged[i].AgentScore = &score
		merged[i].Explanation = j.Explanation
		merged[i].Themes = j.Themes
		merged[i].TotalScore = (1-weight)*c.TotalScore + weight*j.Score
	}

	sortResults(merged)
	return merged, &telemetry
}

func toSearchPlan(plan intent.Plan) metadata.SearchPlan {
	sp := metadata.SearchPlan{Limit: plan.Limit}
	for _, f := range plan.Filters {
		switch f.Field {
		case "opening":
			sp.OpeningSlugs = append(sp.OpeningSlugs, f.Value)
		case "eco_range":
			sp.ECORanges = append(sp.ECORanges, f.Value)
		}
	}
	sp.WhiteMin = plan.Rating.WhiteMin
	sp.BlackMin = plan.Rating.BlackMin
	sp.MaxRatingDiff = plan.Rating.MaxRatingDelta
	return sp
}

// buildVectorFilter projects a Plan's structured filters onto the vector
// store's payload-key conjunction; max_rating_delta has no equivalent
// (it's a relation between two payload keys, not a predicate on one) so it
// is applied only at the metadata layer.
func buildVectorFilter(plan intent.Plan) map[string]any {
	filter := map[string]any{}

	var slugs []string
	for _, f := range plan.Filters {
		if f.Field == "opening" {
			slugs = append(slugs, f.Value)
		}
	}
	if len(slugs) > 0 {
		filter["opening_slug"] = map[string]any{"$in": slugs}
	}
	if plan.Rating.WhiteMin != nil {
		filter["white_elo"] = map[string]any{"$gte": *plan.Rating.WhiteMin}
	}
	if plan.Rating.BlackMin != nil {
		filter["black_elo"] = map[string]any{"$gte": *plan.Rating.BlackMin}
	}
	return filter
}

func indexHitsByGame(hits []qdrant.VectorMatch) map[string]float64 {
	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		gameID, _ := h.Metadata["game_id"].(string)
		if gameID == "" {
			continue
		}
		if existing, ok := out[gameID]; !ok || h.Score > existing {
			out[gameID] = h.Score
		}
	}
	return out
}

func scoringHaystack(s domain.GameSummary) string {
	openingName := ""
	if s.OpeningName != nil {
		openingName = *s.OpeningName
	}
	return strings.Join([]string{s.WhiteName, s.BlackName, openingName, s.Event}, " ")
}

func filterSummary(plan intent.Plan) []string {
	out := make([]string, 0, len(plan.Filters)+1)
	for _, f := range plan.Filters {
		out = append(out, fmt.Sprintf("%s=%s", f.Field, f.Value))
	}
	if plan.Rating.WhiteMin != nil {
		out = append(out, fmt.Sprintf("white_min=%d", *plan.Rating.WhiteMin))
	}
	if plan.Rating.BlackMin != nil {
		out = append(out, fmt.Sprintf("black_min=%d", *plan.Rating.BlackMin))
	}
	if plan.Rating.MaxRatingDelta != nil {
		out = append(out, fmt.Sprintf("max_rating_delta=%d", *plan.Rating.MaxRatingDelta))
	}
	return out
}

// fingerprint is the cache-key component naming "which query produced this
// candidate set" without embedding the raw question text in the key.
func fingerprint(plan intent.Plan) string {
	parts := filterSummary(plan)
	sort.Strings(parts)
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])[:16]
}
