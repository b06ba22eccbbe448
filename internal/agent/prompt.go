package agent

import (
	"fmt"
	"strings"
)

const maxPGNChars = 2000

// Candidate is one post-ranking game the Hybrid Executor hands to the
// agent for re-scoring, along with enough of its PGN to ground the model's
// judgement.
type Candidate struct {
	GameID      string
	White       string
	Black       string
	Event       string
	OpeningName string
	ECOCode     string
	PGN         string
	BaseScore   float64
}

// EvaluationRequest bundles the candidates for one hybrid query plus the
// context the prompt names: the filters that produced them and the
// leftover keyword residue from the question.
type EvaluationRequest struct {
	PlanFingerprint string
	FilterSummary   []string
	Keywords        []string
	Candidates      []Candidate
}

func judgementSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score": map[string]any{
				"type":        "number",
				"description": "relevance score in [0,1] for how well this game matches the question",
			},
			"themes": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"explanation": map[string]any{
				"type": "string",
			},
		},
		"required":             []string{"score", "themes", "explanation"},
		"additionalProperties": false,
	}
}

func buildPrompt(req EvaluationRequest, cand Candidate) (system, user string) {
	system = "You evaluate how well a single chess game matches a user's filtered search. " +
		"Score relevance in [0,1], name any salient themes, and explain briefly."

	var b strings.Builder
	if len(req.FilterSummary) > 0 {
		fmt.Fprintf(&b, "Filters applied: %s\n", strings.Join(req.FilterSummary, "; "))
	}
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(req.Keywords, ", "))
	}
	fmt.Fprintf(&b, "Game: %s vs %s, event %q", cand.White, cand.Black, cand.Event)
	if cand.OpeningName != "" {
		fmt.Fprintf(&b, ", opening %q", cand.OpeningName)
	}
	if cand.ECOCode != "" {
		fmt.Fprintf(&b, " (ECO %s)", cand.ECOCode)
	}
	b.WriteString("\n\nPGN:\n")
	b.WriteString(truncatePGN(cand.PGN))
	user = b.String()
	return system, user
}

func truncatePGN(pgn string) string {
	if len(pgn) <= maxPGNChars {
		return pgn
	}
	return pgn[:maxPGNChars] + "..."
}
