// Package intent turns a natural-language chess question into a Plan: a
// pure data structure the Hybrid Executor consumes. No external calls;
// everything here is deterministic regexp and table lookups, in the style
// of the small, exhaustively-tested pure functions in internal/pkg.
package intent

// Filter is one disjunction candidate the hybrid executor applies against
// metadata and vector payloads: an opening slug, an ECO range, a game
// phase, or a thematic tag.
type Filter struct {
	Field string // "opening", "eco_range", "phase", "theme"
	Value string
}

// Rating carries the rating constraints extracted from the question text.
type Rating struct {
	WhiteMin       *int
	BlackMin       *int
	MaxRatingDelta *int
}

// Plan is the output of Analyse: pure data, no behavior.
type Plan struct {
	CleanedText string
	Limit       int
	Filters     []Filter
	Rating      Rating
	Keywords    []string
}

const (
	minLimit     = 1
	maxLimit     = 50
	defaultLimit = 5
)
