// Package hybrid implements the Hybrid Executor: it runs the metadata and
// vector lookups an intent.Plan calls for, fuses their scores, optionally
// hands the ranked top-K to the Agent Evaluator, and returns an ordered
// result set with any degradation warnings attached.
package hybrid

import (
	"time"

	"github.com/chessmate/chessmate/internal/agent"
	"github.com/chessmate/chessmate/internal/domain"
)

// ScoredResult is one ranked game in a hybrid query's response.
type ScoredResult struct {
	GameID       string
	White        string
	Black        string
	Event        string
	PlayedOn     *time.Time
	Result       domain.GameResult
	OpeningName  *string
	ECOCode      *string
	VectorScore  float64
	KeywordScore float64
	TotalScore   float64
	AgentScore   *float64
	Explanation  string
	Themes       []string
}

// Result is the full envelope Execute returns: the ranked results, any
// degradation warnings collected along the way, and agent telemetry when
// the agent stage ran.
type Result struct {
	Results  []ScoredResult
	Warnings []string
	Agent    *agent.AggregateTelemetry
}
