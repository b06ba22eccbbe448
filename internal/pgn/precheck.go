package pgn

import "fmt"

// PrecheckFinding names one offending game found by a non-mutating pass
// over a PGN stream, for the twic-precheck CLI diagnostic.
type PrecheckFinding struct {
	GameIndex int
	Reason    string
}

func (f PrecheckFinding) String() string {
	return fmt.Sprintf("game %d: %s", f.GameIndex, f.Reason)
}

// Precheck reports every game that would fail ingestion without inserting
// anything; it reuses Parse's own per-game error channel rather than
// re-implementing validation.
func Precheck(report *Report) []PrecheckFinding {
	findings := make([]PrecheckFinding, 0, len(report.GameErrors))
	for _, err := range report.GameErrors {
		switch typed := err.(type) {
		case *NoMoves:
			findings = append(findings, PrecheckFinding{GameIndex: typed.GameIndex, Reason: "no moves"})
		case *IllegalMove:
			findings = append(findings, PrecheckFinding{
				GameIndex: typed.GameIndex,
				Reason:    fmt.Sprintf("illegal move at ply %d (%q): %s", typed.Ply, typed.SAN, typed.Reason),
			})
		default:
			findings = append(findings, PrecheckFinding{GameIndex: -1, Reason: err.Error()})
		}
	}
	for i, g := range report.Games {
		if g.Result == "" || g.Result == "*" {
			findings = append(findings, PrecheckFinding{GameIndex: i, Reason: "missing Result tag"})
		}
	}
	return findings
}
