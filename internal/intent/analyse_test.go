package intent

import (
	"reflect"
	"sort"
	"testing"
)

func sortedFilters(fs []Filter) []Filter {
	out := append([]Filter(nil), fs...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func TestAnalyseKingsIndianWithRatingConstraints(t *testing.T) {
	plan := Analyse("Find 3 King's Indian games where white is 2500 and black within 100 points")

	if plan.Limit != 3 {
		t.Fatalf("Limit: want=3 got=%d", plan.Limit)
	}

	hasFilter := func(field, value string) bool {
		for _, f := range plan.Filters {
			if f.Field == field && f.Value == value {
				return true
			}
		}
		return false
	}
	if !hasFilter("opening", "kings_indian_defense") {
		t.Fatalf("missing opening filter, got %v", plan.Filters)
	}
	if !hasFilter("eco_range", "E60-E99") {
		t.Fatalf("missing eco_range filter, got %v", plan.Filters)
	}

	if plan.Rating.WhiteMin == nil || *plan.Rating.WhiteMin != 2500 {
		t.Fatalf("WhiteMin: got=%v", plan.Rating.WhiteMin)
	}
}

func TestAnalyseLimitClampsToBounds(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"find 0 games", defaultLimit},
		{"find 9999 games", maxLimit},
		{"find 1 games", 1},
		{"show games about the sicilian", defaultLimit},
	}
	for _, tc := range cases {
		got := Analyse(tc.text).Limit
		if got != tc.want {
			t.Errorf("Analyse(%q).Limit = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestAnalyseEnglishNumeralLimit(t *testing.T) {
	plan := Analyse("show seven results about the caro-kann")
	if plan.Limit != 7 {
		t.Fatalf("Limit: want=7 got=%d", plan.Limit)
	}
}

func TestAnalysePhaseAndThemeKeywords(t *testing.T) {
	plan := Analyse("find endgame games with a sacrifice and a king attack")
	want := []Filter{
		{Field: "phase", Value: "endgame"},
		{Field: "theme", Value: "king_attack"},
		{Field: "theme", Value: "sacrifice"},
	}
	if !reflect.DeepEqual(sortedFilters(plan.Filters), want) {
		t.Fatalf("Filters: got=%v want=%v", sortedFilters(plan.Filters), want)
	}
}

func TestAnalyseRenderRoundTripsFiltersAndRating(t *testing.T) {
	original := Analyse("Find 3 King's Indian games where white is 2500 and black is 2400 within 50 points")
	rendered := Render(original)
	roundTripped := Analyse(rendered)

	if !reflect.DeepEqual(sortedFilters(original.Filters), sortedFilters(roundTripped.Filters)) {
		t.Fatalf("filters did not round-trip: original=%v rendered=%q roundtripped=%v",
			original.Filters, rendered, roundTripped.Filters)
	}
	if !reflect.DeepEqual(original.Rating, roundTripped.Rating) {
		t.Fatalf("rating did not round-trip: original=%+v rendered=%q roundtripped=%+v",
			original.Rating, rendered, roundTripped.Rating)
	}
}

func TestAnalyseKeywordResidueDedupesAndDropsStopwords(t *testing.T) {
	plan := Analyse("find the best queen sacrifice queen sacrifice games")
	for _, kw := range plan.Keywords {
		if _, isStop := stopwords[kw]; isStop {
			t.Fatalf("keyword residue contains stopword %q", kw)
		}
	}
	seen := map[string]bool{}
	for _, kw := range plan.Keywords {
		if seen[kw] {
			t.Fatalf("keyword residue has duplicate %q", kw)
		}
		seen[kw] = true
	}
}
