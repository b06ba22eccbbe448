package intent

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/chessmate/chessmate/internal/opening"
	"github.com/chessmate/chessmate/internal/pkg/pointers"
)

var numerals = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
}

// limitPattern pulls the count out of phrases like "find 3 games" as well as
// "find 3 king's indian games", where modifier words sit between the count
// and the noun it quantifies; it allows up to four such words.
var limitPattern = regexp.MustCompile(`\b(?:find|show|top|give)\s+([a-z0-9]+)\s+(?:[a-z0-9']+\s+){0,4}?(?:games|results)\b`)

var ratingPatterns = []struct {
	re   *regexp.Regexp
	kind string // "white", "black", "both", "delta"
}{
	{regexp.MustCompile(`\bwhite\s+(?:is|at|>=|over)\s+(\d+)`), "white"},
	{regexp.MustCompile(`\bblack\s+(?:is|at|>=|over)\s+(\d+)`), "black"},
	{regexp.MustCompile(`\bboth\s+(?:is|at|>=|over)\s+(\d+)`), "both"},
	{regexp.MustCompile(`\bwithin\s+(\d+)\s+(?:points|elo)\b`), "delta"},
	{regexp.MustCompile(`\b(\d+)\s+points?\s+(?:lower|higher)\b`), "delta"},
}

var phaseVocab = map[string]string{
	"opening":    "opening",
	"middlegame": "middlegame",
	"endgame":    "endgame",
}

var themeVocab = map[string]string{
	"sacrifice":          "sacrifice",
	"king attack":        "king_attack",
	"queenside majority": "queenside_majority",
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "at": {}, "in": {}, "on": {},
	"for": {}, "with": {}, "find": {}, "show": {}, "top": {}, "give": {}, "games": {},
	"game": {}, "results": {}, "result": {}, "where": {}, "and": {}, "of": {}, "to": {},
	"over": {}, "within": {}, "points": {}, "point": {}, "elo": {}, "both": {}, "lower": {},
	"higher": {}, "white": {}, "black": {},
}

// Analyse parses a natural-language question into a Plan. Steps follow a
// fixed order: normalize, extract limit, extract opening filters, extract
// rating constraints, extract phase/theme keywords, then treat what's left
// as free-text keyword residue.
func Analyse(text string) Plan {
	cleaned := normalize(text)

	plan := Plan{CleanedText: cleaned}
	plan.Limit = extractLimit(cleaned)
	for _, f := range opening.FiltersForText(cleaned) {
		plan.Filters = append(plan.Filters, Filter{Field: f.Field, Value: f.Value})
	}

	plan.Rating = extractRating(cleaned)

	phaseFilters, consumed := extractVocabFilters(cleaned, "phase", phaseVocab)
	plan.Filters = append(plan.Filters, phaseFilters...)
	themeFilters, themeConsumed := extractVocabFilters(cleaned, "theme", themeVocab)
	plan.Filters = append(plan.Filters, themeFilters...)
	consumed = append(consumed, themeConsumed...)

	plan.Keywords = residueKeywords(cleaned, consumed)
	return plan
}

// normalize lowercases, applies Unicode NFKC, and collapses whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(norm.NFKC.String(text))), " ")
}

func extractLimit(text string) int {
	m := limitPattern.FindStringSubmatch(text)
	if m == nil {
		return defaultLimit
	}
	n, ok := parseCount(m[1])
	if !ok {
		return defaultLimit
	}
	return clampLimit(n)
}

func parseCount(word string) (int, bool) {
	if n, ok := numerals[word]; ok {
		return n, true
	}
	n, err := strconv.Atoi(word)
	if err != nil {
		return 0, false
	}
	return n, true
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n < minLimit {
		return minLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func extractRating(text string) Rating {
	var r Rating
	for _, p := range ratingPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch p.kind {
		case "white":
			r.WhiteMin = pointers.Int(n)
		case "black":
			r.BlackMin = pointers.Int(n)
		case "both":
			r.WhiteMin = pointers.Int(n)
			r.BlackMin = pointers.Int(n)
		case "delta":
			r.MaxRatingDelta = pointers.Int(n)
		}
	}
	return r
}

// extractVocabFilters scans text for whole-phrase matches against vocab
// (human phrase -> canonical value) and returns one Filter per hit plus
// the matched phrases, so the caller can exclude them from the keyword
// residue.
func extractVocabFilters(text string, field string, vocab map[string]string) ([]Filter, []string) {
	var filters []Filter
	var consumed []string
	for phrase, value := range vocab {
		if containsWholePhrase(text, phrase) {
			filters = append(filters, Filter{Field: field, Value: value})
			consumed = append(consumed, phrase)
		}
	}
	return filters, consumed
}

func containsWholePhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// residueKeywords splits what's left of the text after dropping stopwords
// and any phrase already consumed by an earlier extraction step; order is
// preserved and duplicates are dropped.
func residueKeywords(text string, consumedPhrases []string) []string {
	residual := text
	for _, phrase := range consumedPhrases {
		residual = strings.ReplaceAll(residual, phrase, " ")
	}
	// Limit/rating phrases are made of stopwords already, so dropping the
	// stopword set below is enough without re-stripping their literal text.

	seen := make(map[string]struct{})
	var out []string
	for _, tok := range strings.Fields(residual) {
		if _, isStop := stopwords[tok]; isStop {
			continue
		}
		if _, isNumeral := numerals[tok]; isNumeral {
			continue
		}
		if isAllDigits(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
