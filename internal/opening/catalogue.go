// Package opening holds a static table mapping opening names, synonyms,
// and ECO ranges to a canonical slug, built once at process start and
// immutable thereafter.
package opening

import (
	"sort"
	"strings"
)

// ECORange is an inclusive range of ECO codes, e.g. "E60"-"E99".
type ECORange struct {
	From string
	To   string
}

func (r ECORange) Contains(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return false
	}
	return code >= r.From && code <= r.To
}

func (r ECORange) String() string {
	return r.From + "-" + r.To
}

// Entry is one catalogue row.
type Entry struct {
	Slug        string
	DisplayName string
	Synonyms    []string
	ECO         ECORange
}

// Filter is a disjunction candidate returned by FiltersForText: either an
// opening slug match or an ECO range match, never both in one Filter.
type Filter struct {
	Field string // "opening" or "eco_range"
	Value string
}

var entries = []Entry{
	{Slug: "sicilian_defense", DisplayName: "Sicilian Defense", Synonyms: []string{"sicilian", "sicilian defence"}, ECO: ECORange{"B20", "B99"}},
	{Slug: "french_defense", DisplayName: "French Defense", Synonyms: []string{"french", "french defence"}, ECO: ECORange{"C00", "C19"}},
	{Slug: "caro_kann_defense", DisplayName: "Caro-Kann Defense", Synonyms: []string{"caro-kann", "caro kann"}, ECO: ECORange{"B12", "B19"}},
	{Slug: "ruy_lopez", DisplayName: "Ruy Lopez", Synonyms: []string{"ruy lopez", "spanish opening", "spanish game"}, ECO: ECORange{"C60", "C99"}},
	{Slug: "italian_game", DisplayName: "Italian Game", Synonyms: []string{"italian game", "giuoco piano"}, ECO: ECORange{"C50", "C54"}},
	{Slug: "queens_gambit", DisplayName: "Queen's Gambit", Synonyms: []string{"queen's gambit", "queens gambit"}, ECO: ECORange{"D06", "D69"}},
	{Slug: "kings_indian_defense", DisplayName: "King's Indian Defense", Synonyms: []string{"king's indian", "kings indian", "king's indian defense", "kings indian defence"}, ECO: ECORange{"E60", "E99"}},
	{Slug: "nimzo_indian_defense", DisplayName: "Nimzo-Indian Defense", Synonyms: []string{"nimzo-indian", "nimzo indian"}, ECO: ECORange{"E20", "E59"}},
	{Slug: "english_opening", DisplayName: "English Opening", Synonyms: []string{"english opening", "english"}, ECO: ECORange{"A10", "A39"}},
	{Slug: "pirc_defense", DisplayName: "Pirc Defense", Synonyms: []string{"pirc", "pirc defence"}, ECO: ECORange{"B07", "B09"}},
	{Slug: "scandinavian_defense", DisplayName: "Scandinavian Defense", Synonyms: []string{"scandinavian", "center counter"}, ECO: ECORange{"B01", "B01"}},
	{Slug: "grunfeld_defense", DisplayName: "Grünfeld Defense", Synonyms: []string{"grunfeld", "grünfeld"}, ECO: ECORange{"D70", "D99"}},
	{Slug: "london_system", DisplayName: "London System", Synonyms: []string{"london system", "london"}, ECO: ECORange{"D02", "D02"}},
	{Slug: "alekhine_defense", DisplayName: "Alekhine Defense", Synonyms: []string{"alekhine", "alekhine's defense"}, ECO: ECORange{"B02", "B05"}},
	{Slug: "petrov_defense", DisplayName: "Petrov Defense", Synonyms: []string{"petrov", "petroff"}, ECO: ECORange{"C42", "C43"}},
}

var bySlug map[string]Entry

func init() {
	bySlug = make(map[string]Entry, len(entries))
	for _, e := range entries {
		bySlug[e.Slug] = e
	}
}

// Lookup returns the catalogue entry for slug.
func Lookup(slug string) (Entry, bool) {
	e, ok := bySlug[slug]
	return e, ok
}

// SlugForECO returns the most specific slug whose range contains code. Ties
// are broken by the narrowest range, then by table order, matching the
// catalogue's declaration order as a stable tiebreak.
func SlugForECO(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", false
	}
	best := ""
	bestWidth := -1
	for _, e := range entries {
		if !e.ECO.Contains(code) {
			continue
		}
		width := rangeWidth(e.ECO)
		if bestWidth < 0 || width < bestWidth {
			best = e.Slug
			bestWidth = width
		}
	}
	return best, best != ""
}

func rangeWidth(r ECORange) int {
	return codeOrdinal(r.To) - codeOrdinal(r.From)
}

func codeOrdinal(code string) int {
	if len(code) != 3 {
		return 0
	}
	letter := int(code[0])
	num := int(code[1]-'0')*10 + int(code[2]-'0')
	return letter*100 + num
}

// FiltersForText scans normalized text for whole-word synonym matches and
// returns one Filter per hit; multiple hits are a disjunction.
func FiltersForText(text string) []Filter {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	words := strings.Fields(normalized)
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	var matchedSlugs []string
	for _, e := range entries {
		for _, syn := range e.Synonyms {
			if matchesWholeWordSubstring(normalized, wordSet, syn) {
				matchedSlugs = append(matchedSlugs, e.Slug)
				break
			}
		}
	}
	sort.Strings(matchedSlugs)

	out := make([]Filter, 0, len(matchedSlugs)*2)
	for _, slug := range matchedSlugs {
		e := bySlug[slug]
		out = append(out, Filter{Field: "opening", Value: slug})
		out = append(out, Filter{Field: "eco_range", Value: e.ECO.String()})
	}
	return out
}

func matchesWholeWordSubstring(normalizedText string, words map[string]struct{}, synonym string) bool {
	synWords := strings.Fields(Normalize(synonym))
	if len(synWords) == 0 {
		return false
	}
	if len(synWords) == 1 {
		_, ok := words[synWords[0]]
		return ok
	}
	return strings.Contains(" "+normalizedText+" ", " "+strings.Join(synWords, " ")+" ")
}

// Normalize lowercases, drops apostrophes (so "king's" becomes "kings"),
// turns the other ASCII punctuation in isPunct into word breaks, and
// collapses whitespace.
func Normalize(text string) string {
	var sb strings.Builder
	lastWasSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastWasSpace = false
		case r == '\'':
			// Dropped without a word break.
		case r == ' ' || r == '\t' || r == '\n' || isPunct(r):
			if !lastWasSpace {
				sb.WriteByte(' ')
				lastWasSpace = true
			}
		default:
			// Non-ASCII letters (e.g. "ü" in Grünfeld) pass through so
			// synonym tables can still match transliterated text if the
			// caller normalizes consistently upstream.
			sb.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func isPunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':', '\'', '"', '(', ')', '-', '_', '/':
		return true
	default:
		return false
	}
}
