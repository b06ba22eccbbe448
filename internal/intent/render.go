package intent

import (
	"fmt"
	"strings"

	"github.com/chessmate/chessmate/internal/opening"
)

var reversePhaseVocab = reverseVocab(phaseVocab)
var reverseThemeVocab = reverseVocab(themeVocab)

func reverseVocab(vocab map[string]string) map[string]string {
	out := make(map[string]string, len(vocab))
	for phrase, value := range vocab {
		out[value] = phrase
	}
	return out
}

// Render is the canonical renderer: it turns a Plan back into a question
// string such that Analyse(Render(p)) reproduces p's Filters and Rating.
// Limit round-trips as well. Keywords do not always: the rendered opening
// name adds words such as "about" and "defense" to the keyword residue.
func Render(p Plan) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("find %d games", p.Limit))

	for _, f := range p.Filters {
		switch f.Field {
		case "opening":
			if entry, ok := opening.Lookup(f.Value); ok {
				parts = append(parts, "about the "+entry.DisplayName)
			}
		case "eco_range":
			// Always emitted alongside its companion "opening" filter;
			// rendering the opening name above already reproduces both.
		case "phase":
			if phrase, ok := reversePhaseVocab[f.Value]; ok {
				parts = append(parts, phrase)
			}
		case "theme":
			if phrase, ok := reverseThemeVocab[f.Value]; ok {
				parts = append(parts, phrase)
			}
		}
	}

	if p.Rating.WhiteMin != nil && p.Rating.BlackMin != nil && *p.Rating.WhiteMin == *p.Rating.BlackMin {
		parts = append(parts, fmt.Sprintf("both is %d", *p.Rating.WhiteMin))
	} else {
		if p.Rating.WhiteMin != nil {
			parts = append(parts, fmt.Sprintf("white is %d", *p.Rating.WhiteMin))
		}
		if p.Rating.BlackMin != nil {
			parts = append(parts, fmt.Sprintf("black is %d", *p.Rating.BlackMin))
		}
	}
	if p.Rating.MaxRatingDelta != nil {
		parts = append(parts, fmt.Sprintf("within %d points", *p.Rating.MaxRatingDelta))
	}

	if len(p.Keywords) > 0 {
		parts = append(parts, strings.Join(p.Keywords, " "))
	}

	return strings.Join(parts, " ")
}
