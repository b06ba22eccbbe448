package pgn

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	tagPairPattern   = regexp.MustCompile(`^\[(\w+)\s+"(.*)"\]\s*$`)
	commentPattern   = regexp.MustCompile(`\{[^}]*\}`)
	nagPattern       = regexp.MustCompile(`\$\d+`)
	moveNumberPrefix = regexp.MustCompile(`^\d+\.(\.\.)?$`)
)

// Report is what Parse returns: every game that parsed, plus the per-game
// errors (NoMoves, IllegalMove) collected in GameErrors rather than
// aborting the read; only a read error or BadEncoding aborts it.
type Report struct {
	Games      []Game
	GameErrors []error
}

// Parse reads the entire PGN stream, splitting on blank-line-separated
// games. A game with zero moves or an illegal SAN token is reported in
// Report.GameErrors and skipped; the remaining stream still parses.
func Parse(r io.Reader) (*Report, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		return nil, &BadEncoding{Offset: firstInvalidUTF8Offset(raw)}
	}

	blocks := splitGameBlocks(string(raw))
	report := &Report{}
	for idx, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}
		headers, movetext := splitHeaderAndMovetext(block)
		game, err := parseGameBody(idx, headers, movetext, block)
		if err != nil {
			report.GameErrors = append(report.GameErrors, err)
			continue
		}
		report.Games = append(report.Games, *game)
	}
	return report, nil
}

func firstInvalidUTF8Offset(raw []byte) int {
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return len(raw)
}

// splitGameBlocks groups consecutive non-blank lines; a PGN game is one or
// more tag-pair lines followed by movetext, with games separated by blank
// lines before the next tag-pair block begins.
func splitGameBlocks(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var blocks []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(current) > 0 && !inMovetext(current) {
				continue
			}
			flush()
			continue
		}
		if tagPairPattern.MatchString(trimmed) && len(current) > 0 && inMovetext(current) {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

func inMovetext(lines []string) bool {
	for _, line := range lines {
		if !tagPairPattern.MatchString(strings.TrimSpace(line)) && strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}

func splitHeaderAndMovetext(block string) (map[string]string, string) {
	headers := map[string]string{}
	var moveLines []string
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := tagPairPattern.FindStringSubmatch(trimmed); m != nil {
			headers[m[1]] = m[2]
			continue
		}
		moveLines = append(moveLines, line)
	}
	return headers, strings.Join(moveLines, " ")
}

func parseGameBody(idx int, headers map[string]string, movetext string, rawBlock string) (*Game, error) {
	cleaned := stripCommentsAndVariations(movetext)
	tokens := tokenizeMovetext(cleaned)

	startFEN := StartingFEN
	if fen, ok := headers["FEN"]; ok && strings.TrimSpace(fen) != "" {
		startFEN = fen
	}
	b, err := parseFEN(startFEN)
	if err != nil {
		return nil, &IllegalMove{GameIndex: idx, Ply: 0, SAN: startFEN, Reason: err.Error()}
	}

	result := headers["Result"]
	if result == "" {
		result = "*"
	}

	var plies []Ply
	ply := 0
	for _, tok := range tokens {
		san := strings.TrimRight(tok, "!?")
		side := b.turn
		moveNumber := b.fullmove
		mv, err := b.resolveSAN(san)
		if err != nil {
			return nil, &IllegalMove{GameIndex: idx, Ply: ply + 1, SAN: tok, Reason: err.Error()}
		}
		b.apply(mv)
		ply++
		plies = append(plies, Ply{
			Index:      ply,
			MoveNumber: moveNumber,
			Side:       side,
			SAN:        san,
			FEN:        b.fen(),
		})
	}

	if len(plies) == 0 {
		return nil, &NoMoves{GameIndex: idx}
	}

	return &Game{Headers: headers, Plies: plies, Result: result, RawText: strings.TrimRight(rawBlock, "\n")}, nil
}

func stripCommentsAndVariations(text string) string {
	text = commentPattern.ReplaceAllString(text, " ")
	// Variations can nest one level deep in practice; strip repeatedly
	// until no parenthesized group remains.
	for strings.ContainsAny(text, "()") {
		start := strings.IndexByte(text, '(')
		if start < 0 {
			break
		}
		depth := 0
		end := -1
		for i := start; i < len(text); i++ {
			switch text[i] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					end = i
				}
			}
			if end >= 0 {
				break
			}
		}
		if end < 0 {
			text = text[:start]
			break
		}
		text = text[:start] + " " + text[end+1:]
	}
	return text
}

var resultTokens = map[string]bool{
	"1-0": true, "0-1": true, "1/2-1/2": true, "*": true,
}

func tokenizeMovetext(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = nagPattern.ReplaceAllString(f, "")
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if moveNumberPrefix.MatchString(f) {
			continue
		}
		if resultTokens[f] {
			continue
		}
		if looksLikeMoveNumberGlued(f) {
			f = stripLeadingMoveNumber(f)
			if f == "" {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

var leadingMoveNumber = regexp.MustCompile(`^\d+\.(\.\.)?`)

func looksLikeMoveNumberGlued(tok string) bool {
	return leadingMoveNumber.MatchString(tok)
}

func stripLeadingMoveNumber(tok string) string {
	return leadingMoveNumber.ReplaceAllString(tok, "")
}

// CanonicalFEN parses and re-renders a FEN string through the same board
// model used during ingestion, so FEN strings that differ only in the
// whitespace between fields or in the order of the castling letters come
// out identical. Every other field, the en passant square included, is
// kept as given.
func CanonicalFEN(fen string) (string, error) {
	b, err := parseFEN(fen)
	if err != nil {
		return "", err
	}
	return b.fen(), nil
}

// ScanLines reads r line by line (lines up to 16 MiB) and returns the whole
// text with each line ending in "\n". It buffers the full input, as Parse
// does, since Parse needs the full game-block boundaries to split games.
func ScanLines(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var sb strings.Builder
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

