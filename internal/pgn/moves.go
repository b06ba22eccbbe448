package pgn

import (
	"fmt"
	"regexp"
	"strings"
)

// move is a fully resolved, ready-to-apply move.
type move struct {
	from        int
	to          int
	piece       byte // the moving piece's FEN letter, cased for color
	isCapture   bool
	isEnPassant bool
	isCastleK   bool
	isCastleQ   bool
	promotion   byte // 0 or the promoted-to piece's FEN letter, cased for color
}

var sanPattern = regexp.MustCompile(`^([KQRBN])?([a-h])?([1-8])?(x)?([a-h][1-8])(=[QRBNqrbn])?[+#]?$`)

// resolveSAN finds the unique legal move matching a SAN token against the
// current board state. It strips check/mate markers before matching; NAGs
// and comments are removed earlier, by the movetext tokenizer.
func (b *board) resolveSAN(san string) (move, error) {
	token := strings.TrimRight(strings.TrimSpace(san), "+#")
	if token == "" {
		return move{}, fmt.Errorf("empty move token")
	}

	if token == "O-O" || token == "0-0" {
		return b.castleMove(true)
	}
	if token == "O-O-O" || token == "0-0-0" {
		return b.castleMove(false)
	}

	m := sanPattern.FindStringSubmatch(token)
	if m == nil {
		return move{}, fmt.Errorf("unrecognized SAN token %q", token)
	}
	pieceLetter := m[1]
	disambigFile := m[2]
	disambigRank := m[3]
	isCapture := m[4] == "x"
	destName := m[5]
	promoText := m[6]

	dest, err := parseSquareName(destName)
	if err != nil {
		return move{}, err
	}

	pieceType := byte('P')
	if pieceLetter != "" {
		pieceType = pieceLetter[0]
	}

	candidates := b.candidateSources(pieceType, dest, isCapture)
	if disambigFile != "" {
		wantFile := int(disambigFile[0] - 'a')
		candidates = filterSquares(candidates, func(s int) bool { return fileOf(s) == wantFile })
	}
	if disambigRank != "" {
		wantRank := int(disambigRank[0] - '1')
		candidates = filterSquares(candidates, func(s int) bool { return rankOf(s) == wantRank })
	}
	candidates = b.filterLegal(candidates, dest, pieceType)

	if len(candidates) == 0 {
		return move{}, fmt.Errorf("no legal %c move to %s", pieceType, destName)
	}
	if len(candidates) > 1 {
		return move{}, fmt.Errorf("ambiguous move to %s: %d candidates", destName, len(candidates))
	}
	from := candidates[0]

	piece := b.squares[from]
	mv := move{from: from, to: dest, piece: piece, isCapture: isCapture}

	if pieceType == 'P' {
		if isCapture && b.squares[dest] == 0 {
			mv.isEnPassant = true
		}
		if promoText != "" {
			promo := promoText[1]
			if b.turn == White {
				mv.promotion = upper(promo)
			} else {
				mv.promotion = promo + 32
				if mv.promotion >= 'A' && mv.promotion <= 'Z' {
					mv.promotion += 32
				}
			}
		}
	}
	return mv, nil
}

func filterSquares(in []int, keep func(int) bool) []int {
	out := make([]int, 0, len(in))
	for _, s := range in {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// candidateSources returns every square occupied by a piece of pieceType
// (cased to the side to move) that can pseudo-legally reach dest.
func (b *board) candidateSources(pieceType byte, dest int, isCapture bool) []int {
	var want byte
	if b.turn == White {
		want = upper(pieceType)
	} else {
		want = upper(pieceType) + 32
	}

	var out []int
	for from := 0; from < 64; from++ {
		if b.squares[from] != want {
			continue
		}
		if b.canReach(from, dest, isCapture) {
			out = append(out, from)
		}
	}
	return out
}

func (b *board) canReach(from, dest int, isCapture bool) bool {
	piece := upper(b.squares[from])
	switch piece {
	case 'P':
		return b.pawnCanReach(from, dest, isCapture)
	case 'N':
		return knightReach(from, dest)
	case 'B':
		return b.slideReach(from, dest, diagonalDirs)
	case 'R':
		return b.slideReach(from, dest, straightDirs)
	case 'Q':
		return b.slideReach(from, dest, diagonalDirs) || b.slideReach(from, dest, straightDirs)
	case 'K':
		return kingReach(from, dest)
	default:
		return false
	}
}

func (b *board) pawnCanReach(from, dest int, isCapture bool) bool {
	dir := 1
	startRank := 1
	if b.turn == Black {
		dir = -1
		startRank = 6
	}
	df := fileOf(dest) - fileOf(from)
	dr := rankOf(dest) - rankOf(from)

	if isCapture {
		if dr != dir || (df != 1 && df != -1) {
			return false
		}
		if dest == b.enPassant {
			return true
		}
		return b.squares[dest] != 0
	}

	if df != 0 {
		return false
	}
	if dr == dir {
		return b.squares[dest] == 0
	}
	if dr == 2*dir && rankOf(from) == startRank {
		mid := sq(fileOf(from), rankOf(from)+dir)
		return b.squares[mid] == 0 && b.squares[dest] == 0
	}
	return false
}

var knightOffsets = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}

func knightReach(from, dest int) bool {
	df := fileOf(dest) - fileOf(from)
	dr := rankOf(dest) - rankOf(from)
	for _, off := range knightOffsets {
		if off[0] == df && off[1] == dr {
			return true
		}
	}
	return false
}

func kingReach(from, dest int) bool {
	df := abs(fileOf(dest) - fileOf(from))
	dr := abs(rankOf(dest) - rankOf(from))
	return df <= 1 && dr <= 1 && (df+dr > 0)
}

var diagonalDirs = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
var straightDirs = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

func (b *board) slideReach(from, dest int, dirs [4][2]int) bool {
	ff, fr := fileOf(from), rankOf(from)
	df, dr := fileOf(dest), rankOf(dest)
	for _, d := range dirs {
		f, r := ff+d[0], fr+d[1]
		for f >= 0 && f < 8 && r >= 0 && r < 8 {
			if f == df && r == dr {
				return true
			}
			if b.squares[sq(f, r)] != 0 {
				break
			}
			f += d[0]
			r += d[1]
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// filterLegal drops any candidate move that would leave the moving side's
// own king in check, resolving the common case where disambiguation alone
// is ambiguous (e.g. a pinned piece that could otherwise reach the square).
func (b *board) filterLegal(candidates []int, dest int, pieceType byte) []int {
	if len(candidates) <= 1 {
		return candidates
	}
	out := make([]int, 0, len(candidates))
	for _, from := range candidates {
		trial := *b
		trial.applyRaw(from, dest, pieceType == 'P' && b.squares[dest] == 0 && fileOf(from) != fileOf(dest))
		if !trial.kingInCheck(b.turn) {
			out = append(out, from)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// applyRaw performs a minimal relocation used only for the legality probe
// above; it does not update castling rights, clocks, or side to move.
func (b *board) applyRaw(from, to int, enPassantCapture bool) {
	piece := b.squares[from]
	b.squares[from] = 0
	if enPassantCapture {
		capturedRank := rankOf(from)
		b.squares[sq(fileOf(to), capturedRank)] = 0
	}
	b.squares[to] = piece
}

func (b *board) kingInCheck(side Color) bool {
	kingPiece := byte('K')
	if side == Black {
		kingPiece = 'k'
	}
	var kingSq = -1
	for s := 0; s < 64; s++ {
		if b.squares[s] == kingPiece {
			kingSq = s
			break
		}
	}
	if kingSq < 0 {
		return false
	}
	return b.squareAttackedBy(kingSq, side.Other())
}

func (b *board) squareAttackedBy(target int, by Color) bool {
	for from := 0; from < 64; from++ {
		p := b.squares[from]
		if p == 0 || colorOf(p) != by {
			continue
		}
		switch upper(p) {
		case 'P':
			dir := 1
			if by == Black {
				dir = -1
			}
			if rankOf(target)-rankOf(from) == dir && abs(fileOf(target)-fileOf(from)) == 1 {
				return true
			}
		case 'N':
			if knightReach(from, target) {
				return true
			}
		case 'B':
			if b.slideReach(from, target, diagonalDirs) {
				return true
			}
		case 'R':
			if b.slideReach(from, target, straightDirs) {
				return true
			}
		case 'Q':
			if b.slideReach(from, target, diagonalDirs) || b.slideReach(from, target, straightDirs) {
				return true
			}
		case 'K':
			if kingReach(from, target) {
				return true
			}
		}
	}
	return false
}

func (b *board) castleMove(kingside bool) (move, error) {
	rank := 0
	if b.turn == Black {
		rank = 7
	}
	kingFrom := sq(4, rank)
	var kingTo, rookFrom int
	if kingside {
		if (b.turn == White && !b.castleWK) || (b.turn == Black && !b.castleBK) {
			return move{}, fmt.Errorf("kingside castling not available")
		}
		kingTo = sq(6, rank)
		rookFrom = sq(7, rank)
	} else {
		if (b.turn == White && !b.castleWQ) || (b.turn == Black && !b.castleBQ) {
			return move{}, fmt.Errorf("queenside castling not available")
		}
		kingTo = sq(2, rank)
		rookFrom = sq(0, rank)
	}
	_ = rookFrom
	piece := b.squares[kingFrom]
	return move{from: kingFrom, to: kingTo, piece: piece, isCastleK: kingside, isCastleQ: !kingside}, nil
}

// apply plays mv on the board, updating castling rights, en passant target,
// and move clocks, and flips the side to move.
func (b *board) apply(mv move) {
	rank := rankOf(mv.from)
	isPawn := upper(mv.piece) == 'P'
	wasCapture := mv.isCapture

	if mv.isCastleK || mv.isCastleQ {
		b.squares[mv.from] = 0
		b.squares[mv.to] = mv.piece
		var rookFrom, rookTo int
		if mv.isCastleK {
			rookFrom, rookTo = sq(7, rank), sq(5, rank)
		} else {
			rookFrom, rookTo = sq(0, rank), sq(3, rank)
		}
		rookPiece := b.squares[rookFrom]
		b.squares[rookFrom] = 0
		b.squares[rookTo] = rookPiece
	} else if mv.isEnPassant {
		b.squares[mv.from] = 0
		captureRank := rankOf(mv.from)
		b.squares[sq(fileOf(mv.to), captureRank)] = 0
		b.squares[mv.to] = mv.piece
	} else {
		b.squares[mv.from] = 0
		piece := mv.piece
		if mv.promotion != 0 {
			piece = mv.promotion
		}
		b.squares[mv.to] = piece
	}

	if upper(mv.piece) == 'K' {
		if b.turn == White {
			b.castleWK, b.castleWQ = false, false
		} else {
			b.castleBK, b.castleBQ = false, false
		}
	}
	clearRookRight := func(square int) {
		switch square {
		case sq(0, 0):
			b.castleWQ = false
		case sq(7, 0):
			b.castleWK = false
		case sq(0, 7):
			b.castleBQ = false
		case sq(7, 7):
			b.castleBK = false
		}
	}
	clearRookRight(mv.from)
	clearRookRight(mv.to)

	b.enPassant = -1
	if isPawn && abs(rankOf(mv.to)-rankOf(mv.from)) == 2 {
		b.enPassant = sq(fileOf(mv.from), (rankOf(mv.from)+rankOf(mv.to))/2)
	}

	if isPawn || wasCapture {
		b.halfmove = 0
	} else {
		b.halfmove++
	}

	if b.turn == Black {
		b.fullmove++
	}
	b.turn = b.turn.Other()
}
