// Package pgn parses PGN game text into header maps, SAN move lists, and a
// FEN snapshot after every ply.
package pgn

import "fmt"

// Color is the side to move, using the same lowercase FEN convention as the
// board representation.
type Color byte

const (
	White Color = 'w'
	Black Color = 'b'
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// Ply is one half-move of a parsed game: its 1-based index, the full-move
// number it belongs to, the side that made it, its SAN text, and the FEN of
// the position that results from playing it.
type Ply struct {
	Index      int
	MoveNumber int
	Side       Color
	SAN        string
	FEN        string
}

// Game is one parsed game: its header tag pairs, its plies, the Result tag
// value (defaulting to "*" when absent), and RawText, the source block
// (tag pairs plus movetext, comments/variations/NAGs included) the game
// was parsed from, for storage rather than reconstruction. In RawText,
// CRLF line endings are turned into LF and the blank line between the tag
// pairs and the movetext is dropped.
type Game struct {
	Headers map[string]string
	Plies   []Ply
	Result  string
	RawText string
}

// BadEncoding is returned when the input stream is not valid UTF-8.
type BadEncoding struct {
	Offset int
}

func (e *BadEncoding) Error() string {
	return fmt.Sprintf("pgn: invalid UTF-8 at byte offset %d", e.Offset)
}

// NoMoves is returned per-game when a game's movetext contains zero plies.
// The caller should log it and continue with the next game.
type NoMoves struct {
	GameIndex int
}

func (e *NoMoves) Error() string {
	return fmt.Sprintf("pgn: game %d has no moves", e.GameIndex)
}

// IllegalMove aborts the current game only; later games still parse.
type IllegalMove struct {
	GameIndex int
	Ply       int
	SAN       string
	Reason    string
}

func (e *IllegalMove) Error() string {
	return fmt.Sprintf("pgn: game %d ply %d: illegal move %q: %s", e.GameIndex, e.Ply, e.SAN, e.Reason)
}
