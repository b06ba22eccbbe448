// Package domain holds the persistent shapes shared across chessmate's
// repositories: players, games, positions, and their embedding jobs.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

type GameResult string

const (
	ResultWhiteWins GameResult = "1-0"
	ResultBlackWins GameResult = "0-1"
	ResultDraw      GameResult = "1/2-1/2"
	ResultUnknown   GameResult = "*"
)

type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Player is created on first reference and never mutated except to raise
// PeakRating; unique on (Name, FederationID).
type Player struct {
	ID            string `gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	Name          string `gorm:"column:name;not null;index:idx_players_identity,unique"`
	FederationID  string `gorm:"column:federation_id;index:idx_players_identity,unique"`
	PeakRating    *int   `gorm:"column:peak_rating"`
	CreatedAt     time.Time
}

func (Player) TableName() string { return "players" }

// Game is immutable after insert.
type Game struct {
	ID           string     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	WhiteID      string     `gorm:"column:white_id;type:uuid;not null;index"`
	BlackID      string     `gorm:"column:black_id;type:uuid;not null;index"`
	Event        string     `gorm:"column:event"`
	Site         string     `gorm:"column:site"`
	Round        string     `gorm:"column:round"`
	PlayedOn     *time.Time `gorm:"column:played_on;index:idx_games_played_on"`
	Result       GameResult `gorm:"column:result;not null"`
	ECOCode      *string    `gorm:"column:eco_code;index:idx_games_eco_code"`
	OpeningSlug  *string    `gorm:"column:opening_slug;index:idx_games_opening_slug"`
	OpeningName  *string    `gorm:"column:opening_name"`
	WhiteRating  *int       `gorm:"column:white_rating;index:idx_games_white_rating"`
	BlackRating  *int       `gorm:"column:black_rating;index:idx_games_black_rating"`
	PGNText      string     `gorm:"column:pgn_text;type:text;not null"`
	// RawHeaders carries every PGN tag pair the parser saw, including ones
	// with no dedicated column (Annotator, TimeControl, Termination, ...),
	// so nothing from the source file is silently dropped.
	RawHeaders datatypes.JSONMap `gorm:"column:raw_headers"`
	CreatedAt  time.Time
}

func (Game) TableName() string { return "games" }

// Position belongs exclusively to one Game. No foreign-key constraint is
// declared (migration runs with foreign-key creation disabled), so deleting
// a game does not delete its positions.
type Position struct {
	ID          string  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	GameID      string  `gorm:"column:game_id;type:uuid;not null;index:idx_positions_game_ply,unique,priority:1"`
	Ply         int     `gorm:"column:ply;not null;index:idx_positions_game_ply,unique,priority:2"`
	MoveNumber  int     `gorm:"column:move_number;not null"`
	SideToMove  Side    `gorm:"column:side_to_move;not null"`
	SAN         string  `gorm:"column:san;not null"`
	FEN         string  `gorm:"column:fen;not null"`
	VectorID    *string `gorm:"column:vector_id"`
	CreatedAt   time.Time
}

func (Position) TableName() string { return "positions" }

// EmbeddingJob is the queue row; PositionID is unique so a position has at
// most one live job.
type EmbeddingJob struct {
	ID          string     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	PositionID  string     `gorm:"column:position_id;type:uuid;not null;uniqueIndex:idx_jobs_position"`
	FEN         string     `gorm:"column:fen;not null"`
	Status      JobStatus  `gorm:"column:status;not null;index:idx_jobs_status_enqueued,priority:1"`
	Attempts    int        `gorm:"column:attempts;not null;default:0"`
	LastError   *string    `gorm:"column:last_error"`
	EnqueuedAt  time.Time  `gorm:"column:enqueued_at;not null;index:idx_jobs_status_enqueued,priority:2"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (EmbeddingJob) TableName() string { return "embedding_jobs" }

// GameSummary is the read shape returned by search_games — enough to score
// and render a result without paying for the full PGN text.
type GameSummary struct {
	ID          string
	WhiteName   string
	BlackName   string
	Event       string
	PlayedOn    *time.Time
	Result      GameResult
	ECOCode     *string
	OpeningSlug *string
	OpeningName *string
	WhiteRating *int
	BlackRating *int
}

// GameDetail extends GameSummary with the full PGN text, returned by
// fetch_games_with_pgn.
type GameDetail struct {
	GameSummary
	PGNText string
}
