// Package ingest implements the Ingestion Controller: it drives the PGN
// parser, the metadata repository, and the embedding job queue inside one
// transaction per game, and enforces queue-depth admission control before
// each commit.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/chessmate/chessmate/internal/data/repos/embedqueue"
	"github.com/chessmate/chessmate/internal/data/repos/metadata"
	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/opening"
	"github.com/chessmate/chessmate/internal/pgn"
	"github.com/chessmate/chessmate/internal/pkg/dbctx"
	"github.com/chessmate/chessmate/internal/platform/envutil"
	"github.com/chessmate/chessmate/internal/platform/logger"
)

const defaultMaxPendingEmbeddings = 250000

// QueueSaturated aborts an ingest run when the pending job count exceeds
// CHESSMATE_MAX_PENDING_EMBEDDINGS before a game's transaction would commit.
type QueueSaturated struct {
	Pending        int64
	Threshold      int
	GamesCommitted int
}

func (e *QueueSaturated) Error() string {
	return fmt.Sprintf("ingest: queue saturated (pending=%d threshold=%d), %d games already committed",
		e.Pending, e.Threshold, e.GamesCommitted)
}

// SkipReason records a per-game skip: NoMoves, IllegalMove, or a duplicate
// game tuple. The run continues past these.
type SkipReason struct {
	GameIndex int
	Reason    string
}

// CommittedGame records one successfully ingested game, for callers (the
// ingest CLI command) that print a per-game confirmation line.
type CommittedGame struct {
	GameID    string
	Positions int
}

// Result summarizes one ingest run.
type Result struct {
	GamesCommitted    int
	PositionsInserted int
	JobsEnqueued      int
	Skipped           []SkipReason
	Committed         []CommittedGame
}

// Deps bundles the capabilities the controller orchestrates, in the style
// of the teacher's per-pipeline Deps struct: a database handle, a logger,
// and the repositories it calls into.
type Deps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Metadata *metadata.Repo
	Queue    *embedqueue.Repo
}

type Controller struct {
	db       *gorm.DB
	log      *logger.Logger
	metadata *metadata.Repo
	queue    *embedqueue.Repo
	maxPending int
}

func New(deps Deps) *Controller {
	return &Controller{
		db:         deps.DB,
		log:        deps.Log.With("component", "ingest.Controller"),
		metadata:   deps.Metadata,
		queue:      deps.Queue,
		maxPending: envutil.Int("CHESSMATE_MAX_PENDING_EMBEDDINGS", defaultMaxPendingEmbeddings),
	}
}

// Run parses every game out of the report and ingests it, one transaction
// per game. Per-game parse failures (NoMoves, IllegalMove) and duplicate
// games are logged and skipped; the run continues. A saturated queue
// aborts the whole run and returns *QueueSaturated alongside the partial
// result.
func (c *Controller) Run(ctx context.Context, report *pgn.Report) (*Result, error) {
	result := &Result{}

	for _, parseErr := range report.GameErrors {
		result.Skipped = append(result.Skipped, SkipReason{GameIndex: skipIndex(parseErr), Reason: parseErr.Error()})
		c.log.Warn("skipping game", "reason", parseErr.Error())
	}

	for idx, game := range report.Games {
		if c.maxPending > 0 {
			pending, err := c.queue.CountByStatus(dbctx.Context{Ctx: ctx}, domain.JobPending)
			if err != nil {
				return result, err
			}
			if pending > int64(c.maxPending) {
				return result, &QueueSaturated{Pending: pending, Threshold: c.maxPending, GamesCommitted: result.GamesCommitted}
			}
		}

		gameID, positions, jobs, skip, err := c.ingestGame(ctx, idx, game)
		if err != nil {
			return result, err
		}
		if skip != nil {
			result.Skipped = append(result.Skipped, *skip)
			c.log.Warn("skipping game", "game_index", idx, "reason", skip.Reason)
			continue
		}
		result.GamesCommitted++
		result.PositionsInserted += positions
		result.JobsEnqueued += jobs
		result.Committed = append(result.Committed, CommittedGame{GameID: gameID, Positions: positions})
		c.log.Info("stored game", "game_id", gameID, "game_index", idx, "positions", positions)
	}

	return result, nil
}

// ingestGame runs one game's upsert/insert/enqueue sequence in a single
// transaction. A non-nil *SkipReason means the transaction was rolled back
// deliberately (duplicate game) rather than failed.
func (c *Controller) ingestGame(ctx context.Context, idx int, game pgn.Game) (gameID string, positions int, jobs int, skip *SkipReason, err error) {
	txErr := c.db.Transaction(func(tx *gorm.DB) error {
		dc := dbctx.Context{Ctx: ctx, Tx: tx}

		whiteName, blackName := game.Headers["White"], game.Headers["Black"]
		whiteID, err := c.metadata.UpsertPlayer(dc, whiteName, game.Headers["WhiteFideId"], parseElo(game.Headers["WhiteElo"]))
		if err != nil {
			return err
		}
		blackID, err := c.metadata.UpsertPlayer(dc, blackName, game.Headers["BlackFideId"], parseElo(game.Headers["BlackElo"]))
		if err != nil {
			return err
		}

		eco := parseECO(game.Headers["ECO"])
		slug, openingName := deriveOpening(eco, game.Headers["Opening"])

		insertedGameID, err := c.metadata.InsertGame(dc, metadata.GameInput{
			WhiteID:     whiteID,
			BlackID:     blackID,
			Event:       game.Headers["Event"],
			Site:        game.Headers["Site"],
			Round:       game.Headers["Round"],
			PlayedOn:    parseDate(game.Headers["Date"]),
			Result:      domain.GameResult(game.Result),
			ECOCode:     eco,
			OpeningSlug: slug,
			OpeningName: openingName,
			WhiteRating: parseElo(game.Headers["WhiteElo"]),
			BlackRating: parseElo(game.Headers["BlackElo"]),
			PGNText:     game.RawText,
			RawHeaders:  game.Headers,
		})
		if err != nil {
			if err == metadata.ErrDuplicateGame {
				skip = &SkipReason{GameIndex: idx, Reason: "duplicate game"}
				return nil
			}
			return err
		}

		inputs := make([]metadata.PositionInput, 0, len(game.Plies))
		for _, ply := range game.Plies {
			side := domain.SideWhite
			if ply.Side == pgn.Black {
				side = domain.SideBlack
			}
			inputs = append(inputs, metadata.PositionInput{
				Ply:        ply.Index,
				MoveNumber: ply.MoveNumber,
				Side:       side,
				SAN:        ply.SAN,
				FEN:        ply.FEN,
			})
		}

		positionIDs, err := c.metadata.InsertPositions(dc, insertedGameID, inputs)
		if err != nil {
			return err
		}
		positions = len(positionIDs)

		for i, positionID := range positionIDs {
			if err := c.queue.Enqueue(dc, positionID, inputs[i].FEN); err != nil {
				return err
			}
			jobs++
		}
		gameID = insertedGameID
		return nil
	})
	if txErr != nil {
		return "", 0, 0, nil, txErr
	}
	return gameID, positions, jobs, skip, nil
}

func skipIndex(err error) int {
	switch typed := err.(type) {
	case *pgn.NoMoves:
		return typed.GameIndex
	case *pgn.IllegalMove:
		return typed.GameIndex
	default:
		return -1
	}
}

func parseElo(v string) *int {
	v = strings.TrimSpace(v)
	if v == "" || v == "?" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func parseECO(v string) *string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if len(v) != 3 {
		return nil
	}
	return &v
}

// parseDate parses the PGN "YYYY.MM.DD" Date tag; any "??" component (or a
// malformed tag) yields a nil PlayedOn rather than a zero time.
func parseDate(v string) *time.Time {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) != 3 {
		return nil
	}
	for _, p := range parts {
		if strings.Contains(p, "?") {
			return nil
		}
	}
	t, err := time.Parse("2006.01.02", v)
	if err != nil {
		return nil
	}
	return &t
}

// deriveOpening prefers the ECO-derived catalogue entry; it falls back to
// the PGN's free-text "Opening" header when ECO maps to nothing, matching
// the fact that opening_slug is allowed to be null.
func deriveOpening(eco *string, headerOpening string) (slug *string, name *string) {
	if eco != nil {
		if s, ok := opening.SlugForECO(*eco); ok {
			entry, _ := opening.Lookup(s)
			return &s, &entry.DisplayName
		}
	}
	headerOpening = strings.TrimSpace(headerOpening)
	if headerOpening != "" {
		return nil, &headerOpening
	}
	return nil, nil
}
