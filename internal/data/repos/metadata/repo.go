// Package metadata implements the Metadata Repository: upserts for
// players, games, and positions, plus the read paths the Hybrid Executor
// uses to search and fetch games.
package metadata

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/pkg/dbctx"
	"github.com/chessmate/chessmate/internal/platform/logger"
	"github.com/chessmate/chessmate/internal/platform/operr"
)

// ErrDuplicateGame is returned by InsertGame when the same (white, black,
// date, event, round) tuple already exists with byte-identical PGN text.
var ErrDuplicateGame = errors.New("metadata: duplicate game")

type PositionInput struct {
	Ply        int
	MoveNumber int
	Side       domain.Side
	SAN        string
	FEN        string
}

// SearchPlan is the subset of an intent.Plan the repository needs to build
// a metadata query; kept separate from intent.Plan so this package has no
// dependency on the intent package.
type SearchPlan struct {
	OpeningSlugs  []string
	ECORanges     []string
	Result        string
	WhiteMin      *int
	BlackMin      *int
	MaxRatingDiff *int
	Limit         int
}

type Repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(db *gorm.DB, log *logger.Logger) *Repo {
	return &Repo{db: db, log: log.With("component", "metadata.Repo")}
}

func (r *Repo) tx(dc dbctx.Context) *gorm.DB {
	if dc.Tx != nil {
		return dc.Tx.WithContext(dc.Ctx)
	}
	return r.db.WithContext(dc.Ctx)
}

// UpsertPlayer is idempotent on (name, federation id); it never mutates an
// existing row except to raise PeakRating.
func (r *Repo) UpsertPlayer(dc dbctx.Context, name, federationID string, peak *int) (string, error) {
	const op = "upsert_player"
	tx := r.tx(dc)

	var existing domain.Player
	err := tx.Where("name = ? AND federation_id = ?", name, federationID).First(&existing).Error
	switch {
	case err == nil:
		if peak != nil && (existing.PeakRating == nil || *peak > *existing.PeakRating) {
			if err := tx.Model(&existing).Update("peak_rating", *peak).Error; err != nil {
				return "", operr.New(op, operr.KindTransient, "raise peak rating failed", err)
			}
		}
		return existing.ID, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		player := domain.Player{Name: name, FederationID: federationID, PeakRating: peak, CreatedAt: time.Now()}
		if err := tx.Create(&player).Error; err != nil {
			return "", operr.New(op, operr.KindTransient, "insert player failed", err)
		}
		return player.ID, nil
	default:
		return "", operr.New(op, operr.KindTransient, "lookup player failed", err)
	}
}

type GameInput struct {
	WhiteID     string
	BlackID     string
	Event       string
	Site        string
	Round       string
	PlayedOn    *time.Time
	Result      domain.GameResult
	ECOCode     *string
	OpeningSlug *string
	OpeningName *string
	WhiteRating *int
	BlackRating *int
	PGNText     string
	RawHeaders  map[string]string
}

func rawHeadersJSON(h map[string]string) datatypes.JSONMap {
	if len(h) == 0 {
		return nil
	}
	m := make(datatypes.JSONMap, len(h))
	for k, v := range h {
		m[k] = v
	}
	return m
}

// InsertGame fails ErrDuplicateGame if an identical (white, black, date,
// event, round) tuple already exists with byte-identical PGN text.
func (r *Repo) InsertGame(dc dbctx.Context, in GameInput) (string, error) {
	const op = "insert_game"
	tx := r.tx(dc)

	var existing domain.Game
	query := tx.Where(
		"white_id = ? AND black_id = ? AND event = ? AND round = ?",
		in.WhiteID, in.BlackID, in.Event, in.Round,
	)
	if in.PlayedOn != nil {
		query = query.Where("played_on = ?", *in.PlayedOn)
	} else {
		query = query.Where("played_on IS NULL")
	}
	err := query.First(&existing).Error
	switch {
	case err == nil:
		if existing.PGNText == in.PGNText {
			return "", ErrDuplicateGame
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to insert
	default:
		return "", operr.New(op, operr.KindTransient, "duplicate check failed", err)
	}

	game := domain.Game{
		WhiteID:     in.WhiteID,
		BlackID:     in.BlackID,
		Event:       in.Event,
		Site:        in.Site,
		Round:       in.Round,
		PlayedOn:    in.PlayedOn,
		Result:      in.Result,
		ECOCode:     in.ECOCode,
		OpeningSlug: in.OpeningSlug,
		OpeningName: in.OpeningName,
		WhiteRating: in.WhiteRating,
		BlackRating: in.BlackRating,
		PGNText:     in.PGNText,
		RawHeaders:  rawHeadersJSON(in.RawHeaders),
		CreatedAt:   time.Now(),
	}
	if err := tx.Create(&game).Error; err != nil {
		return "", operr.New(op, operr.KindTransient, "insert game failed", err)
	}
	return game.ID, nil
}

// InsertPositions is all-or-nothing per game: no two positions ever share
// (game_id, ply) because of the unique index backing this insert.
func (r *Repo) InsertPositions(dc dbctx.Context, gameID string, inputs []PositionInput) ([]string, error) {
	const op = "insert_positions"
	if len(inputs) == 0 {
		return nil, nil
	}
	tx := r.tx(dc)

	rows := make([]domain.Position, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, domain.Position{
			GameID:     gameID,
			Ply:        in.Ply,
			MoveNumber: in.MoveNumber,
			SideToMove: in.Side,
			SAN:        in.SAN,
			FEN:        in.FEN,
			CreatedAt:  time.Now(),
		})
	}
	if err := tx.Create(&rows).Error; err != nil {
		return nil, operr.New(op, operr.KindTransient, "insert positions failed", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// SetVectorID is idempotent: repeated calls with the same value are a no-op
// write.
func (r *Repo) SetVectorID(dc dbctx.Context, positionID, vectorID string) error {
	const op = "set_vector_id"
	tx := r.tx(dc)
	if err := tx.Model(&domain.Position{}).Where("id = ?", positionID).Update("vector_id", vectorID).Error; err != nil {
		return operr.New(op, operr.KindTransient, "set vector id failed", err)
	}
	return nil
}

// SearchGames overfetches max(limit*10, 50) rows ordered by played_on DESC.
func (r *Repo) SearchGames(dc dbctx.Context, plan SearchPlan) ([]domain.GameSummary, error) {
	const op = "search_games"
	tx := r.tx(dc).Table("games").
		Select(`games.id, white.name AS white_name, black.name AS black_name,
			games.event, games.played_on, games.result, games.eco_code,
			games.opening_slug, games.opening_name, games.white_rating, games.black_rating`).
		Joins("JOIN players white ON white.id = games.white_id").
		Joins("JOIN players black ON black.id = games.black_id")

	if len(plan.OpeningSlugs) > 0 {
		tx = tx.Where("games.opening_slug IN ?", plan.OpeningSlugs)
	}
	if len(plan.ECORanges) > 0 {
		orClauses := tx.Session(&gorm.Session{NewDB: true})
		for i, rng := range plan.ECORanges {
			from, to := splitRange(rng)
			cond := orClauses.Where("games.eco_code BETWEEN ? AND ?", from, to)
			if i == 0 {
				tx = tx.Where(cond)
			} else {
				tx = tx.Or(cond)
			}
		}
	}
	if plan.Result != "" {
		tx = tx.Where("games.result = ?", plan.Result)
	}
	if plan.WhiteMin != nil {
		tx = tx.Where("games.white_rating >= ?", *plan.WhiteMin)
	}
	if plan.BlackMin != nil {
		tx = tx.Where("games.black_rating >= ?", *plan.BlackMin)
	}
	if plan.MaxRatingDiff != nil {
		tx = tx.Where("ABS(COALESCE(games.white_rating,0) - COALESCE(games.black_rating,0)) <= ?", *plan.MaxRatingDiff)
	}

	limit := plan.Limit
	if limit <= 0 {
		limit = 5
	}
	overfetch := limit * 10
	if overfetch < 50 {
		overfetch = 50
	}

	var rows []domain.GameSummary
	if err := tx.Order("games.played_on DESC").Limit(overfetch).Find(&rows).Error; err != nil {
		return nil, operr.New(op, operr.KindUnavailable, "search games failed", err)
	}
	return rows, nil
}

func splitRange(r string) (string, string) {
	for i := 0; i < len(r); i++ {
		if r[i] == '-' {
			return r[:i], r[i+1:]
		}
	}
	return r, r
}

// FetchGamesWithPGN preserves input order.
func (r *Repo) FetchGamesWithPGN(dc dbctx.Context, ids []string) ([]domain.GameDetail, error) {
	const op = "fetch_games_with_pgn"
	if len(ids) == 0 {
		return nil, nil
	}
	tx := r.tx(dc)

	var games []domain.Game
	if err := tx.Where("id IN ?", ids).Find(&games).Error; err != nil {
		return nil, operr.New(op, operr.KindUnavailable, "fetch games failed", err)
	}

	byID := make(map[string]domain.Game, len(games))
	var whiteIDs, blackIDs []string
	for _, g := range games {
		byID[g.ID] = g
		whiteIDs = append(whiteIDs, g.WhiteID)
		blackIDs = append(blackIDs, g.BlackID)
	}
	playerNames, err := r.playerNames(dc, append(whiteIDs, blackIDs...))
	if err != nil {
		return nil, err
	}

	out := make([]domain.GameDetail, 0, len(ids))
	for _, id := range ids {
		g, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, domain.GameDetail{
			GameSummary: domain.GameSummary{
				ID:          g.ID,
				WhiteName:   playerNames[g.WhiteID],
				BlackName:   playerNames[g.BlackID],
				Event:       g.Event,
				PlayedOn:    g.PlayedOn,
				Result:      g.Result,
				ECOCode:     g.ECOCode,
				OpeningSlug: g.OpeningSlug,
				OpeningName: g.OpeningName,
				WhiteRating: g.WhiteRating,
				BlackRating: g.BlackRating,
			},
			PGNText: g.PGNText,
		})
	}
	return out, nil
}

// PositionPayload is the set of fields the embedding worker needs to build
// a vector store payload for one position, per §4.7's payload key list.
type PositionPayload struct {
	GameID      string
	Ply         int
	WhiteName   string
	BlackName   string
	WhiteRating *int
	BlackRating *int
	OpeningSlug *string
	ECOCode     *string
	Result      domain.GameResult
}

// FetchPositionPayloads joins positions to their owning game and both
// players in one query, keyed by position id, for the embedding worker's
// batched upsert_point calls.
func (r *Repo) FetchPositionPayloads(dc dbctx.Context, positionIDs []string) (map[string]PositionPayload, error) {
	const op = "fetch_position_payloads"
	if len(positionIDs) == 0 {
		return map[string]PositionPayload{}, nil
	}

	type row struct {
		PositionID  string
		GameID      string
		Ply         int
		WhiteName   string
		BlackName   string
		WhiteRating *int
		BlackRating *int
		OpeningSlug *string
		ECOCode     *string
		Result      domain.GameResult
	}
	var rows []row
	err := r.tx(dc).Table("positions").
		Select(`positions.id AS position_id, positions.ply, games.id AS game_id,
			white.name AS white_name, black.name AS black_name,
			games.white_rating, games.black_rating, games.opening_slug, games.eco_code, games.result`).
		Joins("JOIN games ON games.id = positions.game_id").
		Joins("JOIN players white ON white.id = games.white_id").
		Joins("JOIN players black ON black.id = games.black_id").
		Where("positions.id IN ?", positionIDs).
		Find(&rows).Error
	if err != nil {
		return nil, operr.New(op, operr.KindUnavailable, "fetch position payloads failed", err)
	}

	out := make(map[string]PositionPayload, len(rows))
	for _, row := range rows {
		out[row.PositionID] = PositionPayload{
			GameID:      row.GameID,
			Ply:         row.Ply,
			WhiteName:   row.WhiteName,
			BlackName:   row.BlackName,
			WhiteRating: row.WhiteRating,
			BlackRating: row.BlackRating,
			OpeningSlug: row.OpeningSlug,
			ECOCode:     row.ECOCode,
			Result:      row.Result,
		}
	}
	return out, nil
}

func (r *Repo) playerNames(dc dbctx.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var players []domain.Player
	if err := r.tx(dc).Where("id IN ?", ids).Find(&players).Error; err != nil {
		return nil, operr.New("fetch_player_names", operr.KindUnavailable, "fetch players failed", err)
	}
	out := make(map[string]string, len(players))
	for _, p := range players {
		out[p.ID] = p.Name
	}
	return out, nil
}
