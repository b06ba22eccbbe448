package embedworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/chessmate/chessmate/internal/data/repos/embedqueue"
	"github.com/chessmate/chessmate/internal/data/repos/metadata"
	"github.com/chessmate/chessmate/internal/data/repos/testutil"
	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/pkg/dbctx"
	"github.com/chessmate/chessmate/internal/platform/qdrant"
)

type fakeEmbedder struct {
	vectors [][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

type fakeVectorStore struct {
	upserted []qdrant.Vector
	err      error
}

func (f *fakeVectorStore) Upsert(ctx context.Context, vectors []qdrant.Vector) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, vectors...)
	return nil
}
func (f *fakeVectorStore) QueryMatches(ctx context.Context, q []float32, topK int, filter map[string]any) ([]qdrant.VectorMatch, error) {
	return nil, nil
}
func (f *fakeVectorStore) DeleteIDs(ctx context.Context, ids []string) error { return nil }

func seedGameAndPositions(t *testing.T, tx *gorm.DB, n int) (string, []domain.Position) {
	t.Helper()
	white := domain.Player{Name: "White Player", FederationID: "FED1", CreatedAt: time.Now()}
	black := domain.Player{Name: "Black Player", FederationID: "FED2", CreatedAt: time.Now()}
	if err := tx.Create(&white).Error; err != nil {
		t.Fatalf("seed white: %v", err)
	}
	if err := tx.Create(&black).Error; err != nil {
		t.Fatalf("seed black: %v", err)
	}
	game := domain.Game{
		WhiteID: white.ID, BlackID: black.ID, Event: "Test Event",
		Result: domain.ResultWhiteWins, PGNText: "1. e4 e5 1-0", CreatedAt: time.Now(),
	}
	if err := tx.Create(&game).Error; err != nil {
		t.Fatalf("seed game: %v", err)
	}
	positions := make([]domain.Position, 0, n)
	for i := 0; i < n; i++ {
		pos := domain.Position{
			GameID: game.ID, Ply: i, MoveNumber: i/2 + 1, SideToMove: domain.SideWhite,
			SAN: "e4", FEN: "fen-" + game.ID + "-" + time.Now().Format("150405.000000") + "-" + string(rune('a'+i)),
			CreatedAt: time.Now(),
		}
		if err := tx.Create(&pos).Error; err != nil {
			t.Fatalf("seed position %d: %v", i, err)
		}
		positions = append(positions, pos)
	}
	return game.ID, positions
}

func newTestPool(t *testing.T, embedder Embedder, vectors qdrant.Store) (*Pool, *gorm.DB, *embedqueue.Repo, *metadata.Repo) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	queue := embedqueue.New(tx, log)
	meta := metadata.New(tx, log)
	pool := New(Deps{
		DB: tx, Log: log, Queue: queue, Metadata: meta, Embedder: embedder, Vectors: vectors,
	})
	return pool, tx, queue, meta
}

func TestPoolSettlesClaimedBatch(t *testing.T) {
	vecStore := &fakeVectorStore{}
	embedder := &fakeEmbedder{vectors: [][]float32{{0.1, 0.2}, {0.3, 0.4}}}
	pool, tx, queue, _ := newTestPool(t, embedder, vecStore)

	_, positions := seedGameAndPositions(t, tx, 2)
	dc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	for _, pos := range positions {
		if err := queue.Enqueue(dc, pos.ID, pos.FEN); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	pool.pollOnce(context.Background(), 1)

	completed, err := queue.CountByStatus(dc, domain.JobCompleted)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if completed != 2 {
		t.Fatalf("completed jobs: want=2 got=%d", completed)
	}
	if len(vecStore.upserted) != 2 {
		t.Fatalf("upserted vectors: want=2 got=%d", len(vecStore.upserted))
	}

	var refreshed []domain.Position
	if err := tx.Where("id IN ?", []string{positions[0].ID, positions[1].ID}).Find(&refreshed).Error; err != nil {
		t.Fatalf("reload positions: %v", err)
	}
	for _, p := range refreshed {
		if p.VectorID == nil {
			t.Fatalf("position %s: expected vector_id set", p.ID)
		}
	}
}

func TestPoolFailsBatchOnEmbedderError(t *testing.T) {
	vecStore := &fakeVectorStore{}
	embedder := &fakeEmbedder{err: errors.New("embedder unavailable")}
	pool, tx, queue, _ := newTestPool(t, embedder, vecStore)

	_, positions := seedGameAndPositions(t, tx, 1)
	dc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	if err := queue.Enqueue(dc, positions[0].ID, positions[0].FEN); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pool.pollOnce(context.Background(), 1)

	pending, err := queue.CountByStatus(dc, domain.JobPending)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if pending != 1 {
		t.Fatalf("job should be back in pending for retry: got=%d", pending)
	}
	if len(vecStore.upserted) != 0 {
		t.Fatalf("no vectors should have been upserted, got=%d", len(vecStore.upserted))
	}
}
