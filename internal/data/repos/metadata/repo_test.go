package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/chessmate/chessmate/internal/data/repos/testutil"
	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/pkg/dbctx"
	"github.com/chessmate/chessmate/internal/pkg/pointers"
)

func TestMetadataRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := New(db, testutil.Logger(t))

	dc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	whiteID, err := repo.UpsertPlayer(dc, "Magnus Carlsen", "NOR", pointers.Int(2882))
	if err != nil {
		t.Fatalf("UpsertPlayer white: %v", err)
	}
	blackID, err := repo.UpsertPlayer(dc, "Hikaru Nakamura", "USA", pointers.Int(2780))
	if err != nil {
		t.Fatalf("UpsertPlayer black: %v", err)
	}

	// Repeated upsert with a lower peak must not lower the stored value.
	sameID, err := repo.UpsertPlayer(dc, "Magnus Carlsen", "NOR", pointers.Int(2800))
	if err != nil {
		t.Fatalf("UpsertPlayer repeat: %v", err)
	}
	if sameID != whiteID {
		t.Fatalf("UpsertPlayer repeat: expected same id, got %s vs %s", sameID, whiteID)
	}

	playedOn := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	eco := "E97"
	slug := "kings_indian_defense"
	name := "King's Indian Defense"

	gameID, err := repo.InsertGame(dc, GameInput{
		WhiteID:     whiteID,
		BlackID:     blackID,
		Event:       "Test Championship",
		Round:       "1",
		PlayedOn:    &playedOn,
		Result:      domain.ResultWhiteWins,
		ECOCode:     &eco,
		OpeningSlug: &slug,
		OpeningName: &name,
		WhiteRating: pointers.Int(2882),
		BlackRating: pointers.Int(2780),
		PGNText:     "1. d4 Nf6 1-0",
	})
	if err != nil {
		t.Fatalf("InsertGame: %v", err)
	}

	_, err = repo.InsertGame(dc, GameInput{
		WhiteID: whiteID, BlackID: blackID, Event: "Test Championship", Round: "1",
		PlayedOn: &playedOn, Result: domain.ResultWhiteWins, PGNText: "1. d4 Nf6 1-0",
	})
	if err != ErrDuplicateGame {
		t.Fatalf("InsertGame duplicate: want ErrDuplicateGame got %v", err)
	}

	ids, err := repo.InsertPositions(dc, gameID, []PositionInput{
		{Ply: 0, MoveNumber: 1, Side: domain.SideWhite, SAN: "d4", FEN: "startfen-0"},
		{Ply: 1, MoveNumber: 1, Side: domain.SideBlack, SAN: "Nf6", FEN: "startfen-1"},
	})
	if err != nil {
		t.Fatalf("InsertPositions: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("InsertPositions: want=2 got=%d", len(ids))
	}

	if err := repo.SetVectorID(dc, ids[0], "vec-123"); err != nil {
		t.Fatalf("SetVectorID: %v", err)
	}

	results, err := repo.SearchGames(dc, SearchPlan{OpeningSlugs: []string{slug}, Limit: 5})
	if err != nil {
		t.Fatalf("SearchGames: %v", err)
	}
	if len(results) != 1 || results[0].ID != gameID {
		t.Fatalf("SearchGames: expected one match for %s, got %v", gameID, results)
	}

	details, err := repo.FetchGamesWithPGN(dc, []string{gameID})
	if err != nil {
		t.Fatalf("FetchGamesWithPGN: %v", err)
	}
	if len(details) != 1 || details[0].PGNText != "1. d4 Nf6 1-0" {
		t.Fatalf("FetchGamesWithPGN: unexpected result %v", details)
	}
}
