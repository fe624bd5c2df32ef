package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sampleSession(id string) *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		ID:          id,
		GameType:    "blitz",
		White:       "alice",
		Black:       "bob",
		WhiteRating: 1500,
		BlackRating: 1480,
		Status:      StatusActive,
		FEN:         "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		MovesUCI:    []string{},
		Moves:       []MoveRecord{},
		Turn:        SideWhite,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := sampleSession("game-1")

	if err := store.Save(ctx, s, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, "game-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.White != "alice" || got.Status != StatusActive || got.Turn != SideWhite {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load(context.Background(), "game-nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreParticipants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddParticipant(ctx, "game-1", "alice", time.Hour); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	ok, err := store.IsParticipant(ctx, "game-1", "alice")
	if err != nil || !ok {
		t.Fatalf("alice should be a participant: ok=%v err=%v", ok, err)
	}
	ok, err = store.IsParticipant(ctx, "game-1", "mallory")
	if err != nil || ok {
		t.Fatalf("mallory should not be a participant: ok=%v err=%v", ok, err)
	}
}

func TestStoreListActiveFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleSession("game-a")
	b := sampleSession("game-b")
	b.GameType = "bullet"
	b.White = "carol"
	b.Black = "dave"
	c := sampleSession("game-c")
	c.Status = StatusCheckmate

	for _, s := range []*Session{a, b, c} {
		if err := store.Save(ctx, s, time.Hour); err != nil {
			t.Fatalf("Save %s: %v", s.ID, err)
		}
	}

	active, err := store.ListActive(ctx, Filter{Status: StatusActive})
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}

	mine, err := store.ListActive(ctx, Filter{Participant: "carol"})
	if err != nil {
		t.Fatalf("ListActive participant: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "game-b" {
		t.Fatalf("participant filter failed: %+v", mine)
	}

	bullets, err := store.ListActive(ctx, Filter{GameType: "bullet"})
	if err != nil {
		t.Fatalf("ListActive type: %v", err)
	}
	if len(bullets) != 1 || bullets[0].ID != "game-b" {
		t.Fatalf("game type filter failed: %+v", bullets)
	}
}

func TestStorePresence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetOnline(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	ref, err := store.GetOnline(ctx, "alice")
	if err != nil || ref != "conn-1" {
		t.Fatalf("GetOnline: ref=%q err=%v", ref, err)
	}
	if err := store.ClearOnline(ctx, "alice"); err != nil {
		t.Fatalf("ClearOnline: %v", err)
	}
	ref, err = store.GetOnline(ctx, "alice")
	if err != nil || ref != "" {
		t.Fatalf("presence not cleared: ref=%q err=%v", ref, err)
	}
}
