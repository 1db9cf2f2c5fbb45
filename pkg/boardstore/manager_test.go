package boardstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"trisplits/pkg/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "trisplits_test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func sampleBoard(date string) model.RaceResultBoard {
	total := 2 * time.Hour
	return model.RaceResultBoard{
		Race: model.Race{Date: date, Status: model.StatusFinished, BibNumbers: []string{"101"}},
		Items: []model.RaceResultItem{
			{BibNumber: "101", ParticipantName: "Ada Rivers", TotalDuration: &total, Rank: 1},
		},
	}
}

func TestPersistAndFetchBoard(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	board := sampleBoard("2026-06-14")
	if err := m.PersistBoard(ctx, board); err != nil {
		t.Fatalf("persisting board: %v", err)
	}

	got, err := m.FetchPersistedBoard(ctx, "2026-06-14")
	if err != nil {
		t.Fatalf("fetching board: %v", err)
	}
	if got == nil {
		t.Fatal("expected a persisted board")
	}
	if got.Race.Date != board.Race.Date || len(got.Items) != 1 {
		t.Errorf("unexpected board: %+v", got)
	}
	if got.Items[0].Rank != 1 || *got.Items[0].TotalDuration != 2*time.Hour {
		t.Errorf("unexpected item: %+v", got.Items[0])
	}
}

func TestPersistBoardReplaces(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.PersistBoard(ctx, sampleBoard("2026-06-14")); err != nil {
		t.Fatalf("persisting board: %v", err)
	}
	updated := sampleBoard("2026-06-14")
	updated.Items[0].ParticipantName = "Ada R."
	if err := m.PersistBoard(ctx, updated); err != nil {
		t.Fatalf("re-persisting board: %v", err)
	}

	got, err := m.FetchPersistedBoard(ctx, "2026-06-14")
	if err != nil {
		t.Fatalf("fetching board: %v", err)
	}
	if got.Items[0].ParticipantName != "Ada R." {
		t.Errorf("expected the replacement board, got %+v", got.Items[0])
	}
}

func TestFetchMissingBoard(t *testing.T) {
	m := newTestManager(t)

	got, err := m.FetchPersistedBoard(context.Background(), "1999-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for an unknown date, got %+v", got)
	}
}

func TestRoster(t *testing.T) {
	m := newTestManager(t)

	for _, p := range []model.Participant{
		{BibNumber: "101", Name: "Ada Rivers"},
		{BibNumber: "102", Name: "Ben Ortiz"},
	} {
		if err := m.SaveParticipant(p); err != nil {
			t.Fatalf("saving participant: %v", err)
		}
	}
	// upsert keeps one row per bib
	if err := m.SaveParticipant(model.Participant{BibNumber: "101", Name: "Ada R."}); err != nil {
		t.Fatalf("re-saving participant: %v", err)
	}

	roster, err := m.FetchRoster()
	if err != nil {
		t.Fatalf("fetching roster: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("expected 2 participants, got %v", roster)
	}
	names := map[string]string{}
	for _, p := range roster {
		names[p.BibNumber] = p.Name
	}
	if names["101"] != "Ada R." || names["102"] != "Ben Ortiz" {
		t.Errorf("unexpected roster: %v", names)
	}
}

func TestChats(t *testing.T) {
	m := newTestManager(t)

	for _, id := range []string{"1001", "1002", "1001"} {
		if err := m.RegisterChat(id); err != nil {
			t.Fatalf("registering chat: %v", err)
		}
	}

	chats, err := m.ListChats()
	if err != nil {
		t.Fatalf("listing chats: %v", err)
	}
	if len(chats) != 2 {
		t.Errorf("expected 2 chats, got %v", chats)
	}
}
