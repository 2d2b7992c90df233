package events_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"droidpilot/pkg/events"
	"droidpilot/pkg/scheduler"
)

// seedDB creates an event database with a few rows across two devices.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")

	db, err := scheduler.OpenDB(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	log := scheduler.NewEventLog(db)
	ctx := context.Background()
	log.Log(ctx, "assign", "scheduler", "devA", "worker-1", `"task one"`)
	log.Log(ctx, "done", "scheduler", "devA", "worker-1", `"task one"`)
	log.Log(ctx, "assign", "scheduler", "devB", "worker-2", `"task two"`)
	log.Log(ctx, "crash", "scheduler", "devB", "worker-2", "boom")
	return path
}

func TestReaderMissingDatabase(t *testing.T) {
	_, err := events.NewReader(filepath.Join(t.TempDir(), "nope.db"))
	if err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestQueryAllNewestFirst(t *testing.T) {
	r, err := events.NewReader(seedDB(t))
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	got, err := r.Query(context.Background(), events.QueryOpts{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got[0].Type != "crash" {
		t.Fatalf("expected newest first, got %q", got[0].Type)
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID > got[i-1].ID {
			t.Fatal("events not ordered newest first")
		}
	}
}

func TestQueryFilters(t *testing.T) {
	r, err := events.NewReader(seedDB(t))
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	byDevice, err := r.Query(ctx, events.QueryOpts{Device: "devA"})
	if err != nil {
		t.Fatalf("query by device: %v", err)
	}
	if len(byDevice) != 2 {
		t.Fatalf("devA filter: expected 2 events, got %d", len(byDevice))
	}

	byType, err := r.Query(ctx, events.QueryOpts{EventType: "crash"})
	if err != nil {
		t.Fatalf("query by type: %v", err)
	}
	if len(byType) != 1 || byType[0].Device != "devB" {
		t.Fatalf("crash filter: got %+v", byType)
	}

	limited, err := r.Query(ctx, events.QueryOpts{Limit: 1})
	if err != nil {
		t.Fatalf("query limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit 1: got %d events", len(limited))
	}

	future := time.Now().Add(24 * time.Hour)
	none, err := r.Query(ctx, events.QueryOpts{After: &future})
	if err != nil {
		t.Fatalf("query after: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("future filter must match nothing, got %d", len(none))
	}
}

func TestQueryTimestampsParsed(t *testing.T) {
	r, err := events.NewReader(seedDB(t))
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	got, err := r.Query(context.Background(), events.QueryOpts{Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].CreatedAt.IsZero() {
		t.Fatalf("created_at must be parsed, got %+v", got)
	}
}
