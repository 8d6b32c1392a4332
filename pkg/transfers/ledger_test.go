//go:build integration

package transfers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seekd/seekd/pkg/peer"
)

// createTestLedger creates an in-memory SQLite ledger for testing.
func createTestLedger(t *testing.T) *GORMLedger {
	t.Helper()
	ledger, err := NewLedger(&DatabaseConfig{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test ledger: %v", err)
	}
	return ledger
}

func testUpload(username, filename string, requestedAt time.Time) *Transfer {
	return &Transfer{
		Direction:   peer.DirectionUpload,
		Username:    username,
		Filename:    filename,
		Size:        4096,
		State:       peer.StateQueued,
		RequestedAt: requestedAt,
	}
}

func TestNewLedger(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &DatabaseConfig{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
		if config.SQLite.Path == "" {
			t.Error("expected a default sqlite path")
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		config := &DatabaseConfig{
			Type: "invalid",
		}
		_, err := NewLedger(config)
		if err == nil {
			t.Error("expected error for invalid config")
		}
	})

	t.Run("creates in-memory ledger", func(t *testing.T) {
		ledger := createTestLedger(t)
		defer ledger.Close()

		if err := ledger.Healthcheck(context.Background()); err != nil {
			t.Errorf("healthcheck failed: %v", err)
		}
	})
}

func TestAddOrSupersede(t *testing.T) {
	ledger := createTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	t.Run("assigns id when empty", func(t *testing.T) {
		transfer := testUpload("alice", "music/one.mp3", time.Now().UTC())

		if err := ledger.AddOrSupersede(ctx, transfer); err != nil {
			t.Fatalf("failed to add transfer: %v", err)
		}
		if transfer.ID == "" {
			t.Error("expected a generated transfer ID")
		}

		found, err := ledger.Find(ctx, transfer.ID)
		if err != nil {
			t.Fatalf("failed to find transfer: %v", err)
		}
		if found.Username != "alice" || found.Filename != "music/one.mp3" {
			t.Errorf("unexpected row: %+v", found)
		}
	})

	t.Run("supersedes prior attempts for the same pair", func(t *testing.T) {
		first := testUpload("bob", "music/two.mp3", time.Now().UTC())
		if err := ledger.AddOrSupersede(ctx, first); err != nil {
			t.Fatalf("failed to add first attempt: %v", err)
		}

		second := testUpload("bob", "music/two.mp3", time.Now().UTC().Add(time.Second))
		if err := ledger.AddOrSupersede(ctx, second); err != nil {
			t.Fatalf("failed to add second attempt: %v", err)
		}

		old, err := ledger.Find(ctx, first.ID)
		if err != nil {
			t.Fatalf("failed to find superseded row: %v", err)
		}
		if !old.Removed {
			t.Error("expected the superseded row to be marked removed")
		}

		live, err := ledger.List(ctx, Filter{Username: "bob", Filename: "music/two.mp3"})
		if err != nil {
			t.Fatalf("failed to list live rows: %v", err)
		}
		if len(live) != 1 || live[0].ID != second.ID {
			t.Errorf("expected exactly the fresh attempt, got %d rows", len(live))
		}
	})

	t.Run("different pairs are untouched", func(t *testing.T) {
		other := testUpload("bob", "music/three.mp3", time.Now().UTC())
		if err := ledger.AddOrSupersede(ctx, other); err != nil {
			t.Fatalf("failed to add transfer: %v", err)
		}

		rows, err := ledger.List(ctx, Filter{Username: "bob"})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("expected 2 live rows for bob, got %d", len(rows))
		}
	})
}

func TestUpdate(t *testing.T) {
	ledger := createTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	t.Run("writes the full row back", func(t *testing.T) {
		transfer := testUpload("alice", "music/one.mp3", time.Now().UTC())
		if err := ledger.AddOrSupersede(ctx, transfer); err != nil {
			t.Fatalf("failed to add transfer: %v", err)
		}

		started := time.Now().UTC()
		transfer.State = peer.StateInProgress
		transfer.StartedAt = &started
		transfer.BytesTransferred = 2048
		transfer.AverageSpeed = 512.5

		if err := ledger.Update(ctx, transfer); err != nil {
			t.Fatalf("failed to update transfer: %v", err)
		}

		found, err := ledger.Find(ctx, transfer.ID)
		if err != nil {
			t.Fatalf("failed to find transfer: %v", err)
		}
		if found.State != peer.StateInProgress {
			t.Errorf("expected InProgress, got %s", found.State)
		}
		if found.BytesTransferred != 2048 {
			t.Errorf("expected 2048 bytes, got %d", found.BytesTransferred)
		}
		if found.StartedAt == nil {
			t.Error("expected started-at to persist")
		}
	})

	t.Run("unknown id returns not found", func(t *testing.T) {
		missing := testUpload("ghost", "music/none.mp3", time.Now().UTC())
		missing.ID = "00000000-0000-0000-0000-000000000000"

		err := ledger.Update(ctx, missing)
		if !errors.Is(err, ErrTransferNotFound) {
			t.Errorf("expected ErrTransferNotFound, got %v", err)
		}
	})
}

func TestFind(t *testing.T) {
	ledger := createTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	t.Run("miss returns not found", func(t *testing.T) {
		_, err := ledger.Find(ctx, "missing-id")
		if !errors.Is(err, ErrTransferNotFound) {
			t.Errorf("expected ErrTransferNotFound, got %v", err)
		}
	})

	t.Run("returns removed rows too", func(t *testing.T) {
		first := testUpload("carol", "music/a.mp3", time.Now().UTC())
		if err := ledger.AddOrSupersede(ctx, first); err != nil {
			t.Fatalf("failed to add: %v", err)
		}
		second := testUpload("carol", "music/a.mp3", time.Now().UTC())
		if err := ledger.AddOrSupersede(ctx, second); err != nil {
			t.Fatalf("failed to supersede: %v", err)
		}

		found, err := ledger.Find(ctx, first.ID)
		if err != nil {
			t.Fatalf("failed to find removed row: %v", err)
		}
		if !found.Removed {
			t.Error("expected removed flag on superseded row")
		}
	})
}

func TestList(t *testing.T) {
	ledger := createTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)

	done := testUpload("alice", "music/done.mp3", base)
	done.State = peer.StateCompleted | peer.StateSucceeded
	queuedOld := testUpload("alice", "music/old.mp3", base.Add(time.Second))
	queuedNew := testUpload("bob", "music/new.mp3", base.Add(2*time.Second))

	for _, transfer := range []*Transfer{done, queuedOld, queuedNew} {
		if err := ledger.AddOrSupersede(ctx, transfer); err != nil {
			t.Fatalf("failed to seed row: %v", err)
		}
	}

	t.Run("orders by requested-at", func(t *testing.T) {
		rows, err := ledger.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(rows))
		}
		if rows[0].ID != done.ID || rows[2].ID != queuedNew.ID {
			t.Error("expected ascending requested-at order")
		}
	})

	t.Run("filters by username", func(t *testing.T) {
		rows, err := ledger.List(ctx, Filter{Username: "alice"})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("expected 2 rows for alice, got %d", len(rows))
		}
	})

	t.Run("filters by terminal status", func(t *testing.T) {
		terminal, err := ledger.List(ctx, Filter{Terminal: TerminalOnly})
		if err != nil {
			t.Fatalf("failed to list terminal: %v", err)
		}
		if len(terminal) != 1 || terminal[0].ID != done.ID {
			t.Errorf("expected only the completed row, got %d rows", len(terminal))
		}

		live, err := ledger.List(ctx, Filter{Terminal: NonTerminalOnly})
		if err != nil {
			t.Fatalf("failed to list non-terminal: %v", err)
		}
		if len(live) != 2 {
			t.Errorf("expected 2 live rows, got %d", len(live))
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		rows, err := ledger.List(ctx, Filter{Limit: 1})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(rows) != 1 || rows[0].ID != done.ID {
			t.Error("expected only the earliest row")
		}
	})

	t.Run("excludes removed rows unless asked", func(t *testing.T) {
		superseding := testUpload("alice", "music/old.mp3", base.Add(3*time.Second))
		if err := ledger.AddOrSupersede(ctx, superseding); err != nil {
			t.Fatalf("failed to supersede: %v", err)
		}

		visible, err := ledger.List(ctx, Filter{Username: "alice", Filename: "music/old.mp3"})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(visible) != 1 || visible[0].ID != superseding.ID {
			t.Errorf("expected only the live attempt, got %d rows", len(visible))
		}

		all, err := ledger.List(ctx, Filter{Username: "alice", Filename: "music/old.mp3", IncludeRemoved: true})
		if err != nil {
			t.Fatalf("failed to list with removed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected both attempts, got %d rows", len(all))
		}
	})
}

func TestRemove(t *testing.T) {
	ledger := createTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	t.Run("rejects non-terminal transfers", func(t *testing.T) {
		transfer := testUpload("alice", "music/live.mp3", time.Now().UTC())
		if err := ledger.AddOrSupersede(ctx, transfer); err != nil {
			t.Fatalf("failed to add: %v", err)
		}

		err := ledger.Remove(ctx, transfer.ID)
		if !errors.Is(err, ErrNotTerminal) {
			t.Errorf("expected ErrNotTerminal, got %v", err)
		}
	})

	t.Run("soft-deletes terminal transfers", func(t *testing.T) {
		transfer := testUpload("alice", "music/done.mp3", time.Now().UTC())
		transfer.State = peer.StateCompleted | peer.StateSucceeded
		if err := ledger.AddOrSupersede(ctx, transfer); err != nil {
			t.Fatalf("failed to add: %v", err)
		}

		if err := ledger.Remove(ctx, transfer.ID); err != nil {
			t.Fatalf("failed to remove: %v", err)
		}

		found, err := ledger.Find(ctx, transfer.ID)
		if err != nil {
			t.Fatalf("failed to find after remove: %v", err)
		}
		if !found.Removed {
			t.Error("expected removed flag after remove")
		}
	})

	t.Run("unknown id returns not found", func(t *testing.T) {
		err := ledger.Remove(ctx, "missing-id")
		if !errors.Is(err, ErrTransferNotFound) {
			t.Errorf("expected ErrTransferNotFound, got %v", err)
		}
	})
}

func TestTimestampsStoredUTC(t *testing.T) {
	ledger := createTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	zone := time.FixedZone("UTC+2", 2*60*60)
	requested := time.Now().In(zone).Truncate(time.Second)

	transfer := testUpload("alice", "music/tz.mp3", requested)
	if err := ledger.AddOrSupersede(ctx, transfer); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	found, err := ledger.Find(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("failed to find: %v", err)
	}
	if found.RequestedAt.Location() != time.UTC {
		t.Errorf("expected UTC location, got %s", found.RequestedAt.Location())
	}
	if found.RequestedAt.Unix() != requested.Unix() {
		t.Errorf("expected the same instant, got %s vs %s", found.RequestedAt, requested)
	}
}
