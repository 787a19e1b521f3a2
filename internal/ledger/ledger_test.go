package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordMovesActivePointer(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	if _, err := s.Active(ctx, "rubric.yaml"); !errors.Is(err, ErrNoActive) {
		t.Fatalf("Active on empty ledger: got %v, want ErrNoActive", err)
	}

	first, err := s.Record(ctx, Entry{Profile: "team", Action: ActionPromote, RubricVersion: "v1", Checksum: "aa", Target: "rubric.yaml"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.ID == "" || first.ParentID != "" {
		t.Fatalf("first entry: id=%q parent=%q", first.ID, first.ParentID)
	}

	second, err := s.Record(ctx, Entry{Profile: "team", Action: ActionPromote, RubricVersion: "v2", Checksum: "bb", Target: "rubric.yaml", BackupKey: "team/configs/backup"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if second.ParentID != first.ID {
		t.Fatalf("parent = %q, want %q", second.ParentID, first.ID)
	}

	if _, err := s.Record(ctx, Entry{Profile: "other", Action: ActionPromote, RubricVersion: "x", Checksum: "cc", Target: "elsewhere.yaml"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	active, err := s.Active(ctx, "rubric.yaml")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID != second.ID || active.BackupKey != "team/configs/backup" || active.RubricVersion != "v2" {
		t.Fatalf("active = %+v, want %+v", active, second)
	}
	if !active.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("created_at = %v, want %v", active.CreatedAt, second.CreatedAt)
	}

	hist, err := s.History(ctx, "team", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].ID != second.ID || hist[1].ID != first.ID {
		t.Fatalf("history = %+v", hist)
	}

	limited, err := s.History(ctx, "team", 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited history has %d entries", len(limited))
	}
}

func TestRecordRequiresTarget(t *testing.T) {
	s := tempDB(t)
	if _, err := s.Record(context.Background(), Entry{Profile: "team"}); err == nil {
		t.Fatal("expected error for an entry without target")
	}
}

func TestLedgerPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := s.Record(context.Background(), Entry{Profile: "team", Action: ActionPromote, RubricVersion: "v1", Checksum: "aa", Target: "t"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	active, err := s2.Active(context.Background(), "t")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID != e.ID {
		t.Fatalf("active = %s, want %s", active.ID, e.ID)
	}
}
