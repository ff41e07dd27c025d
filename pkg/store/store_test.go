package store

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "uploads.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := testStore(t)

	rec := &Record{
		SessionID:     "corr-1",
		SourcePath:    "/tmp/cat.jpg",
		StagedDir:     "/tmp/uploadkit/staging/abc",
		Collection:    "photo",
		TotalVariants: 4,
	}
	if err := s.Save(rec); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected record id to be set after save")
	}

	loaded, err := s.Load("corr-1")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected record, got nil")
	}
	if loaded.SourcePath != rec.SourcePath || loaded.Collection != rec.Collection {
		t.Errorf("loaded record mismatch: got %+v, want %+v", loaded, rec)
	}
	if loaded.StagedDir != rec.StagedDir {
		t.Errorf("staged dir not persisted: got %q, want %q", loaded.StagedDir, rec.StagedDir)
	}
	if loaded.Status != StatusPending {
		t.Errorf("expected default status pending, got %s", loaded.Status)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := testStore(t)

	rec, err := s.Load("no-such-session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for missing session, got %+v", rec)
	}
}

func TestStore_MarkUploaded(t *testing.T) {
	s := testStore(t)
	s.Save(&Record{SessionID: "corr-2", SourcePath: "/tmp/a.jpg", Collection: "photo", TotalVariants: 4})

	if err := s.MarkUploaded("corr-2", "thumbnail"); err != nil {
		t.Fatalf("failed to mark: %v", err)
	}
	if err := s.MarkUploaded("corr-2", "medium"); err != nil {
		t.Fatalf("failed to mark: %v", err)
	}
	// Duplicate mark is a no-op.
	if err := s.MarkUploaded("corr-2", "thumbnail"); err != nil {
		t.Fatalf("duplicate mark errored: %v", err)
	}

	rec, _ := s.Load("corr-2")
	if len(rec.UploadedVariants) != 2 {
		t.Fatalf("expected 2 uploaded variants, got %v", rec.UploadedVariants)
	}

	remaining := rec.Remaining([]string{"thumbnail", "medium", "large", "original"})
	if len(remaining) != 2 || remaining[0] != "large" || remaining[1] != "original" {
		t.Errorf("unexpected remaining variants: %v", remaining)
	}
}

func TestStore_SetStatusAndClear(t *testing.T) {
	s := testStore(t)
	s.Save(&Record{SessionID: "corr-3", SourcePath: "/tmp/b.jpg", Collection: "post-cover", TotalVariants: 4})

	if err := s.SetStatus("corr-3", StatusFailed, "upload exhausted retries"); err != nil {
		t.Fatalf("failed to set status: %v", err)
	}

	rec, _ := s.Load("corr-3")
	if rec.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", rec.Status)
	}
	if rec.ErrorMessage != "upload exhausted retries" {
		t.Errorf("unexpected error message: %q", rec.ErrorMessage)
	}

	if err := s.Clear("corr-3"); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if rec, _ := s.Load("corr-3"); rec != nil {
		t.Errorf("expected record gone after clear, got %+v", rec)
	}
}

func TestStore_ConcurrentSessionsDoNotCollide(t *testing.T) {
	s := testStore(t)
	s.Save(&Record{SessionID: "corr-a", SourcePath: "/tmp/a.jpg", Collection: "photo", TotalVariants: 4})
	s.Save(&Record{SessionID: "corr-b", SourcePath: "/tmp/b.jpg", Collection: "photo", TotalVariants: 4})

	s.MarkUploaded("corr-a", "large")

	recB, _ := s.Load("corr-b")
	if len(recB.UploadedVariants) != 0 {
		t.Errorf("session corr-b picked up corr-a bookkeeping: %v", recB.UploadedVariants)
	}
}

func TestStore_List(t *testing.T) {
	s := testStore(t)
	s.Save(&Record{SessionID: "corr-1", SourcePath: "/tmp/a.jpg", Collection: "photo", TotalVariants: 4, Status: StatusComplete})
	s.Save(&Record{SessionID: "corr-2", SourcePath: "/tmp/b.jpg", Collection: "photo", TotalVariants: 4, Status: StatusFailed})

	records, err := s.List()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
}
