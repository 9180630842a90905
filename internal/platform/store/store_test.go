package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// Shared contract tests
// ---------------------------------------------------------------------------

func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound for missing key, got %v", err)
	}

	if err := s.Put(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("expected value %q, got %q", "one", got)
	}

	// Overwrite is last-write-wins.
	if err := s.Put(ctx, "a", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "a")
	if string(got) != "two" {
		t.Errorf("expected overwritten value %q, got %q", "two", got)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}

	// Delete of a missing key is a no-op.
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("delete missing key: %v", err)
	}

	if err := s.Put(ctx, "b", []byte("x")); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if err := s.Put(ctx, "c", []byte("y")); err != nil {
		t.Fatalf("put c: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected b gone after clear, got %v", err)
	}
	if _, err := s.Get(ctx, "c"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected c gone after clear, got %v", err)
	}
}

func TestInMemoryStore_Contract(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()
	runStoreContract(t, s)
}

func TestSQLiteStore_Contract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartsync.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	runStoreContract(t, s)
}

// ---------------------------------------------------------------------------
// Durability
// ---------------------------------------------------------------------------

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chartsync.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put(ctx, CurrentRecordKey, []byte(`{"record_id":"P1"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulated relaunch: the value must still be there.
	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, CurrentRecordKey)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != `{"record_id":"P1"}` {
		t.Errorf("unexpected value after reopen: %s", got)
	}
}

func TestInMemoryStore_FailWrites(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	defer s.Close()

	s.FailWrites = true
	if err := s.Put(ctx, "a", []byte("x")); err == nil {
		t.Fatal("expected write failure")
	}

	// Reads keep working; a store failure must not take the engine down.
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}
