package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/careops/chartsync/internal/platform/store"
	"github.com/careops/chartsync/internal/record"
)

const testDebounce = 20 * time.Millisecond

func persistedSnapshot(t *testing.T, st store.Store) (record.Snapshot, bool) {
	t.Helper()
	raw, err := st.Get(context.Background(), store.CurrentRecordKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		return record.Snapshot{}, false
	}
	if err != nil {
		t.Fatalf("get autosave: %v", err)
	}
	var snap record.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode autosave: %v", err)
	}
	return snap, true
}

func editSnap(recordID, content string) record.Snapshot {
	return record.Snapshot{RecordID: recordID, JSONContent: content, UpdatedAt: time.Now().UTC()}
}

func TestScheduler_DebouncesToLastSnapshot(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st, testDebounce, zerolog.Nop())
	defer s.Stop()

	// A burst of edits spaced well inside the debounce window.
	for i, content := range []string{`{"v":1}`, `{"v":2}`, `{"v":3}`} {
		s.NotifyChanged(editSnap("P1", content))
		if i < 2 {
			time.Sleep(testDebounce / 4)
		}
	}

	// Mid-burst nothing is persisted.
	if _, ok := persistedSnapshot(t, st); ok {
		t.Fatal("snapshot persisted mid-edit")
	}

	// After the window closes, exactly the last snapshot lands.
	time.Sleep(2 * testDebounce)
	snap, ok := persistedSnapshot(t, st)
	if !ok {
		t.Fatal("expected snapshot persisted after debounce")
	}
	if snap.JSONContent != `{"v":3}` {
		t.Errorf("expected last snapshot, got %s", snap.JSONContent)
	}
}

func TestScheduler_ContinuousEditingNeverPersists(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st, testDebounce, zerolog.Nop())
	defer s.Stop()

	// Keep editing for several full debounce windows; each edit rearms the
	// timer before it can fire.
	deadline := time.Now().Add(5 * testDebounce)
	for time.Now().Before(deadline) {
		s.NotifyChanged(editSnap("P1", `{"editing":true}`))
		time.Sleep(testDebounce / 5)
	}

	if _, ok := persistedSnapshot(t, st); ok {
		t.Fatal("continuously-edited record was persisted mid-edit")
	}
}

func TestScheduler_EmptyRecordIDIsNoop(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st, testDebounce, zerolog.Nop())
	defer s.Stop()

	s.NotifyChanged(record.Snapshot{JSONContent: `{}`})
	time.Sleep(2 * testDebounce)

	if _, ok := persistedSnapshot(t, st); ok {
		t.Fatal("expected no persist without an active record")
	}
}

func TestScheduler_StopCancelsPendingTimer(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st, testDebounce, zerolog.Nop())

	s.NotifyChanged(editSnap("P1", `{}`))
	s.Stop()
	time.Sleep(2 * testDebounce)

	if _, ok := persistedSnapshot(t, st); ok {
		t.Fatal("timer fired after Stop")
	}
}

func TestScheduler_FlushPersistsImmediately(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st, time.Hour, zerolog.Nop())
	defer s.Stop()

	s.NotifyChanged(editSnap("P1", `{"v":9}`))
	s.Flush()

	snap, ok := persistedSnapshot(t, st)
	if !ok {
		t.Fatal("expected flush to persist the pending snapshot")
	}
	if snap.JSONContent != `{"v":9}` {
		t.Errorf("unexpected flushed content: %s", snap.JSONContent)
	}
}

func TestScheduler_StoreFailureIsBestEffort(t *testing.T) {
	st := store.NewInMemoryStore()
	st.FailWrites = true
	s := NewScheduler(st, testDebounce, zerolog.Nop())
	defer s.Stop()

	s.NotifyChanged(editSnap("P1", `{}`))
	time.Sleep(2 * testDebounce)

	// No panic, no persist; a later change with a healthy store recovers.
	st.FailWrites = false
	s.NotifyChanged(editSnap("P1", `{"v":2}`))
	time.Sleep(2 * testDebounce)

	snap, ok := persistedSnapshot(t, st)
	if !ok || snap.JSONContent != `{"v":2}` {
		t.Fatalf("expected recovery after store failure, got ok=%v snap=%+v", ok, snap)
	}
}

func TestLoadCurrent(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()

	if _, err := LoadCurrent(ctx, st); !errors.Is(err, record.ErrNoActiveRecord) {
		t.Fatalf("expected ErrNoActiveRecord, got %v", err)
	}

	s := NewScheduler(st, testDebounce, zerolog.Nop())
	defer s.Stop()
	s.NotifyChanged(editSnap("P1", `{"v":1}`))
	s.Flush()

	snap, err := LoadCurrent(ctx, st)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.RecordID != "P1" {
		t.Errorf("expected P1, got %s", snap.RecordID)
	}
}
