// Package autosave debounces the form layer's record-changed events into
// periodic writes of the latest snapshot to the local durable store, so an
// app crash never loses more than the debounce window of editing.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/careops/chartsync/internal/platform/store"
	"github.com/careops/chartsync/internal/record"
)

// DefaultDebounce matches the editor's save cadence: a write lands only
// after two seconds of silence.
const DefaultDebounce = 2 * time.Second

// Scheduler owns the debounce timer. Every NotifyChanged rearms it; the
// pending snapshot is persisted only when the timer fires, so a
// continuously-edited record is never persisted mid-edit.
type Scheduler struct {
	store    store.Store
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending record.Snapshot
	stopped bool
}

// NewScheduler creates a Scheduler writing through st. A non-positive
// debounce falls back to DefaultDebounce.
func NewScheduler(st store.Store, debounce time.Duration, logger zerolog.Logger) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Scheduler{
		store:    st,
		debounce: debounce,
		logger:   logger.With().Str("component", "autosave").Logger(),
	}
}

// NotifyChanged records the latest snapshot and (re)arms the debounce timer.
// Snapshots without a record ID mean no active session and are ignored.
func (s *Scheduler) NotifyChanged(snap record.Snapshot) {
	if snap.RecordID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.pending = snap
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

// Flush persists the pending snapshot immediately, cancelling the timer.
// Used on graceful shutdown so the latest edit is not lost to the window.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer.Stop()
	s.timer = nil
	snap := s.pending
	s.mu.Unlock()

	if err := s.persist(snap); err != nil {
		s.logger.Error().Err(err).Msg("flush failed")
	}
}

// Stop cancels any pending timer without firing it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	snap := s.pending
	s.mu.Unlock()

	if err := s.persist(snap); err != nil {
		// Best effort: the editor keeps its in-memory state, the next
		// change re-arms the timer.
		s.logger.Error().Err(err).Str("record_id", snap.RecordID).Msg("autosave failed")
		return
	}
	s.logger.Debug().Str("record_id", snap.RecordID).Msg("autosaved record")
}

func (s *Scheduler) persist(snap record.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.store.Put(context.Background(), store.CurrentRecordKey, raw)
}

// LoadCurrent restores the last autosaved snapshot, typically at startup to
// resume an interrupted session. Returns record.ErrNoActiveRecord when no
// autosave exists.
func LoadCurrent(ctx context.Context, st store.Store) (record.Snapshot, error) {
	var snap record.Snapshot
	raw, err := st.Get(ctx, store.CurrentRecordKey)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return snap, record.ErrNoActiveRecord
		}
		return snap, fmt.Errorf("load autosave: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("decode autosave: %w", err)
	}
	return snap, nil
}
