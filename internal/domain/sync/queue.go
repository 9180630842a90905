// Package sync implements the offline-first delivery pipeline: a durable
// FIFO queue of pending record uploads and the orchestrator that decides
// between direct upload, enqueue, and drain.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careops/chartsync/internal/platform/store"
)

var ErrItemNotFound = errors.New("queue item not found")

// QueueItem is one pending composite upload: everything needed to reproduce
// the remote write after a crash or an offline stretch.
type QueueItem struct {
	ID            string    `json:"id"`
	RecordID      string    `json:"record_id"`
	JSONContent   string    `json:"json_content"`
	BinaryContent []byte    `json:"binary_content,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Attempts      int       `json:"attempts"`
}

// QueueStatus summarizes the backlog for user-facing display.
type QueueStatus struct {
	Length int       `json:"length"`
	Oldest time.Time `json:"oldest,omitempty"`
}

// Queue is a durable, ordered, at-least-once queue of upload jobs. Every
// mutation writes through the local store immediately, so a crash mid-flush
// loses at most an in-flight attempt-count increment, never an item.
type Queue struct {
	mu     stdsync.Mutex
	items  []QueueItem
	store  store.Store
	logger zerolog.Logger
}

// LoadQueue restores the pending queue from the local store. A missing key
// means an empty queue; a corrupt value is an error so data loss never goes
// unnoticed.
func LoadQueue(ctx context.Context, st store.Store, logger zerolog.Logger) (*Queue, error) {
	q := &Queue{
		store:  st,
		logger: logger.With().Str("component", "queue").Logger(),
	}

	raw, err := st.Get(ctx, store.SyncQueueKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	if err := json.Unmarshal(raw, &q.items); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}

	if len(q.items) > 0 {
		q.logger.Info().Int("pending", len(q.items)).Msg("restored pending uploads")
	}
	return q, nil
}

// Enqueue appends a new item and persists the queue. Returns the item ID.
func (q *Queue) Enqueue(ctx context.Context, recordID, jsonContent string, binaryContent []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := QueueItem{
		ID:            uuid.New().String(),
		RecordID:      recordID,
		JSONContent:   jsonContent,
		BinaryContent: binaryContent,
		EnqueuedAt:    time.Now().UTC(),
	}
	q.items = append(q.items, item)

	if err := q.persist(ctx); err != nil {
		// Keep the in-memory item; the next successful persist carries it.
		q.logger.Error().Err(err).Str("record_id", recordID).Msg("queue persist failed, item held in memory")
		return item.ID, err
	}

	q.logger.Info().Str("record_id", recordID).Str("item_id", item.ID).Msg("enqueued upload")
	return item.ID, nil
}

// ListPending returns a copy of the pending items, oldest first.
func (q *Queue) ListPending() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueueItem, len(q.items))
	copy(out, q.items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// Remove deletes the item and persists the queue.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return ErrItemNotFound
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return q.persist(ctx)
}

// IncrementAttempts bumps the item's attempt count and persists the queue.
func (q *Queue) IncrementAttempts(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return ErrItemNotFound
	}
	q.items[idx].Attempts++
	return q.persist(ctx)
}

// Clear drops all pending items, in memory and in the store. Used on
// logout together with the store-wide wipe.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	if err := q.store.Delete(ctx, store.SyncQueueKey); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// Status reports queue length and the oldest pending timestamp.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := QueueStatus{Length: len(q.items)}
	for _, item := range q.items {
		if s.Oldest.IsZero() || item.EnqueuedAt.Before(s.Oldest) {
			s.Oldest = item.EnqueuedAt
		}
	}
	return s
}

func (q *Queue) indexOf(id string) int {
	for i, item := range q.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// persist writes the full item list through to the local store. Caller holds
// the lock.
func (q *Queue) persist(ctx context.Context) error {
	raw, err := json.Marshal(q.items)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Put(ctx, store.SyncQueueKey, raw); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}
