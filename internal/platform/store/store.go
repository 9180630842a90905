// Package store provides the local durable key/value store that backs the
// sync engine: the latest record snapshot and the pending upload queue both
// live here so they survive process restarts. It defines the Store interface,
// a SQLite-backed implementation for production, and an in-memory
// implementation for testing.
package store

import (
	"context"
	"errors"
	"sync"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrStoreClosed = errors.New("store is closed")
)

// Well-known keys used by the engine. All engine state lives under these
// keys so Clear wipes everything on logout.
const (
	CurrentRecordKey = "current-record"
	SyncQueueKey     = "sync-queue"
)

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store is a durable key/value store. Implementations serialize their own
// writes; a write failure is returned as an error, never a panic, so callers
// can degrade to in-memory operation.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// InMemoryStore is a thread-safe, non-durable Store for testing/dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool

	// FailWrites forces Put/Delete/Clear to fail, for exercising the
	// degraded-durability path in tests.
	FailWrites bool
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: make(map[string][]byte)}
}

var errWriteFailed = errors.New("simulated write failure")

func (s *InMemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.FailWrites {
		return errWriteFailed
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.values[key] = buf
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	value, ok := s.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.FailWrites {
		return errWriteFailed
	}
	delete(s.values, key)
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.FailWrites {
		return errWriteFailed
	}
	s.values = make(map[string][]byte)
	return nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
