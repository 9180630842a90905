// Package spool ingests record snapshots from the external form layer. The
// form process is a separate program: it hands a save to the engine by
// writing `<recordID>.json` (and optionally `<recordID>_Chart.pdf`) into the
// spool directory. A filesystem watcher batches rapid rewrites together and
// delivers one snapshot per settled change.
package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/careops/chartsync/internal/record"
)

const chartSuffix = "_Chart.pdf"

// Handler receives each settled snapshot.
type Handler func(record.Snapshot)

// Watcher monitors the spool directory and turns file writes into record
// snapshots.
type Watcher struct {
	dir      string
	debounce time.Duration
	handler  Handler
	logger   zerolog.Logger

	fsw       *fsnotify.Watcher
	changes   map[string]time.Time // record ID -> last event time
	changesMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher over dir. Changes are delivered to handler
// once a record's files have been quiet for debounce.
func NewWatcher(dir string, debounce time.Duration, handler Handler, logger zerolog.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool directory cannot be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		handler:  handler,
		logger:   logger.With().Str("component", "spool").Logger(),
		fsw:      fsw,
		changes:  make(map[string]time.Time),
	}, nil
}

// Start begins watching. Existing spool content is delivered first so saves
// written while the engine was down are not missed.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch spool directory: %w", err)
	}

	w.deliverExisting()

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.watchEvents(ctx)
	go w.processChanges(ctx)

	w.logger.Info().Str("dir", w.dir).Msg("watching spool directory")
	return nil
}

// Stop shuts the watcher down and waits for its goroutines.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("error closing watcher")
	}
	w.wg.Wait()
}

// deliverExisting replays snapshots already sitting in the spool.
func (w *Watcher) deliverExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn().Err(err).Msg("cannot read spool directory")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := recordIDFromFile(entry.Name()); ok {
			w.deliver(id)
		}
	}
}

func (w *Watcher) watchEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			id, ok := recordIDFromFile(filepath.Base(event.Name))
			if !ok {
				continue
			}
			w.changesMu.Lock()
			w.changes[id] = time.Now()
			w.changesMu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// processChanges delivers records whose files have settled for debounce.
func (w *Watcher) processChanges(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var ready []string
			w.changesMu.Lock()
			for id, at := range w.changes {
				if now.Sub(at) >= w.debounce {
					ready = append(ready, id)
					delete(w.changes, id)
				}
			}
			w.changesMu.Unlock()

			for _, id := range ready {
				w.deliver(id)
			}
		}
	}
}

// deliver loads the record's spool files into a snapshot and hands it off.
func (w *Watcher) deliver(recordID string) {
	jsonPath := filepath.Join(w.dir, recordID+".json")
	jsonContent, err := os.ReadFile(jsonPath)
	if err != nil {
		// The JSON document is the snapshot's anchor; a chart PDF without
		// one is not deliverable yet.
		w.logger.Warn().Err(err).Str("record_id", recordID).Msg("spool JSON not readable")
		return
	}

	snap := record.Snapshot{
		RecordID:    recordID,
		JSONContent: string(jsonContent),
		UpdatedAt:   time.Now().UTC(),
	}
	if info, err := os.Stat(jsonPath); err == nil {
		snap.UpdatedAt = info.ModTime().UTC()
	}
	snap.CreatedAt = snap.UpdatedAt

	if pdf, err := os.ReadFile(filepath.Join(w.dir, recordID+chartSuffix)); err == nil {
		snap.BinaryContent = pdf
	}

	w.logger.Debug().Str("record_id", recordID).Msg("snapshot picked up from spool")
	w.handler(snap)
}

// recordIDFromFile maps a spool file name to its record ID. Only
// `<id>.json` and `<id>_Chart.pdf` participate.
func recordIDFromFile(name string) (string, bool) {
	if strings.HasSuffix(name, chartSuffix) {
		return strings.TrimSuffix(name, chartSuffix), true
	}
	if filepath.Ext(name) == ".json" {
		return strings.TrimSuffix(name, ".json"), true
	}
	return "", false
}
