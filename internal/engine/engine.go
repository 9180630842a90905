// Package engine assembles the sync components — durable store, upload
// queue, connectivity monitor, remote client, orchestrator, autosave
// scheduler, spool watcher — and owns their startup and shutdown ordering.
package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/careops/chartsync/internal/config"
	"github.com/careops/chartsync/internal/domain/autosave"
	"github.com/careops/chartsync/internal/domain/sync"
	"github.com/careops/chartsync/internal/platform/auth"
	"github.com/careops/chartsync/internal/platform/connectivity"
	"github.com/careops/chartsync/internal/platform/remote"
	"github.com/careops/chartsync/internal/platform/spool"
	"github.com/careops/chartsync/internal/platform/store"
	"github.com/careops/chartsync/internal/record"
)

// Engine is the assembled sync subsystem.
type Engine struct {
	Store        store.Store
	Queue        *sync.Queue
	Tokens       *auth.SessionTokenSource
	Monitor      *connectivity.Monitor
	Remote       *remote.Client
	Orchestrator *sync.Orchestrator
	Scheduler    *autosave.Scheduler

	spoolWatcher *spool.Watcher
	logger       zerolog.Logger
}

// New builds an Engine from config. Nothing is started yet; call Start.
func New(cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	st, err := store.OpenSQLite(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	queue, err := sync.LoadQueue(context.Background(), st, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("restore queue: %w", err)
	}

	tokens := auth.NewSessionTokenSource()
	if cfg.AccessToken != "" {
		tokens.SignIn(cfg.AccessToken)
	}

	monitor := connectivity.NewMonitor(
		connectivity.HTTPProbe(cfg.RemoteBaseURL, cfg.RequestTimeout()),
		cfg.ProbeInterval(), logger)

	client := remote.NewClient(cfg.RemoteBaseURL, tokens, nil, logger)
	orch := sync.NewOrchestrator(queue, client, monitor, tokens, cfg.RemoteFolder, logger)
	scheduler := autosave.NewScheduler(st, cfg.Debounce(), logger)

	eng := &Engine{
		Store:        st,
		Queue:        queue,
		Tokens:       tokens,
		Monitor:      monitor,
		Remote:       client,
		Orchestrator: orch,
		Scheduler:    scheduler,
		logger:       logger.With().Str("component", "engine").Logger(),
	}

	watcher, err := spool.NewWatcher(cfg.SpoolDir, cfg.SpoolDebounce(), eng.onSnapshot, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create spool watcher: %w", err)
	}
	eng.spoolWatcher = watcher

	return eng, nil
}

// Start launches the background activities: connectivity probing with
// drain-on-reconnect, and spool ingestion.
func (e *Engine) Start(ctx context.Context) error {
	// Reconnecting is the flush trigger: exactly one drain per
	// offline→online edge.
	e.Monitor.OnOnline(func() {
		go func() {
			if _, err := e.Orchestrator.Drain(ctx); err != nil {
				e.logger.Warn().Err(err).Msg("reconnect drain did not complete")
			}
		}()
	})

	e.Monitor.Start(ctx)

	if err := e.spoolWatcher.Start(ctx); err != nil {
		e.Monitor.Stop()
		return fmt.Errorf("start spool watcher: %w", err)
	}

	e.logger.Info().Msg("engine started")
	return nil
}

// Stop shuts the engine down: pending autosave flushed, watchers stopped,
// store closed.
func (e *Engine) Stop() {
	e.spoolWatcher.Stop()
	e.Monitor.Stop()
	e.Scheduler.Flush()
	e.Scheduler.Stop()
	if err := e.Store.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("error closing store")
	}
	e.logger.Info().Msg("engine stopped")
}

// Reset wipes all engine state: the autosaved snapshot and the pending
// queue. Used on logout.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.Queue.Clear(ctx); err != nil {
		return err
	}
	if err := e.Store.Clear(ctx); err != nil {
		return fmt.Errorf("clear local state: %w", err)
	}
	e.Tokens.SignOut()
	e.logger.Info().Msg("engine state cleared")
	return nil
}

// onSnapshot is the spool watcher's delivery point: every settled change is
// autosaved locally and offered to the sync pipeline.
func (e *Engine) onSnapshot(snap record.Snapshot) {
	e.Scheduler.NotifyChanged(snap)
	if err := e.Orchestrator.Save(context.Background(), snap); err != nil {
		e.logger.Error().Err(err).Str("record_id", snap.RecordID).Msg("save failed")
	}
}
