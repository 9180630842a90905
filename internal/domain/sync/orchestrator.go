package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/careops/chartsync/internal/platform/auth"
	"github.com/careops/chartsync/internal/platform/remote"
	"github.com/careops/chartsync/internal/record"
)

// MaxRetryAttempts bounds how many drain attempts an item gets before it is
// evicted and reported as permanently failed.
const MaxRetryAttempts = 3

var ErrDrainInProgress = errors.New("drain already in progress")

// ---------------------------------------------------------------------------
// Collaborator interfaces
// ---------------------------------------------------------------------------

// Uploader performs the composite remote write for one record. Satisfied by
// *remote.Client.
type Uploader interface {
	UpsertRecordFiles(ctx context.Context, folderName, recordID, jsonContent string, binaryContent []byte, createdAt, updatedAt time.Time) (remote.UpsertResult, error)
}

// ConnectivitySource reports current network reachability.
type ConnectivitySource interface {
	IsOnline() bool
}

// ---------------------------------------------------------------------------
// Status signal
// ---------------------------------------------------------------------------

// Status is the engine's user-facing save state.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// StatusInfo is the externally observable orchestrator state.
type StatusInfo struct {
	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Result summarizes one drain pass. Failed counts permanent evictions only;
// items that failed transiently and stay pending are Total - Succeeded -
// Failed.
type Result struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// Orchestrator coordinates save requests: direct upload when online and
// authenticated, durable enqueue otherwise, and sequential single-flight
// drains of the backlog.
type Orchestrator struct {
	queue        *Queue
	uploader     Uploader
	connectivity ConnectivitySource
	tokens       auth.TokenSource
	folderName   string
	maxAttempts  int
	logger       zerolog.Logger

	mu       stdsync.Mutex
	status   StatusInfo
	draining bool
	onStatus func(StatusInfo)
}

// NewOrchestrator wires the orchestrator to its collaborators. folderName is
// the remote folder all record files live under.
func NewOrchestrator(queue *Queue, uploader Uploader, connectivity ConnectivitySource, tokens auth.TokenSource, folderName string, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		queue:        queue,
		uploader:     uploader,
		connectivity: connectivity,
		tokens:       tokens,
		folderName:   folderName,
		maxAttempts:  MaxRetryAttempts,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
		status:       StatusInfo{Status: StatusIdle},
	}
}

// OnStatusChange registers the UI-facing status callback. At most one.
func (o *Orchestrator) OnStatusChange(fn func(StatusInfo)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStatus = fn
}

// Status returns the current user-facing status.
func (o *Orchestrator) Status() StatusInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setStatus(s Status, lastError string) {
	o.mu.Lock()
	o.status = StatusInfo{Status: s, LastError: lastError}
	fn := o.onStatus
	info := o.status
	o.mu.Unlock()

	if fn != nil {
		fn(info)
	}
}

// Save attempts to deliver the snapshot remotely. When the device is online
// and authenticated it uploads directly; on any failure, or when offline or
// unauthenticated, the snapshot is enqueued for a later drain. Save returns
// an error only when even enqueueing failed — a queued save is an accepted
// save.
func (o *Orchestrator) Save(ctx context.Context, snap record.Snapshot) error {
	if snap.RecordID == "" {
		return fmt.Errorf("snapshot has no record ID")
	}

	o.setStatus(StatusSaving, "")

	if o.connectivity.IsOnline() && o.tokens.IsAuthenticated() {
		_, err := o.uploader.UpsertRecordFiles(ctx, o.folderName, snap.RecordID,
			snap.JSONContent, snap.BinaryContent, snap.CreatedAt, snap.UpdatedAt)
		if err == nil {
			o.logger.Info().Str("record_id", snap.RecordID).Msg("record uploaded directly")
			o.setStatus(StatusSaved, "")
			return nil
		}

		if errors.Is(err, remote.ErrAuthRequired) {
			o.logger.Warn().Err(err).Str("record_id", snap.RecordID).Msg("direct upload rejected, re-sign-in needed; queuing")
			return o.enqueue(ctx, snap, StatusError, err.Error())
		}

		o.logger.Warn().Err(err).Str("record_id", snap.RecordID).Msg("direct upload failed; queuing")
		return o.enqueue(ctx, snap, StatusIdle, "")
	}

	o.logger.Info().
		Bool("online", o.connectivity.IsOnline()).
		Bool("authenticated", o.tokens.IsAuthenticated()).
		Str("record_id", snap.RecordID).
		Msg("not eligible for direct upload; queuing")
	return o.enqueue(ctx, snap, StatusIdle, "")
}

// enqueue pushes the snapshot onto the durable queue and reports the given
// status on success. A failed enqueue means degraded durability and is the
// one case Save surfaces as an error.
func (o *Orchestrator) enqueue(ctx context.Context, snap record.Snapshot, status Status, lastError string) error {
	if _, err := o.queue.Enqueue(ctx, snap.RecordID, snap.JSONContent, snap.BinaryContent); err != nil {
		o.setStatus(StatusError, fmt.Sprintf("save not durable: %v", err))
		return fmt.Errorf("enqueue save for %s: %w", snap.RecordID, err)
	}
	o.setStatus(status, lastError)
	return nil
}

// Drain delivers pending items oldest first. It is single-flight: a
// concurrent call returns ErrDrainInProgress and a zero Result. Per item:
// success removes it; a transient failure increments attempts and moves on
// without blocking the rest of the queue; an item already at the attempt
// limit is evicted and counted as permanently failed. An auth failure aborts
// the whole drain — the remaining items are not at fault and stay pending
// with their attempt counts untouched.
func (o *Orchestrator) Drain(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return Result{}, ErrDrainInProgress
	}
	o.draining = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.draining = false
		o.mu.Unlock()
	}()

	items := o.queue.ListPending()
	result := Result{Total: len(items)}
	if len(items) == 0 {
		return result, nil
	}

	o.setStatus(StatusSaving, "")
	o.logger.Info().Int("pending", len(items)).Msg("draining upload queue")

	var lastTransient error
	for _, item := range items {
		if item.Attempts >= o.maxAttempts {
			o.evict(ctx, item)
			result.Failed++
			continue
		}

		_, err := o.uploader.UpsertRecordFiles(ctx, o.folderName, item.RecordID,
			item.JSONContent, item.BinaryContent, item.EnqueuedAt, item.EnqueuedAt)
		if err == nil {
			if err := o.queue.Remove(ctx, item.ID); err != nil {
				o.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to remove delivered item")
			}
			result.Succeeded++
			o.logger.Info().Str("record_id", item.RecordID).Str("item_id", item.ID).Msg("queued upload delivered")
			continue
		}

		if errors.Is(err, remote.ErrAuthRequired) {
			o.logger.Warn().Err(err).Msg("drain aborted: re-sign-in required")
			o.setStatus(StatusError, err.Error())
			return result, err
		}

		lastTransient = err
		o.logger.Warn().Err(err).
			Str("record_id", item.RecordID).
			Int("attempts", item.Attempts+1).
			Msg("queued upload failed")
		if err := o.queue.IncrementAttempts(ctx, item.ID); err != nil {
			o.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to record attempt")
		}
	}

	switch {
	case result.Failed > 0:
		o.setStatus(StatusError, fmt.Sprintf("%d save(s) permanently failed", result.Failed))
	case o.queue.Status().Length > 0:
		o.setStatus(StatusError, fmt.Sprintf("uploads still pending: %v", lastTransient))
	default:
		o.setStatus(StatusSaved, "")
	}

	return result, nil
}

// evict drops an item that exhausted its retries. This is the silent-data-
// loss path, so it is logged loudly and counted for the UI.
func (o *Orchestrator) evict(ctx context.Context, item QueueItem) {
	o.logger.Error().
		Str("record_id", item.RecordID).
		Str("item_id", item.ID).
		Int("attempts", item.Attempts).
		Msg("upload permanently failed, evicting from queue")
	if err := o.queue.Remove(ctx, item.ID); err != nil {
		o.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to evict item")
	}
}
