package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"drainvoice/internal/common"
	"drainvoice/internal/connectivity"
	"drainvoice/internal/logger"
	"drainvoice/internal/models"
	"drainvoice/internal/repositories"
)

var errUnknownEntry = errors.New("unknown pending entry")

// BackoffPolicy spaces out replays of an entry that keeps failing. A zero
// Base retries on every pass.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait after the given number of failed attempts:
// Base * 2^(attempts-1), capped at Max.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if p.Base <= 0 || attempts <= 0 {
		return 0
	}
	delay := float64(p.Base) * math.Pow(2, float64(attempts-1))
	if p.Max > 0 && delay > float64(p.Max) {
		return p.Max
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// SyncOptions tune a single pass. Force replays entries still backing off.
type SyncOptions struct {
	Force bool
}

// SyncResult summarizes one pass. Remaining is read from the queue after the
// pass, so it counts entries that failed, were skipped or were added
// concurrently.
type SyncResult struct {
	Total      int                        `json:"total"`
	Synced     int                        `json:"synced"`
	Failed     int                        `json:"failed"`
	Skipped    int                        `json:"skipped"`
	Discarded  int                        `json:"discarded"`
	Remaining  int                        `json:"remaining"`
	Errors     []string                   `json:"errors,omitempty"`
	Failures   []*common.QueueReplayError `json:"-"`
	StartedAt  time.Time                  `json:"startedAt"`
	FinishedAt time.Time                  `json:"finishedAt"`
}

// SyncStatus is a point-in-time view of the engine.
type SyncStatus struct {
	Running    bool        `json:"running"`
	Online     bool        `json:"online"`
	LastResult *SyncResult `json:"lastResult,omitempty"`
}

// SyncEngine replays the local pending queue against the remote store.
// At most one pass runs at a time.
type SyncEngine struct {
	local   repositories.LocalStore
	remote  repositories.RemoteStore
	monitor connectivity.Monitor
	backoff BackoffPolicy
	now     func() time.Time
	log     zerolog.Logger

	pass sync.Mutex

	mu      sync.RWMutex
	running bool
	last    *SyncResult
}

func NewSyncEngine(local repositories.LocalStore, remote repositories.RemoteStore, monitor connectivity.Monitor, backoff BackoffPolicy) *SyncEngine {
	return &SyncEngine{
		local:   local,
		remote:  remote,
		monitor: monitor,
		backoff: backoff,
		now:     time.Now,
		log:     logger.WithComponent("sync"),
	}
}

// Sync runs one pass over the pending queue in insertion order. It returns
// common.ErrOffline when the monitor reports offline and
// common.ErrSyncInProgress when another pass holds the engine. Individual
// replay failures never abort the pass; they are reported in the result
// and the entries stay queued.
func (e *SyncEngine) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if !e.monitor.IsOnline() {
		return nil, common.ErrOffline
	}
	if !e.pass.TryLock() {
		return nil, common.ErrSyncInProgress
	}
	defer e.pass.Unlock()

	e.setRunning(true)
	defer e.setRunning(false)

	result := &SyncResult{StartedAt: e.now().UTC()}

	entries, err := e.local.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	result.Total = len(entries)
	e.log.Info().Int("pending", result.Total).Bool("force", opts.Force).Msg("Sync pass started")

	// held marks entities whose earlier entry did not replay this pass; their
	// later entries wait so the remote store never sees them out of order.
	held := make(map[string]bool)

	for i, entry := range entries {
		if ctx.Err() != nil || !e.monitor.IsOnline() {
			e.log.Warn().Int("left", len(entries)-i).Msg("Sync pass interrupted")
			result.Skipped += len(entries) - i
			break
		}

		key := string(entry.Type) + ":" + entry.EntityID
		if held[key] {
			result.Skipped++
			continue
		}
		if !opts.Force && entry.NextAttemptAt != nil && e.now().Before(*entry.NextAttemptAt) {
			held[key] = true
			result.Skipped++
			continue
		}

		replayErr := e.replay(ctx, entry)
		switch {
		case errors.Is(replayErr, errUnknownEntry):
			e.log.Warn().
				Str("entry_id", entry.ID).
				Str("type", string(entry.Type)).
				Str("action", string(entry.Action)).
				Msg("Discarding pending entry that cannot be replayed")
			if err := e.local.ClearPending(ctx, entry.ID); err != nil {
				e.fail(ctx, result, held, key, entry, err)
				continue
			}
			result.Discarded++

		case replayErr != nil:
			e.fail(ctx, result, held, key, entry, replayErr)

		default:
			if err := e.local.ClearPending(ctx, entry.ID); err != nil {
				// The remote write landed; the entry replays again next pass.
				e.fail(ctx, result, held, key, entry, err)
				continue
			}
			result.Synced++
		}
	}

	remaining, err := e.local.CountPending(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to count pending entries after sync")
		remaining = result.Total - result.Synced - result.Discarded
	}
	result.Remaining = remaining
	result.FinishedAt = e.now().UTC()

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	e.log.Info().
		Int("synced", result.Synced).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("remaining", result.Remaining).
		Dur("took", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Sync pass finished")

	return result, nil
}

func (e *SyncEngine) replay(ctx context.Context, entry *models.PendingSyncEntry) error {
	if entry.Type != models.EntityInvoice {
		return errUnknownEntry
	}

	switch entry.Action {
	case models.ActionSave:
		inv, err := entry.Invoice()
		if err != nil {
			return fmt.Errorf("%w: %v", errUnknownEntry, err)
		}
		return e.remote.UpsertInvoice(ctx, entry.EntityID, inv, true)
	case models.ActionDelete:
		return e.remote.DeleteInvoice(ctx, entry.EntityID)
	default:
		return errUnknownEntry
	}
}

func (e *SyncEngine) fail(ctx context.Context, result *SyncResult, held map[string]bool, key string, entry *models.PendingSyncEntry, err error) {
	held[key] = true
	result.Failed++

	replayErr := &common.QueueReplayError{
		EntryID:  entry.ID,
		Action:   string(entry.Action),
		EntityID: entry.EntityID,
		Err:      err,
	}
	result.Failures = append(result.Failures, replayErr)
	result.Errors = append(result.Errors, replayErr.Error())

	next := e.now().Add(e.backoff.Delay(entry.Attempts + 1))
	if recErr := e.local.RecordReplayFailure(ctx, entry.ID, err, next); recErr != nil {
		e.log.Warn().Err(recErr).Str("entry_id", entry.ID).Msg("Failed to record replay failure")
	}

	e.log.Warn().
		Err(err).
		Str("entry_id", entry.ID).
		Str("action", string(entry.Action)).
		Str("invoice_id", entry.EntityID).
		Int("attempts", entry.Attempts+1).
		Time("next_attempt_at", next).
		Msg("Pending entry replay failed; entry kept")
}

// Watch starts a pass in the background every time the monitor reports the
// transition to online. The returned function stops watching.
func (e *SyncEngine) Watch(ctx context.Context, monitor connectivity.Monitor) func() {
	return monitor.Subscribe(func(event connectivity.Event) {
		if event != connectivity.WentOnline {
			return
		}
		go func() {
			_, err := e.Sync(ctx, SyncOptions{})
			switch {
			case err == nil:
			case errors.Is(err, common.ErrSyncInProgress), errors.Is(err, common.ErrOffline):
				e.log.Debug().Err(err).Msg("Reconnect sync not started")
			default:
				e.log.Error().Err(err).Msg("Reconnect sync failed")
			}
		}()
	})
}

// Status reports whether a pass is running and the last finished result.
func (e *SyncEngine) Status() SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return SyncStatus{
		Running:    e.running,
		Online:     e.monitor.IsOnline(),
		LastResult: e.last,
	}
}

func (e *SyncEngine) setRunning(running bool) {
	e.mu.Lock()
	e.running = running
	e.mu.Unlock()
}
