package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taller/internal/domain"
	"taller/internal/events"
	"taller/internal/logging"
	"taller/internal/metrics"
	"taller/internal/models"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/singleflight"
)

const flushKey = "flush"

// Orchestrator drains the mutation queue through the registered entity handlers.
// At most one pass runs at a time; overlapping callers share its result.
type Orchestrator struct {
	queue          domain.QueueStore
	cache          domain.CacheStore
	publisher      domain.EventPublisher
	handlerTimeout time.Duration
	logger         *zerolog.Logger

	group    singleflight.Group
	inFlight atomic.Bool

	mu         sync.RWMutex
	lastResult *models.SyncResult
	lastSyncAt time.Time
}

// NewOrchestrator builds an orchestrator. cache and publisher may be nil.
func NewOrchestrator(queue domain.QueueStore, cache domain.CacheStore, publisher domain.EventPublisher, handlerTimeout time.Duration, logger *zerolog.Logger) *Orchestrator {
	if handlerTimeout <= 0 {
		handlerTimeout = models.DefaultHandlerTimeout * time.Second
	}
	l := logging.Component(logger, "orchestrator")
	return &Orchestrator{
		queue:          queue,
		cache:          cache,
		publisher:      publisher,
		handlerTimeout: handlerTimeout,
		logger:         l,
	}
}

// InFlight reports whether a pass is currently running.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// LastResult returns the summary of the most recent completed pass.
func (o *Orchestrator) LastResult() (*models.SyncResult, time.Time) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastResult == nil {
		return nil, time.Time{}
	}
	r := *o.lastResult
	return &r, o.lastSyncAt
}

// SyncPendingChanges replays every queued entry in order. It never returns an error:
// failures are reported per entry in the result. The pass is not cancelled when
// ctx is; each handler call is bounded by the handler timeout instead.
func (o *Orchestrator) SyncPendingChanges(ctx context.Context, handlers *Registry) models.SyncResult {
	passCtx := context.WithoutCancel(ctx)
	v, _, shared := o.group.Do(flushKey, func() (interface{}, error) {
		return o.flush(passCtx, handlers), nil
	})
	result := v.(models.SyncResult)
	result.Shared = shared
	return result
}

// Send delivers a single mutation without queueing it, with the same timeout and
// panic handling as a pass. On success the local cache and queue are reconciled.
func (o *Orchestrator) Send(ctx context.Context, handlers *Registry, e *models.QueueEntry) (*models.RemoteEntity, error) {
	remote, err := o.dispatch(ctx, handlers, e)
	if err != nil {
		return nil, err
	}
	o.reconcile(ctx, e, remote, make(map[string]string))
	return remote, nil
}

func (o *Orchestrator) flush(ctx context.Context, handlers *Registry) (result models.SyncResult) {
	o.inFlight.Store(true)
	defer o.inFlight.Store(false)

	result.StartedAt = time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("Sync pass aborted by panic")
			result.Error = true
			result.Errors = append(result.Errors, models.SyncError{
				Kind:    models.ErrorKindTransient,
				Message: fmt.Sprintf("sync pass panic: %v", r),
			})
		}
		o.finish(ctx, &result)
	}()

	entries, err := o.queue.List(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to read sync queue")
		result.Error = true
		result.Errors = append(result.Errors, models.SyncError{
			Kind:    models.ErrorKindTransient,
			Message: fmt.Sprintf("read queue: %v", err),
		})
		return result
	}

	o.publish(events.EventSyncStarted, map[string]int{"pending": len(entries)})
	o.logger.Info().Int("pending", len(entries)).Msg("Sync pass started")

	// remapped tracks server ids assigned earlier in this pass so later entries of the
	// snapshot address the created entity; blocked holds entities whose earlier entry failed.
	remapped := make(map[string]string)
	blocked := make(map[string]bool)

	for i := range entries {
		e := &entries[i]
		if newID, ok := remapped[entityKey(e.EntityType, e.LocalEntityID)]; ok {
			e.LocalEntityID = newID
		}

		if e.LocalEntityID != "" && blocked[e.EntityKey()] {
			result.Blocked++
			o.logger.Debug().Str("entry_id", e.ID).Str("entity", e.EntityKey()).Msg("Entry blocked by earlier failure")
			continue
		}

		remote, err := o.dispatch(ctx, handlers, e)
		if err != nil {
			o.recordFailure(ctx, &result, e, err)
			if e.LocalEntityID != "" {
				blocked[e.EntityKey()] = true
			}
			continue
		}

		if err := o.queue.Remove(ctx, e.ID); err != nil {
			// The remote applied it; the entry will be replayed next pass.
			o.logger.Error().Err(err).Str("entry_id", e.ID).Msg("Failed to remove synced entry")
			result.AddError(e, models.ErrorKindTransient, fmt.Sprintf("remove after success: %v", err))
			continue
		}
		result.Synced++

		o.reconcile(ctx, e, remote, remapped)
	}

	return result
}

func (o *Orchestrator) dispatch(ctx context.Context, handlers *Registry, e *models.QueueEntry) (*models.RemoteEntity, error) {
	h, ok := handlers.Lookup(e.EntityType)
	if !ok {
		return nil, fmt.Errorf("%s: %w", e.EntityType, domain.ErrNoHandler)
	}

	hctx, cancel := context.WithTimeout(ctx, o.handlerTimeout)
	defer cancel()

	type outcome struct {
		remote *models.RemoteEntity
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var (
			pc  panics.Catcher
			out outcome
		)
		pc.Try(func() {
			out.remote, out.err = call(hctx, h, e)
		})
		if r := pc.Recovered(); r != nil {
			out = outcome{err: fmt.Errorf("handler panic: %w", r.AsError())}
		}
		done <- out
	}()

	select {
	case out := <-done:
		return out.remote, out.err
	case <-hctx.Done():
		return nil, fmt.Errorf("%s %s: %w", e.EntityType, e.Operation, hctx.Err())
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, result *models.SyncResult, e *models.QueueEntry, err error) {
	kind := domain.Classify(err)
	msg := err.Error()

	if mErr := o.queue.MarkFailed(ctx, e.ID, kind, msg); mErr != nil {
		o.logger.Error().Err(mErr).Str("entry_id", e.ID).Msg("Failed to record entry failure")
	}
	result.AddError(e, kind, msg)

	ev := o.logger.Warn()
	if kind != models.ErrorKindTransient {
		ev = o.logger.Error()
	}
	ev.Err(err).
		Str("entry_id", e.ID).
		Str("entity_type", string(e.EntityType)).
		Str("operation", string(e.Operation)).
		Str("kind", string(kind)).
		Msg("Entry sync failed")
}

// reconcile applies the server answer locally: a create that came back with a new id
// rewrites the remaining queue, the in-flight snapshot and the cache.
func (o *Orchestrator) reconcile(ctx context.Context, e *models.QueueEntry, remote *models.RemoteEntity, remapped map[string]string) {
	if e.Operation == models.OpCreate && remote != nil && remote.ID != "" && e.LocalEntityID != "" && remote.ID != e.LocalEntityID {
		oldID := e.LocalEntityID
		if err := o.queue.RemapLocalID(ctx, e.EntityType, oldID, remote.ID); err != nil {
			o.logger.Error().Err(err).Str("old_id", oldID).Str("new_id", remote.ID).Msg("Failed to remap queued entries")
		}
		remapped[entityKey(e.EntityType, oldID)] = remote.ID
		if o.cache != nil {
			if err := o.cache.RenameEntity(ctx, e.EntityType, oldID, remote.ID); err != nil {
				o.logger.Warn().Err(err).Msg("Failed to rename cached entity")
			}
		}
	}

	if o.cache == nil {
		return
	}

	switch e.Operation {
	case models.OpDelete:
		if err := o.cache.DeleteEntity(ctx, e.EntityType, e.LocalEntityID); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to drop cached entity")
		}
	default:
		if remote == nil || len(remote.Data) == 0 {
			return
		}
		id := remote.ID
		if id == "" {
			id = e.LocalEntityID
		}
		if id == "" {
			return
		}
		if err := o.cache.UpsertEntity(ctx, &models.CachedEntity{
			EntityType: e.EntityType,
			ID:         id,
			Data:       remote.Data,
		}); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to refresh cached entity")
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, result *models.SyncResult) {
	result.Duration = time.Since(result.StartedAt)

	pending, err := o.queue.Count(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to count pending entries")
		pending = result.Failed + result.Blocked
	}
	result.Pending = pending

	metrics.ObservePass(result.Synced, result.Failed, result.Blocked, result.Duration)
	metrics.SetPending(pending)

	o.mu.Lock()
	r := *result
	o.lastResult = &r
	o.lastSyncAt = time.Now()
	o.mu.Unlock()

	o.publish(events.EventSyncCompleted, result)
	o.logger.Info().
		Int("synced", result.Synced).
		Int("failed", result.Failed).
		Int("blocked", result.Blocked).
		Int("pending", result.Pending).
		Dur("duration", result.Duration).
		Msg("Sync pass completed")
}

func (o *Orchestrator) publish(eventType string, payload interface{}) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishJSON(eventType, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

func entityKey(entityType models.EntityType, localID string) string {
	return string(entityType) + "/" + localID
}
