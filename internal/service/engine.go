package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"taller/internal/domain"
	"taller/internal/events"
	"taller/internal/logging"
	"taller/internal/metrics"
	"taller/internal/models"
	"taller/internal/storage"
	"taller/internal/worker"

	"github.com/rs/zerolog"
)

// Engine is the single entry point the presentation layer talks to.
// Every operation initializes the offline store on first use.
type Engine struct {
	storage        *storage.Manager
	monitor        domain.ConnectivityMonitor
	bus            *events.EventBus
	handlerTimeout time.Duration
	logger         *zerolog.Logger

	mu           sync.Mutex
	orchestrator *worker.Orchestrator
}

func NewEngine(store *storage.Manager, monitor domain.ConnectivityMonitor, bus *events.EventBus, handlerTimeout time.Duration, logger *zerolog.Logger) *Engine {
	if bus == nil {
		bus = events.NewEventBus()
	}
	return &Engine{
		storage:        store,
		monitor:        monitor,
		bus:            bus,
		handlerTimeout: handlerTimeout,
		logger:         logging.Component(logger, "engine"),
	}
}

// InitOfflineDB opens the local store. It is safe to call repeatedly; an error means
// the engine runs without durability, every other operation still works.
func (e *Engine) InitOfflineDB(ctx context.Context) error {
	err := e.storage.InitOfflineDB(ctx)
	_, _ = e.ensure(ctx)
	return err
}

// ensure lazily initializes the store and the orchestrator bound to it.
func (e *Engine) ensure(ctx context.Context) (*worker.Orchestrator, error) {
	_ = e.storage.InitOfflineDB(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.orchestrator == nil {
		queue := e.storage.Queue()
		if queue == nil {
			return nil, domain.ErrStoreClosed
		}
		e.orchestrator = worker.NewOrchestrator(queue, e.storage.Cache(), e.bus, e.handlerTimeout, e.logger)
	}
	return e.orchestrator, nil
}

func (e *Engine) queue(ctx context.Context) (domain.QueueStore, error) {
	if _, err := e.ensure(ctx); err != nil {
		return nil, err
	}
	if q := e.storage.Queue(); q != nil {
		return q, nil
	}
	return nil, domain.ErrStoreClosed
}

func (e *Engine) cache(ctx context.Context) (domain.CacheStore, error) {
	if _, err := e.ensure(ctx); err != nil {
		return nil, err
	}
	if c := e.storage.Cache(); c != nil {
		return c, nil
	}
	return nil, domain.ErrStoreClosed
}

func (e *Engine) IsOnline() bool {
	if e.monitor == nil {
		return true
	}
	return e.monitor.IsOnline()
}

func (e *Engine) OnOnlineChange(cb func(online bool)) (unsubscribe func()) {
	if e.monitor == nil {
		return func() {}
	}
	return e.monitor.OnOnlineChange(cb)
}

// Subscribe registers handler for engine events of eventType.
func (e *Engine) Subscribe(eventType string, handler events.EventHandler) (unsubscribe func()) {
	return e.bus.Subscribe(eventType, handler)
}

// GetSyncQueue returns the pending entries in replay order.
func (e *Engine) GetSyncQueue(ctx context.Context) ([]models.QueueEntry, error) {
	queue, err := e.queue(ctx)
	if err != nil {
		return nil, err
	}
	return queue.List(ctx)
}

// PendingCount is the queue length; it reports 0 when the store cannot be read.
func (e *Engine) PendingCount(ctx context.Context) int {
	queue, err := e.queue(ctx)
	if err != nil {
		return 0
	}
	n, err := queue.Count(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to count pending entries")
		return 0
	}
	return n
}

// SyncPendingChanges drains the queue through handlers. Overlapping calls share one pass.
func (e *Engine) SyncPendingChanges(ctx context.Context, handlers *worker.Registry) models.SyncResult {
	o, err := e.ensure(ctx)
	if err != nil {
		return models.SyncResult{
			Error:     true,
			StartedAt: time.Now(),
			Errors:    []models.SyncError{{Kind: models.ErrorKindTransient, Message: err.Error()}},
		}
	}
	return o.SyncPendingChanges(ctx, handlers)
}

// Enqueue records a mutation for later replay and updates the cached collection optimistically.
func (e *Engine) Enqueue(ctx context.Context, entityType models.EntityType, op models.Operation, payload json.RawMessage, localEntityID string) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		EntityType:    entityType,
		Operation:     op,
		Payload:       payload,
		LocalEntityID: localEntityID,
	}
	if err := entry.Prepare(time.Now()); err != nil {
		return nil, domain.Permanent(fmt.Errorf("invalid mutation: %w", err))
	}
	return e.enqueue(ctx, entry)
}

func (e *Engine) enqueue(ctx context.Context, entry *models.QueueEntry) (*models.QueueEntry, error) {
	queue, err := e.queue(ctx)
	if err != nil {
		return nil, err
	}
	if err := queue.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", entry.EntityType, entry.Operation, err)
	}

	e.applyLocal(ctx, entry, true)

	pending := e.PendingCount(ctx)
	metrics.SetPending(pending)
	e.publish(events.EventEntryEnqueued, events.NewEntryPayload(entry, pending))

	e.logger.Info().
		Str("entry_id", entry.ID).
		Str("entity_type", string(entry.EntityType)).
		Str("operation", string(entry.Operation)).
		Int("pending", pending).
		Msg("Mutation queued")
	return entry, nil
}

// Submit sends a mutation right away when online and nothing is waiting ahead of it;
// otherwise, or when the send fails transiently, it is queued. Permanent and
// configuration failures are returned to the caller and nothing is queued.
func (e *Engine) Submit(ctx context.Context, handlers *worker.Registry, m models.Mutation) (*models.SubmitResult, error) {
	entry := m.Entry()
	if err := entry.Prepare(time.Now()); err != nil {
		return nil, domain.Permanent(fmt.Errorf("invalid mutation: %w", err))
	}

	o, err := e.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if !e.IsOnline() || o.InFlight() || e.PendingCount(ctx) > 0 {
		return e.queued(ctx, entry)
	}

	remote, err := o.Send(ctx, handlers, entry)
	if err == nil {
		if remote == nil || len(remote.Data) == 0 {
			local := *entry
			if remote != nil && remote.ID != "" {
				local.LocalEntityID = remote.ID
			}
			e.applyLocal(ctx, &local, false)
		}
		return &models.SubmitResult{Sent: true, Remote: remote}, nil
	}

	kind := domain.Classify(err)
	if kind != models.ErrorKindTransient {
		e.logger.Warn().Err(err).Str("kind", string(kind)).Str("entity_type", string(entry.EntityType)).Msg("Mutation rejected")
		return nil, err
	}

	e.logger.Info().Err(err).Str("entity_type", string(entry.EntityType)).Msg("Direct send failed, queueing mutation")
	return e.queued(ctx, entry)
}

func (e *Engine) queued(ctx context.Context, entry *models.QueueEntry) (*models.SubmitResult, error) {
	stored, err := e.enqueue(ctx, entry)
	if err != nil {
		return nil, err
	}
	return &models.SubmitResult{Queued: true, Entry: stored}, nil
}

// Remove drops an entry from the queue. Unknown ids are ignored.
func (e *Engine) Remove(ctx context.Context, id string) error {
	queue, err := e.queue(ctx)
	if err != nil {
		return err
	}
	if err := queue.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove entry %s: %w", id, err)
	}
	metrics.SetPending(e.PendingCount(ctx))
	return nil
}

// MarkFailed records cause on the entry, classified the same way a sync pass would.
func (e *Engine) MarkFailed(ctx context.Context, id string, cause error) error {
	if cause == nil {
		return errors.New("mark failed: nil cause")
	}
	queue, err := e.queue(ctx)
	if err != nil {
		return err
	}
	if err := queue.MarkFailed(ctx, id, domain.Classify(cause), cause.Error()); err != nil {
		return fmt.Errorf("mark entry %s failed: %w", id, err)
	}
	return nil
}

// Discard moves an entry to the discarded archive. Nothing is discarded automatically.
func (e *Engine) Discard(ctx context.Context, id string) (*models.DiscardedEntry, error) {
	queue, err := e.queue(ctx)
	if err != nil {
		return nil, err
	}
	discarded, err := queue.Discard(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("discard entry %s: %w", id, err)
	}

	pending := e.PendingCount(ctx)
	metrics.SetPending(pending)
	e.publish(events.EventEntryDiscarded, events.NewEntryPayload(&discarded.QueueEntry, pending))

	e.logger.Warn().
		Str("entry_id", id).
		Str("entity_type", string(discarded.EntityType)).
		Str("last_error", discarded.LastError).
		Msg("Entry discarded")
	return discarded, nil
}

func (e *Engine) ListDiscarded(ctx context.Context) ([]models.DiscardedEntry, error) {
	queue, err := e.queue(ctx)
	if err != nil {
		return nil, err
	}
	return queue.ListDiscarded(ctx)
}

// Status is the snapshot polled by status surfaces.
func (e *Engine) Status(ctx context.Context) models.Status {
	st := models.Status{
		Online:  e.IsOnline(),
		Pending: e.PendingCount(ctx),
		Durable: e.storage.Durable(),
	}
	if err := e.storage.InitErr(); err != nil {
		st.StoreError = err.Error()
	}

	o, err := e.ensure(ctx)
	if err != nil {
		st.StoreError = err.Error()
		return st
	}
	st.Syncing = o.InFlight()
	if last, at := o.LastResult(); last != nil {
		st.LastResult = last
		st.LastSyncAt = &at
	}
	return st
}

// CachedCollection returns the offline snapshot of a collection.
func (e *Engine) CachedCollection(ctx context.Context, entityType models.EntityType) ([]models.CachedEntity, error) {
	cache, err := e.cache(ctx)
	if err != nil {
		return nil, err
	}
	return cache.GetCollection(ctx, entityType)
}

// ReplaceCollection stores a fresh remote snapshot. Locally created entities that are
// still waiting in the queue are carried over so they stay visible.
func (e *Engine) ReplaceCollection(ctx context.Context, entityType models.EntityType, entities []models.CachedEntity) error {
	cache, err := e.cache(ctx)
	if err != nil {
		return err
	}

	current, err := cache.GetCollection(ctx, entityType)
	if err != nil {
		e.logger.Warn().Err(err).Str("entity_type", string(entityType)).Msg("Failed to read cached collection")
	}

	fresh := make(map[string]bool, len(entities))
	for i := range entities {
		entities[i].EntityType = entityType
		fresh[entities[i].ID] = true
	}
	for _, c := range current {
		if c.Pending && !fresh[c.ID] {
			entities = append(entities, c)
		}
	}

	if err := cache.ReplaceCollection(ctx, entityType, entities); err != nil {
		return fmt.Errorf("replace %s cache: %w", entityType, err)
	}
	return nil
}

// Close releases the local store.
func (e *Engine) Close() error {
	return e.storage.Close()
}

// applyLocal mirrors a mutation into the cached collection so the UI renders it before sync.
func (e *Engine) applyLocal(ctx context.Context, entry *models.QueueEntry, pending bool) {
	if entry.LocalEntityID == "" {
		return
	}
	cache, err := e.cache(ctx)
	if err != nil {
		return
	}

	switch entry.Operation {
	case models.OpDelete:
		err = cache.DeleteEntity(ctx, entry.EntityType, entry.LocalEntityID)
	default:
		err = cache.UpsertEntity(ctx, &models.CachedEntity{
			EntityType: entry.EntityType,
			ID:         entry.LocalEntityID,
			Data:       entry.Payload,
			Pending:    pending,
		})
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("entity_type", string(entry.EntityType)).Msg("Failed to update cached entity")
	}
}

func (e *Engine) publish(eventType string, payload interface{}) {
	if err := e.bus.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
