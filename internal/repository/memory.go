package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"taller/internal/domain"
	"taller/internal/models"
)

// MemoryStore is the non-durable backend used when no durable store could be opened.
type MemoryStore struct {
	mu        sync.Mutex
	seq       int64
	queue     []*models.QueueEntry
	discarded []models.DiscardedEntry
	cache     map[models.EntityType]map[string]models.CachedEntity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: make(map[models.EntityType]map[string]models.CachedEntity),
	}
}

func cloneEntry(e *models.QueueEntry) models.QueueEntry {
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		c.LastAttemptAt = &t
	}
	return c
}

func (m *MemoryStore) indexOf(id string) int {
	for i, e := range m.queue {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) Append(_ context.Context, entry *models.QueueEntry) error {
	if err := entry.Prepare(time.Now()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	entry.Seq = m.seq
	stored := cloneEntry(entry)
	m.queue = append(m.queue, &stored)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.QueueEntry, 0, len(m.queue))
	for _, e := range m.queue {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return nil, domain.ErrEntryNotFound
	}
	c := cloneEntry(m.queue[i])
	return &c, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), nil
}

func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOf(id); i >= 0 {
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
	}
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id string, kind models.ErrorKind, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return nil
	}
	now := time.Now().UTC()
	e := m.queue[i]
	e.Attempts++
	e.LastError = cause
	e.ErrorKind = kind
	e.LastAttemptAt = &now
	return nil
}

func (m *MemoryStore) RemapLocalID(_ context.Context, entityType models.EntityType, oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.queue {
		if e.EntityType == entityType && e.LocalEntityID == oldID {
			e.LocalEntityID = newID
		}
	}
	return nil
}

func (m *MemoryStore) Discard(_ context.Context, id string) (*models.DiscardedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return nil, domain.ErrEntryNotFound
	}
	d := models.DiscardedEntry{QueueEntry: cloneEntry(m.queue[i]), DiscardedAt: time.Now().UTC()}
	m.queue = append(m.queue[:i], m.queue[i+1:]...)
	m.discarded = append(m.discarded, d)
	return &d, nil
}

func (m *MemoryStore) ListDiscarded(_ context.Context) ([]models.DiscardedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.DiscardedEntry, 0, len(m.discarded))
	for i := len(m.discarded) - 1; i >= 0; i-- {
		out = append(out, m.discarded[i])
	}
	return out, nil
}

func (m *MemoryStore) GetCollection(_ context.Context, entityType models.EntityType) ([]models.CachedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.cache[entityType]
	out := make([]models.CachedEntity, 0, len(col))
	for _, e := range col {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ReplaceCollection(_ context.Context, entityType models.EntityType, entities []models.CachedEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	col := make(map[string]models.CachedEntity, len(entities))
	for _, e := range entities {
		e.EntityType = entityType
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		col[e.ID] = e
	}
	m.cache[entityType] = col
	return nil
}

func (m *MemoryStore) UpsertEntity(_ context.Context, entity *models.CachedEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now().UTC()
	}
	col, ok := m.cache[entity.EntityType]
	if !ok {
		col = make(map[string]models.CachedEntity)
		m.cache[entity.EntityType] = col
	}
	col[entity.ID] = *entity
	return nil
}

func (m *MemoryStore) DeleteEntity(_ context.Context, entityType models.EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache[entityType], id)
	return nil
}

func (m *MemoryStore) RenameEntity(_ context.Context, entityType models.EntityType, oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.cache[entityType]
	e, ok := col[oldID]
	if !ok || oldID == newID {
		return nil
	}
	delete(col, oldID)
	e.ID = newID
	e.UpdatedAt = time.Now().UTC()
	col[newID] = e
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
