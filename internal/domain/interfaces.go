package domain

import (
	"context"
	"encoding/json"

	"taller/internal/models"
)

// QueueStore is the durable, ordered list of pending mutations.
type QueueStore interface {
	Append(ctx context.Context, entry *models.QueueEntry) error
	List(ctx context.Context) ([]models.QueueEntry, error)
	Get(ctx context.Context, id string) (*models.QueueEntry, error)
	Count(ctx context.Context) (int, error)
	Remove(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, kind models.ErrorKind, cause string) error
	RemapLocalID(ctx context.Context, entityType models.EntityType, oldID, newID string) error
	Discard(ctx context.Context, id string) (*models.DiscardedEntry, error)
	ListDiscarded(ctx context.Context) ([]models.DiscardedEntry, error)
}

// CacheStore holds the offline snapshot of each entity collection.
type CacheStore interface {
	GetCollection(ctx context.Context, entityType models.EntityType) ([]models.CachedEntity, error)
	ReplaceCollection(ctx context.Context, entityType models.EntityType, entities []models.CachedEntity) error
	UpsertEntity(ctx context.Context, entity *models.CachedEntity) error
	DeleteEntity(ctx context.Context, entityType models.EntityType, id string) error
	RenameEntity(ctx context.Context, entityType models.EntityType, oldID, newID string) error
}

// Store is a backend that provides both halves of the local durable store.
type Store interface {
	QueueStore
	CacheStore
	Close() error
}

// EntityHandler replays mutations of one entity type against the remote API.
type EntityHandler interface {
	Create(ctx context.Context, payload json.RawMessage) (*models.RemoteEntity, error)
	Update(ctx context.Context, id string, payload json.RawMessage) (*models.RemoteEntity, error)
	Delete(ctx context.Context, id string) error
}

// ConnectivityMonitor exposes the last known network state.
type ConnectivityMonitor interface {
	IsOnline() bool
	OnOnlineChange(cb func(online bool)) (unsubscribe func())
}

// EventPublisher publishes engine events to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
