package repository

import (
	"context"
	"sync/atomic"
	"time"

	"taller/internal/domain"
	"taller/internal/models"

	"github.com/rs/zerolog"
)

const defaultFailoverRetry = time.Minute

// FailoverCacheStore serves the entity cache from a durable primary and switches to
// the fallback when the primary errors. Successful primary writes are mirrored to the
// fallback so it is warm when a switch happens.
type FailoverCacheStore struct {
	primary    domain.CacheStore
	fallback   domain.CacheStore
	logger     *zerolog.Logger
	retryAfter time.Duration
	isDown     atomic.Bool
	lastCheck  atomic.Int64
}

func NewFailoverCacheStore(primary, fallback domain.CacheStore, logger *zerolog.Logger) *FailoverCacheStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCacheStore{
		primary:    primary,
		fallback:   fallback,
		logger:     logger,
		retryAfter: defaultFailoverRetry,
	}
}

// IsDown reports whether calls are currently served by the fallback.
func (r *FailoverCacheStore) IsDown() bool {
	return r.isDown.Load()
}

// usePrimary is true while healthy, and once per retryAfter while down so recovery is detected.
func (r *FailoverCacheStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	last := time.Unix(0, r.lastCheck.Load())
	if time.Since(last) > r.retryAfter {
		r.lastCheck.Store(time.Now().UnixNano())
		return true
	}
	return false
}

func (r *FailoverCacheStore) primaryFailed(op string, err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Str("op", op).Msg("Primary cache store failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverCacheStore) primaryOK() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary cache store recovered")
	}
}

func (r *FailoverCacheStore) GetCollection(ctx context.Context, entityType models.EntityType) ([]models.CachedEntity, error) {
	if r.usePrimary() {
		entities, err := r.primary.GetCollection(ctx, entityType)
		if err == nil {
			r.primaryOK()
			return entities, nil
		}
		r.primaryFailed("get_collection", err)
	}
	return r.fallback.GetCollection(ctx, entityType)
}

func (r *FailoverCacheStore) ReplaceCollection(ctx context.Context, entityType models.EntityType, entities []models.CachedEntity) error {
	if r.usePrimary() {
		err := r.primary.ReplaceCollection(ctx, entityType, entities)
		if err == nil {
			r.primaryOK()
			_ = r.fallback.ReplaceCollection(ctx, entityType, entities)
			return nil
		}
		r.primaryFailed("replace_collection", err)
	}
	return r.fallback.ReplaceCollection(ctx, entityType, entities)
}

func (r *FailoverCacheStore) UpsertEntity(ctx context.Context, entity *models.CachedEntity) error {
	if r.usePrimary() {
		err := r.primary.UpsertEntity(ctx, entity)
		if err == nil {
			r.primaryOK()
			_ = r.fallback.UpsertEntity(ctx, entity)
			return nil
		}
		r.primaryFailed("upsert_entity", err)
	}
	return r.fallback.UpsertEntity(ctx, entity)
}

func (r *FailoverCacheStore) DeleteEntity(ctx context.Context, entityType models.EntityType, id string) error {
	if r.usePrimary() {
		err := r.primary.DeleteEntity(ctx, entityType, id)
		if err == nil {
			r.primaryOK()
			_ = r.fallback.DeleteEntity(ctx, entityType, id)
			return nil
		}
		r.primaryFailed("delete_entity", err)
	}
	return r.fallback.DeleteEntity(ctx, entityType, id)
}

func (r *FailoverCacheStore) RenameEntity(ctx context.Context, entityType models.EntityType, oldID, newID string) error {
	if r.usePrimary() {
		err := r.primary.RenameEntity(ctx, entityType, oldID, newID)
		if err == nil {
			r.primaryOK()
			_ = r.fallback.RenameEntity(ctx, entityType, oldID, newID)
			return nil
		}
		r.primaryFailed("rename_entity", err)
	}
	return r.fallback.RenameEntity(ctx, entityType, oldID, newID)
}
