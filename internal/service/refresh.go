package service

import (
	"context"
	"errors"
	"fmt"

	"taller/internal/models"
)

// CollectionFetcher reads full collections from the backend.
type CollectionFetcher interface {
	FetchCollection(ctx context.Context, entityType models.EntityType) ([]models.CachedEntity, error)
}

// RefreshCollections replaces the cached snapshot of every listed collection with the
// backend's current one. A failing collection does not stop the others.
func (e *Engine) RefreshCollections(ctx context.Context, source CollectionFetcher, entityTypes ...models.EntityType) error {
	var errs []error
	refreshed := 0
	for _, entityType := range entityTypes {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		entities, err := source.FetchCollection(ctx, entityType)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch %s: %w", entityType, err))
			continue
		}
		if err := e.ReplaceCollection(ctx, entityType, entities); err != nil {
			errs = append(errs, err)
			continue
		}
		refreshed++
	}

	e.logger.Info().Int("collections", refreshed).Int("failed", len(errs)).Msg("Cache refreshed")
	return errors.Join(errs...)
}
