package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taller/internal/models"
)

func (db *DB) GetCollection(ctx context.Context, entityType models.EntityType) ([]models.CachedEntity, error) {
	query := `SELECT entity_type, id, data, pending, updated_at FROM entity_cache WHERE entity_type = ? ORDER BY id`
	rows, err := db.QueryContext(ctx, query, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	defer rows.Close()

	out := make([]models.CachedEntity, 0)
	for rows.Next() {
		var (
			c    models.CachedEntity
			data sql.NullString
		)
		if err := rows.Scan(&c.EntityType, &c.ID, &data, &c.Pending, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached entity: %w", err)
		}
		if data.Valid && data.String != "" {
			c.Data = []byte(data.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceCollection swaps the whole snapshot of a collection.
func (db *DB) ReplaceCollection(ctx context.Context, entityType models.EntityType, entities []models.CachedEntity) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_cache WHERE entity_type = ?`, entityType); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entity_cache (entity_type, id, data, pending, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range entities {
		e := entities[i]
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, entityType, e.ID, nullablePayload(e.Data), e.Pending, e.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert cached entity %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache replace: %w", err)
	}
	return nil
}

func (db *DB) UpsertEntity(ctx context.Context, entity *models.CachedEntity) error {
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO entity_cache (entity_type, id, data, pending, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(entity_type, id) DO UPDATE SET
            data = excluded.data,
            pending = excluded.pending,
            updated_at = excluded.updated_at
    `
	_, err := db.ExecContext(ctx, query, entity.EntityType, entity.ID, nullablePayload(entity.Data), entity.Pending, entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert cached entity: %w", err)
	}
	return nil
}

func (db *DB) DeleteEntity(ctx context.Context, entityType models.EntityType, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM entity_cache WHERE entity_type = ? AND id = ?`, entityType, id); err != nil {
		return fmt.Errorf("failed to delete cached entity: %w", err)
	}
	return nil
}

// RenameEntity moves a cached record from its temporary id to the server id.
// An existing record under newID is overwritten.
func (db *DB) RenameEntity(ctx context.Context, entityType models.EntityType, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_cache WHERE entity_type = ? AND id = ? AND EXISTS (SELECT 1 FROM entity_cache WHERE entity_type = ? AND id = ?)`,
		entityType, newID, entityType, oldID); err != nil {
		return fmt.Errorf("failed to clear target cache id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE entity_cache SET id = ?, updated_at = ? WHERE entity_type = ? AND id = ?`,
		newID, time.Now().UTC(), entityType, oldID); err != nil {
		return fmt.Errorf("failed to rename cached entity: %w", err)
	}
	return tx.Commit()
}
