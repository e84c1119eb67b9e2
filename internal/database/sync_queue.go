package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taller/internal/domain"
	"taller/internal/models"
)

const queueColumns = `seq, id, entity_type, operation, payload, local_entity_id, created_at, attempts, last_error, error_kind, last_attempt_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner, extra ...interface{}) (*models.QueueEntry, error) {
	var (
		e           models.QueueEntry
		payload     sql.NullString
		lastAttempt sql.NullTime
	)
	dest := []interface{}{
		&e.Seq, &e.ID, &e.EntityType, &e.Operation, &payload, &e.LocalEntityID,
		&e.CreatedAt, &e.Attempts, &e.LastError, &e.ErrorKind, &lastAttempt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		e.Payload = []byte(payload.String)
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		e.LastAttemptAt = &t
	}
	return &e, nil
}

func nullablePayload(p []byte) interface{} {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

// Append stores a new entry at the tail of the queue and sets its Seq.
func (db *DB) Append(ctx context.Context, entry *models.QueueEntry) error {
	if err := entry.Prepare(time.Now()); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}

	query := `INSERT INTO sync_queue (id, entity_type, operation, payload, local_entity_id, created_at, attempts, last_error, error_kind, last_attempt_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		entry.ID,
		entry.EntityType,
		entry.Operation,
		nullablePayload(entry.Payload),
		entry.LocalEntityID,
		entry.CreatedAt,
		entry.Attempts,
		entry.LastError,
		entry.ErrorKind,
		entry.LastAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append queue entry: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.Seq = seq

	db.logger.Debug().
		Str("entry_id", entry.ID).
		Int64("seq", seq).
		Str("entity_type", string(entry.EntityType)).
		Str("operation", string(entry.Operation)).
		Msg("Queue entry appended")
	return nil
}

// List returns a snapshot of the queue in insertion order.
func (db *DB) List(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+queueColumns+` FROM sync_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	entries := make([]models.QueueEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}
	return entries, nil
}

func (db *DB) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// Remove deletes an entry. Removing an unknown id is not an error.
func (db *DB) Remove(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. Unknown ids are ignored.
func (db *DB) MarkFailed(ctx context.Context, id string, kind models.ErrorKind, cause string) error {
	query := `UPDATE sync_queue SET attempts = attempts + 1, last_error = ?, error_kind = ?, last_attempt_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, cause, kind, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark queue entry failed: %w", err)
	}
	return nil
}

// RemapLocalID points queued entries for a temporary id at the server-assigned one.
func (db *DB) RemapLocalID(ctx context.Context, entityType models.EntityType, oldID, newID string) error {
	query := `UPDATE sync_queue SET local_entity_id = ? WHERE entity_type = ? AND local_entity_id = ?`
	res, err := db.ExecContext(ctx, query, newID, entityType, oldID)
	if err != nil {
		return fmt.Errorf("failed to remap local id: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		db.logger.Info().
			Str("entity_type", string(entityType)).
			Str("old_id", oldID).
			Str("new_id", newID).
			Int64("entries", n).
			Msg("Remapped queued entries to server id")
	}
	return nil
}

// Discard moves an entry from the queue to the discarded archive in one transaction.
func (db *DB) Discard(ctx context.Context, id string) (*models.DiscardedEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue entry: %w", err)
	}

	discarded := &models.DiscardedEntry{QueueEntry: *e, DiscardedAt: time.Now().UTC()}
	insert := `INSERT INTO sync_discarded (` + queueColumns + `, discarded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert,
		e.Seq, e.ID, e.EntityType, e.Operation, nullablePayload(e.Payload), e.LocalEntityID,
		e.CreatedAt, e.Attempts, e.LastError, e.ErrorKind, e.LastAttemptAt, discarded.DiscardedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to archive queue entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to remove queue entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit discard: %w", err)
	}

	db.logger.Warn().Str("entry_id", id).Str("last_error", e.LastError).Msg("Queue entry discarded")
	return discarded, nil
}

// ListDiscarded returns the archive, most recently discarded first.
func (db *DB) ListDiscarded(ctx context.Context) ([]models.DiscardedEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+queueColumns+`, discarded_at FROM sync_discarded ORDER BY discarded_at DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list discarded entries: %w", err)
	}
	defer rows.Close()

	var out []models.DiscardedEntry
	for rows.Next() {
		var at time.Time
		e, err := scanEntry(rows, &at)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discarded entry: %w", err)
		}
		out = append(out, models.DiscardedEntry{QueueEntry: *e, DiscardedAt: at})
	}
	return out, rows.Err()
}
