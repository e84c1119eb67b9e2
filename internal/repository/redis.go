package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"taller/internal/config"
	"taller/internal/domain"
	"taller/internal/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// RedisStore keeps the queue as a list of ids plus a hash of encoded entries.
// Multi-key updates run inside WATCH/MULTI so concurrent writers never half-apply.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = models.DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) queueKey() string     { return r.prefix + ":queue" }
func (r *RedisStore) entriesKey() string   { return r.prefix + ":entries" }
func (r *RedisStore) seqKey() string       { return r.prefix + ":seq" }
func (r *RedisStore) discardedKey() string { return r.prefix + ":discarded" }

func (r *RedisStore) cacheKey(entityType models.EntityType) string {
	return r.prefix + ":cache:" + string(entityType)
}

func (r *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction on %v: retries exhausted", keys)
}

func decodeEntry(raw []byte) (*models.QueueEntry, error) {
	var e models.QueueEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode queue entry: %w", err)
	}
	return &e, nil
}

func (r *RedisStore) Append(ctx context.Context, entry *models.QueueEntry) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := entry.Prepare(time.Now()); err != nil {
		return err
	}

	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}
	entry.Seq = seq

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode queue entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.entriesKey(), entry.ID, data)
		pipe.RPush(ctx, r.queueKey(), entry.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append queue entry: %w", err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]models.QueueEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	ids, err := r.client.LRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	out := make([]models.QueueEntry, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	vals, err := r.client.HMGet(ctx, r.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue entries: %w", err)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// removed between LRANGE and HMGET
			continue
		}
		e, err := decodeEntry([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	// INCR and RPUSH of concurrent appends may interleave.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	raw, err := r.client.HGet(ctx, r.entriesKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return decodeEntry(raw)
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.LLen(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) Remove(ctx context.Context, id string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, r.queueKey(), 0, id)
		pipe.HDel(ctx, r.entriesKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	return nil
}

func (r *RedisStore) MarkFailed(ctx context.Context, id string, kind models.ErrorKind, cause string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	err := r.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, r.entriesKey(), id).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		e.Attempts++
		e.LastError = cause
		e.ErrorKind = kind
		e.LastAttemptAt = &now

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.entriesKey(), id, data)
			return nil
		})
		return err
	}, r.entriesKey())
	if err != nil {
		return fmt.Errorf("failed to mark queue entry failed: %w", err)
	}
	return nil
}

func (r *RedisStore) RemapLocalID(ctx context.Context, entityType models.EntityType, oldID, newID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	err := r.watch(ctx, func(tx *redis.Tx) error {
		all, err := tx.HGetAll(ctx, r.entriesKey()).Result()
		if err != nil {
			return err
		}
		changed := make(map[string]interface{})
		for id, raw := range all {
			e, err := decodeEntry([]byte(raw))
			if err != nil {
				return err
			}
			if e.EntityType != entityType || e.LocalEntityID != oldID {
				continue
			}
			e.LocalEntityID = newID
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			changed[id] = data
		}
		if len(changed) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.entriesKey(), changed)
			return nil
		})
		return err
	}, r.entriesKey())
	if err != nil {
		return fmt.Errorf("failed to remap local id: %w", err)
	}
	return nil
}

func (r *RedisStore) Discard(ctx context.Context, id string) (*models.DiscardedEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	var discarded *models.DiscardedEntry
	err := r.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, r.entriesKey(), id).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return err
		}

		d := &models.DiscardedEntry{QueueEntry: *e, DiscardedAt: time.Now().UTC()}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, r.queueKey(), 0, id)
			pipe.HDel(ctx, r.entriesKey(), id)
			pipe.LPush(ctx, r.discardedKey(), data)
			return nil
		})
		if err == nil {
			discarded = d
		}
		return err
	}, r.entriesKey())
	if errors.Is(err, domain.ErrEntryNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to discard queue entry: %w", err)
	}
	return discarded, nil
}

func (r *RedisStore) ListDiscarded(ctx context.Context) ([]models.DiscardedEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	vals, err := r.client.LRange(ctx, r.discardedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read discarded entries: %w", err)
	}
	out := make([]models.DiscardedEntry, 0, len(vals))
	for _, v := range vals {
		var d models.DiscardedEntry
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			return nil, fmt.Errorf("failed to decode discarded entry: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisStore) GetCollection(ctx context.Context, entityType models.EntityType) ([]models.CachedEntity, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	all, err := r.client.HGetAll(ctx, r.cacheKey(entityType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	out := make([]models.CachedEntity, 0, len(all))
	for _, raw := range all {
		var c models.CachedEntity
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("failed to decode cached entity: %w", err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RedisStore) ReplaceCollection(ctx context.Context, entityType models.EntityType, entities []models.CachedEntity) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	now := time.Now().UTC()
	fields := make(map[string]interface{}, len(entities))
	for _, e := range entities {
		e.EntityType = entityType
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode cached entity: %w", err)
		}
		fields[e.ID] = data
	}

	key := r.cacheKey(entityType)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}

func (r *RedisStore) UpsertEntity(ctx context.Context, entity *models.CachedEntity) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode cached entity: %w", err)
	}
	if err := r.client.HSet(ctx, r.cacheKey(entity.EntityType), entity.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to upsert cached entity: %w", err)
	}
	return nil
}

func (r *RedisStore) DeleteEntity(ctx context.Context, entityType models.EntityType, id string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.HDel(ctx, r.cacheKey(entityType), id).Err(); err != nil {
		return fmt.Errorf("failed to delete cached entity: %w", err)
	}
	return nil
}

func (r *RedisStore) RenameEntity(ctx context.Context, entityType models.EntityType, oldID, newID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if oldID == newID {
		return nil
	}
	key := r.cacheKey(entityType)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, oldID).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var c models.CachedEntity
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		c.ID = newID
		c.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, oldID)
			pipe.HSet(ctx, key, newID, data)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to rename cached entity: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks the connection to redis.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
