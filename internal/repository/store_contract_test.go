package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"taller/internal/domain"
	"taller/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(entityType models.EntityType, op models.Operation, localID string) *models.QueueEntry {
	return &models.QueueEntry{
		EntityType:    entityType,
		Operation:     op,
		LocalEntityID: localID,
		Payload:       json.RawMessage(`{"v":1}`),
	}
}

// testStoreContract exercises the behaviour every domain.Store backend must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) domain.Store) {
	ctx := context.Background()

	t.Run("AppendListOrder", func(t *testing.T) {
		s := newStore(t)
		var ids []string
		for i, et := range []models.EntityType{models.EntityPedidos, models.EntityClientes, models.EntityInsumos} {
			e := entry(et, models.OpUpdate, fmt.Sprintf("id-%d", i))
			require.NoError(t, s.Append(ctx, e))
			assert.NotEmpty(t, e.ID)
			ids = append(ids, e.ID)
		}

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, e := range list {
			assert.Equal(t, ids[i], e.ID)
			if i > 0 {
				assert.Greater(t, e.Seq, list[i-1].Seq)
			}
		}
		assert.JSONEq(t, `{"v":1}`, string(list[0].Payload))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("AppendRejectsInvalid", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.Append(ctx, &models.QueueEntry{EntityType: models.EntityClientes, Operation: "merge"}))
		n, _ := s.Count(ctx)
		assert.Zero(t, n)
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		e := entry(models.EntityClientes, models.OpCreate, "tmp-1")
		require.NoError(t, s.Append(ctx, e))

		require.NoError(t, s.Remove(ctx, e.ID))
		require.NoError(t, s.Remove(ctx, e.ID))
		require.NoError(t, s.Remove(ctx, "never-existed"))

		_, err := s.Get(ctx, e.ID)
		assert.ErrorIs(t, err, domain.ErrEntryNotFound)
	})

	t.Run("MarkFailed", func(t *testing.T) {
		s := newStore(t)
		e := entry(models.EntityPedidos, models.OpCreate, "tmp-2")
		require.NoError(t, s.Append(ctx, e))

		require.NoError(t, s.MarkFailed(ctx, e.ID, models.ErrorKindTransient, "timeout"))
		require.NoError(t, s.MarkFailed(ctx, e.ID, models.ErrorKindTransient, "connection refused"))
		require.NoError(t, s.MarkFailed(ctx, "missing", models.ErrorKindTransient, "x"))

		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Attempts)
		assert.Equal(t, "connection refused", got.LastError)
		assert.Equal(t, models.ErrorKindTransient, got.ErrorKind)
		assert.NotNil(t, got.LastAttemptAt)
		assert.Equal(t, e.Seq, got.Seq)
	})

	t.Run("RemapLocalID", func(t *testing.T) {
		s := newStore(t)
		upd := entry(models.EntityClientes, models.OpUpdate, "tmp-5")
		del := entry(models.EntityClientes, models.OpDelete, "tmp-5")
		other := entry(models.EntityInsumos, models.OpUpdate, "tmp-5")
		for _, e := range []*models.QueueEntry{upd, del, other} {
			require.NoError(t, s.Append(ctx, e))
		}

		require.NoError(t, s.RemapLocalID(ctx, models.EntityClientes, "tmp-5", "srv-5"))

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "srv-5", list[0].LocalEntityID)
		assert.Equal(t, "srv-5", list[1].LocalEntityID)
		assert.Equal(t, "tmp-5", list[2].LocalEntityID)
	})

	t.Run("Discard", func(t *testing.T) {
		s := newStore(t)
		keep := entry(models.EntityPedidos, models.OpUpdate, "p-1")
		drop := entry(models.EntityPedidos, models.OpUpdate, "p-2")
		require.NoError(t, s.Append(ctx, keep))
		require.NoError(t, s.Append(ctx, drop))
		require.NoError(t, s.MarkFailed(ctx, drop.ID, models.ErrorKindPermanent, "http 422"))

		d, err := s.Discard(ctx, drop.ID)
		require.NoError(t, err)
		assert.Equal(t, drop.ID, d.ID)
		assert.Equal(t, models.ErrorKindPermanent, d.ErrorKind)
		assert.False(t, d.DiscardedAt.IsZero())

		list, _ := s.List(ctx)
		require.Len(t, list, 1)
		assert.Equal(t, keep.ID, list[0].ID)

		archived, err := s.ListDiscarded(ctx)
		require.NoError(t, err)
		require.Len(t, archived, 1)
		assert.Equal(t, drop.ID, archived[0].ID)

		_, err = s.Discard(ctx, drop.ID)
		assert.ErrorIs(t, err, domain.ErrEntryNotFound)
	})

	t.Run("ConcurrentAppend", func(t *testing.T) {
		s := newStore(t)
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Append(ctx, entry(models.EntityInsumos, models.OpUpdate, fmt.Sprintf("i-%d", i))))
			}(i)
		}
		wg.Wait()

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, n)
		seen := make(map[string]bool)
		for i, e := range list {
			assert.False(t, seen[e.ID])
			seen[e.ID] = true
			if i > 0 {
				assert.Greater(t, e.Seq, list[i-1].Seq)
			}
		}
	})

	t.Run("Cache", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplaceCollection(ctx, models.EntityClientes, []models.CachedEntity{
			{ID: "1", Data: json.RawMessage(`{"nombre":"Ana"}`)},
			{ID: "2", Data: json.RawMessage(`{"nombre":"Luis"}`)},
		}))
		require.NoError(t, s.UpsertEntity(ctx, &models.CachedEntity{
			EntityType: models.EntityClientes, ID: "tmp-3", Data: json.RawMessage(`{"nombre":"Eva"}`), Pending: true,
		}))
		require.NoError(t, s.RenameEntity(ctx, models.EntityClientes, "tmp-3", "3"))
		require.NoError(t, s.DeleteEntity(ctx, models.EntityClientes, "1"))

		got, err := s.GetCollection(ctx, models.EntityClientes)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "2", got[0].ID)
		assert.Equal(t, "3", got[1].ID)
		assert.True(t, got[1].Pending)
		assert.Equal(t, models.EntityClientes, got[0].EntityType)

		empty, err := s.GetCollection(ctx, models.EntityPedidos)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
