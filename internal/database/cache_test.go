package database

import (
	"context"
	"encoding/json"
	"testing"

	"taller/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityCache(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.ReplaceCollection(ctx, models.EntityClientes, []models.CachedEntity{
		{ID: "1", Data: json.RawMessage(`{"nombre":"Ana"}`)},
		{ID: "2", Data: json.RawMessage(`{"nombre":"Luis"}`)},
	})
	require.NoError(t, err)

	got, err := db.GetCollection(ctx, models.EntityClientes)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.EntityClientes, got[0].EntityType)
	assert.False(t, got[0].UpdatedAt.IsZero())

	t.Run("Upsert", func(t *testing.T) {
		require.NoError(t, db.UpsertEntity(ctx, &models.CachedEntity{
			EntityType: models.EntityClientes, ID: "tmp-3", Data: json.RawMessage(`{"nombre":"Eva"}`), Pending: true,
		}))
		require.NoError(t, db.UpsertEntity(ctx, &models.CachedEntity{
			EntityType: models.EntityClientes, ID: "1", Data: json.RawMessage(`{"nombre":"Ana M."}`),
		}))

		got, err := db.GetCollection(ctx, models.EntityClientes)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.JSONEq(t, `{"nombre":"Ana M."}`, string(got[0].Data))
		assert.True(t, got[2].Pending)
	})

	t.Run("Rename", func(t *testing.T) {
		require.NoError(t, db.RenameEntity(ctx, models.EntityClientes, "tmp-3", "3"))

		got, err := db.GetCollection(ctx, models.EntityClientes)
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, c := range got {
			ids = append(ids, c.ID)
		}
		assert.ElementsMatch(t, []string{"1", "2", "3"}, ids)
	})

	t.Run("RenameOntoExisting", func(t *testing.T) {
		require.NoError(t, db.UpsertEntity(ctx, &models.CachedEntity{EntityType: models.EntityClientes, ID: "tmp-4", Data: json.RawMessage(`{"v":2}`)}))
		require.NoError(t, db.RenameEntity(ctx, models.EntityClientes, "tmp-4", "2"))

		got, _ := db.GetCollection(ctx, models.EntityClientes)
		assert.Len(t, got, 3)
		for _, c := range got {
			if c.ID == "2" {
				assert.JSONEq(t, `{"v":2}`, string(c.Data))
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, db.DeleteEntity(ctx, models.EntityClientes, "2"))
		got, _ := db.GetCollection(ctx, models.EntityClientes)
		assert.Len(t, got, 2)
	})

	t.Run("ReplaceIsolatesCollections", func(t *testing.T) {
		require.NoError(t, db.ReplaceCollection(ctx, models.EntityInsumos, []models.CachedEntity{{ID: "x"}}))
		require.NoError(t, db.ReplaceCollection(ctx, models.EntityInsumos, nil))

		insumos, _ := db.GetCollection(ctx, models.EntityInsumos)
		assert.Empty(t, insumos)
		clientes, _ := db.GetCollection(ctx, models.EntityClientes)
		assert.Len(t, clientes, 2)
	})
}
