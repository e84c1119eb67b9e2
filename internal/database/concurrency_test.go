package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"taller/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentAppend(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			results <- db.Append(ctx, newEntry(models.EntityPedidos, models.OpCreate, fmt.Sprintf("tmp-%d", id)))
		}(i)
	}

	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}

	entries, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, numGoroutines)

	seen := make(map[string]bool, numGoroutines)
	for i, e := range entries {
		if i > 0 {
			assert.Greater(t, e.Seq, entries[i-1].Seq, "queue must stay in insertion order")
		}
		assert.False(t, seen[e.ID], "duplicate entry id %s", e.ID)
		seen[e.ID] = true
	}

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, numGoroutines, count)
}
