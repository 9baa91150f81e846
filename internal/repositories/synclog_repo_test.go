package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/tillsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncLogRepository_AppendAndListRecent(t *testing.T) {
	pool := getTestPool(t)
	repo := NewPostgresSyncLogRepository(pool)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	entry := &models.SyncLogEntry{
		RunID:       uuid.New(),
		SyncType:    models.SyncManual,
		Status:      models.RunCompleted,
		ItemsSynced: 3,
		ItemsFailed: 1,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	require.NoError(t, repo.Append(ctx, entry))
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM sync_log WHERE run_id = $1`, entry.RunID)
	})

	recent, err := repo.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, entry.RunID, recent[0].RunID, "the newest run comes first")
	assert.Equal(t, 3, recent[0].ItemsSynced)
	assert.Equal(t, 1, recent[0].ItemsFailed)
}
