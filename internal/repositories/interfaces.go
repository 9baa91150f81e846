package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/tillsync/internal/models"
)

type QueueRepository interface {
	Enqueue(ctx context.Context, item *models.SyncQueueItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncQueueItem, error)
	// Pending returns items eligible for the next run: status PENDING or
	// FAILED with attempts < max_attempts, ordered by priority then age.
	Pending(ctx context.Context, limit int) ([]*models.SyncQueueItem, error)
	// MarkSyncing claims an item for one delivery attempt. It is the only
	// transition that increments attempts; MarkFailed and MarkConflict must
	// not, or a single cycle would consume two attempts.
	MarkSyncing(ctx context.Context, id uuid.UUID) (*models.SyncQueueItem, error)
	MarkSynced(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkConflict(ctx context.Context, id uuid.UUID) error
	ResetPending(ctx context.Context, id uuid.UUID, reason string) error
	ResetForRetry(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int64, error)
}

type ConflictRepository interface {
	Create(ctx context.Context, conflict *models.Conflict) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conflict, error)
	ListUnresolved(ctx context.Context) ([]*models.Conflict, error)
	CountUnresolved(ctx context.Context) (int64, error)
	MarkResolved(ctx context.Context, id uuid.UUID, strategy models.ResolutionStrategy) error
}

type SyncLogRepository interface {
	Append(ctx context.Context, entry *models.SyncLogEntry) error
	ListRecent(ctx context.Context, limit int) ([]*models.SyncLogEntry, error)
}

// EntityStore is where resolved remote state lands locally. Domain services
// own the real entity tables; the bundled Postgres mirror is a default.
type EntityStore interface {
	ApplyRemote(ctx context.Context, entityType, entityID string, data []byte) error
}
