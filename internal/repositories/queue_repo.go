package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/tillsync/internal/models"
)

var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status update's WHERE guard matches
// no row, meaning the item is not in a state the transition is legal from.
var ErrInvalidTransition = errors.New("invalid status transition")

const queueColumns = `id, operation_type, entity_type, entity_id, payload, checksum,
	       status, priority, attempts, max_attempts, error, created_at, last_attempt_at, synced_at`

type PostgresQueueRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresQueueRepository(pool *pgxpool.Pool) *PostgresQueueRepository {
	return &PostgresQueueRepository{pool: pool}
}

func (r *PostgresQueueRepository) Enqueue(ctx context.Context, item *models.SyncQueueItem) error {
	query := `INSERT INTO sync_queue (id, operation_type, entity_type, entity_id, payload, checksum,
	                                  status, priority, max_attempts)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		item.ID,
		item.OperationType,
		item.EntityType,
		item.EntityID,
		item.Payload,
		int64(item.Checksum),
		models.StatusPending,
		item.Priority,
		item.MaxAttempts,
	).Scan(&item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}
	item.Status = models.StatusPending
	return nil
}

func (r *PostgresQueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE id = $1`

	item, err := scanQueueItem(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

func (r *PostgresQueueRepository) Pending(ctx context.Context, limit int) ([]*models.SyncQueueItem, error) {
	query := `SELECT ` + queueColumns + `
	          FROM sync_queue
	          WHERE status IN ($1, $2) AND attempts < max_attempts
	          ORDER BY priority ASC, created_at ASC
	          LIMIT $3`

	rows, err := r.pool.Query(ctx, query, models.StatusPending, models.StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending items: %w", err)
	}
	return items, nil
}

// MarkSyncing is the only transition that consumes an attempt. The WHERE guard
// keeps two runs from claiming the same item and keeps attempts <= max_attempts.
func (r *PostgresQueueRepository) MarkSyncing(ctx context.Context, id uuid.UUID) (*models.SyncQueueItem, error) {
	query := `UPDATE sync_queue
	          SET status = $1, attempts = attempts + 1, last_attempt_at = NOW()
	          WHERE id = $2 AND status IN ($3, $4) AND attempts < max_attempts
	          RETURNING ` + queueColumns

	item, err := scanQueueItem(r.pool.QueryRow(ctx, query,
		models.StatusSyncing, id, models.StatusPending, models.StatusFailed))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark item syncing: %w", err)
	}
	return item, nil
}

func (r *PostgresQueueRepository) MarkSynced(ctx context.Context, id uuid.UUID) error {
	// CONFLICT -> SYNCED happens when a resolution keeps the item around.
	query := `UPDATE sync_queue
	          SET status = $1, synced_at = NOW(), error = ''
	          WHERE id = $2 AND status IN ($3, $4)`

	return r.transition(ctx, query, models.StatusSynced, id, models.StatusSyncing, models.StatusConflict)
}

func (r *PostgresQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	// CONFLICT -> FAILED happens when a client-wins replay finds the retry
	// budget already spent; ResetForRetry can still rescue the item.
	query := `UPDATE sync_queue
	          SET status = $1, error = $5, last_attempt_at = NOW()
	          WHERE id = $2 AND status IN ($3, $4)`

	return r.transition(ctx, query, models.StatusFailed, id, models.StatusSyncing, models.StatusConflict, reason)
}

func (r *PostgresQueueRepository) MarkConflict(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sync_queue
	          SET status = $1, last_attempt_at = NOW()
	          WHERE id = $2 AND status = $3`

	return r.transition(ctx, query, models.StatusConflict, id, models.StatusSyncing)
}

// ResetPending returns an item to PENDING so the next run picks it up again:
// SYNCING items after a transient failure, CONFLICT items when a client-wins
// resolution could not reach the remote.
func (r *PostgresQueueRepository) ResetPending(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE sync_queue
	          SET status = $1, error = $5
	          WHERE id = $2 AND status IN ($3, $4)`

	return r.transition(ctx, query, models.StatusPending, id, models.StatusSyncing, models.StatusConflict, reason)
}

// ResetForRetry gives every exhausted FAILED item a fresh attempt budget.
func (r *PostgresQueueRepository) ResetForRetry(ctx context.Context) (int64, error) {
	query := `UPDATE sync_queue
	          SET status = $1, attempts = 0, error = ''
	          WHERE status = $2`

	result, err := r.pool.Exec(ctx, query, models.StatusPending, models.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed items: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresQueueRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSyncedBefore is the retention sweep for completed items.
func (r *PostgresQueueRepository) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sync_queue WHERE status = $1 AND synced_at < $2`

	result, err := r.pool.Exec(ctx, query, models.StatusSynced, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep synced items: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresQueueRepository) CountByStatus(ctx context.Context) (map[models.SyncStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int64)
	for rows.Next() {
		var status models.SyncStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

func (r *PostgresQueueRepository) transition(ctx context.Context, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func scanQueueItem(row pgx.Row) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	var checksum int64
	err := row.Scan(
		&item.ID,
		&item.OperationType,
		&item.EntityType,
		&item.EntityID,
		&item.Payload,
		&checksum,
		&item.Status,
		&item.Priority,
		&item.Attempts,
		&item.MaxAttempts,
		&item.Error,
		&item.CreatedAt,
		&item.LastAttemptAt,
		&item.SyncedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Checksum = uint64(checksum)
	return &item, nil
}
