package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/tillsync/internal/models"
)

// ErrConflictResolved is returned when resolving a conflict that was already
// resolved; the first resolution wins.
var ErrConflictResolved = errors.New("conflict already resolved")

type PostgresConflictRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresConflictRepository(pool *pgxpool.Pool) *PostgresConflictRepository {
	return &PostgresConflictRepository{pool: pool}
}

func (r *PostgresConflictRepository) Create(ctx context.Context, conflict *models.Conflict) error {
	query := `INSERT INTO sync_conflicts (id, queue_item_id, entity_type, entity_id, local_data, remote_data)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		conflict.ID,
		conflict.QueueItemID,
		conflict.EntityType,
		conflict.EntityID,
		conflict.LocalData,
		conflict.RemoteData,
	).Scan(&conflict.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	return nil
}

func (r *PostgresConflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	query := `SELECT id, queue_item_id, entity_type, entity_id, local_data, remote_data,
	                 resolution_strategy, resolved, created_at, resolved_at
	          FROM sync_conflicts WHERE id = $1`

	conflict, err := scanConflict(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return conflict, nil
}

func (r *PostgresConflictRepository) ListUnresolved(ctx context.Context) ([]*models.Conflict, error) {
	query := `SELECT id, queue_item_id, entity_type, entity_id, local_data, remote_data,
	                 resolution_strategy, resolved, created_at, resolved_at
	          FROM sync_conflicts
	          WHERE resolved = FALSE
	          ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, conflict)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

func (r *PostgresConflictRepository) CountUnresolved(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_conflicts WHERE resolved = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

// MarkResolved stamps the resolution exactly once; the resolved = FALSE guard
// makes a second resolution attempt report ErrConflictResolved.
func (r *PostgresConflictRepository) MarkResolved(ctx context.Context, id uuid.UUID, strategy models.ResolutionStrategy) error {
	query := `UPDATE sync_conflicts
	          SET resolved = TRUE, resolution_strategy = $1, resolved_at = NOW()
	          WHERE id = $2 AND resolved = FALSE`

	result, err := r.pool.Exec(ctx, query, strategy, id)
	if err != nil {
		return fmt.Errorf("failed to mark conflict resolved: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Distinguish missing from already-resolved for the caller.
		if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflictResolved
	}
	return nil
}

func scanConflict(row pgx.Row) (*models.Conflict, error) {
	var conflict models.Conflict
	var strategy *string
	err := row.Scan(
		&conflict.ID,
		&conflict.QueueItemID,
		&conflict.EntityType,
		&conflict.EntityID,
		&conflict.LocalData,
		&conflict.RemoteData,
		&strategy,
		&conflict.Resolved,
		&conflict.CreatedAt,
		&conflict.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if strategy != nil {
		conflict.ResolutionStrategy = models.ResolutionStrategy(*strategy)
	}
	return &conflict, nil
}
