package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/tillsync/internal/models"
)

type PostgresSyncLogRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncLogRepository(pool *pgxpool.Pool) *PostgresSyncLogRepository {
	return &PostgresSyncLogRepository{pool: pool}
}

func (r *PostgresSyncLogRepository) Append(ctx context.Context, entry *models.SyncLogEntry) error {
	query := `INSERT INTO sync_log (run_id, sync_type, status, items_synced, items_failed,
	                                started_at, completed_at, error)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		entry.RunID,
		entry.SyncType,
		entry.Status,
		entry.ItemsSynced,
		entry.ItemsFailed,
		entry.StartedAt,
		entry.CompletedAt,
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log entry: %w", err)
	}
	return nil
}

func (r *PostgresSyncLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.SyncLogEntry, error) {
	query := `SELECT run_id, sync_type, status, items_synced, items_failed,
	                 started_at, completed_at, error
	          FROM sync_log
	          ORDER BY started_at DESC
	          LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		var entry models.SyncLogEntry
		err := rows.Scan(
			&entry.RunID,
			&entry.SyncType,
			&entry.Status,
			&entry.ItemsSynced,
			&entry.ItemsFailed,
			&entry.StartedAt,
			&entry.CompletedAt,
			&entry.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return entries, nil
}
