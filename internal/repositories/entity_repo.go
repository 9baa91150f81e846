package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEntityStore mirrors resolved remote entity state into a local
// entities table. It is the default EntityStore; domain services that keep
// their own tables can swap in their own implementation.
type PostgresEntityStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEntityStore(pool *pgxpool.Pool) *PostgresEntityStore {
	return &PostgresEntityStore{pool: pool}
}

func (s *PostgresEntityStore) ApplyRemote(ctx context.Context, entityType, entityID string, data []byte) error {
	query := `INSERT INTO entities (entity_type, entity_id, data, updated_at)
	          VALUES ($1, $2, $3, NOW())
	          ON CONFLICT (entity_type, entity_id)
	          DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, entityType, entityID, data)
	if err != nil {
		return fmt.Errorf("failed to apply remote state for %s/%s: %w", entityType, entityID, err)
	}
	return nil
}
