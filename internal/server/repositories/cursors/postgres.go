// Package cursors stores the event watcher's last processed position.
package cursors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Load(ctx context.Context, name string) (uint64, error) {
	var pos uint64
	err := r.db.QueryRowContext(ctx, `SELECT position FROM watcher_cursors WHERE name = $1`, name).Scan(&pos)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return pos, nil
}

func (r *PostgresRepository) Save(ctx context.Context, name string, position uint64) error {
	query := `INSERT INTO watcher_cursors (name, position) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET position = EXCLUDED.position`

	if _, err := r.db.ExecContext(ctx, query, name, position); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
