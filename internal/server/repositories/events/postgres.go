// Package events provides the append-only ledger event log.
package events

import (
	"context"
	"fmt"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

// appendLockKey is the advisory lock taken by every append. Holding it until
// commit makes seqs become visible in the order they were assigned.
const appendLockKey int64 = 0x6c6564676572

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append must run inside the caller's transaction; the append lock is
// released when it ends.
func (r *PostgresRepository) Append(ctx context.Context, ev *models.Event) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	query := `INSERT INTO ledger_events (type, loan_id, activity_commitment, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING seq`

	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	err := r.db.QueryRowContext(ctx, query, string(ev.Type), ev.LoanID, ev.ActivityCommitment, payload, ev.EmittedAt).
		Scan(&ev.Seq)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Head(ctx context.Context) (uint64, error) {
	var head uint64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&head); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return head, nil
}

func (r *PostgresRepository) Range(ctx context.Context, from, to uint64) ([]*models.Event, error) {
	query := `SELECT seq, type, loan_id, activity_commitment, payload, emitted_at
		FROM ledger_events WHERE seq > $1 AND seq <= $2 ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Event
	for rows.Next() {
		var ev models.Event
		var typ string
		var payload []byte
		if err := rows.Scan(&ev.Seq, &typ, &ev.LoanID, &ev.ActivityCommitment, &payload, &ev.EmittedAt); err != nil {
			return nil, err
		}
		ev.Type = models.EventType(typ)
		ev.Payload = payload
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
