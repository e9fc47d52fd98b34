// Package reveals stores reveal records and the lender delivery inbox.
package reveals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertIfAbsent(ctx context.Context, rec *models.RevealRecord) (bool, error) {
	used, err := json.Marshal(rec.SharesUsed)
	if err != nil {
		return false, err
	}

	query := `INSERT INTO reveal_records (loan_id, activity_commitment, revealed_to, revealed_at, shares_used)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (loan_id, activity_commitment) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, rec.LoanID, rec.ActivityCommitment, rec.RevealedTo, rec.RevealedAt, used)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, loanID uint64, activityCommitment string) (*models.RevealRecord, error) {
	query := `SELECT loan_id, activity_commitment, revealed_to, revealed_at, shares_used
		FROM reveal_records WHERE loan_id = $1 AND activity_commitment = $2`

	var rec models.RevealRecord
	var used []byte
	err := r.db.QueryRowContext(ctx, query, loanID, activityCommitment).
		Scan(&rec.LoanID, &rec.ActivityCommitment, &rec.RevealedTo, &rec.RevealedAt, &used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal(used, &rec.SharesUsed); err != nil {
		return nil, fmt.Errorf("decode shares_used: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, loanID uint64, activityCommitment string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reveal_records WHERE loan_id = $1 AND activity_commitment = $2)`,
		loanID, activityCommitment).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	query := `INSERT INTO identity_deliveries (id, loan_id, activity_commitment, lender, identity, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.ExecContext(ctx, query,
		d.ID, d.LoanID, d.ActivityCommitment, d.Lender, d.Identity, d.DeliveredAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListDeliveries(ctx context.Context, lender string) ([]*models.Delivery, error) {
	query := `SELECT id, loan_id, activity_commitment, lender, identity, delivered_at
		FROM identity_deliveries WHERE lender = $1 ORDER BY delivered_at`

	rows, err := r.db.QueryContext(ctx, query, lender)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Delivery
	for rows.Next() {
		var d models.Delivery
		if err := rows.Scan(&d.ID, &d.LoanID, &d.ActivityCommitment, &d.Lender, &d.Identity, &d.DeliveredAt); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
