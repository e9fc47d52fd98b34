// Package shares keeps the escrow node's view of every key share: who
// holds it and whether the node still has (or again has) its value.
package shares

import (
	"context"
	"fmt"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateBatch(ctx context.Context, shares []*models.Share) error {
	query := `INSERT INTO shares (loan_id, activity_commitment, share_index, share_value, trustee_id, status, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now())
		ON CONFLICT (loan_id, activity_commitment, share_index) DO NOTHING`

	for _, s := range shares {
		if _, err := r.db.ExecContext(ctx, query,
			s.LoanID, s.ActivityCommitment, s.Index, s.Value, s.TrusteeID, string(s.Status)); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) ListByApplication(ctx context.Context, loanID uint64, activityCommitment string) ([]*models.Share, error) {
	query := `SELECT loan_id, activity_commitment, share_index, share_value, trustee_id, status, attempts, updated_at
		FROM shares WHERE loan_id = $1 AND activity_commitment = $2 ORDER BY share_index`

	rows, err := r.db.QueryContext(ctx, query, loanID, activityCommitment)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Share
	for rows.Next() {
		var s models.Share
		var status string
		if err := rows.Scan(&s.LoanID, &s.ActivityCommitment, &s.Index, &s.Value, &s.TrusteeID,
			&status, &s.Attempts, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Status = models.ShareStatus(status)
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) MarkDistributed(ctx context.Context, loanID uint64, activityCommitment string, index int, attempts int) error {
	query := `UPDATE shares SET status = 'distributed', share_value = NULL, attempts = $4, updated_at = now()
		WHERE loan_id = $1 AND activity_commitment = $2 AND share_index = $3`
	return r.exec(ctx, query, loanID, activityCommitment, index, attempts)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, loanID uint64, activityCommitment string, index int, attempts int) error {
	query := `UPDATE shares SET status = 'failed', attempts = $4, updated_at = now()
		WHERE loan_id = $1 AND activity_commitment = $2 AND share_index = $3`
	return r.exec(ctx, query, loanID, activityCommitment, index, attempts)
}

func (r *PostgresRepository) SaveCollected(ctx context.Context, share *models.Share) error {
	query := `INSERT INTO shares (loan_id, activity_commitment, share_index, share_value, trustee_id, status, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'collected', 0, now())
		ON CONFLICT (loan_id, activity_commitment, share_index)
		DO UPDATE SET share_value = EXCLUDED.share_value, status = 'collected', updated_at = now()`
	return r.exec(ctx, query, share.LoanID, share.ActivityCommitment, share.Index, share.Value, share.TrusteeID)
}

func (r *PostgresRepository) Consume(ctx context.Context, loanID uint64, activityCommitment string) error {
	query := `UPDATE shares SET status = 'consumed', share_value = NULL, updated_at = now()
		WHERE loan_id = $1 AND activity_commitment = $2 AND status = 'collected'`
	return r.exec(ctx, query, loanID, activityCommitment)
}

func (r *PostgresRepository) ResetCollected(ctx context.Context, loanID uint64, activityCommitment string) error {
	query := `UPDATE shares SET status = 'distributed', share_value = NULL, updated_at = now()
		WHERE loan_id = $1 AND activity_commitment = $2 AND status = 'collected'`
	return r.exec(ctx, query, loanID, activityCommitment)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	return nil
}
