// Package applications provides PostgreSQL-backed storage for loan
// applications keyed by (loan_id, activity_commitment).
package applications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

const appColumns = `loan_id, activity_commitment, borrower, proof_hash, claimed_score, status,
	applied_at, approved_at, repayment_deadline, repaid_at, defaulted_at, escrow, reveal_epoch`

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, app *models.Application) error {
	escrow, err := marshalEscrow(app.Escrow)
	if err != nil {
		return err
	}

	query := `INSERT INTO applications (` + appColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.ExecContext(ctx, query,
		app.LoanID, app.ActivityCommitment, app.Borrower, app.ProofHash, app.ClaimedScore, string(app.Status),
		app.AppliedAt, app.ApprovedAt, app.RepaymentDeadline, app.RepaidAt, app.DefaultedAt, escrow, app.RevealEpoch)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: application exists", common.ErrStateConflict)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error) {
	return r.getOne(ctx, `SELECT `+appColumns+` FROM applications
		WHERE loan_id = $1 AND activity_commitment = $2`, loanID, activityCommitment)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error) {
	return r.getOne(ctx, `SELECT `+appColumns+` FROM applications
		WHERE loan_id = $1 AND activity_commitment = $2 FOR UPDATE`, loanID, activityCommitment)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.Application, error) {
	app, err := scanApplication(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return app, nil
}

func (r *PostgresRepository) ListByLoan(ctx context.Context, loanID uint64) ([]*models.Application, error) {
	return r.list(ctx, `SELECT `+appColumns+` FROM applications
		WHERE loan_id = $1 ORDER BY applied_at, activity_commitment`, loanID)
}

func (r *PostgresRepository) ListByLoanForUpdate(ctx context.Context, loanID uint64) ([]*models.Application, error) {
	return r.list(ctx, `SELECT `+appColumns+` FROM applications
		WHERE loan_id = $1 ORDER BY applied_at, activity_commitment FOR UPDATE`, loanID)
}

func (r *PostgresRepository) ListDefaultedUnrevealed(ctx context.Context, limit int) ([]*models.Application, error) {
	return r.list(ctx, `SELECT `+appColumns+` FROM applications a
		WHERE a.status = 'defaulted'
		AND NOT EXISTS (SELECT 1 FROM reveal_records r
			WHERE r.loan_id = a.loan_id AND r.activity_commitment = a.activity_commitment)
		ORDER BY a.defaulted_at LIMIT $1`, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Application, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update writes every mutable column of the application.
func (r *PostgresRepository) Update(ctx context.Context, app *models.Application) error {
	escrow, err := marshalEscrow(app.Escrow)
	if err != nil {
		return err
	}

	query := `UPDATE applications SET status = $3, approved_at = $4, repayment_deadline = $5,
		repaid_at = $6, defaulted_at = $7, escrow = $8, reveal_epoch = $9
		WHERE loan_id = $1 AND activity_commitment = $2`

	res, err := r.db.ExecContext(ctx, query, app.LoanID, app.ActivityCommitment, string(app.Status),
		app.ApprovedAt, app.RepaymentDeadline, app.RepaidAt, app.DefaultedAt, escrow, app.RevealEpoch)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(s scanner) (*models.Application, error) {
	var a models.Application
	var status string
	var escrow []byte
	if err := s.Scan(&a.LoanID, &a.ActivityCommitment, &a.Borrower, &a.ProofHash, &a.ClaimedScore, &status,
		&a.AppliedAt, &a.ApprovedAt, &a.RepaymentDeadline, &a.RepaidAt, &a.DefaultedAt, &escrow, &a.RevealEpoch); err != nil {
		return nil, err
	}
	a.Status = models.ApplicationStatus(status)
	if len(escrow) > 0 {
		a.Escrow = &models.EscrowRef{}
		if err := json.Unmarshal(escrow, a.Escrow); err != nil {
			return nil, fmt.Errorf("decode escrow: %w", err)
		}
	}
	return &a, nil
}

// marshalEscrow returns an untyped nil for a missing ref so the driver
// writes NULL.
func marshalEscrow(ref *models.EscrowRef) (any, error) {
	if ref == nil {
		return nil, nil
	}
	b, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("encode escrow: %w", err)
	}
	return b, nil
}
