// Package loans provides PostgreSQL-backed storage for loan offers.
package loans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

const loanColumns = `id, lender, borrower, amount_per_borrower, total_slots, filled_slots,
	interest_rate_bps, repayment_period, min_required_score, state, created_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the loan and fills in the generated ID.
func (r *PostgresRepository) Create(ctx context.Context, loan *models.Loan) (*models.Loan, error) {
	query := `INSERT INTO loans (lender, borrower, amount_per_borrower, total_slots, filled_slots,
		interest_rate_bps, repayment_period, min_required_score, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		loan.Lender, loan.Borrower, loan.AmountPerBorrower, loan.TotalSlots, loan.FilledSlots,
		loan.InterestRateBps, loan.RepaymentPeriod, loan.MinRequiredScore, string(loan.State), loan.CreatedAt,
	).Scan(&loan.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return loan, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uint64) (*models.Loan, error) {
	return r.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id uint64) (*models.Loan, error) {
	return r.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, id uint64) (*models.Loan, error) {
	loan, err := scanLoan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return loan, nil
}

// Update writes the mutable columns. The caller holds the row lock.
func (r *PostgresRepository) Update(ctx context.Context, loan *models.Loan) error {
	query := `UPDATE loans SET borrower = $2, filled_slots = $3, state = $4 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, loan.ID, loan.Borrower, loan.FilledSlots, string(loan.State))
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

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(s scanner) (*models.Loan, error) {
	var l models.Loan
	var state string
	if err := s.Scan(&l.ID, &l.Lender, &l.Borrower, &l.AmountPerBorrower, &l.TotalSlots, &l.FilledSlots,
		&l.InterestRateBps, &l.RepaymentPeriod, &l.MinRequiredScore, &state, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.State = models.LoanState(state)
	return &l, nil
}
