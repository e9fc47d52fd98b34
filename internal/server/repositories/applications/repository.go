package applications

import (
	"context"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

type Repository interface {
	// Create fails with common.ErrStateConflict if the key already exists.
	Create(ctx context.Context, app *models.Application) error
	Get(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error)
	GetForUpdate(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error)
	ListByLoan(ctx context.Context, loanID uint64) ([]*models.Application, error)
	ListByLoanForUpdate(ctx context.Context, loanID uint64) ([]*models.Application, error)
	// ListDefaultedUnrevealed returns defaulted applications with no reveal record.
	ListDefaultedUnrevealed(ctx context.Context, limit int) ([]*models.Application, error)
	Update(ctx context.Context, app *models.Application) error
}
