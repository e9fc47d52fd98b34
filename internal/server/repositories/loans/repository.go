package loans

import (
	"context"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, loan *models.Loan) (*models.Loan, error)
	GetByID(ctx context.Context, id uint64) (*models.Loan, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uint64) (*models.Loan, error)
	Update(ctx context.Context, loan *models.Loan) error
	List(ctx context.Context, limit, offset int) ([]*models.Loan, error)
}
