package reveals

import (
	"context"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

type Repository interface {
	// InsertIfAbsent creates the record unless one exists for the same
	// (loan, activity commitment). It reports whether this call created it.
	InsertIfAbsent(ctx context.Context, rec *models.RevealRecord) (bool, error)
	Get(ctx context.Context, loanID uint64, activityCommitment string) (*models.RevealRecord, error)
	Exists(ctx context.Context, loanID uint64, activityCommitment string) (bool, error)
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	ListDeliveries(ctx context.Context, lender string) ([]*models.Delivery, error)
}
