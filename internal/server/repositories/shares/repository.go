package shares

import (
	"context"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

type Repository interface {
	// CreateBatch stores freshly split shares. Existing rows are left as is.
	CreateBatch(ctx context.Context, shares []*models.Share) error
	ListByApplication(ctx context.Context, loanID uint64, activityCommitment string) ([]*models.Share, error)
	// MarkDistributed records the trustee ack and wipes the local value.
	MarkDistributed(ctx context.Context, loanID uint64, activityCommitment string, index int, attempts int) error
	MarkFailed(ctx context.Context, loanID uint64, activityCommitment string, index int, attempts int) error
	// SaveCollected stores a share released back by its trustee.
	SaveCollected(ctx context.Context, share *models.Share) error
	// Consume wipes every collected value after a reveal.
	Consume(ctx context.Context, loanID uint64, activityCommitment string) error
	// ResetCollected forgets collected values so they are requested again.
	ResetCollected(ctx context.Context, loanID uint64, activityCommitment string) error
}
