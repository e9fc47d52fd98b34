package events

import (
	"context"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

type Repository interface {
	// Append stores the event and fills in its sequence number.
	Append(ctx context.Context, ev *models.Event) error
	// Head returns the highest sequence number, or 0 for an empty log.
	Head(ctx context.Context) (uint64, error)
	// Range returns events with from < seq <= to in order.
	Range(ctx context.Context, from, to uint64) ([]*models.Event, error)
}
