package cursors

import "context"

// Repository persists named read positions over the ledger event log.
type Repository interface {
	// Load returns 0 for an unknown name.
	Load(ctx context.Context, name string) (uint64, error)
	Save(ctx context.Context, name string, position uint64) error
}
