package repomanager

import (
	"context"
	"database/sql"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/applications"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/cursors"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/events"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/loans"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/reveals"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/shares"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path works inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Loans(db dbx.DBTX) loans.Repository
	Applications(db dbx.DBTX) applications.Repository
	Events(db dbx.DBTX) events.Repository
	Shares(db dbx.DBTX) shares.Repository
	Reveals(db dbx.DBTX) reveals.Repository
	Cursors(db dbx.DBTX) cursors.Repository
}
