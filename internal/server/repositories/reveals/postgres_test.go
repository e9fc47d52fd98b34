package reveals

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestInsertIfAbsent(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	q := `(?s)^INSERT\s+INTO\s+reveal_records.+ON\s+CONFLICT\s+\(loan_id,\s*activity_commitment\)\s+DO\s+NOTHING$`
	mock.ExpectExec(q).WithArgs(uint64(1), "0xac", "0xlender", at, []byte(`[1,3]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(uint64(1), "0xac", "0xlender", at, []byte(`[1,3]`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &models.RevealRecord{LoanID: 1, ActivityCommitment: "0xac", RevealedTo: "0xlender", RevealedAt: at, SharesUsed: []int{1, 3}}

	created, err := repo.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, created, "second insert must lose")
}

func TestGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Now().UTC()

	mock.ExpectQuery(`(?s)FROM\s+reveal_records\s+WHERE\s+loan_id\s*=\s*\$1\s+AND\s+activity_commitment\s*=\s*\$2$`).
		WithArgs(uint64(1), "0xac").
		WillReturnRows(sqlmock.NewRows([]string{"loan_id", "activity_commitment", "revealed_to", "revealed_at", "shares_used"}).
			AddRow(int64(1), "0xac", "0xlender", at, []byte(`[2,3]`)))
	mock.ExpectQuery(`FROM\s+reveal_records`).WillReturnError(sql.ErrNoRows)

	rec, err := repo.Get(context.Background(), 1, "0xac")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, rec.SharesUsed)

	_, err = repo.Get(context.Background(), 2, "0xno")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestExists(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`^SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+reveal_records`).
		WithArgs(uint64(1), "0xac").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.Exists(context.Background(), 1, "0xac")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeliveries(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+identity_deliveries\s*\(id,\s*loan_id,\s*activity_commitment,\s*lender,\s*identity,\s*delivered_at\)`).
		WithArgs("d-1", uint64(1), "0xac", "0xlender", []byte("alice"), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)FROM\s+identity_deliveries\s+WHERE\s+lender\s*=\s*\$1\s+ORDER\s+BY\s+delivered_at$`).
		WithArgs("0xlender").
		WillReturnRows(sqlmock.NewRows([]string{"id", "loan_id", "activity_commitment", "lender", "identity", "delivered_at"}).
			AddRow("d-1", int64(1), "0xac", "0xlender", []byte("alice"), at))

	require.NoError(t, repo.CreateDelivery(context.Background(), &models.Delivery{
		ID: "d-1", LoanID: 1, ActivityCommitment: "0xac", Lender: "0xlender", Identity: []byte("alice"), DeliveredAt: at,
	}))

	got, err := repo.ListDeliveries(context.Background(), "0xlender")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("alice"), got[0].Identity)
}
