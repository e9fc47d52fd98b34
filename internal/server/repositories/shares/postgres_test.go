package shares

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestCreateBatch(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	q := `(?s)^INSERT\s+INTO\s+shares.+ON\s+CONFLICT\s+\(loan_id,\s*activity_commitment,\s*share_index\)\s+DO\s+NOTHING$`
	mock.ExpectExec(q).WithArgs(uint64(1), "0xac", 1, []byte{1}, "t1", "pending").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(uint64(1), "0xac", 2, []byte{2}, "t2", "pending").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateBatch(context.Background(), []*models.Share{
		{LoanID: 1, ActivityCommitment: "0xac", Index: 1, Value: []byte{1}, TrusteeID: "t1", Status: models.ShareStatusPending},
		{LoanID: 1, ActivityCommitment: "0xac", Index: 2, Value: []byte{2}, TrusteeID: "t2", Status: models.ShareStatusPending},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBatch_StopsOnError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+shares`).WillReturnError(errors.New("disk full"))

	err := repo.CreateBatch(context.Background(), []*models.Share{{Index: 1}, {Index: 2}})
	require.ErrorContains(t, err, "db error: disk full")
}

func TestListByApplication(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	now := time.Now()
	mock.ExpectQuery(`(?s)FROM\s+shares\s+WHERE\s+loan_id\s*=\s*\$1\s+AND\s+activity_commitment\s*=\s*\$2\s+ORDER\s+BY\s+share_index$`).
		WithArgs(uint64(1), "0xac").
		WillReturnRows(sqlmock.NewRows([]string{"loan_id", "activity_commitment", "share_index", "share_value", "trustee_id", "status", "attempts", "updated_at"}).
			AddRow(int64(1), "0xac", int64(1), nil, "t1", "distributed", int64(1), now).
			AddRow(int64(1), "0xac", int64(2), []byte{9}, "t2", "collected", int64(2), now))

	got, err := repo.ListByApplication(context.Background(), 1, "0xac")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].Value)
	assert.Equal(t, models.ShareStatusCollected, got[1].Status)
	assert.Equal(t, []byte{9}, got[1].Value)
}

func TestStatusTransitions(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	ctx := context.Background()

	mock.ExpectExec(`(?s)^UPDATE\s+shares\s+SET\s+status\s*=\s*'distributed',\s*share_value\s*=\s*NULL,\s*attempts\s*=\s*\$4`).
		WithArgs(uint64(1), "0xac", 1, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+shares\s+SET\s+status\s*=\s*'failed',\s*attempts\s*=\s*\$4`).
		WithArgs(uint64(1), "0xac", 2, 3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)ON\s+CONFLICT.+DO\s+UPDATE\s+SET\s+share_value\s*=\s*EXCLUDED\.share_value,\s*status\s*=\s*'collected'`).
		WithArgs(uint64(1), "0xac", 3, []byte{7}, "t3").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+shares\s+SET\s+status\s*=\s*'consumed',\s*share_value\s*=\s*NULL.+AND\s+status\s*=\s*'collected'$`).
		WithArgs(uint64(1), "0xac").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`(?s)^UPDATE\s+shares\s+SET\s+status\s*=\s*'distributed',\s*share_value\s*=\s*NULL,\s*updated_at.+AND\s+status\s*=\s*'collected'$`).
		WithArgs(uint64(1), "0xac").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkDistributed(ctx, 1, "0xac", 1, 2))
	require.NoError(t, repo.MarkFailed(ctx, 1, "0xac", 2, 3))
	require.NoError(t, repo.SaveCollected(ctx, &models.Share{LoanID: 1, ActivityCommitment: "0xac", Index: 3, Value: []byte{7}, TrusteeID: "t3"}))
	require.NoError(t, repo.Consume(ctx, 1, "0xac"))
	require.NoError(t, repo.ResetCollected(ctx, 1, "0xac"))
	require.NoError(t, mock.ExpectationsWereMet())
}
