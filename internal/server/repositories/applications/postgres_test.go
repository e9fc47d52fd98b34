package applications

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock, db
}

var cols = []string{"loan_id", "activity_commitment", "borrower", "proof_hash", "claimed_score", "status",
	"applied_at", "approved_at", "repayment_deadline", "repaid_at", "defaulted_at", "escrow", "reveal_epoch"}

func TestCreate_Success(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+applications\s*\(loan_id,.+reveal_epoch\)\s*VALUES\s*\(\$1,.+\$13\)$`).
		WithArgs(uint64(1), "0xac", "0xb", "sha256:p", uint64(750), "pending",
			int64(900), int64(0), int64(0), int64(0), int64(0), nil, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Application{
		LoanID: 1, ActivityCommitment: "0xac", Borrower: "0xb", ProofHash: "sha256:p", ClaimedScore: 750,
		Status: models.ApplicationPending, AppliedAt: 900, RevealEpoch: 1,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+applications`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &models.Application{LoanID: 1, ActivityCommitment: "0xac"})
	require.ErrorIs(t, err, common.ErrStateConflict)
}

func TestGetForUpdate_DecodesEscrow(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	escrow := []byte(`{"blobId":"sha256:abc","threshold":2,"total":3,"commitments":["aa","bb"]}`)
	mock.ExpectQuery(`(?s)FROM\s+applications\s+WHERE\s+loan_id\s*=\s*\$1\s+AND\s+activity_commitment\s*=\s*\$2\s+FOR\s+UPDATE$`).
		WithArgs(uint64(1), "0xac").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(1), "0xac", "0xb", "sha256:p", int64(750), "approved",
			int64(900), int64(1000), int64(1600), int64(0), int64(0), escrow, int64(1)))

	got, err := repo.GetForUpdate(context.Background(), 1, "0xac")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationApproved, got.Status)
	assert.Equal(t, int64(1600), got.RepaymentDeadline)
	require.NotNil(t, got.Escrow)
	assert.Equal(t, "sha256:abc", got.Escrow.BlobID)
	assert.Equal(t, 2, got.Escrow.Threshold)
	assert.Equal(t, []string{"aa", "bb"}, got.Escrow.Commitments)
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+applications`).WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 1, "0xnone")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListByLoan_NullEscrow(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM\s+applications\s+WHERE\s+loan_id\s*=\s*\$1\s+ORDER\s+BY\s+applied_at,\s*activity_commitment$`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "0xa1", "0xb", "h", int64(1), "pending", int64(1), int64(0), int64(0), int64(0), int64(0), nil, int64(1)).
			AddRow(int64(1), "0xa2", "0xc", "h", int64(1), "pending", int64(2), int64(0), int64(0), int64(0), int64(0), nil, int64(1)))

	got, err := repo.ListByLoan(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].Escrow)
}

func TestListDefaultedUnrevealed(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)WHERE\s+a\.status\s*=\s*'defaulted'\s+AND\s+NOT\s+EXISTS.+LIMIT\s+\$1$`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(3), "0xa", "0xb", "h", int64(1), "defaulted", int64(1), int64(2), int64(3), int64(0), int64(4), nil, int64(1)))

	got, err := repo.ListDefaultedUnrevealed(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].LoanID)
}

func TestUpdate(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^UPDATE\s+applications\s+SET\s+status\s*=\s*\$3,.+WHERE\s+loan_id\s*=\s*\$1\s+AND\s+activity_commitment\s*=\s*\$2$`).
		WithArgs(uint64(1), "0xac", "approved", int64(1000), int64(1600), int64(0), int64(0),
			[]byte(`{"blobId":"b","threshold":2,"total":3,"commitments":null}`), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), &models.Application{
		LoanID: 1, ActivityCommitment: "0xac", Status: models.ApplicationApproved,
		ApprovedAt: 1000, RepaymentDeadline: 1600, RevealEpoch: 1,
		Escrow: &models.EscrowRef{BlobID: "b", Threshold: 2, Total: 3},
	})
	require.NoError(t, err)
}

func TestUpdate_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE\s+applications`).WillReturnError(errors.New("db down"))

	err := repo.Update(context.Background(), &models.Application{LoanID: 1})
	require.ErrorContains(t, err, "db error")
}
