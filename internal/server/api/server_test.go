package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/auth"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/kv"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/escrow"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/ledger"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/proof"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/registry"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/testutil/memrepo"
)

const (
	lenderWallet   = "0xaaaa"
	borrowerWallet = "0xbbbb"
	otherWallet    = "0xcccc"
	adminToken     = "admin-secret"
)

var lenderSecret = []byte("lender-secret")

// fakeEscrow records the escrow on the ledger without any trustees.
type fakeEscrow struct{ l *ledger.Service }

func (f fakeEscrow) EscrowIdentity(ctx context.Context, loanID uint64, ac string, identity []byte) (*escrow.Result, error) {
	ref := models.EscrowRef{BlobID: "blob-" + ac, Threshold: 2, Total: 3, Commitments: []string{"c0", "c1"}}
	if err := f.l.RecordIdentityEscrow(ctx, loanID, ac, ref); err != nil {
		return nil, err
	}
	return &escrow.Result{Ref: ref, Undelivered: []string{"t3"}}, nil
}

type retryCall struct {
	loanID uint64
	reset  bool
}

type fakeReveals struct {
	mu      sync.Mutex
	retries []retryCall
	inbox   map[string][]*models.Delivery
}

func (f *fakeReveals) Retry(_ context.Context, loanID uint64, reset bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, retryCall{loanID, reset})
	return nil
}

func (f *fakeReveals) Inbox(_ context.Context, lender string) ([]*models.Delivery, error) {
	return f.inbox[lender], nil
}

type fixture struct {
	srv     *Server
	ledger  *ledger.Service
	reg     *registry.Registry
	clock   *ledger.ManualClock
	reveals *fakeReveals
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	clock := ledger.NewManualClock(1000)
	accept := proof.VerifierFunc(func(context.Context, string, string, uint64) (bool, error) { return true, nil })
	l := ledger.NewService(store, store, accept, clock, logging.Nop{})
	reg := registry.New(kv.NewMemoryStore(), logging.Nop{})
	rv := &fakeReveals{inbox: map[string][]*models.Delivery{}}

	srv := NewServer(":0", l, fakeEscrow{l}, reg, rv, Secrets{LenderToken: lenderSecret, AdminToken: adminToken}, logging.Nop{})
	return &fixture{srv: srv, ledger: l, reg: reg, clock: clock, reveals: rv}
}

func (f *fixture) do(t *testing.T, method, path, wallet string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		req.Header.Set(WalletHeader, wallet)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// register gives wallet an identity and an activity commitment.
func (f *fixture) register(t *testing.T, wallet, ac string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/commitments/identity", wallet, map[string]any{"score": 700, "salt": "s-" + wallet})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/commitments/activity", wallet, map[string]any{"activityCommitment": ac})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (f *fixture) offer(t *testing.T) uint64 {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/loans", lenderWallet, map[string]any{
		"amountPerBorrower": "1000",
		"totalSlots":        2,
		"interestRateBps":   500,
		"repaymentPeriod":   "0x64",
		"minRequiredScore":  600,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var loan models.Loan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loan))
	return loan.ID
}

func apply(ac string) map[string]any {
	return map[string]any{
		"activityCommitment": ac,
		"proofHash":          "0xproof",
		"claimedScore":       "700",
		"identity":           map[string]string{"name": "Ada"},
	}
}

func loanPath(id uint64, suffix string) string {
	return "/loans/" + strconv.FormatUint(id, 10) + suffix
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateLoan_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/loans", "", map[string]any{"amountPerBorrower": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/loans", lenderWallet, map[string]any{"amountPerBorrower": 1, "totalSlots": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []FieldError{{Field: "RepaymentPeriod", Message: "is required"}}, resp.Details)

	rec = f.do(t, http.MethodPost, "/loans", lenderWallet, map[string]any{
		"amountPerBorrower": 1, "totalSlots": 1, "repaymentPeriod": 10, "interestRateBps": 20000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/loans", lenderWallet, map[string]any{
		"amountPerBorrower": 1, "totalSlots": 1, "repaymentPeriod": "0x7ffffffffffffff5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp = ErrorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Details, 1)
	assert.Equal(t, "RepaymentPeriod", resp.Details[0].Field)

	rec = f.do(t, http.MethodGet, "/loans/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/loans/42", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoanLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.offer(t)
	f.register(t, borrowerWallet, "0xac01")

	rec := f.do(t, http.MethodGet, "/loans?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"lender":"0xaaaa"`)

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications"), borrowerWallet, apply("0xAC01"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var applied applyResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.Equal(t, "0xac01", applied.Application.ActivityCommitment)
	require.NotNil(t, applied.Escrow)
	assert.Equal(t, "blob-0xac01", applied.Escrow.BlobID)
	assert.Equal(t, []string{"t3"}, applied.Escrow.Undelivered)

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications/0xac01/approve"), otherWallet, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications/0xac01/approve"), lenderWallet, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var app models.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &app))
	assert.Equal(t, models.ApplicationApproved, app.Status)
	assert.Equal(t, int64(1100), app.RepaymentDeadline)

	rec = f.do(t, http.MethodPost, loanPath(id, "/default-check"), "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications/0xac01/repay"), otherWallet, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications/0xac01/repay"), borrowerWallet, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications/0xac01/repay"), borrowerWallet, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, loanPath(id, "/applications"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var apps []models.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, models.ApplicationRepaid, apps[0].Status)
}

func TestApply_Ownership(t *testing.T) {
	f := newFixture(t)
	id := f.offer(t)
	f.register(t, borrowerWallet, "0xac01")
	f.register(t, otherWallet, "0xac02")

	rec := f.do(t, http.MethodPost, loanPath(id, "/applications"), borrowerWallet, apply("0xdead"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications"), borrowerWallet, apply("0xac02"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications"), borrowerWallet, map[string]any{"activityCommitment": "0xac01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// another wallet cannot take over the borrower's activity commitment
	rec = f.do(t, http.MethodPost, "/commitments/activity", otherWallet, map[string]any{"activityCommitment": "0xac01"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, loanPath(id, "/applications"), otherWallet, apply("0xac01"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPost, loanPath(id, "/applications"), borrowerWallet, apply("0xac01"))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestApply_ScoreBelowMinimum(t *testing.T) {
	f := newFixture(t)
	id := f.offer(t)
	f.register(t, borrowerWallet, "0xac01")

	body := apply("0xac01")
	body["claimedScore"] = 10
	rec := f.do(t, http.MethodPost, loanPath(id, "/applications"), borrowerWallet, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDefaultCheck(t *testing.T) {
	f := newFixture(t)
	id := f.offer(t)
	f.register(t, borrowerWallet, "0xac01")

	rec := f.do(t, http.MethodPost, loanPath(id, "/applications"), borrowerWallet, apply("0xac01"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, loanPath(id, "/applications/0xac01/approve"), lenderWallet, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f.clock.Set(1101)
	rec = f.do(t, http.MethodPost, loanPath(id, "/default-check"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out ledger.DefaultOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"0xac01"}, out.Defaulted)
	assert.Equal(t, models.LoanDefaulted, out.State)

	rec = f.do(t, http.MethodPost, loanPath(id, "/default-check"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alreadyDefaulted":true`)

	rec = f.do(t, http.MethodPost, loanPath(id, "/applications/0xac01/repay"), borrowerWallet, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCommitments(t *testing.T) {
	f := newFixture(t)
	f.register(t, borrowerWallet, "0xac01")

	rec := f.do(t, http.MethodGet, "/commitments/0xac01/identity", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	pair, err := f.reg.Pair(context.Background(), borrowerWallet)
	require.NoError(t, err)
	assert.Equal(t, pair.IdentityCommitment, body["identityCommitment"])

	rec = f.do(t, http.MethodGet, "/commitments/0xffff/identity", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/commitments/activity", borrowerWallet, map[string]any{"activityCommitment": "nothex"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevealRetry_Admin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/loans/7/reveal-retry", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/admin/loans/7/reveal-retry", "", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/loans/7/reveal-retry?reset=true", "", nil, "Authorization", "Bearer "+adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []retryCall{{loanID: 7, reset: true}}, f.reveals.retries)
}

func TestLenderInbox(t *testing.T) {
	f := newFixture(t)
	f.reveals.inbox[lenderWallet] = []*models.Delivery{{
		ID: "d1", LoanID: 3, ActivityCommitment: "0xac01", Lender: lenderWallet,
		Identity: []byte(`{"name":"Ada"}`), DeliveredAt: time.Unix(1700000000, 0),
	}}

	rec := f.do(t, http.MethodGet, "/lenders/me/reveals", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.GenerateLenderToken(lenderWallet, lenderSecret, time.Minute)
	require.NoError(t, err)
	rec = f.do(t, http.MethodGet, "/lenders/me/reveals", "", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0]["id"])
	assert.Equal(t, map[string]any{"name": "Ada"}, out[0]["identity"])
	assert.Equal(t, "2023-11-14T22:13:20Z", out[0]["deliveredAt"])
}
