package trusteeclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/auth"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trusteeapi"
)

var secret = []byte("trustee-secret")

func testOptions() Options {
	o := DefaultOptions()
	o.DistributeBackoff = time.Millisecond
	o.DistributeTimeout = 200 * time.Millisecond
	o.CollectTimeout = 300 * time.Millisecond
	o.Secret = secret
	return o
}

// trusteeServer answers receive-share with the given status sequence (the
// last one repeats) and request-share with share.
func trusteeServer(t *testing.T, id string, statuses []int, share *trusteeapi.RequestShareResponse, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))

		tok := r.Header.Get("Authorization")[len("Bearer "):]
		claims, err := auth.ParseReleaseToken(tok, secret, id)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		switch r.URL.Path {
		case trusteeapi.PathReceiveShare:
			assert.Equal(t, trusteeapi.ReasonEscrow, claims.Reason)
			status := statuses[min(n, len(statuses))-1]
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(trusteeapi.ReceiveShareResponse{Status: "stored"})
		case trusteeapi.PathRequestShare:
			assert.Equal(t, auth.ReasonDefault, claims.Reason)
			if share == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(share)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func share(idx int, trustee string) *models.Share {
	return &models.Share{LoanID: 1, ActivityCommitment: "0xac", Index: idx, Value: []byte{byte(idx)}, TrusteeID: trustee}
}

func TestDistribute(t *testing.T) {
	ok, okCalls := trusteeServer(t, "t1", []int{200}, nil, 0)
	flaky, flakyCalls := trusteeServer(t, "t2", []int{503, 200}, nil, 0)
	rejecting, rejectCalls := trusteeServer(t, "t3", []int{409}, nil, 0)

	c := New([]Trustee{{"t1", ok.URL}, {"t2", flaky.URL + "/"}, {"t3", rejecting.URL}}, testOptions(), nil, logging.Nop{})

	results := c.Distribute(context.Background(), []*models.Share{share(1, "t1"), share(2, "t2"), share(3, "t3")})
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, int32(1), okCalls.Load())

	assert.NoError(t, results[1].Err)
	assert.Equal(t, 2, results[1].Attempts)
	assert.Equal(t, int32(2), flakyCalls.Load())

	require.Error(t, results[2].Err)
	assert.Equal(t, 1, results[2].Attempts, "4xx is not retried")
	assert.Equal(t, int32(1), rejectCalls.Load())

	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "t3", failed[0].TrusteeID)
	assert.ErrorIs(t, PartialError(results), common.ErrPartialDistribution)
	assert.NoError(t, PartialError(results[:2]))
}

func TestDistribute_GivesUpAfterMaxAttempts(t *testing.T) {
	down, calls := trusteeServer(t, "t1", []int{500}, nil, 0)
	c := New([]Trustee{{"t1", down.URL}}, testOptions(), nil, logging.Nop{})

	results := c.Distribute(context.Background(), []*models.Share{share(1, "t1")})
	assert.ErrorIs(t, results[0].Err, common.ErrTransientNetwork)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDistribute_PerAttemptTimeout(t *testing.T) {
	slow, _ := trusteeServer(t, "t1", []int{200}, nil, time.Second)
	opts := testOptions()
	opts.DistributeTimeout = 30 * time.Millisecond
	opts.DistributeAttempts = 2
	c := New([]Trustee{{"t1", slow.URL}}, opts, nil, logging.Nop{})

	start := time.Now()
	results := c.Distribute(context.Background(), []*models.Share{share(1, "t1")})
	assert.ErrorIs(t, results[0].Err, common.ErrTransientNetwork)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestDistribute_UnknownTrustee(t *testing.T) {
	c := New(nil, testOptions(), nil, logging.Nop{})
	results := c.Distribute(context.Background(), []*models.Share{share(1, "ghost")})
	assert.ErrorIs(t, results[0].Err, common.ErrValidation)
}

func released(idx int) *trusteeapi.RequestShareResponse {
	return &trusteeapi.RequestShareResponse{ShareIndex: idx, ShareValue: hex.EncodeToString([]byte{byte(idx)})}
}

func TestCollect_StopsAtThreshold(t *testing.T) {
	a, _ := trusteeServer(t, "t1", nil, released(1), 0)
	b, _ := trusteeServer(t, "t2", nil, released(2), 0)
	slow, _ := trusteeServer(t, "t3", nil, released(3), 5*time.Second)

	opts := testOptions()
	opts.CollectTimeout = 10 * time.Second
	c := New([]Trustee{{"t1", a.URL}, {"t2", b.URL}, {"t3", slow.URL}}, opts, nil, logging.Nop{})

	start := time.Now()
	res := c.Collect(context.Background(), CollectRequest{LoanID: 1, ActivityCommitment: "0xac", Threshold: 2, Epoch: 1})
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, res.Sufficient)
	require.Len(t, res.Shares, 2)
	idx := map[int]bool{res.Shares[0].Index: true, res.Shares[1].Index: true}
	assert.Equal(t, map[int]bool{1: true, 2: true}, idx)
}

func TestCollect_Insufficient(t *testing.T) {
	a, _ := trusteeServer(t, "t1", nil, released(1), 0)
	missing, _ := trusteeServer(t, "t2", nil, nil, 0)
	hung, _ := trusteeServer(t, "t3", nil, released(3), 5*time.Second)

	c := New([]Trustee{{"t1", a.URL}, {"t2", missing.URL}, {"t3", hung.URL}}, testOptions(), nil, logging.Nop{})

	start := time.Now()
	res := c.Collect(context.Background(), CollectRequest{LoanID: 1, ActivityCommitment: "0xac", Threshold: 2})
	assert.Less(t, time.Since(start), 2*time.Second, "bounded by the per-request timeout")

	assert.False(t, res.Sufficient)
	assert.Len(t, res.Shares, 1)
	assert.ErrorIs(t, res.Failures["t2"], common.ErrNotFound)
	assert.ErrorIs(t, res.Failures["t3"], common.ErrTransientNetwork)
}

func TestCollect_ExcludeAndValidate(t *testing.T) {
	a, aCalls := trusteeServer(t, "t1", nil, released(1), 0)
	b, _ := trusteeServer(t, "t2", nil, released(2), 0)
	d, _ := trusteeServer(t, "t3", nil, released(3), 0)

	c := New([]Trustee{{"t1", a.URL}, {"t2", b.URL}, {"t3", d.URL}}, testOptions(), nil, logging.Nop{})

	res := c.Collect(context.Background(), CollectRequest{
		LoanID: 1, ActivityCommitment: "0xac", Threshold: 2,
		Exclude:  map[string]bool{"t1": true},
		Validate: func(s CollectedShare) bool { return s.Index != 3 },
	})
	assert.Equal(t, int32(0), aCalls.Load())
	assert.False(t, res.Sufficient)
	require.Len(t, res.Shares, 1)
	assert.Equal(t, 2, res.Shares[0].Index)
	assert.ErrorIs(t, res.Failures["t3"], ErrInvalidShare)
}

func TestCollect_ZeroThreshold(t *testing.T) {
	c := New(nil, testOptions(), nil, logging.Nop{})
	res := c.Collect(context.Background(), CollectRequest{Threshold: 0})
	assert.True(t, res.Sufficient)
}
