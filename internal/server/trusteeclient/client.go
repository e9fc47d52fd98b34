// Package trusteeclient talks to the trustee nodes: it hands out key shares
// after an identity is escrowed and asks for them back after a default.
package trusteeclient

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/auth"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/netx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trusteeapi"
)

var ErrInvalidShare = errors.New("share failed validation")

type Trustee struct {
	ID  string
	URL string
}

type Options struct {
	DistributeTimeout  time.Duration
	DistributeAttempts int
	DistributeBackoff  time.Duration
	CollectTimeout     time.Duration
	TokenValidity      time.Duration
	Secret             []byte
}

func DefaultOptions() Options {
	return Options{
		DistributeTimeout:  10 * time.Second,
		DistributeAttempts: 3,
		DistributeBackoff:  5 * time.Second,
		CollectTimeout:     30 * time.Second,
		TokenValidity:      5 * time.Minute,
	}
}

type Client struct {
	trustees []Trustee
	byID     map[string]Trustee
	opts     Options
	http     *http.Client
	logger   logging.Logger
}

func New(trustees []Trustee, opts Options, httpClient *http.Client, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.DistributeAttempts < 1 {
		opts.DistributeAttempts = 1
	}
	byID := make(map[string]Trustee, len(trustees))
	for _, t := range trustees {
		t.URL = strings.TrimRight(t.URL, "/")
		byID[t.ID] = t
	}
	list := make([]Trustee, len(trustees))
	for i, t := range trustees {
		list[i] = byID[t.ID]
	}
	return &Client{
		trustees: list,
		byID:     byID,
		opts:     opts,
		http:     httpClient,
		logger:   logger.With("component", "trusteeclient"),
	}
}

// Trustees returns the configured trustees in order.
func (c *Client) Trustees() []Trustee {
	return append([]Trustee(nil), c.trustees...)
}

type DistributionResult struct {
	Index     int
	TrusteeID string
	Attempts  int
	Err       error
}

// Failed returns the results that did not reach their trustee.
func Failed(results []DistributionResult) []DistributionResult {
	var out []DistributionResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// PartialError is nil when every share was delivered.
func PartialError(results []DistributionResult) error {
	failed := Failed(results)
	if len(failed) == 0 {
		return nil
	}
	ids := make([]string, len(failed))
	for i, r := range failed {
		ids[i] = r.TrusteeID
	}
	return fmt.Errorf("%w: %d of %d shares undelivered (%s)",
		common.ErrPartialDistribution, len(failed), len(results), strings.Join(ids, ", "))
}

// Distribute sends every share to its trustee concurrently. Each send is
// retried on its own; one trustee failing never fails the others.
func (c *Client) Distribute(ctx context.Context, shares []*models.Share) []DistributionResult {
	results := make([]DistributionResult, len(shares))

	var wg sync.WaitGroup
	for i, sh := range shares {
		wg.Add(1)
		go func(i int, sh *models.Share) {
			defer wg.Done()
			results[i] = c.send(ctx, sh)
		}(i, sh)
	}
	wg.Wait()

	return results
}

func (c *Client) send(ctx context.Context, sh *models.Share) DistributionResult {
	res := DistributionResult{Index: sh.Index, TrusteeID: sh.TrusteeID}

	t, ok := c.byID[sh.TrusteeID]
	if !ok {
		res.Err = fmt.Errorf("%w: unknown trustee %q", common.ErrValidation, sh.TrusteeID)
		return res
	}

	token, err := auth.GenerateReleaseToken(t.ID, sh.LoanID, sh.ActivityCommitment, trusteeapi.ReasonEscrow, 0, c.opts.Secret, c.opts.TokenValidity)
	if err != nil {
		res.Err = err
		return res
	}

	body := trusteeapi.ReceiveShareRequest{
		LoanID:             sh.LoanID,
		ActivityCommitment: sh.ActivityCommitment,
		ShareIndex:         sh.Index,
		ShareValue:         hex.EncodeToString(sh.Value),
	}

	b := retry.WithMaxRetries(uint64(c.opts.DistributeAttempts-1), retry.NewExponential(c.opts.DistributeBackoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		res.Attempts++
		actx, cancel := context.WithTimeout(ctx, c.opts.DistributeTimeout)
		defer cancel()

		var ack trusteeapi.ReceiveShareResponse
		err := netx.PostJSON(actx, c.http, t.URL+trusteeapi.PathReceiveShare, token, body, &ack)
		if err == nil {
			return nil
		}
		var se *netx.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		c.logger.Warn(ctx, "share delivery attempt failed", "trustee", t.ID, "attempt", res.Attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		var se *netx.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			res.Err = fmt.Errorf("trustee %s rejected share: %w", t.ID, err)
		} else {
			res.Err = fmt.Errorf("%w: trustee %s: %v", common.ErrTransientNetwork, t.ID, err)
		}
	}
	return res
}

type CollectedShare struct {
	TrusteeID string
	Index     int
	Value     []byte
}

type CollectRequest struct {
	LoanID             uint64
	ActivityCommitment string
	// Threshold is the number of new valid shares wanted.
	Threshold int
	// Exclude lists trustee ids that must not be asked.
	Exclude map[string]bool
	// Validate, if set, rejects shares that fail verification.
	Validate func(CollectedShare) bool
	Epoch    int64
}

type CollectResult struct {
	Shares     []CollectedShare
	Sufficient bool
	Failures   map[string]error
}

type collectOutcome struct {
	trusteeID string
	share     CollectedShare
	err       error
}

// Collect asks every non-excluded trustee in parallel and returns as soon as
// Threshold valid shares arrived or every trustee answered. Outstanding
// requests are cancelled on return.
func (c *Client) Collect(ctx context.Context, req CollectRequest) CollectResult {
	res := CollectResult{Failures: map[string]error{}}
	if req.Threshold <= 0 {
		res.Sufficient = true
		return res
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var targets []Trustee
	for _, t := range c.trustees {
		if !req.Exclude[t.ID] {
			targets = append(targets, t)
		}
	}

	// buffered so late answers never block after we return
	ch := make(chan collectOutcome, len(targets))
	for _, t := range targets {
		go func(t Trustee) {
			share, err := c.request(ctx, t, req)
			ch <- collectOutcome{trusteeID: t.ID, share: share, err: err}
		}(t)
	}

	for range targets {
		o := <-ch
		if o.err != nil {
			res.Failures[o.trusteeID] = o.err
			continue
		}
		if req.Validate != nil && !req.Validate(o.share) {
			res.Failures[o.trusteeID] = ErrInvalidShare
			c.logger.Warn(ctx, "trustee returned invalid share", "trustee", o.trusteeID, "loan_id", req.LoanID)
			continue
		}
		res.Shares = append(res.Shares, o.share)
		if len(res.Shares) >= req.Threshold {
			res.Sufficient = true
			break
		}
	}
	return res
}

func (c *Client) request(ctx context.Context, t Trustee, req CollectRequest) (CollectedShare, error) {
	token, err := auth.GenerateReleaseToken(t.ID, req.LoanID, req.ActivityCommitment, auth.ReasonDefault, req.Epoch, c.opts.Secret, c.opts.TokenValidity)
	if err != nil {
		return CollectedShare{}, err
	}

	rctx, cancel := context.WithTimeout(ctx, c.opts.CollectTimeout)
	defer cancel()

	var out trusteeapi.RequestShareResponse
	err = netx.PostJSON(rctx, c.http, t.URL+trusteeapi.PathRequestShare, token, trusteeapi.RequestShareRequest{
		LoanID:             req.LoanID,
		ActivityCommitment: req.ActivityCommitment,
		Reason:             auth.ReasonDefault,
	}, &out)
	if err != nil {
		var se *netx.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return CollectedShare{}, fmt.Errorf("trustee %s: %w", t.ID, common.ErrNotFound)
		}
		return CollectedShare{}, fmt.Errorf("%w: trustee %s: %v", common.ErrTransientNetwork, t.ID, err)
	}

	value, err := hex.DecodeString(out.ShareValue)
	if err != nil || out.ShareIndex <= 0 {
		return CollectedShare{}, fmt.Errorf("trustee %s: malformed share", t.ID)
	}
	return CollectedShare{TrusteeID: t.ID, Index: out.ShareIndex, Value: value}, nil
}
