// Package reveal reconstructs and delivers the identity behind a defaulted
// application. Each application is revealed at most once: a Redis lock
// keeps attempts from overlapping and the reveal record insert decides the
// winner.
package reveal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/kv"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/blobstore"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/queue"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/repomanager"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/trusteeclient"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/vault"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/watcher"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/shared"
)

type Ledger interface {
	GetLoan(ctx context.Context, id uint64) (*models.Loan, error)
	GetApplication(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error)
	ListApplications(ctx context.Context, loanID uint64) ([]*models.Application, error)
}

type Collector interface {
	Collect(ctx context.Context, req trusteeclient.CollectRequest) trusteeclient.CollectResult
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job, delay time.Duration) (bool, error)
}

type Options struct {
	LockTTL     time.Duration
	RetryDelay  time.Duration
	BlobTimeout time.Duration
	BacklogSize int
}

func DefaultOptions() Options {
	return Options{
		LockTTL:     2 * time.Minute,
		RetryDelay:  30 * time.Second,
		BlobTimeout: 30 * time.Second,
		BacklogSize: 100,
	}
}

type Coordinator struct {
	ledger   Ledger
	tx       dbx.Transactor
	repos    repomanager.RepositoryManager
	trustees Collector
	blobs    blobstore.Store
	locks    kv.Store
	jobs     Enqueuer
	opts     Options
	logger   logging.Logger
	now      func() time.Time
}

func NewCoordinator(l Ledger, tx dbx.Transactor, repos repomanager.RepositoryManager, trustees Collector,
	blobs blobstore.Store, locks kv.Store, jobs Enqueuer, opts Options, logger logging.Logger) *Coordinator {
	return &Coordinator{
		ledger:   l,
		tx:       tx,
		repos:    repos,
		trustees: trustees,
		blobs:    blobs,
		locks:    locks,
		jobs:     jobs,
		opts:     opts,
		logger:   logger.With("module", "reveal"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func lockKey(loanID uint64, ac string) string {
	return "reveal-lock:" + strconv.FormatUint(loanID, 10) + ":" + ac
}

// retryable reports whether a failed attempt should be queued again.
func retryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !common.Permanent(err)
}

// RevealApplication delivers the identity of one defaulted application to
// the loan's lender. An application already revealed is a no-op.
func (c *Coordinator) RevealApplication(ctx context.Context, loanID uint64, activityCommitment string) error {
	ac := strings.ToLower(strings.TrimSpace(activityCommitment))
	err := c.attempt(ctx, loanID, ac)
	if retryable(err) {
		job := queue.Job{Kind: queue.KindReveal, LoanID: loanID, ActivityCommitment: ac}
		if _, qerr := c.jobs.Enqueue(ctx, job, c.opts.RetryDelay); qerr != nil {
			c.logger.Error(ctx, "failed to enqueue reveal retry", "loan_id", loanID, "activity", ac, "error", qerr)
		}
	}
	return err
}

func (c *Coordinator) revealed(ctx context.Context, loanID uint64, ac string) (bool, error) {
	return c.repos.Reveals(c.tx.Conn()).Exists(ctx, loanID, ac)
}

func (c *Coordinator) attempt(ctx context.Context, loanID uint64, ac string) error {
	done, err := c.revealed(ctx, loanID, ac)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	token := uuid.NewString()
	key := lockKey(loanID, ac)
	ok, err := c.locks.PutIfAbsent(ctx, key, token, c.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("%w: reveal lock: %v", common.ErrTransientNetwork, err)
	}
	if !ok {
		return common.ErrRevealInProgress
	}
	defer func() {
		if _, err := c.locks.DeleteIfEqual(context.WithoutCancel(ctx), key, token); err != nil {
			c.logger.Warn(ctx, "failed to release reveal lock", "loan_id", loanID, "error", err)
		}
	}()

	if done, err = c.revealed(ctx, loanID, ac); err != nil || done {
		return err
	}

	app, err := c.ledger.GetApplication(ctx, loanID, ac)
	if err != nil {
		return err
	}
	if app.Status != models.ApplicationDefaulted {
		return fmt.Errorf("%w: application is %s", common.ErrStateConflict, app.Status)
	}
	if app.Escrow == nil {
		return fmt.Errorf("%w: defaulted application %d/%s has no escrow", common.ErrInvariantViolation, loanID, ac)
	}
	ref := app.Escrow

	held, err := c.collected(ctx, loanID, ac)
	if err != nil {
		return err
	}
	fresh, err := c.gather(ctx, app, held)
	if err != nil {
		return err
	}
	all := append(held, fresh...)
	defer func() {
		for _, s := range all {
			shared.WipeByteArray(s.Value)
		}
	}()

	if len(all) < ref.Threshold {
		c.logger.Warn(ctx, "not enough shares to reveal yet", "loan_id", loanID, "activity", ac, "have", len(all), "need", ref.Threshold)
		return fmt.Errorf("%w: have %d of %d", common.ErrInsufficientShares, len(all), ref.Threshold)
	}

	identity, err := c.open(ctx, ref, all)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(identity)

	loan, err := c.ledger.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	return c.deliver(ctx, loan, ac, identity, all)
}

// collected returns the shares earlier attempts already pulled back.
func (c *Coordinator) collected(ctx context.Context, loanID uint64, ac string) ([]*models.Share, error) {
	list, err := c.repos.Shares(c.tx.Conn()).ListByApplication(ctx, loanID, ac)
	if err != nil {
		return nil, err
	}
	var out []*models.Share
	for _, sh := range list {
		if sh.Status == models.ShareStatusCollected && len(sh.Value) > 0 {
			out = append(out, sh)
		}
	}
	return out, nil
}

// gather asks the trustees not yet heard from for the missing shares and
// persists every valid one it gets.
func (c *Coordinator) gather(ctx context.Context, app *models.Application, held []*models.Share) ([]*models.Share, error) {
	ref := app.Escrow
	need := ref.Threshold - len(held)
	if need <= 0 {
		return nil, nil
	}

	exclude := make(map[string]bool, len(held))
	seen := make(map[int]bool, len(held))
	for _, sh := range held {
		exclude[sh.TrusteeID] = true
		seen[sh.Index] = true
	}

	res := c.trustees.Collect(ctx, trusteeclient.CollectRequest{
		LoanID:             app.LoanID,
		ActivityCommitment: app.ActivityCommitment,
		Threshold:          need,
		Exclude:            exclude,
		Epoch:              app.RevealEpoch,
		Validate: func(s trusteeclient.CollectedShare) bool {
			if seen[s.Index] || !vault.Verify(vault.Share{Index: s.Index, Value: s.Value}, ref.Threshold, ref.Commitments) {
				return false
			}
			seen[s.Index] = true
			return true
		},
	})
	for id, ferr := range res.Failures {
		c.logger.Warn(ctx, "trustee did not release share", "loan_id", app.LoanID, "trustee", id, "error", ferr)
	}

	repo := c.repos.Shares(c.tx.Conn())
	out := make([]*models.Share, 0, len(res.Shares))
	for _, s := range res.Shares {
		sh := &models.Share{
			LoanID:             app.LoanID,
			ActivityCommitment: app.ActivityCommitment,
			Index:              s.Index,
			Value:              s.Value,
			TrusteeID:          s.TrusteeID,
			Status:             models.ShareStatusCollected,
		}
		if err := repo.SaveCollected(ctx, sh); err != nil {
			return out, err
		}
		out = append(out, sh)
	}
	return out, nil
}

func (c *Coordinator) open(ctx context.Context, ref *models.EscrowRef, shares []*models.Share) ([]byte, error) {
	in := make([]vault.Share, len(shares))
	for i, sh := range shares {
		in[i] = vault.Share{Index: sh.Index, Value: sh.Value}
	}
	key, err := vault.Reconstruct(in, ref.Threshold, ref.Commitments)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	bctx, cancel := context.WithTimeout(ctx, c.opts.BlobTimeout)
	defer cancel()
	raw, err := c.blobs.Get(bctx, ref.BlobID)
	if err != nil {
		return nil, fmt.Errorf("load blob %s: %w", ref.BlobID, err)
	}

	var blob models.EncryptedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("%w: blob %s is not an encrypted identity", common.ErrDecryptionFailed, ref.BlobID)
	}
	identity, err := vault.Decrypt(blob, key)
	if err != nil {
		c.logger.Error(ctx, "AUDIT: identity decryption failed", "blob_id", ref.BlobID, "error", err)
		return nil, err
	}
	return identity, nil
}

func (c *Coordinator) deliver(ctx context.Context, loan *models.Loan, ac string, identity []byte, shares []*models.Share) error {
	used := make([]int, len(shares))
	for i, sh := range shares {
		used[i] = sh.Index
	}
	sort.Ints(used)
	now := c.now()

	err := c.tx.WithinTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		created, err := c.repos.Reveals(db).InsertIfAbsent(ctx, &models.RevealRecord{
			LoanID:             loan.ID,
			ActivityCommitment: ac,
			RevealedTo:         loan.Lender,
			RevealedAt:         now,
			SharesUsed:         used,
		})
		if err != nil {
			return err
		}
		if !created {
			return common.ErrAlreadyRevealed
		}
		if err := c.repos.Reveals(db).CreateDelivery(ctx, &models.Delivery{
			ID:                 uuid.NewString(),
			LoanID:             loan.ID,
			ActivityCommitment: ac,
			Lender:             loan.Lender,
			Identity:           identity,
			DeliveredAt:        now,
		}); err != nil {
			return err
		}
		return c.repos.Shares(db).Consume(ctx, loan.ID, ac)
	})
	if errors.Is(err, common.ErrAlreadyRevealed) {
		c.logger.Error(ctx, "AUDIT: potential double reveal prevented", "loan_id", loan.ID, "activity", ac)
		return err
	}
	if err != nil {
		return err
	}

	c.logger.Info(ctx, "AUDIT: identity revealed", "loan_id", loan.ID, "activity", ac, "lender", loan.Lender, "shares", used)
	return nil
}

// OnDefault reveals every defaulted, unrevealed application of the loan.
func (c *Coordinator) OnDefault(ctx context.Context, loanID uint64) error {
	apps, err := c.ledger.ListApplications(ctx, loanID)
	if err != nil {
		return err
	}
	var errs []error
	for _, app := range apps {
		if app.Status != models.ApplicationDefaulted {
			continue
		}
		if err := c.RevealApplication(ctx, loanID, app.ActivityCommitment); err != nil && !errors.Is(err, common.ErrRevealInProgress) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleJob runs a queued reveal retry.
func (c *Coordinator) HandleJob(ctx context.Context, job queue.Job) error {
	if job.ActivityCommitment == "" {
		return c.OnDefault(ctx, job.LoanID)
	}
	return c.attempt(ctx, job.LoanID, job.ActivityCommitment)
}

// Run consumes default notifications until events is closed or ctx ends.
func (c *Coordinator) Run(ctx context.Context, events <-chan watcher.DefaultEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			err := c.RevealApplication(ctx, ev.LoanID, ev.ActivityCommitment)
			switch {
			case err == nil:
			case errors.Is(err, common.ErrRevealInProgress):
				c.logger.Info(ctx, "reveal already running", "loan_id", ev.LoanID, "activity", ev.ActivityCommitment)
			default:
				c.logger.Warn(ctx, "reveal attempt failed", "loan_id", ev.LoanID, "activity", ev.ActivityCommitment, "error", err)
			}
		}
	}
}

// Backlog replays defaulted applications that have no reveal record, for
// defaults that happened while the node was down.
func (c *Coordinator) Backlog(ctx context.Context) (int, error) {
	apps, err := c.repos.Applications(c.tx.Conn()).ListDefaultedUnrevealed(ctx, c.opts.BacklogSize)
	if err != nil {
		return 0, err
	}
	revealed := 0
	for _, app := range apps {
		err := c.RevealApplication(ctx, app.LoanID, app.ActivityCommitment)
		if err == nil {
			revealed++
			continue
		}
		c.logger.Warn(ctx, "backlog reveal failed", "loan_id", app.LoanID, "activity", app.ActivityCommitment, "error", err)
	}
	return revealed, nil
}

// Retry re-attempts every defaulted, unrevealed application of the loan.
// With reset it drops the shares collected so far and bumps the release
// epoch so trustees hand their shares out again.
func (c *Coordinator) Retry(ctx context.Context, loanID uint64, reset bool) error {
	if reset {
		apps, err := c.ledger.ListApplications(ctx, loanID)
		if err != nil {
			return err
		}
		for _, app := range apps {
			if app.Status != models.ApplicationDefaulted {
				continue
			}
			if err := c.resetApplication(ctx, loanID, app.ActivityCommitment); err != nil {
				return err
			}
		}
	}
	return c.OnDefault(ctx, loanID)
}

func (c *Coordinator) resetApplication(ctx context.Context, loanID uint64, ac string) error {
	return c.tx.WithinTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		if done, err := c.repos.Reveals(db).Exists(ctx, loanID, ac); err != nil || done {
			return err
		}
		app, err := c.repos.Applications(db).GetForUpdate(ctx, loanID, ac)
		if err != nil {
			return err
		}
		app.RevealEpoch++
		if err := c.repos.Applications(db).Update(ctx, app); err != nil {
			return err
		}
		c.logger.Warn(ctx, "AUDIT: reveal reset", "loan_id", loanID, "activity", ac, "epoch", app.RevealEpoch)
		return c.repos.Shares(db).ResetCollected(ctx, loanID, ac)
	})
}

// Inbox lists the identities delivered to lender, oldest first.
func (c *Coordinator) Inbox(ctx context.Context, lender string) ([]*models.Delivery, error) {
	return c.repos.Reveals(c.tx.Conn()).ListDeliveries(ctx, strings.ToLower(strings.TrimSpace(lender)))
}
