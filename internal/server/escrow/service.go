// Package escrow vaults a borrower's identity: it seals and splits it, pins
// the ciphertext in the blob store, records the reference on the ledger and
// hands the key shares to the trustees.
package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/blobstore"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/ledger"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/queue"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/repomanager"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/trusteeclient"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/vault"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/shared"
)

type Ledger interface {
	RecordIdentityEscrow(ctx context.Context, loanID uint64, activityCommitment string, ref models.EscrowRef, hooks ...ledger.TxHook) error
}

type Distributor interface {
	Trustees() []trusteeclient.Trustee
	Distribute(ctx context.Context, shares []*models.Share) []trusteeclient.DistributionResult
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job, delay time.Duration) (bool, error)
}

// Result reports where an escrowed identity ended up. Undelivered lists
// trustees whose share is still held locally awaiting a retry.
type Result struct {
	Ref         models.EscrowRef
	Undelivered []string
}

type Service struct {
	ledger     Ledger
	blobs      blobstore.Store
	tx         dbx.Transactor
	repos      repomanager.RepositoryManager
	trustees   Distributor
	jobs       Enqueuer
	threshold  int
	retryDelay time.Duration
	logger     logging.Logger
}

func NewService(l Ledger, blobs blobstore.Store, tx dbx.Transactor, repos repomanager.RepositoryManager,
	trustees Distributor, jobs Enqueuer, threshold int, retryDelay time.Duration, logger logging.Logger) *Service {
	return &Service{
		ledger:     l,
		blobs:      blobs,
		tx:         tx,
		repos:      repos,
		trustees:   trustees,
		jobs:       jobs,
		threshold:  threshold,
		retryDelay: retryDelay,
		logger:     logger.With("module", "escrow"),
	}
}

// EscrowIdentity vaults identity for a pending application. The escrow
// reference and the undistributed shares are written in one transaction;
// distribution happens after commit and failures are queued for retry.
func (s *Service) EscrowIdentity(ctx context.Context, loanID uint64, activityCommitment string, identity []byte) (*Result, error) {
	if len(identity) == 0 {
		return nil, fmt.Errorf("%w: empty identity", common.ErrValidation)
	}
	ac := strings.ToLower(strings.TrimSpace(activityCommitment))

	trustees := s.trustees.Trustees()
	sealed, err := vault.SplitAndEncrypt(identity, s.threshold, len(trustees))
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, sh := range sealed.Shares {
			shared.WipeByteArray(sh.Value)
		}
	}()

	raw, err := json.Marshal(sealed.Blob)
	if err != nil {
		return nil, err
	}
	blobID, err := s.blobs.Put(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	ref := models.EscrowRef{
		BlobID:      blobID,
		Threshold:   s.threshold,
		Total:       len(trustees),
		Commitments: sealed.Commitments,
	}

	shares := make([]*models.Share, len(sealed.Shares))
	for i, sh := range sealed.Shares {
		shares[i] = &models.Share{
			LoanID:             loanID,
			ActivityCommitment: ac,
			Index:              sh.Index,
			Value:              sh.Value,
			TrusteeID:          trustees[sh.Index-1].ID,
			Status:             models.ShareStatusPending,
		}
	}

	err = s.ledger.RecordIdentityEscrow(ctx, loanID, ac, ref, func(ctx context.Context, db dbx.DBTX) error {
		return s.repos.Shares(db).CreateBatch(ctx, shares)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "identity escrowed", "loan_id", loanID, "activity", ac, "blob_id", blobID)

	undelivered := s.distribute(ctx, shares)
	return &Result{Ref: ref, Undelivered: undelivered}, nil
}

// RetryDistribution re-sends every share still held locally. It returns an
// ErrPartialDistribution error while any share remains undelivered.
func (s *Service) RetryDistribution(ctx context.Context, loanID uint64, activityCommitment string) error {
	ac := strings.ToLower(strings.TrimSpace(activityCommitment))
	all, err := s.repos.Shares(s.tx.Conn()).ListByApplication(ctx, loanID, ac)
	if err != nil {
		return err
	}

	var pending []*models.Share
	for _, sh := range all {
		if (sh.Status == models.ShareStatusPending || sh.Status == models.ShareStatusFailed) && len(sh.Value) > 0 {
			pending = append(pending, sh)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	results := s.deliver(ctx, pending)
	for _, sh := range pending {
		shared.WipeByteArray(sh.Value)
	}
	return trusteeclient.PartialError(results)
}

func (s *Service) distribute(ctx context.Context, shares []*models.Share) []string {
	results := s.deliver(ctx, shares)

	failed := trusteeclient.Failed(results)
	if len(failed) == 0 {
		return nil
	}

	ids := make([]string, len(failed))
	for i, r := range failed {
		ids[i] = r.TrusteeID
	}
	s.logger.Warn(ctx, "share distribution incomplete", "loan_id", shares[0].LoanID, "undelivered", strings.Join(ids, ","))

	job := queue.Job{Kind: queue.KindDistribute, LoanID: shares[0].LoanID, ActivityCommitment: shares[0].ActivityCommitment}
	if _, err := s.jobs.Enqueue(ctx, job, s.retryDelay); err != nil {
		s.logger.Error(ctx, "failed to enqueue distribution retry", "loan_id", job.LoanID, "error", err)
	}
	return ids
}

// deliver sends shares and records each outcome. A delivered share loses
// its local value.
func (s *Service) deliver(ctx context.Context, shares []*models.Share) []trusteeclient.DistributionResult {
	results := s.trustees.Distribute(ctx, shares)

	repo := s.repos.Shares(s.tx.Conn())
	for i, r := range results {
		sh := shares[i]
		attempts := sh.Attempts + r.Attempts
		var err error
		if r.Err == nil {
			err = repo.MarkDistributed(ctx, sh.LoanID, sh.ActivityCommitment, sh.Index, attempts)
		} else {
			err = repo.MarkFailed(ctx, sh.LoanID, sh.ActivityCommitment, sh.Index, attempts)
		}
		if err != nil {
			s.logger.Error(ctx, "failed to record share delivery", "loan_id", sh.LoanID, "share_index", sh.Index, "error", err)
		}
	}
	return results
}
