// Package ledger is the loan escrow state machine. Every mutation runs in a
// single transaction that locks the rows it touches, re-checks its
// preconditions there and appends its events to the same log.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/proof"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/repomanager"
)

const maxInterestBps = 10000

// MaxRepaymentPeriod is the longest repayment period an offer may carry,
// 100 years in seconds.
const MaxRepaymentPeriod int64 = 100 * 365 * 24 * 60 * 60

type OfferInput struct {
	AmountPerBorrower uint64
	TotalSlots        uint32
	InterestRateBps   uint32
	RepaymentPeriod   int64
	MinRequiredScore  uint64
}

// DefaultOutcome reports what CheckAndTriggerDefault did.
type DefaultOutcome struct {
	LoanID uint64 `json:"loanId"`
	// Defaulted lists the activity commitments defaulted by this call.
	Defaulted []string `json:"defaulted"`
	// AlreadyDefaulted is set when nothing was left to default.
	AlreadyDefaulted bool             `json:"alreadyDefaulted"`
	State            models.LoanState `json:"state"`
}

type Service struct {
	tx       dbx.Transactor
	repos    repomanager.RepositoryManager
	verifier proof.Verifier
	clock    Clock
	logger   logging.Logger
}

func NewService(tx dbx.Transactor, repos repomanager.RepositoryManager, verifier proof.Verifier, clock Clock, logger logging.Logger) *Service {
	return &Service{
		tx:       tx,
		repos:    repos,
		verifier: verifier,
		clock:    clock,
		logger:   logger.With("component", "ledger"),
	}
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func (s *Service) emit(ctx context.Context, db dbx.DBTX, typ models.EventType, loanID uint64, ac string, payload any, now int64) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	ev := &models.Event{Type: typ, LoanID: loanID, ActivityCommitment: ac, Payload: raw, EmittedAt: now}
	if err := s.repos.Events(db).Append(ctx, ev); err != nil {
		return fmt.Errorf("append %s: %w", typ, err)
	}
	return nil
}

// checkApplication asserts the approval invariants on a loaded row.
func checkApplication(loan *models.Loan, app *models.Application) error {
	if app.Status != models.ApplicationApproved && app.Status != models.ApplicationRepaid && app.Status != models.ApplicationDefaulted {
		return nil
	}
	if app.RepaymentDeadline == 0 {
		return fmt.Errorf("%w: application %d/%s is %s with no repayment deadline",
			common.ErrInvariantViolation, app.LoanID, app.ActivityCommitment, app.Status)
	}
	if loan != nil && app.RepaymentDeadline != app.ApprovedAt+loan.RepaymentPeriod {
		return fmt.Errorf("%w: application %d/%s deadline %d != approvedAt %d + period %d",
			common.ErrInvariantViolation, app.LoanID, app.ActivityCommitment, app.RepaymentDeadline, app.ApprovedAt, loan.RepaymentPeriod)
	}
	return nil
}

func (s *Service) CreateOffer(ctx context.Context, lender string, in OfferInput) (*models.Loan, error) {
	switch {
	case strings.TrimSpace(lender) == "":
		return nil, fmt.Errorf("%w: lender is required", common.ErrValidation)
	case in.AmountPerBorrower == 0:
		return nil, fmt.Errorf("%w: amount must be positive", common.ErrValidation)
	case in.TotalSlots == 0:
		return nil, fmt.Errorf("%w: at least one slot is required", common.ErrValidation)
	case in.InterestRateBps > maxInterestBps:
		return nil, fmt.Errorf("%w: interest rate above 100%%", common.ErrValidation)
	case in.RepaymentPeriod <= 0:
		return nil, fmt.Errorf("%w: repayment period must be positive", common.ErrValidation)
	case in.RepaymentPeriod > MaxRepaymentPeriod:
		return nil, fmt.Errorf("%w: repayment period above %d seconds", common.ErrValidation, MaxRepaymentPeriod)
	}

	var loan *models.Loan
	err := s.tx.WithinTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		now := s.clock.Now()
		created, err := s.repos.Loans(db).Create(ctx, &models.Loan{
			Lender:            strings.ToLower(strings.TrimSpace(lender)),
			AmountPerBorrower: in.AmountPerBorrower,
			TotalSlots:        in.TotalSlots,
			InterestRateBps:   in.InterestRateBps,
			RepaymentPeriod:   in.RepaymentPeriod,
			MinRequiredScore:  in.MinRequiredScore,
			State:             models.LoanPending,
			CreatedAt:         now,
		})
		if err != nil {
			return err
		}
		loan = created

		return s.emit(ctx, db, models.EventLoanCreated, loan.ID, "", LoanCreated{
			Lender:            loan.Lender,
			AmountPerBorrower: Uint(loan.AmountPerBorrower),
			TotalSlots:        Uint(loan.TotalSlots),
			InterestRateBps:   Uint(loan.InterestRateBps),
			RepaymentPeriod:   Uint(loan.RepaymentPeriod),
			MinRequiredScore:  Uint(loan.MinRequiredScore),
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "loan offered", "loan_id", loan.ID, "lender", loan.Lender, "slots", loan.TotalSlots)
	return loan, nil
}

// ApplyForLoan gates the application on the proof verifier. A claimed score
// below the loan minimum is rejected without consulting the verifier.
func (s *Service) ApplyForLoan(ctx context.Context, loanID uint64, borrower, activityCommitment, proofHash string, claimedScore uint64) (*models.Application, error) {
	ac := strings.ToLower(strings.TrimSpace(activityCommitment))
	if ac == "" || strings.TrimSpace(proofHash) == "" || strings.TrimSpace(borrower) == "" {
		return nil, fmt.Errorf("%w: borrower, activity commitment and proof hash are required", common.ErrValidation)
	}

	loan, err := s.repos.Loans(s.tx.Conn()).GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if claimedScore < loan.MinRequiredScore {
		return nil, fmt.Errorf("%w: claimed score %d below minimum %d", common.ErrProofInvalid, claimedScore, loan.MinRequiredScore)
	}

	ok, err := s.verifier.Verify(ctx, proofHash, ac, loan.MinRequiredScore)
	if err != nil {
		return nil, fmt.Errorf("%w: proof verifier: %v", common.ErrTransientNetwork, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: verifier rejected proof %s", common.ErrProofInvalid, proofHash)
	}

	var app *models.Application
	err = s.tx.WithinTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		loan, err := s.repos.Loans(db).GetByIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.State != models.LoanPending && loan.State != models.LoanActive {
			return fmt.Errorf("%w: loan %d is %s", common.ErrStateConflict, loanID, loan.State)
		}
		if !loan.HasFreeSlot() {
			return common.ErrSlotsExhausted
		}

		now := s.clock.Now()
		app = &models.Application{
			LoanID:             loanID,
			ActivityCommitment: ac,
			Borrower:           strings.ToLower(strings.TrimSpace(borrower)),
			ProofHash:          proofHash,
			ClaimedScore:       claimedScore,
			Status:             models.ApplicationPending,
			AppliedAt:          now,
		}
		if err := s.repos.Applications(db).Create(ctx, app); err != nil {
			return err
		}

		return s.emit(ctx, db, models.EventApplicationSubmitted, loanID, ac, ApplicationSubmitted{
			Borrower:     app.Borrower,
			ProofHash:    proofHash,
			ClaimedScore: Uint(claimedScore),
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "application submitted", "loan_id", loanID, "activity", ac)
	return app, nil
}

// TxHook runs extra writes inside a ledger transaction.
type TxHook func(ctx context.Context, db dbx.DBTX) error

// RecordIdentityEscrow attaches the vaulted identity to a pending
// application. Recording the same blob twice is a no-op and skips hooks.
func (s *Service) RecordIdentityEscrow(ctx context.Context, loanID uint64, activityCommitment string, ref models.EscrowRef, hooks ...TxHook) error {
	if ref.BlobID == "" || ref.Threshold < 2 || ref.Threshold > ref.Total || len(ref.Commitments) != ref.Threshold {
		return fmt.Errorf("%w: malformed escrow reference", common.ErrValidation)
	}
	ac := strings.ToLower(strings.TrimSpace(activityCommitment))

	return s.tx.WithinTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		app, err := s.repos.Applications(db).GetForUpdate(ctx, loanID, ac)
		if err != nil {
			return err
		}
		if app.Escrow != nil {
			if app.Escrow.BlobID == ref.BlobID {
				return nil
			}
			return fmt.Errorf("%w: identity already escrowed", common.ErrStateConflict)
		}
		if app.Status != models.ApplicationPending {
			return fmt.Errorf("%w: application is %s", common.ErrStateConflict, app.Status)
		}

		app.Escrow = &ref
		if err := s.repos.Applications(db).Update(ctx, app); err != nil {
			return err
		}
		for _, hook := range hooks {
			if err := hook(ctx, db); err != nil {
				return err
			}
		}
		return s.emit(ctx, db, models.EventIdentityEscrowed, loanID, ac, IdentityEscrowed{
			BlobID:    ref.BlobID,
			Threshold: Uint(ref.Threshold),
			Total:     Uint(ref.Total),
		}, s.clock.Now())
	})
}

func (s *Service) ApproveApplication(ctx context.Context, loanID uint64, lender, activityCommitment string) (*models.Application, error) {
	ac := strings.ToLower(strings.TrimSpace(activityCommitment))

	var app *models.Application
	err := s.tx.WithinTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		loan, err := s.repos.Loans(db).GetByIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if !sameAddress(loan.Lender, lender) {
			return fmt.Errorf("%w: only the lender may approve", common.ErrForbidden)
		}

		app, err = s.repos.Applications(db).GetForUpdate(ctx, loanID, ac)
		if err != nil {
			return err
		}
		if err := checkApplication(loan, app); err != nil {
			return err
		}
		if app.Status != models.ApplicationPending {
			return fmt.Errorf("%w: application is %s", common.ErrStateConflict, app.Status)
		}
		if app.Escrow == nil {
			return fmt.Errorf("%w: identity not escrowed", common.ErrStateConflict)
		}
		if loan.State != models.LoanPending && loan.State != models.LoanActive {
			return fmt.Errorf("%w: loan %d is %s", common.ErrStateConflict, loanID, loan.State)
		}
		if !loan.HasFreeSlot() {
			return common.ErrSlotsExhausted
		}

		now := s.clock.Now()
		if loan.RepaymentPeriod <= 0 || loan.RepaymentPeriod > math.MaxInt64-now {
			return fmt.Errorf("%w: loan %d repayment period %d overflows deadline",
				common.ErrInvariantViolation, loanID, loan.RepaymentPeriod)
		}
		app.Status = models.ApplicationApproved
		app.ApprovedAt = now
		app.RepaymentDeadline = now + loan.RepaymentPeriod

		loan.FilledSlots++
		if loan.State == models.LoanPending {
			loan.State = models.LoanActive
		}
		if loan.Borrower == "" {
			loan.Borrower = app.Borrower
		}

		if err := s.repos.Applications(db).Update(ctx, app); err != nil {
			return err
		}
		if err := s.repos.Loans(db).Update(ctx, loan); err != nil {
			return err
		}
		return s.emit(ctx, db, models.EventApplicationApproved, loanID, ac, ApplicationApproved{
			Lender:            loan.Lender,
			Borrower:          app.Borrower,
			ApprovedAt:        Uint(app.ApprovedAt),
			RepaymentDeadline: Uint(app.RepaymentDeadline),
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "application approved", "loan_id", loanID, "activity", ac, "deadline", app.RepaymentDeadline)
	return app, nil
}

// Repay is accepted while now <= deadline. CheckAndTriggerDefault accepts
// only now > deadline, so the two never both succeed at one instant.
func (s *Service) Repay(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error) {
	ac := strings.ToLower(strings.TrimSpace(activityCommitment))

	var app *models.Application
	err := s.tx.WithinTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		loan, err := s.repos.Loans(db).GetByIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		app, err = s.repos.Applications(db).GetForUpdate(ctx, loanID, ac)
		if err != nil {
			return err
		}
		if err := checkApplication(loan, app); err != nil {
			return err
		}

		now := s.clock.Now()
		switch app.Status {
		case models.ApplicationRepaid:
			return common.ErrAlreadyRepaid
		case models.ApplicationDefaulted:
			return common.ErrDeadlinePassed
		case models.ApplicationApproved:
		default:
			return fmt.Errorf("%w: application is %s", common.ErrStateConflict, app.Status)
		}
		if now > app.RepaymentDeadline {
			return common.ErrDeadlinePassed
		}

		app.Status = models.ApplicationRepaid
		app.RepaidAt = now
		if err := s.repos.Applications(db).Update(ctx, app); err != nil {
			return err
		}

		paid, err := s.settleIfComplete(ctx, db, loan)
		if err != nil {
			return err
		}
		return s.emit(ctx, db, models.EventLoanRepaid, loanID, ac, LoanRepaid{RepaidAt: Uint(now), LoanPaid: paid}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "application repaid", "loan_id", loanID, "activity", ac)
	return app, nil
}

// settleIfComplete moves the loan to paid once every slot is filled and
// every approved application is repaid.
func (s *Service) settleIfComplete(ctx context.Context, db dbx.DBTX, loan *models.Loan) (bool, error) {
	if loan.FilledSlots < loan.TotalSlots || !loan.State.CanTransitionTo(models.LoanPaid) {
		return false, nil
	}
	apps, err := s.repos.Applications(db).ListByLoanForUpdate(ctx, loan.ID)
	if err != nil {
		return false, err
	}
	for _, a := range apps {
		if a.Status == models.ApplicationApproved || a.Status == models.ApplicationDefaulted {
			return false, nil
		}
	}
	loan.State = models.LoanPaid
	if err := s.repos.Loans(db).Update(ctx, loan); err != nil {
		return false, err
	}
	return true, nil
}

// CheckAndTriggerDefault defaults every approved application of the loan
// whose deadline has passed, one LoanDefaulted event each. It may be called
// by anyone. When everything overdue is already defaulted it reports
// AlreadyDefaulted and changes nothing.
func (s *Service) CheckAndTriggerDefault(ctx context.Context, loanID uint64) (*DefaultOutcome, error) {
	out := &DefaultOutcome{LoanID: loanID}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		out.Defaulted = nil
		loan, err := s.repos.Loans(db).GetByIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		apps, err := s.repos.Applications(db).ListByLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		var notDue, repaid, defaulted int
		for _, app := range apps {
			if err := checkApplication(loan, app); err != nil {
				return err
			}
			switch app.Status {
			case models.ApplicationApproved:
				if now <= app.RepaymentDeadline {
					notDue++
					continue
				}
				app.Status = models.ApplicationDefaulted
				app.DefaultedAt = now
				if err := s.repos.Applications(db).Update(ctx, app); err != nil {
					return err
				}
				if err := s.emit(ctx, db, models.EventLoanDefaulted, loanID, app.ActivityCommitment, LoanDefaulted{
					Lender:            loan.Lender,
					DefaultedAt:       Uint(now),
					RepaymentDeadline: Uint(app.RepaymentDeadline),
				}, now); err != nil {
					return err
				}
				out.Defaulted = append(out.Defaulted, app.ActivityCommitment)
			case models.ApplicationRepaid:
				repaid++
			case models.ApplicationDefaulted:
				defaulted++
			}
		}

		if len(out.Defaulted) > 0 {
			if loan.State.CanTransitionTo(models.LoanDefaulted) {
				loan.State = models.LoanDefaulted
				if err := s.repos.Loans(db).Update(ctx, loan); err != nil {
					return err
				}
			}
			out.State = loan.State
			return nil
		}

		out.State = loan.State
		switch {
		case defaulted > 0:
			out.AlreadyDefaulted = true
			return nil
		case notDue > 0:
			return common.ErrDeadlineNotReached
		case repaid > 0:
			return common.ErrAlreadyRepaid
		default:
			return fmt.Errorf("%w: loan %d has no approved application", common.ErrStateConflict, loanID)
		}
	})
	if err != nil {
		return nil, err
	}

	if len(out.Defaulted) > 0 {
		s.logger.Warn(ctx, "loan defaulted", "loan_id", loanID, "applications", len(out.Defaulted))
	}
	return out, nil
}

func (s *Service) GetLoan(ctx context.Context, id uint64) (*models.Loan, error) {
	return s.repos.Loans(s.tx.Conn()).GetByID(ctx, id)
}

func (s *Service) ListLoans(ctx context.Context, limit, offset int) ([]*models.Loan, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repos.Loans(s.tx.Conn()).List(ctx, limit, offset)
}

func (s *Service) GetApplication(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error) {
	app, err := s.repos.Applications(s.tx.Conn()).Get(ctx, loanID, strings.ToLower(strings.TrimSpace(activityCommitment)))
	if err != nil {
		return nil, err
	}
	if err := checkApplication(nil, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *Service) ListApplications(ctx context.Context, loanID uint64) ([]*models.Application, error) {
	if _, err := s.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	apps, err := s.repos.Applications(s.tx.Conn()).ListByLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		if err := checkApplication(nil, app); err != nil {
			return nil, err
		}
	}
	return apps, nil
}

// Head returns the sequence number of the newest event.
func (s *Service) Head(ctx context.Context) (uint64, error) {
	return s.repos.Events(s.tx.Conn()).Head(ctx)
}

// Events returns the raw log entries with from < seq <= to. Use Decode
// for the typed form.
func (s *Service) Events(ctx context.Context, from, to uint64) ([]*models.Event, error) {
	if to <= from {
		return nil, nil
	}
	return s.repos.Events(s.tx.Conn()).Range(ctx, from, to)
}
