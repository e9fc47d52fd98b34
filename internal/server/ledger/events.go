package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

// Envelope is the part every decoded event shares.
type Envelope struct {
	Seq                uint64
	Type               models.EventType
	LoanID             uint64
	ActivityCommitment string
	EmittedAt          int64
}

func (e Envelope) Header() Envelope { return e }

// TypedEvent is a ledger event with its payload decoded.
type TypedEvent interface {
	Header() Envelope
}

type LoanCreated struct {
	Envelope `json:"-"`

	Lender            string `json:"lender"`
	AmountPerBorrower Uint   `json:"amountPerBorrower"`
	TotalSlots        Uint   `json:"totalSlots"`
	InterestRateBps   Uint   `json:"interestRateBps"`
	RepaymentPeriod   Uint   `json:"repaymentPeriod"`
	MinRequiredScore  Uint   `json:"minRequiredScore"`
}

type ApplicationSubmitted struct {
	Envelope `json:"-"`

	Borrower     string `json:"borrower"`
	ProofHash    string `json:"proofHash"`
	ClaimedScore Uint   `json:"claimedScore"`
}

type IdentityEscrowed struct {
	Envelope `json:"-"`

	BlobID    string `json:"blobId"`
	Threshold Uint   `json:"threshold"`
	Total     Uint   `json:"total"`
}

type ApplicationApproved struct {
	Envelope `json:"-"`

	Lender            string `json:"lender"`
	Borrower          string `json:"borrower"`
	ApprovedAt        Uint   `json:"approvedAt"`
	RepaymentDeadline Uint   `json:"repaymentDeadline"`
}

type LoanRepaid struct {
	Envelope `json:"-"`

	RepaidAt Uint `json:"repaidAt"`
	LoanPaid bool `json:"loanPaid"`
}

type LoanDefaulted struct {
	Envelope `json:"-"`

	Lender            string `json:"lender"`
	DefaultedAt       Uint   `json:"defaultedAt"`
	RepaymentDeadline Uint   `json:"repaymentDeadline"`
}

// Decode turns a raw log entry into its typed form. Numeric fields go
// through Uint, so payloads written by older or foreign producers with
// string or hex numbers decode the same way.
func Decode(ev *models.Event) (TypedEvent, error) {
	env := Envelope{
		Seq:                ev.Seq,
		Type:               ev.Type,
		LoanID:             ev.LoanID,
		ActivityCommitment: ev.ActivityCommitment,
		EmittedAt:          ev.EmittedAt,
	}

	var out TypedEvent
	var target any
	switch ev.Type {
	case models.EventLoanCreated:
		e := &LoanCreated{Envelope: env}
		out, target = e, e
	case models.EventApplicationSubmitted:
		e := &ApplicationSubmitted{Envelope: env}
		out, target = e, e
	case models.EventIdentityEscrowed:
		e := &IdentityEscrowed{Envelope: env}
		out, target = e, e
	case models.EventApplicationApproved:
		e := &ApplicationApproved{Envelope: env}
		out, target = e, e
	case models.EventLoanRepaid:
		e := &LoanRepaid{Envelope: env}
		out, target = e, e
	case models.EventLoanDefaulted:
		e := &LoanDefaulted{Envelope: env}
		out, target = e, e
	default:
		return nil, fmt.Errorf("unknown event type %q at seq %d", ev.Type, ev.Seq)
	}

	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, target); err != nil {
			return nil, fmt.Errorf("decode %s at seq %d: %w", ev.Type, ev.Seq, err)
		}
	}
	return out, nil
}
