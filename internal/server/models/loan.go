// Package models defines the escrow node's persisted records.
package models

// LoanState is the loan-level lifecycle. Transitions only move forward.
type LoanState string

const (
	LoanPending   LoanState = "pending"
	LoanActive    LoanState = "active"
	LoanPaid      LoanState = "paid"
	LoanDefaulted LoanState = "defaulted"
)

var loanStateRank = map[LoanState]int{
	LoanPending:   0,
	LoanActive:    1,
	LoanPaid:      2,
	LoanDefaulted: 2,
}

// CanTransitionTo reports whether next is a legal successor of s. Paid and
// Defaulted are both terminal.
func (s LoanState) CanTransitionTo(next LoanState) bool {
	from, ok := loanStateRank[s]
	if !ok {
		return false
	}
	to, ok := loanStateRank[next]
	if !ok {
		return false
	}
	if s == LoanPaid || s == LoanDefaulted {
		return false
	}
	return to > from
}

// Loan is a lender's offer. Amounts are in the smallest currency unit,
// timestamps and RepaymentPeriod are ledger-clock seconds.
type Loan struct {
	ID                uint64    `json:"id"`
	Lender            string    `json:"lender"`
	Borrower          string    `json:"borrower,omitempty"`
	AmountPerBorrower uint64    `json:"amountPerBorrower"`
	TotalSlots        uint32    `json:"totalSlots"`
	FilledSlots       uint32    `json:"filledSlots"`
	InterestRateBps   uint32    `json:"interestRateBps"`
	RepaymentPeriod   int64     `json:"repaymentPeriod"`
	MinRequiredScore  uint64    `json:"minRequiredScore"`
	State             LoanState `json:"state"`
	CreatedAt         int64     `json:"createdAt"`
}

func (l *Loan) HasFreeSlot() bool {
	return l.FilledSlots < l.TotalSlots
}
