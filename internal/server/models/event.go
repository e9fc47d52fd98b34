package models

import "encoding/json"

type EventType string

const (
	EventLoanCreated          EventType = "LoanCreated"
	EventApplicationSubmitted EventType = "ApplicationSubmitted"
	EventIdentityEscrowed     EventType = "IdentityEscrowed"
	EventApplicationApproved  EventType = "ApplicationApproved"
	EventLoanRepaid           EventType = "LoanRepaid"
	EventLoanDefaulted        EventType = "LoanDefaulted"
)

// Event is a raw entry of the append-only ledger log. Seq plays the role
// of a block height.
type Event struct {
	Seq                uint64          `json:"seq"`
	Type               EventType       `json:"type"`
	LoanID             uint64          `json:"loanId"`
	ActivityCommitment string          `json:"activityCommitment,omitempty"`
	Payload            json.RawMessage `json:"payload"`
	EmittedAt          int64           `json:"emittedAt"`
}
