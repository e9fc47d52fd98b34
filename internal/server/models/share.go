package models

import "time"

type ShareStatus string

const (
	// ShareStatusPending: split, not yet acknowledged by its trustee.
	ShareStatusPending ShareStatus = "pending"
	// ShareStatusFailed: distribution gave up for now; value kept for retry.
	ShareStatusFailed ShareStatus = "failed"
	// ShareStatusDistributed: trustee acknowledged; local value wiped.
	ShareStatusDistributed ShareStatus = "distributed"
	// ShareStatusCollected: released back by the trustee after a default.
	ShareStatusCollected ShareStatus = "collected"
	// ShareStatusConsumed: used for a reveal; value wiped.
	ShareStatusConsumed ShareStatus = "consumed"
)

// Share is one point of a key split. Value is nil whenever the escrow node
// is not supposed to hold it.
type Share struct {
	LoanID             uint64      `json:"loanId"`
	ActivityCommitment string      `json:"activityCommitment"`
	Index              int         `json:"shareIndex"`
	Value              []byte      `json:"-"`
	TrusteeID          string      `json:"recipientTrusteeId"`
	Status             ShareStatus `json:"status"`
	Attempts           int         `json:"attempts"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}
