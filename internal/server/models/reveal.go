package models

import "time"

// RevealRecord marks an application's identity as disclosed. Its presence
// is the only authority for "already revealed".
type RevealRecord struct {
	LoanID             uint64    `json:"loanId"`
	ActivityCommitment string    `json:"activityCommitment"`
	RevealedTo         string    `json:"revealedTo"`
	RevealedAt         time.Time `json:"revealedAt"`
	SharesUsed         []int     `json:"sharesUsed"`
}

// Delivery is an identity placed in a lender's inbox.
type Delivery struct {
	ID                 string    `json:"id"`
	LoanID             uint64    `json:"loanId"`
	ActivityCommitment string    `json:"activityCommitment"`
	Lender             string    `json:"lender"`
	Identity           []byte    `json:"identity"`
	DeliveredAt        time.Time `json:"deliveredAt"`
}
