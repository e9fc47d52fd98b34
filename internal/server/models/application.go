package models

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationApproved  ApplicationStatus = "approved"
	ApplicationRepaid    ApplicationStatus = "repaid"
	ApplicationDefaulted ApplicationStatus = "defaulted"
)

// EscrowRef points at the vaulted identity of an application: the blob
// holding the ciphertext and the Feldman commitments of its key shares.
type EscrowRef struct {
	BlobID      string   `json:"blobId"`
	Threshold   int      `json:"threshold"`
	Total       int      `json:"total"`
	Commitments []string `json:"commitments"`
}

// Application is a borrower's request against a loan, keyed by
// (LoanID, ActivityCommitment).
type Application struct {
	LoanID             uint64            `json:"loanId"`
	ActivityCommitment string            `json:"activityCommitment"`
	Borrower           string            `json:"borrower"`
	ProofHash          string            `json:"proofHash"`
	ClaimedScore       uint64            `json:"claimedScore"`
	Status             ApplicationStatus `json:"status"`
	AppliedAt          int64             `json:"appliedAt"`
	ApprovedAt         int64             `json:"approvedAt,omitempty"`
	RepaymentDeadline  int64             `json:"repaymentDeadline,omitempty"`
	RepaidAt           int64             `json:"repaidAt,omitempty"`
	DefaultedAt        int64             `json:"defaultedAt,omitempty"`
	Escrow             *EscrowRef        `json:"escrow,omitempty"`
	// RevealEpoch authorizes trustee releases; bumping it re-authorizes.
	RevealEpoch int64 `json:"revealEpoch"`
}
