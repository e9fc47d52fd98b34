// Package trusteeapi holds the JSON bodies exchanged between the escrow
// node and trustee nodes. Share values travel hex encoded.
package trusteeapi

const (
	PathReceiveShare = "/receive-share"
	PathRequestShare = "/request-share"

	// ReasonEscrow authorizes storing a share.
	ReasonEscrow = "escrow"
)

type ReceiveShareRequest struct {
	LoanID             uint64 `json:"loanId" binding:"required"`
	ActivityCommitment string `json:"activityCommitment" binding:"required"`
	ShareIndex         int    `json:"shareIndex" binding:"required,min=1"`
	ShareValue         string `json:"shareValue" binding:"required,hexadecimal"`
}

type ReceiveShareResponse struct {
	Status string `json:"status"`
}

type RequestShareRequest struct {
	LoanID             uint64 `json:"loanId" binding:"required"`
	ActivityCommitment string `json:"activityCommitment" binding:"required"`
	Reason             string `json:"reason" binding:"required"`
}

type RequestShareResponse struct {
	ShareIndex int    `json:"shareIndex"`
	ShareValue string `json:"shareValue"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
