package models

// CommitmentPair links a wallet to its permanent identity commitment and
// its latest activity commitment.
type CommitmentPair struct {
	WalletKey          string `json:"walletKey"`
	IdentityCommitment string `json:"identityCommitment,omitempty"`
	ActivityCommitment string `json:"activityCommitment,omitempty"`
}
