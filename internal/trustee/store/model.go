package store

import "time"

// HeldShare is one Shamir share held for one (loan, activity commitment).
// ReleasedEpoch is the last reveal epoch the share was handed out for.
type HeldShare struct {
	ID                 uint   `gorm:"primaryKey"`
	LoanID             uint64 `gorm:"uniqueIndex:idx_held_share_target;not null"`
	ActivityCommitment string `gorm:"uniqueIndex:idx_held_share_target;size:130;not null"`
	ShareIndex         int    `gorm:"not null"`
	Value              []byte `gorm:"not null"`
	Released           bool   `gorm:"not null;default:false"`
	ReleasedEpoch      int64  `gorm:"not null;default:0"`
	ReceivedAt         time.Time
	ReleasedAt         *time.Time
}

func (HeldShare) TableName() string { return "held_shares" }
