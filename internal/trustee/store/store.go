// Package store persists the shares a trustee holds.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to PostgreSQL with gorm.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open trustee db: %w", err)
	}
	return db, nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&HeldShare{})
}

func normalize(ac string) string {
	return strings.ToLower(strings.TrimSpace(ac))
}

// Save stores a share. Re-sending the identical share is a no-op; a
// different share for the same target is ErrStateConflict.
func (s *Store) Save(ctx context.Context, loanID uint64, ac string, index int, value []byte) error {
	row := &HeldShare{
		LoanID:             loanID,
		ActivityCommitment: normalize(ac),
		ShareIndex:         index,
		Value:              value,
		ReceivedAt:         s.now(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}

		existing, err := find(tx, loanID, row.ActivityCommitment)
		if err != nil {
			return err
		}
		if existing.ShareIndex != index || !bytes.Equal(existing.Value, value) {
			return fmt.Errorf("%w: a different share is already held", common.ErrStateConflict)
		}
		return nil
	})
}

func find(db *gorm.DB, loanID uint64, ac string) (*HeldShare, error) {
	var out HeldShare
	err := db.Where("loan_id = ? AND activity_commitment = ?", loanID, ac).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) Get(ctx context.Context, loanID uint64, ac string) (*HeldShare, error) {
	return find(s.db.WithContext(ctx), loanID, normalize(ac))
}

// Release hands out the share once per epoch. The conditional update makes
// concurrent requests for the same epoch race on the row: exactly one wins,
// the rest get ErrStateConflict.
func (s *Store) Release(ctx context.Context, loanID uint64, ac string, epoch int64) (*HeldShare, error) {
	ac = normalize(ac)
	db := s.db.WithContext(ctx)

	now := s.now()
	res := db.Model(&HeldShare{}).
		Where("loan_id = ? AND activity_commitment = ?", loanID, ac).
		Where("released = ? OR released_epoch < ?", false, epoch).
		Updates(map[string]any{
			"released":       true,
			"released_epoch": epoch,
			"released_at":    now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	held, err := find(db, loanID, ac)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: share already released for epoch %d", common.ErrStateConflict, held.ReleasedEpoch)
	}
	return held, nil
}
