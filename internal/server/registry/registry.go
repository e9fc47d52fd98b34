// Package registry maps wallets to identity and activity commitments.
//
// Keys:
//
//	identity:<wallet>   permanent identity commitment
//	activity:<wallet>   latest activity commitment
//	reverse:<activity>  wallet that registered the activity commitment
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/kv"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

type Registry struct {
	store  kv.Store
	logger logging.Logger
}

func New(store kv.Store, logger logging.Logger) *Registry {
	return &Registry{store: store, logger: logger.With("component", "registry")}
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// RegisterIdentity returns the wallet's identity commitment, creating it on
// first call. Later calls return the stored value whatever the material.
func (r *Registry) RegisterIdentity(ctx context.Context, walletKey string, m IdentityMaterial) (string, error) {
	wallet := normalize(walletKey)
	if wallet == "" || m.Salt == "" {
		return "", fmt.Errorf("%w: wallet and salt are required", common.ErrValidation)
	}

	existing, err := r.store.Get(ctx, "identity:"+wallet)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return "", fmt.Errorf("read identity: %w", err)
	}

	commitment, err := deriveIdentity(wallet, m)
	if err != nil {
		return "", fmt.Errorf("derive identity: %w", err)
	}
	stored, err := r.store.PutIfAbsent(ctx, "identity:"+wallet, commitment, 0)
	if err != nil {
		return "", fmt.Errorf("store identity: %w", err)
	}
	if !stored {
		// lost the race; the winner's value stands
		return r.store.Get(ctx, "identity:"+wallet)
	}

	r.logger.Info(ctx, "identity registered", "wallet", wallet)
	return commitment, nil
}

// RegisterActivity replaces the wallet's activity commitment. Earlier
// activity commitments keep resolving to the same wallet. A commitment
// already claimed by another wallet is rejected with ErrStateConflict.
func (r *Registry) RegisterActivity(ctx context.Context, walletKey, activityCommitment string) error {
	wallet := normalize(walletKey)
	ac := normalize(activityCommitment)
	if wallet == "" || ac == "" {
		return fmt.Errorf("%w: wallet and activity commitment are required", common.ErrValidation)
	}

	stored, err := r.store.PutIfAbsent(ctx, "reverse:"+ac, wallet, 0)
	if err != nil {
		return fmt.Errorf("store reverse index: %w", err)
	}
	if !stored {
		owner, err := r.store.Get(ctx, "reverse:"+ac)
		if err != nil {
			return fmt.Errorf("read reverse index: %w", err)
		}
		if owner != wallet {
			r.logger.Warn(ctx, "activity commitment claimed by another wallet", "wallet", wallet, "activity", ac)
			return fmt.Errorf("%w: activity commitment belongs to another wallet", common.ErrStateConflict)
		}
	}
	if err := r.store.Put(ctx, "activity:"+wallet, ac); err != nil {
		return fmt.Errorf("store activity: %w", err)
	}
	return nil
}

// Resolve returns the identity commitment behind an activity commitment.
// An unknown commitment is reported with found=false and no error.
func (r *Registry) Resolve(ctx context.Context, activityCommitment string) (string, bool, error) {
	wallet, err := r.store.Get(ctx, "reverse:"+normalize(activityCommitment))
	if errors.Is(err, common.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read reverse index: %w", err)
	}

	identity, err := r.store.Get(ctx, "identity:"+wallet)
	if errors.Is(err, common.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read identity: %w", err)
	}
	return identity, true, nil
}

// Pair returns both commitments currently held for a wallet.
func (r *Registry) Pair(ctx context.Context, walletKey string) (*models.CommitmentPair, error) {
	wallet := normalize(walletKey)
	p := &models.CommitmentPair{WalletKey: wallet}

	var err error
	if p.IdentityCommitment, err = r.store.Get(ctx, "identity:"+wallet); err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if p.ActivityCommitment, err = r.store.Get(ctx, "activity:"+wallet); err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if p.IdentityCommitment == "" && p.ActivityCommitment == "" {
		return nil, common.ErrNotFound
	}
	return p, nil
}
