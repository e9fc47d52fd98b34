// Package proof checks eligibility proofs submitted with loan applications.
package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/blobstore"
)

// Verifier reports whether the proof behind proofHash shows that the owner
// of activityCommitment has a score of at least threshold. A false result
// is a verdict; an error means the verdict could not be reached.
type Verifier interface {
	Verify(ctx context.Context, proofHash, activityCommitment string, threshold uint64) (bool, error)
}

type VerifierFunc func(ctx context.Context, proofHash, activityCommitment string, threshold uint64) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, proofHash, activityCommitment string, threshold uint64) (bool, error) {
	return f(ctx, proofHash, activityCommitment, threshold)
}

// PublicInputs is the public part of the eligibility circuit, in circuit
// order. Any circuit proved against the loaded key must start with these
// two public fields.
type PublicInputs struct {
	ActivityCommitment frontend.Variable `gnark:",public"`
	Threshold          frontend.Variable `gnark:",public"`
}

func (*PublicInputs) Define(frontend.API) error { return nil }

// LoadVerifyingKey reads a BN254 Groth16 verifying key written by
// VerifyingKey.WriteTo.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decode verifying key: %w", err)
	}
	return vk, nil
}

type Groth16Verifier struct {
	vk     groth16.VerifyingKey
	proofs blobstore.Store
	logger logging.Logger
}

func NewGroth16Verifier(vk groth16.VerifyingKey, proofs blobstore.Store, logger logging.Logger) *Groth16Verifier {
	return &Groth16Verifier{vk: vk, proofs: proofs, logger: logger.With("component", "proof")}
}

func (v *Groth16Verifier) Verify(ctx context.Context, proofHash, activityCommitment string, threshold uint64) (bool, error) {
	data, err := v.proofs.Get(ctx, proofHash)
	switch {
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrValidation), errors.Is(err, blobstore.ErrBlobCorrupt):
		v.logger.Info(ctx, "proof unavailable", "proof", proofHash, "error", err)
		return false, nil
	case err != nil:
		return false, err
	}

	ac, ok := parseCommitment(activityCommitment)
	if !ok {
		return false, nil
	}

	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(data)); err != nil {
		v.logger.Info(ctx, "malformed proof", "proof", proofHash, "error", err)
		return false, nil
	}

	w, err := frontend.NewWitness(&PublicInputs{
		ActivityCommitment: ac,
		Threshold:          new(big.Int).SetUint64(threshold),
	}, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("public witness: %w", err)
	}

	if err := groth16.Verify(p, v.vk, w); err != nil {
		v.logger.Info(ctx, "proof rejected", "proof", proofHash, "error", err)
		return false, nil
	}
	return true, nil
}

// parseCommitment accepts a 0x-prefixed hex field element.
func parseCommitment(s string) (*big.Int, bool) {
	digits, ok := strings.CutPrefix(strings.ToLower(s), "0x")
	if !ok || digits == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok || n.Cmp(ecc.BN254.ScalarField()) >= 0 {
		return nil, false
	}
	return n, true
}
