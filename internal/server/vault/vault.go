// Package vault encrypts an identity payload under a one-time key and
// splits that key into Feldman-verifiable threshold shares.
package vault

import (
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/bnb-chain/tss-lib/v2/crypto"
	"github.com/bnb-chain/tss-lib/v2/crypto/vss"
	"github.com/bnb-chain/tss-lib/v2/tss"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/cryptox"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/shared"
)

const (
	scalarSize = 32
	kdfInfo    = "identity-vault/v1"
)

func curve() elliptic.Curve { return tss.S256() }

// Share is one evaluation point of the key polynomial.
type Share struct {
	Index int    `json:"index"`
	Value []byte `json:"value"`
}

// Sealed is the result of SplitAndEncrypt.
type Sealed struct {
	Blob        models.EncryptedBlob
	Shares      []Share
	Commitments []string
}

// Key is a symmetric key recovered from shares.
type Key []byte

// Wipe zeroes the key in place.
func (k Key) Wipe() { shared.WipeByteArray(k) }

// SplitAndEncrypt seals payload under a fresh key and splits the key into n
// shares of which any t reconstruct it.
func SplitAndEncrypt(payload []byte, t, n int) (*Sealed, error) {
	if t < 2 || t > n {
		return nil, fmt.Errorf("%w: threshold %d of %d", common.ErrValidation, t, n)
	}

	ec := curve()
	secret, err := rand.Int(rand.Reader, ec.Params().N)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	defer shared.WipeByteArray(key)

	ct, nonce, err := cryptox.Seal(payload, key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	indexes := make([]*big.Int, n)
	for i := range indexes {
		indexes[i] = big.NewInt(int64(i + 1))
	}
	vs, raw, err := vss.Create(ec, t-1, secret, indexes, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("split key: %w", err)
	}

	shares := make([]Share, len(raw))
	for i, s := range raw {
		shares[i] = Share{Index: int(s.ID.Int64()), Value: padScalar(s.Share)}
	}

	return &Sealed{
		Blob:        models.EncryptedBlob{Ciphertext: ct, Nonce: nonce},
		Shares:      shares,
		Commitments: encodeCommitments(vs),
	}, nil
}

// Reconstruct recovers the key from at least t shares. Shares that fail
// verification against commitments are dropped before counting; a nil
// commitments list skips verification. Repeated indexes count once.
func Reconstruct(shares []Share, t int, commitments []string) (Key, error) {
	if t < 2 {
		return nil, fmt.Errorf("%w: threshold %d", common.ErrValidation, t)
	}

	ec := curve()
	var vs vss.Vs
	if commitments != nil {
		var err error
		if vs, err = decodeCommitments(ec, commitments); err != nil {
			return nil, err
		}
		if len(vs) != t {
			return nil, fmt.Errorf("%w: %d commitments for threshold %d", common.ErrValidation, len(vs), t)
		}
	}

	seen := make(map[int]bool, len(shares))
	valid := make(vss.Shares, 0, len(shares))
	for _, s := range shares {
		if s.Index <= 0 || seen[s.Index] || len(s.Value) == 0 {
			continue
		}
		share := toVSS(s, t)
		if vs != nil && !share.Verify(ec, t-1, vs) {
			continue
		}
		seen[s.Index] = true
		valid = append(valid, share)
	}
	if len(valid) < t {
		return nil, fmt.Errorf("%w: have %d valid of %d needed", common.ErrInsufficientShares, len(valid), t)
	}

	secret, err := valid[:t].ReConstruct(ec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInsufficientShares, err)
	}

	if vs != nil {
		x, y := ec.ScalarBaseMult(padScalar(secret))
		if x.Cmp(vs[0].X()) != 0 || y.Cmp(vs[0].Y()) != 0 {
			return nil, fmt.Errorf("%w: reconstructed key does not match commitment", common.ErrInvariantViolation)
		}
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	return Key(key), nil
}

// Verify checks a single share against the Feldman commitments.
func Verify(s Share, t int, commitments []string) bool {
	ec := curve()
	vs, err := decodeCommitments(ec, commitments)
	if err != nil || len(vs) != t {
		return false
	}
	return toVSS(s, t).Verify(ec, t-1, vs)
}

// Decrypt opens blob with key. It never returns partial output.
func Decrypt(blob models.EncryptedBlob, key Key) ([]byte, error) {
	out, err := cryptox.Open(blob.Ciphertext, blob.Nonce, key)
	if err != nil {
		if errors.Is(err, cryptox.ErrOpen) {
			return nil, common.ErrDecryptionFailed
		}
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailed, err)
	}
	return out, nil
}

func deriveKey(secret *big.Int) ([]byte, error) {
	b := padScalar(secret)
	defer shared.WipeByteArray(b)
	return cryptox.DeriveKey(b, []byte(kdfInfo))
}

func padScalar(v *big.Int) []byte {
	return v.FillBytes(make([]byte, scalarSize))
}

func toVSS(s Share, t int) *vss.Share {
	return &vss.Share{
		Threshold: t - 1,
		ID:        big.NewInt(int64(s.Index)),
		Share:     new(big.Int).SetBytes(s.Value),
	}
}

func encodeCommitments(vs vss.Vs) []string {
	out := make([]string, len(vs))
	for i, p := range vs {
		buf := make([]byte, 0, 2*scalarSize)
		buf = append(buf, padScalar(p.X())...)
		buf = append(buf, padScalar(p.Y())...)
		out[i] = hex.EncodeToString(buf)
	}
	return out
}

func decodeCommitments(ec elliptic.Curve, in []string) (vss.Vs, error) {
	vs := make(vss.Vs, len(in))
	for i, s := range in {
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw) != 2*scalarSize {
			return nil, fmt.Errorf("%w: malformed commitment %d", common.ErrValidation, i)
		}
		x := new(big.Int).SetBytes(raw[:scalarSize])
		y := new(big.Int).SetBytes(raw[scalarSize:])
		p, err := crypto.NewECPoint(ec, x, y)
		if err != nil {
			return nil, fmt.Errorf("%w: commitment %d: %v", common.ErrValidation, i, err)
		}
		vs[i] = p
	}
	return vs, nil
}
