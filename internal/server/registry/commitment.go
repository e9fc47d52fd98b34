package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// IdentityMaterial is the caller-supplied input to an identity commitment.
// It is opaque to the registry.
type IdentityMaterial struct {
	Score uint64 `json:"score"`
	Salt  string `json:"salt" validate:"required"`
}

// element maps arbitrary bytes into a canonical BN254 scalar so MiMC never
// sees an out-of-range block.
func element(b []byte) [fr.Bytes]byte {
	sum := sha256.Sum256(b)
	var e fr.Element
	e.SetBytes(sum[:])
	return e.Bytes()
}

// deriveIdentity hashes wallet, score and salt with MiMC over BN254.
func deriveIdentity(walletKey string, m IdentityMaterial) (string, error) {
	h := mimc.NewMiMC()
	for _, in := range [][]byte{
		[]byte(walletKey),
		[]byte(strconv.FormatUint(m.Score, 10)),
		[]byte(m.Salt),
	} {
		blk := element(in)
		if _, err := h.Write(blk[:]); err != nil {
			return "", err
		}
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
