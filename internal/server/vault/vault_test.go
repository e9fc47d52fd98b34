package vault

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
)

var payload = []byte(`{"name":"Alice Borrower","document":"X1234567"}`)

func TestSplitAndEncrypt_Validation(t *testing.T) {
	for _, tc := range []struct{ t, n int }{{1, 3}, {0, 0}, {4, 3}, {-1, 2}} {
		_, err := SplitAndEncrypt(payload, tc.t, tc.n)
		assert.ErrorIs(t, err, common.ErrValidation, "t=%d n=%d", tc.t, tc.n)
	}
}

func TestSplitAndEncrypt_Shape(t *testing.T) {
	s, err := SplitAndEncrypt(payload, 2, 3)
	require.NoError(t, err)

	assert.Len(t, s.Shares, 3)
	assert.Len(t, s.Commitments, 2)
	assert.Len(t, s.Blob.Nonce, 12)
	assert.False(t, bytes.Contains(s.Blob.Ciphertext, []byte("Alice")))
	for i, sh := range s.Shares {
		assert.Equal(t, i+1, sh.Index)
		assert.True(t, Verify(sh, 2, s.Commitments))
	}
}

// Any t-subset reconstructs, any smaller subset does not.
func TestReconstruct_AnySubsetOfThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, cfg := range []struct{ t, n int }{{2, 3}, {3, 5}, {5, 5}} {
		s, err := SplitAndEncrypt(payload, cfg.t, cfg.n)
		require.NoError(t, err)

		for round := 0; round < 5; round++ {
			perm := rng.Perm(cfg.n)
			subset := make([]Share, cfg.t)
			for i := 0; i < cfg.t; i++ {
				subset[i] = s.Shares[perm[i]]
			}

			key, err := Reconstruct(subset, cfg.t, s.Commitments)
			require.NoError(t, err)
			out, err := Decrypt(s.Blob, key)
			require.NoError(t, err)
			assert.Equal(t, payload, out)

			_, err = Reconstruct(subset[:cfg.t-1], cfg.t, s.Commitments)
			assert.ErrorIs(t, err, common.ErrInsufficientShares)
		}
	}
}

func TestReconstruct_WithoutCommitments(t *testing.T) {
	s, err := SplitAndEncrypt(payload, 2, 3)
	require.NoError(t, err)

	key, err := Reconstruct(s.Shares[1:], 2, nil)
	require.NoError(t, err)
	out, err := Decrypt(s.Blob, key)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestReconstruct_DuplicatesCountOnce(t *testing.T) {
	s, err := SplitAndEncrypt(payload, 2, 3)
	require.NoError(t, err)

	_, err = Reconstruct([]Share{s.Shares[0], s.Shares[0]}, 2, s.Commitments)
	assert.ErrorIs(t, err, common.ErrInsufficientShares)
}

func TestReconstruct_DropsTamperedShare(t *testing.T) {
	s, err := SplitAndEncrypt(payload, 2, 3)
	require.NoError(t, err)

	bad := Share{Index: s.Shares[0].Index, Value: append([]byte(nil), s.Shares[0].Value...)}
	bad.Value[31] ^= 0x01
	assert.False(t, Verify(bad, 2, s.Commitments))

	_, err = Reconstruct([]Share{bad, s.Shares[1]}, 2, s.Commitments)
	assert.ErrorIs(t, err, common.ErrInsufficientShares)

	key, err := Reconstruct([]Share{bad, s.Shares[1], s.Shares[2]}, 2, s.Commitments)
	require.NoError(t, err)
	out, err := Decrypt(s.Blob, key)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecrypt_WrongKeyOrTampered(t *testing.T) {
	a, err := SplitAndEncrypt(payload, 2, 3)
	require.NoError(t, err)
	b, err := SplitAndEncrypt(payload, 2, 3)
	require.NoError(t, err)

	keyB, err := Reconstruct(b.Shares[:2], 2, b.Commitments)
	require.NoError(t, err)
	out, err := Decrypt(a.Blob, keyB)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)
	assert.Nil(t, out)

	keyA, err := Reconstruct(a.Shares[:2], 2, a.Commitments)
	require.NoError(t, err)
	a.Blob.Ciphertext[0] ^= 0xff
	_, err = Decrypt(a.Blob, keyA)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)
}

func TestReconstruct_MalformedCommitments(t *testing.T) {
	s, err := SplitAndEncrypt(payload, 2, 3)
	require.NoError(t, err)

	_, err = Reconstruct(s.Shares, 2, []string{"zz", "00"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = Reconstruct(s.Shares, 2, s.Commitments[:1])
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestKey_Wipe(t *testing.T) {
	k := Key{1, 2, 3}
	k.Wipe()
	assert.Equal(t, Key{0, 0, 0}, k)
}
