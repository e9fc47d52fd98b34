package registry

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/kv"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
)

func TestRegisterIdentity_Idempotent(t *testing.T) {
	r := New(kv.NewMemoryStore(), logging.Nop{})
	ctx := context.Background()

	first, err := r.RegisterIdentity(ctx, "0xABC", IdentityMaterial{Score: 700, Salt: "s1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "0x"))
	assert.Len(t, first, 2+64)

	second, err := r.RegisterIdentity(ctx, "0xabc", IdentityMaterial{Score: 1, Salt: "other"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRegisterIdentity_Validation(t *testing.T) {
	r := New(kv.NewMemoryStore(), logging.Nop{})
	_, err := r.RegisterIdentity(context.Background(), "", IdentityMaterial{Salt: "s"})
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = r.RegisterIdentity(context.Background(), "0xa", IdentityMaterial{})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestDeriveIdentity_DependsOnInputs(t *testing.T) {
	derive := func(wallet string, m IdentityMaterial) string {
		c, err := deriveIdentity(wallet, m)
		require.NoError(t, err)
		return c
	}

	a := derive("0xa", IdentityMaterial{Score: 1, Salt: "s"})
	assert.Equal(t, a, derive("0xa", IdentityMaterial{Score: 1, Salt: "s"}))
	assert.NotEqual(t, a, derive("0xb", IdentityMaterial{Score: 1, Salt: "s"}))
	assert.NotEqual(t, a, derive("0xa", IdentityMaterial{Score: 2, Salt: "s"}))
	assert.NotEqual(t, a, derive("0xa", IdentityMaterial{Score: 1, Salt: "t"}))
}

func TestRegisterIdentity_ConcurrentCallersAgree(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	r := New(kv.NewRedisStore(rdb, "reg:"), logging.Nop{})

	const n = 8
	out := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.RegisterIdentity(context.Background(), "0xwallet", IdentityMaterial{Score: uint64(i), Salt: "s"})
			assert.NoError(t, err)
			out[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, out[0], out[i])
	}
}

func TestRegisterActivity_OverwritesAndKeepsHistory(t *testing.T) {
	r := New(kv.NewMemoryStore(), logging.Nop{})
	ctx := context.Background()

	id, err := r.RegisterIdentity(ctx, "0xa", IdentityMaterial{Score: 600, Salt: "s"})
	require.NoError(t, err)

	require.NoError(t, r.RegisterActivity(ctx, "0xa", "0xAC1"))
	require.NoError(t, r.RegisterActivity(ctx, "0xa", "0xac2"))

	p, err := r.Pair(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "0xac2", p.ActivityCommitment)

	for _, ac := range []string{"0xac1", "0xac2"} {
		got, found, err := r.Resolve(ctx, ac)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, id, got)
	}
}

func TestRegisterActivity_ClaimedByAnotherWallet(t *testing.T) {
	r := New(kv.NewMemoryStore(), logging.Nop{})
	ctx := context.Background()

	owner, err := r.RegisterIdentity(ctx, "0xowner", IdentityMaterial{Score: 700, Salt: "s"})
	require.NoError(t, err)
	_, err = r.RegisterIdentity(ctx, "0xother", IdentityMaterial{Score: 700, Salt: "s"})
	require.NoError(t, err)

	require.NoError(t, r.RegisterActivity(ctx, "0xowner", "0xac"))
	err = r.RegisterActivity(ctx, "0xother", "0xAC")
	require.ErrorIs(t, err, common.ErrStateConflict)

	got, found, err := r.Resolve(ctx, "0xac")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, owner, got)

	// other wallet's current activity is untouched
	p, err := r.Pair(ctx, "0xother")
	require.NoError(t, err)
	assert.Empty(t, p.ActivityCommitment)

	// owner re-registering the same commitment is fine
	require.NoError(t, r.RegisterActivity(ctx, "0xowner", "0xac"))
}

func TestResolve_NotFound(t *testing.T) {
	r := New(kv.NewMemoryStore(), logging.Nop{})
	ctx := context.Background()

	_, found, err := r.Resolve(ctx, "0xunknown")
	require.NoError(t, err)
	assert.False(t, found)

	// activity without identity
	require.NoError(t, r.RegisterActivity(ctx, "0xb", "0xac"))
	_, found, err = r.Resolve(ctx, "0xac")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPair_Unknown(t *testing.T) {
	r := New(kv.NewMemoryStore(), logging.Nop{})
	_, err := r.Pair(context.Background(), "0xnobody")
	require.ErrorIs(t, err, common.ErrNotFound)
}
