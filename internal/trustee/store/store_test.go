package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "trustee.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSave_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, 1, "0xABC", 2, []byte{1, 2, 3}))
	require.NoError(t, s.Save(ctx, 1, "0xabc", 2, []byte{1, 2, 3}))

	held, err := s.Get(ctx, 1, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 2, held.ShareIndex)
	assert.Equal(t, []byte{1, 2, 3}, held.Value)
	assert.False(t, held.Released)
}

func TestSave_DifferentShareConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, 1, "0xabc", 2, []byte{1}))
	err := s.Save(ctx, 1, "0xabc", 2, []byte{9})
	assert.ErrorIs(t, err, common.ErrStateConflict)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), 7, "0xdead")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRelease_OncePerEpoch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, 1, "0xabc", 3, []byte{4, 5}))

	held, err := s.Release(ctx, 1, "0xabc", 0)
	require.NoError(t, err)
	assert.True(t, held.Released)
	assert.Equal(t, []byte{4, 5}, held.Value)
	assert.NotNil(t, held.ReleasedAt)

	_, err = s.Release(ctx, 1, "0xabc", 0)
	assert.ErrorIs(t, err, common.ErrStateConflict)

	held, err = s.Release(ctx, 1, "0xabc", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), held.ReleasedEpoch)

	_, err = s.Release(ctx, 1, "0xabc", 0)
	assert.ErrorIs(t, err, common.ErrStateConflict, "older epochs stay closed")
}

func TestRelease_Unknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Release(context.Background(), 9, "0xabc", 0)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRelease_ConcurrentSingleWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, 1, "0xabc", 1, []byte{7}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Release(ctx, 1, "0xabc", 0); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
