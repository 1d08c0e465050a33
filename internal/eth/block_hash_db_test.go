package eth

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/nft-marketplace/marketnode/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	bdb, err := db.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = bdb.Close() })
	return bdb
}

func blockHash(i uint64) common.Hash {
	return common.HexToHash(fmt.Sprintf("0x%x", 0xb10c0000+i))
}

func TestBlockHashDb_SetAndGetHash(t *testing.T) {
	hashes := NewBlockHashDb(newTestBadger(t))

	hash := common.HexToHash("0x123456789abcdef")
	require.NoError(t, hashes.SetHash(12345, hash))

	got, ok := hashes.GetHash(12345)
	assert.True(t, ok)
	assert.Equal(t, hash, got)
}

func TestBlockHashDb_GetNonExistentHash(t *testing.T) {
	hashes := NewBlockHashDb(newTestBadger(t))

	got, ok := hashes.GetHash(999999)
	assert.False(t, ok)
	assert.Equal(t, common.Hash{}, got)
}

func TestBlockHashDb_LatestBefore(t *testing.T) {
	hashes := NewBlockHashDb(newTestBadger(t))
	for _, n := range []uint64{5, 9, 20} {
		require.NoError(t, hashes.SetHash(n, blockHash(n)))
	}

	num, hash, ok, err := hashes.LatestBefore(20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(9), num)
	assert.Equal(t, blockHash(9), hash)

	num, _, ok, err = hashes.LatestBefore(100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(20), num)

	_, _, ok, err = hashes.LatestBefore(5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, ok, err = hashes.LatestBefore(0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlockHashDb_LatestBeforeReadError(t *testing.T) {
	bdb, err := db.OpenBadgerInMemory()
	require.NoError(t, err)
	hashes := NewBlockHashDb(bdb)
	require.NoError(t, hashes.SetHash(9, blockHash(9)))
	require.NoError(t, bdb.Close())

	_, _, ok, err := hashes.LatestBefore(20)
	assert.ErrorIs(t, err, badger.ErrDBClosed)
	assert.False(t, ok)
}

func TestBlockHashDb_RevertFromBlock(t *testing.T) {
	hashes := NewBlockHashDb(newTestBadger(t))
	fill := func() {
		for i := uint64(1); i <= 5; i++ {
			require.NoError(t, hashes.SetHash(i, blockHash(i)), "failed to set hash for block %d", i)
		}
	}
	fill()

	t.Run("from a middle block", func(t *testing.T) {
		require.NoError(t, hashes.RevertFromBlock(3))

		for i := uint64(1); i < 3; i++ {
			h, ok := hashes.GetHash(i)
			assert.True(t, ok, "expected block %d to remain", i)
			assert.Equal(t, blockHash(i), h)
		}
		for i := uint64(3); i <= 5; i++ {
			_, ok := hashes.GetHash(i)
			assert.False(t, ok, "expected block %d to be deleted", i)
		}
	})

	t.Run("from block 0", func(t *testing.T) {
		fill()
		require.NoError(t, hashes.RevertFromBlock(0))

		for i := uint64(1); i <= 5; i++ {
			_, ok := hashes.GetHash(i)
			assert.False(t, ok)
		}
	})

	t.Run("beyond recorded blocks", func(t *testing.T) {
		fill()
		require.NoError(t, hashes.RevertFromBlock(999))

		for i := uint64(1); i <= 5; i++ {
			h, ok := hashes.GetHash(i)
			assert.True(t, ok)
			assert.Equal(t, blockHash(i), h)
		}
	})
}

func TestBlockHashDb_ConcurrentAccess(t *testing.T) {
	hashes := NewBlockHashDb(newTestBadger(t))

	done := make(chan bool)
	go func() {
		for i := uint64(0); i < 100; i++ {
			assert.NoError(t, hashes.SetHash(i, common.BigToHash(big.NewInt(int64(i)))))
		}
		done <- true
	}()
	go func() {
		for i := uint64(0); i < 100; i++ {
			hashes.GetHash(i)
		}
		done <- true
	}()

	<-done
	<-done
}

func TestProgressDb(t *testing.T) {
	progress := NewProgressDb(newTestBadger(t))

	got, err := progress.GetProgress()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)

	require.NoError(t, progress.SetProgress(42))
	require.NoError(t, progress.SetProgress(17))

	got, err = progress.GetProgress()
	require.NoError(t, err)
	assert.Equal(t, uint64(17), got)
}
