package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenBadger(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("successfully opens database", func(t *testing.T) {
		db, err := OpenBadger(filepath.Join(tmpDir, "test.db"))
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		_, err = os.Stat(filepath.Join(tmpDir, "test.db"))
		assert.NoError(t, err)
	})

	t.Run("fails with invalid path", func(t *testing.T) {
		db, err := OpenBadger(filepath.Join("/proc", "invalid", "path", "db"))
		assert.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "failed to create directory")
	})
}

func TestOpenBadger_ConcurrentAccess(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "concurrent.db")

	db1, err := OpenBadger(dbPath)
	require.NoError(t, err)
	defer db1.Close()

	db2, err := OpenBadger(dbPath)
	assert.Error(t, err)
	assert.Nil(t, db2)
	assert.Contains(t, err.Error(), "failed to open BadgerDB")
}

func TestOpenBadgerInMemory(t *testing.T) {
	db, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}))
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		assert.Equal(t, "v", string(val))
		return err
	})
	assert.NoError(t, err)
}

func TestZapAdapter(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	adapter := zapAdapter{logger}

	adapter.Errorf("test error: %s", "message")
	adapter.Warningf("test warning: %s", "message")
	adapter.Infof("test info: %s", "message")
	adapter.Debugf("test debug: %s", "message")
}
