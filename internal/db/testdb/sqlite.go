package testdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nft-marketplace/marketnode/internal/db"
	"github.com/stretchr/testify/require"
)

// SetupTestDB opens a migrated sqlite store in a per-test temp dir.
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	sqlDB, err := db.OpenSqlite(filepath.Join(t.TempDir(), "sqlite"))
	require.NoError(t, err)

	cleanup := func() {
		sqlDB.Close()
	}
	return sqlDB, cleanup
}
