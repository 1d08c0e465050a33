package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTxFunc(tx *sql.Tx) (int, error) {
	return 42, nil
}

func sampleTxFuncErr(tx *sql.Tx) (int, error) {
	return 0, errors.New("simulated error")
}

func TestTxRunner_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := TxRunner(context.Background(), db, sampleTxFunc)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %v", err)
	}
}

func TestTxRunner_FuncError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = TxRunner(context.Background(), db, sampleTxFuncErr)
	if err == nil {
		t.Fatal("expected an error from sampleTxFuncErr, got nil")
	}
	if err.Error() != "failed to execute transaction: simulated error" {
		t.Errorf("unexpected error message: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTxRunner_CommitError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(fmt.Errorf("commit failed"))

	_, err = TxRunner(context.Background(), db, sampleTxFunc)
	if err == nil {
		t.Fatal("expected commit error, got nil")
	}
	if err.Error() != "failed to commit transaction: commit failed" {
		t.Errorf("unexpected error message: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTxRunner_BeginTxError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("begin error"))

	_, err = TxRunner(context.Background(), db, sampleTxFunc)
	if err == nil {
		t.Fatal("expected error on BeginTx, got nil")
	}
	if err.Error() != "failed to begin transaction: begin error" {
		t.Errorf("unexpected error message: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTxRunner_CanceledContextRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = TxRunner(ctx, db, func(tx *sql.Tx) (int, error) {
		cancel()
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPaginate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id FROM items WHERE kind = \? ORDER BY block_time DESC, id DESC LIMIT \? OFFSET \?`).
		WithArgs("listed", 2, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c").AddRow("d"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM items WHERE kind = \?`).
		WithArgs("listed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	total, ids, err := Paginate(db, "items", "SELECT id FROM items",
		QueryOptions{Where: "kind = ?", Page: 2, PageSize: 2},
		[]string{"block_time", "id"},
		[]interface{}{"listed"},
		func(s RowScanner) (string, error) {
			var id string
			return id, s.Scan(&id)
		})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, []string{"c", "d"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaginate_NoOrderColumns(t *testing.T) {
	_, _, err := Paginate(nil, "items", "SELECT id FROM items", QueryOptions{}, nil, nil,
		func(s RowScanner) (string, error) { return "", nil })
	assert.Error(t, err)
}

func TestOpenSqlite_AppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sqlite")
	db, err := OpenSqlite(path)
	require.NoError(t, err)

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='marketplace_events'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "marketplace_events", name)
	require.NoError(t, db.Close())

	// second open finds nothing to migrate
	db2, err := OpenSqlite(path)
	require.NoError(t, err)
	assert.NoError(t, db2.Close())
}
