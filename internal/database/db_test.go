package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.db")

	db, err := NewDB(DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "database file should exist")
	require.NoError(t, db.Ping(context.Background()))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM recipes`))
	assert.Equal(t, 0, count)

	// Re-running migrations on an up-to-date database is a no-op.
	require.NoError(t, RunMigrations(DriverSQLite, path))
}

func TestNewDB_UnsupportedDriver(t *testing.T) {
	_, err := NewDB("mysql", "root@/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := NewDB(DriverSQLite, filepath.Join(t.TempDir(), "u.db"))
	require.NoError(t, err)
	defer db.Close()

	now := Now()
	insert := `INSERT INTO users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)`
	_, err = db.Exec(insert, "u1", "a@example.com", now, now)
	require.NoError(t, err)

	_, err = db.Exec(insert, "u2", "a@example.com", now, now)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestInTx(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	db := Wrap(sqlx.NewDb(raw, "postgres"), DriverPostgres)

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE recipes SET notes = \$1`).WithArgs("x").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := db.InTx(context.Background(), func(tx *sqlx.Tx) error {
			_, err := tx.Exec(db.Rebind(`UPDATE recipes SET notes = ?`), "x")
			return err
		})
		require.NoError(t, err)
	})

	t.Run("Rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		sentinel := errors.New("stop")
		err := db.InTx(context.Background(), func(tx *sqlx.Tx) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStringList(t *testing.T) {
	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var l StringList
	require.NoError(t, l.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, StringList{"a", "b"}, l)

	require.NoError(t, l.Scan(nil))
	assert.Empty(t, l)

	assert.Error(t, l.Scan(42))
}
