package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var count int
	require.NoError(t, s2.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count))
	assert.Zero(t, count)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	s.Close()

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, DialectSQLite, s.Dialect())
}

func TestParseDialect(t *testing.T) {
	tests := map[string]Dialect{
		"":           DialectSQLite,
		"sqlite":     DialectSQLite,
		"SQLite3":    DialectSQLite,
		"postgres":   DialectPostgres,
		"postgresql": DialectPostgres,
		"pq":         DialectPostgres,
	}
	for in, want := range tests {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := NewWithDB(nil, DialectPostgres)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)",
		pg.rebind("SELECT a FROM t WHERE x = ? AND y IN (?, ?)"))

	lite := NewWithDB(nil, DialectSQLite)
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Equal(t, "NULL", placeholders(0))
}
