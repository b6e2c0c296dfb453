package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "nested", "pawcare.db")

	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestNewInitializesSchema(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.VerifySchema())
	require.NoError(t, svc.Health())

	// Re-running the schema is harmless.
	require.NoError(t, svc.InitializeSchema())
}

func TestVerifySchemaMissingTable(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.DB.Exec(`DROP TABLE audit_log`)
	require.NoError(t, err)

	err = svc.VerifySchema()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit_log")
}

func TestTransactionRollsBack(t *testing.T) {
	svc := newTestService(t)
	boom := errors.New("boom")

	err := Transaction(context.Background(), svc.DB, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO organizations (org_id, name, resource, created_at, updated_at) VALUES ('org-1', 'A', '{}', 'x', 'x')`)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, svc.DB.QueryRow(`SELECT COUNT(*) FROM organizations`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestTransactionCommits(t *testing.T) {
	svc := newTestService(t)

	err := Transaction(context.Background(), svc.DB, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO organizations (org_id, name, resource, created_at, updated_at) VALUES ('org-1', 'A', '{}', 'x', 'x')`)
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, svc.DB.QueryRow(`SELECT COUNT(*) FROM organizations`).Scan(&n))
	assert.Equal(t, 1, n)
}
