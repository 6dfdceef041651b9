package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmrelay/pmrelay/internal/store"
	"github.com/pmrelay/pmrelay/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "relay.db"))
	require.NoError(t, err)
	s, err := New(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Documents { return newTestStore(t) })
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	ctx := context.Background()
	key := store.DirectoryKey(7, 900)

	db, err := Open(path)
	require.NoError(t, err)
	s, err := New(ctx, db)
	require.NoError(t, err)
	_, err = s.Create(ctx, key, "-1001;5:900")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err = Open(path)
	require.NoError(t, err)
	s, err = New(ctx, db)
	require.NoError(t, err)
	defer s.Close()

	b, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "-1001;5:900", b.Text)
	assert.Equal(t, int64(1), b.Version)
	assert.NoError(t, s.HealthPing(ctx))
}
