package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseBackend runs the behavior every Backend must share.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "zone/lyon/2013/r1000.geojson")
	require.NoError(t, err)
	assert.False(t, ok, "missing key is a miss, not an error")

	require.NoError(t, b.Put(ctx, "zone/lyon/2013/r1000.geojson", []byte("v1")))
	require.NoError(t, b.Put(ctx, "zone/lyon/2013/r1000.geojson", []byte("v2")))
	require.NoError(t, b.Put(ctx, "zone/lyon/2008/r1000.geojson", []byte("old")))
	require.NoError(t, b.Put(ctx, "registry/2013-01-01.csv", []byte("siret\n")))

	data, ok, err := b.Get(ctx, "zone/lyon/2013/r1000.geojson")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(data), "last writer wins")

	keys, err := b.List(ctx, "zone/")
	require.NoError(t, err)
	assert.Equal(t, []string{"zone/lyon/2008/r1000.geojson", "zone/lyon/2013/r1000.geojson"}, keys)

	all, err := b.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, b.Delete(ctx, "zone/lyon/2008/r1000.geojson"))
	require.NoError(t, b.Delete(ctx, "zone/lyon/2008/r1000.geojson"))
	_, ok, err = b.Get(ctx, "zone/lyon/2008/r1000.geojson")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFSBackend(t *testing.T) {
	b, err := NewFS(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	exerciseBackend(t, b)
	require.NoError(t, b.Close())
}

func TestFSBackend_SkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFS(dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "zone"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zone", tmpPrefix+"123"), []byte("partial"), 0o644))

	keys, err := b.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFSBackend_CancelledContext(t *testing.T) {
	b, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, b.Put(ctx, "registry/2013-01-01.csv", []byte("x")))
	_, ok, err := b.Get(context.Background(), "registry/2013-01-01.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() }) //nolint:errcheck
	require.NoError(t, b.Migrate(context.Background()))
	return b
}

func TestSQLiteBackend(t *testing.T) {
	exerciseBackend(t, newTestSQLite(t))
}

func TestSQLiteBackend_PrefixIsLiteral(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "zone/a_b/2013/r1.geojson", []byte("x")))
	require.NoError(t, b.Put(ctx, "zone/axb/2013/r1.geojson", []byte("y")))

	keys, err := b.List(ctx, "zone/a_")
	require.NoError(t, err)
	assert.Equal(t, []string{"zone/a_b/2013/r1.geojson"}, keys)
}
