package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type product struct {
	Name string
	Size int64
}

func TestFileCacheRoundTrip(t *testing.T) {
	fc := NewFileCacheAt[[]product](t.TempDir(), 0)
	key := fc.GenerateKey("SENTINEL-1", "2018-11-01", "2019-01-01")

	_, ok := fc.Get(key)
	assert.False(t, ok)

	want := []product{{Name: "S1A_IW_GRDH", Size: 42}}
	require.NoError(t, fc.Set(key, want))

	got, ok := fc.Get(key)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestFileCacheGenerateKeyIsStable(t *testing.T) {
	fc := NewFileCacheAt[int](t.TempDir(), 0)
	assert.Equal(t, fc.GenerateKey("a", 1), fc.GenerateKey("a", 1))
	assert.NotEqual(t, fc.GenerateKey("a", 1), fc.GenerateKey("a", 2))
}

func TestFileCacheExpiredEntryIsMissing(t *testing.T) {
	fc := NewFileCacheAt[string](t.TempDir(), time.Hour)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fc.now = func() time.Time { return start }
	require.NoError(t, fc.Set("k", "v"))

	fc.now = func() time.Time { return start.Add(30 * time.Minute) }
	_, ok := fc.Get("k")
	assert.True(t, ok)

	fc.now = func() time.Time { return start.Add(2 * time.Hour) }
	_, ok = fc.Get("k")
	assert.False(t, ok)
}

func TestFileCacheRejectsTamperedEntry(t *testing.T) {
	dir := t.TempDir()
	fc := NewFileCacheAt[string](dir, 0)
	require.NoError(t, fc.Set("k", "v"))

	path := filepath.Join(dir, "k.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":"other","checksum":"deadbeef"}`), 0644))

	_, ok := fc.Get("k")
	assert.False(t, ok)
	assert.NoFileExists(t, path)
}
