package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cozy-creator/model-cache/internal/services/cachestore"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func touchTree(t *testing.T, root string, ts time.Time) {
	t.Helper()
	require.NoError(t, filepath.Walk(root, func(p string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(p, ts, ts)
	}))
}

func newStore(t *testing.T) *cachestore.Store {
	t.Helper()
	s, err := cachestore.NewStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestCleanupIncomplete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "org--name")
	writeFile(t, filepath.Join(dir, "config.json"), 10)
	writeFile(t, filepath.Join(dir, "model.safetensors"), 100)
	writeFile(t, filepath.Join(dir, "model-2.safetensors.incomplete"), 50)
	writeFile(t, filepath.Join(dir, "unet", "weights.bin.part1"), 50)
	writeFile(t, filepath.Join(dir, "download.tmp"), 5)

	j := NewJanitor(zaptest.NewLogger(t))
	removed, err := j.CleanupIncomplete(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	assert.FileExists(t, filepath.Join(dir, "config.json"))
	assert.FileExists(t, filepath.Join(dir, "model.safetensors"))
	assert.NoFileExists(t, filepath.Join(dir, "model-2.safetensors.incomplete"))
	assert.NoFileExists(t, filepath.Join(dir, "unet", "weights.bin.part1"))

	removed, err = j.CleanupIncomplete(dir)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCleanupIncompleteMissingPath(t *testing.T) {
	j := NewJanitor(zaptest.NewLogger(t))
	removed, err := j.CleanupIncomplete(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestEvictOlderThan(t *testing.T) {
	store := newStore(t)
	base := store.Root()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	old := filepath.Join(base, "org--old")
	writeFile(t, filepath.Join(old, "model.safetensors"), 10)
	touchTree(t, old, now.Add(-40*24*time.Hour))

	fresh := filepath.Join(base, "org--fresh")
	writeFile(t, filepath.Join(fresh, "model.safetensors"), 10)
	touchTree(t, fresh, now.Add(-2*24*time.Hour))

	// an old directory with one recently written file is still in use
	mixed := filepath.Join(base, "org--mixed")
	writeFile(t, filepath.Join(mixed, "model.safetensors"), 10)
	touchTree(t, mixed, now.Add(-40*24*time.Hour))
	recent := filepath.Join(mixed, "config.json")
	writeFile(t, recent, 10)
	require.NoError(t, os.Chtimes(recent, now, now))

	locks := filepath.Join(base, ".locks")
	require.NoError(t, os.MkdirAll(locks, 0o755))
	touchTree(t, locks, now.Add(-400*24*time.Hour))

	j := NewJanitor(zaptest.NewLogger(t))
	j.now = func() time.Time { return now }

	require.NoError(t, store.SaveManifest("org/old", []types.RemoteFileDescriptor{types.NewFileDescriptor("model.safetensors", 10, "")}))

	evicted, err := j.EvictOlderThan(store, 30)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, evicted)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, mixed)
	assert.DirExists(t, locks)

	_, ok, err := store.LoadManifest("org/old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvictSkipsLockedEntries(t *testing.T) {
	store := newStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	busy := filepath.Join(store.Root(), "org--busy")
	writeFile(t, filepath.Join(busy, "model.safetensors"), 10)
	touchTree(t, busy, now.Add(-40*24*time.Hour))
	idle := filepath.Join(store.Root(), "org--idle")
	writeFile(t, filepath.Join(idle, "model.safetensors"), 10)
	touchTree(t, idle, now.Add(-40*24*time.Hour))

	unlock, err := store.Lock(context.Background(), "org/busy")
	require.NoError(t, err)

	j := NewJanitor(zaptest.NewLogger(t))
	j.now = func() time.Time { return now }

	evicted, err := j.EvictOlderThan(store, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{idle}, evicted)
	assert.DirExists(t, busy)

	removed, err := j.Purge(store)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.DirExists(t, busy)

	unlock()

	removed, err = j.Purge(store)
	require.NoError(t, err)
	assert.Equal(t, []string{busy}, removed)
	assert.NoDirExists(t, busy)
}

func TestEvictRejectsNegativeAge(t *testing.T) {
	j := NewJanitor(zaptest.NewLogger(t))
	_, err := j.EvictOlderThan(newStore(t), -1)
	assert.Equal(t, types.KindInvalidInput, types.KindOf(err))
}

func TestPurgeAndUsage(t *testing.T) {
	store := newStore(t)
	base := store.Root()
	writeFile(t, filepath.Join(base, "a--small", "config.json"), 10)
	writeFile(t, filepath.Join(base, "b--large", "model.safetensors"), 1000)
	writeFile(t, filepath.Join(base, "b--large", "config.json"), 24)

	j := NewJanitor(zaptest.NewLogger(t))
	usage, err := j.Usage(store)
	require.NoError(t, err)
	require.Len(t, usage.Entries, 2)
	assert.Equal(t, "b--large", usage.Entries[0].Name)
	assert.Equal(t, int64(1024), usage.Entries[0].Bytes)
	assert.Equal(t, 2, usage.Entries[0].Files)
	assert.Equal(t, int64(1034), usage.TotalBytes)
	assert.Contains(t, usage.String(), "total")

	removed, err := j.Purge(store)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	usage, err = j.Usage(store)
	require.NoError(t, err)
	assert.Empty(t, usage.Entries)
	assert.DirExists(t, base)
}
