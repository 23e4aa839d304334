package cachestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "cache"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestPathForIsDeterministic(t *testing.T) {
	s := newStore(t)

	a, err := s.PathFor("org/name")
	require.NoError(t, err)
	b, err := s.PathFor("org/name")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, filepath.Join(s.Root(), "org--name"), a)
}

func TestPathForCreatesRootButNotEntry(t *testing.T) {
	s := newStore(t)

	p, err := s.PathFor("test/model")
	require.NoError(t, err)

	info, err := os.Stat(s.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestValidateArtifactID(t *testing.T) {
	valid := []string{"gpt2", "org/name", "org/name.v1_2"}
	for _, id := range valid {
		assert.NoError(t, ValidateArtifactID(id), id)
	}

	invalid := []string{"", "  ", "org/", "/name", "org//name", "org/../x", "a b", `org\name`, "org--name", ".hidden"}
	for _, id := range invalid {
		err := ValidateArtifactID(id)
		require.Error(t, err, id)
		assert.Equal(t, types.KindInvalidInput, types.KindOf(err), id)
	}
}

func TestEntriesSkipsHiddenAndFiles(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "org--a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), lockDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "stray.txt"), nil, 0o644))

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "org--a", entries[0].ArtifactDir)
}

func TestEntriesMissingRoot(t *testing.T) {
	s := newStore(t)
	entries, err := s.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLockSerializesSameArtifact(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.Lock(ctx, "org/name")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Empty(t, s.locks)

	_, err := os.Stat(filepath.Join(s.Root(), "org--name"))
	assert.True(t, os.IsNotExist(err))
}

func TestLockHonoursContext(t *testing.T) {
	s := newStore(t)

	unlock, err := s.Lock(context.Background(), "org/name")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Lock(ctx, "org/name")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := s.Lock(context.Background(), "org/other")
	require.NoError(t, err)
	other()
}

func TestTryLockEntry(t *testing.T) {
	s := newStore(t)

	unlock, err := s.Lock(context.Background(), "org/name")
	require.NoError(t, err)

	_, ok, err := s.TryLockEntry("org--name")
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()

	release, ok, err := s.TryLockEntry("org--name")
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, "org/name")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.Empty(t, s.locks)
}

func TestManifestSidecar(t *testing.T) {
	s := newStore(t)

	_, ok, err := s.LoadManifest("org/name")
	require.NoError(t, err)
	assert.False(t, ok)

	files := []types.RemoteFileDescriptor{
		types.NewFileDescriptor("config.json", 100, ""),
		types.NewFileDescriptor("model-00001-of-00002.safetensors", 1_000, "abc"),
	}
	require.NoError(t, s.SaveManifest("org/name", files))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "org--name"), 0o755))

	got, ok, err := s.LoadManifest("org/name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, files, got)

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "org--name", entries[0].ArtifactDir)

	require.NoError(t, s.ForgetManifest("org--name"))
	require.NoError(t, s.ForgetManifest("org--name"))
	_, ok, err = s.LoadManifest("org/name")
	require.NoError(t, err)
	assert.False(t, ok)
}
