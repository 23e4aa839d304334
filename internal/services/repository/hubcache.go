package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cozy-creator/hf-hub/hub"
	"github.com/cozy-creator/model-cache/internal/types"
	"go.uber.org/zap"
)

// HubCacheClient serves artifacts out of an existing HuggingFace hub cache
// and never touches the network. It backs offline mode.
type HubCacheClient struct {
	cacheDir string
	revision string
	transfer *transfer
	logger   *zap.Logger
}

// NewHubCacheClient reads from cacheDir, or from the hub's default cache
// location when cacheDir is empty.
func NewHubCacheClient(cacheDir string, opts ...Option) *HubCacheClient {
	o := newOptions(opts)
	if cacheDir == "" {
		cacheDir = hub.DefaultClient().CacheDir
	}
	return &HubCacheClient{
		cacheDir: cacheDir,
		revision: o.revision,
		transfer: o.transfer(),
		logger:   o.logger.Named("hubcache"),
	}
}

func (c *HubCacheClient) CacheDir() string {
	return c.cacheDir
}

// repoFolderName converts "org/name" to "models--org--name".
func repoFolderName(repoID, repoType string) string {
	parts := append([]string{repoType + "s"}, strings.Split(repoID, "/")...)
	return strings.Join(parts, "--")
}

// snapshotDir resolves refs/<revision> to snapshots/<commit>. A revision
// that is itself a commit hash is used directly.
func (c *HubCacheClient) snapshotDir(artifactID string) (string, error) {
	storage := filepath.Join(c.cacheDir, repoFolderName(artifactID, "model"))

	commit := c.revision
	if ref, err := os.ReadFile(filepath.Join(storage, "refs", c.revision)); err == nil {
		commit = strings.TrimSpace(string(ref))
	}

	snapshot := filepath.Join(storage, "snapshots", commit)
	if info, err := os.Stat(snapshot); err != nil || !info.IsDir() {
		return "", types.Errorf(types.KindNotFound, "manifest", "%s@%s is not in the hub cache at %s", artifactID, c.revision, c.cacheDir)
	}
	return snapshot, nil
}

func (c *HubCacheClient) GetManifest(ctx context.Context, artifactID string) ([]types.RemoteFileDescriptor, error) {
	snapshot, err := c.snapshotDir(artifactID)
	if err != nil {
		return nil, err
	}

	var files []types.RemoteFileDescriptor
	err = filepath.WalkDir(snapshot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || types.IsMarkerFile(d.Name()) {
			return nil
		}

		// snapshot files are usually symlinks into blobs/
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("dangling snapshot link", zap.String("path", p))
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(snapshot, p)
		if err != nil {
			return err
		}
		files = append(files, types.NewFileDescriptor(filepath.ToSlash(rel), info.Size(), ""))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", snapshot, err)
	}

	return files, nil
}

func (c *HubCacheClient) Fetch(ctx context.Context, artifactID string, allowPatterns []string, targetDir string) error {
	files, err := c.GetManifest(ctx, artifactID)
	if err != nil {
		return err
	}

	snapshot, err := c.snapshotDir(artifactID)
	if err != nil {
		return err
	}

	return c.transfer.run(ctx, files, allowPatterns, targetDir, func(ctx context.Context, f types.RemoteFileDescriptor) (io.ReadCloser, error) {
		return os.Open(filepath.Join(snapshot, filepath.FromSlash(f.Name)))
	})
}
