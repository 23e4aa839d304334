package janitor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cozy-creator/model-cache/internal/services/cachestore"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Janitor removes in-progress markers and whole cache entries. Every
// removal is logged before it happens.
type Janitor struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewJanitor(logger *zap.Logger) *Janitor {
	return &Janitor{
		logger: logger.Named("janitor"),
		now:    time.Now,
	}
}

// CleanupIncomplete deletes every marker file under path and returns how
// many were removed. Missing paths and clean directories are no-ops.
func (j *Janitor) CleanupIncomplete(path string) (int, error) {
	var markers []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && types.IsMarkerFile(d.Name()) {
			markers = append(markers, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}

	removed := 0
	for _, m := range markers {
		j.logger.Info("removing incomplete file", zap.String("path", m))
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", m, err)
		}
		removed++
	}

	return removed, nil
}

// EvictOlderThan removes each entry of store whose newest file is older
// than maxAgeDays. Entries locked by an in-flight download are skipped. It
// returns the removed entry paths.
func (j *Janitor) EvictOlderThan(store *cachestore.Store, maxAgeDays int) ([]string, error) {
	if maxAgeDays < 0 {
		return nil, types.Errorf(types.KindInvalidInput, "evict", "max age must not be negative, got %d", maxAgeDays)
	}

	cutoff := j.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	return j.removeEntries(store, "evict", func(entry cachestore.Entry) (bool, error) {
		modTime, err := newestModTime(entry.Path)
		if err != nil {
			return false, err
		}
		if !modTime.Before(cutoff) {
			return false, nil
		}

		j.logger.Info("evicting cache entry",
			zap.String("path", entry.Path),
			zap.Time("last_modified", modTime),
			zap.Int("max_age_days", maxAgeDays),
		)
		return true, nil
	})
}

// Purge removes every entry of store that is not locked.
func (j *Janitor) Purge(store *cachestore.Store) ([]string, error) {
	return j.removeEntries(store, "purge", func(entry cachestore.Entry) (bool, error) {
		j.logger.Info("purging cache entry", zap.String("path", entry.Path))
		return true, nil
	})
}

// removeEntries takes each entry's lock without waiting and removes the
// entry, with its manifest sidecar, when remove says so.
func (j *Janitor) removeEntries(store *cachestore.Store, op string, remove func(cachestore.Entry) (bool, error)) ([]string, error) {
	entries, err := store.Entries()
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		unlock, ok, err := store.TryLockEntry(entry.ArtifactDir)
		if err != nil {
			return removed, err
		}
		if !ok {
			j.logger.Info("skipping cache entry in use", zap.String("op", op), zap.String("path", entry.Path))
			continue
		}

		done, err := j.removeEntry(store, entry, remove)
		unlock()
		if err != nil {
			return removed, err
		}
		if done {
			removed = append(removed, entry.Path)
		}
	}

	return removed, nil
}

func (j *Janitor) removeEntry(store *cachestore.Store, entry cachestore.Entry, remove func(cachestore.Entry) (bool, error)) (bool, error) {
	ok, err := remove(entry)
	if err != nil || !ok {
		return false, err
	}

	if err := os.RemoveAll(entry.Path); err != nil {
		return false, fmt.Errorf("remove %s: %w", entry.Path, err)
	}
	if err := store.ForgetManifest(entry.ArtifactDir); err != nil {
		j.logger.Warn("failed to remove manifest sidecar", zap.String("path", entry.Path), zap.Error(err))
	}
	return true, nil
}

type EntryUsage struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
	Files int    `json:"files"`
}

type Usage struct {
	Entries    []EntryUsage `json:"entries"`
	TotalBytes int64        `json:"total_bytes"`
}

func (u Usage) String() string {
	var sb strings.Builder
	for _, e := range u.Entries {
		fmt.Fprintf(&sb, "%-60s %10s %6d files\n", e.Name, humanize.IBytes(uint64(e.Bytes)), e.Files)
	}
	fmt.Fprintf(&sb, "%-60s %10s\n", "total", humanize.IBytes(uint64(u.TotalBytes)))
	return sb.String()
}

// Usage reports bytes held by each entry, largest first.
func (j *Janitor) Usage(store *cachestore.Store) (Usage, error) {
	entries, err := store.Entries()
	if err != nil {
		return Usage{}, fmt.Errorf("list cache entries: %w", err)
	}

	var usage Usage
	for _, entry := range entries {
		eu := EntryUsage{Name: entry.ArtifactDir}
		err := filepath.WalkDir(entry.Path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			eu.Bytes += info.Size()
			eu.Files++
			return nil
		})
		if err != nil {
			return Usage{}, fmt.Errorf("scan %s: %w", entry.Path, err)
		}
		usage.Entries = append(usage.Entries, eu)
		usage.TotalBytes += eu.Bytes
	}

	sort.Slice(usage.Entries, func(a, b int) bool {
		return usage.Entries[a].Bytes > usage.Entries[b].Bytes
	})

	return usage, nil
}

func newestModTime(root string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("scan %s: %w", root, err)
	}
	return newest, nil
}
