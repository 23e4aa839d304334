package cachestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cozy-creator/model-cache/internal/types"
	"go.uber.org/zap"
)

const lockDirName = ".locks"

// Store maps artifact ids to entry directories under a single cache root.
// Layout:
//
//	<root>/<org>--<name>/...      one directory per artifact
//	<root>/.locks/<org>--<name>.lock
//	<root>/.manifests/<org>--<name>.json   files the last transfer selected
type Store struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*entryLock
}

type Entry struct {
	ArtifactDir string
	Path        string
	ModTime     time.Time
}

func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}

	return &Store{
		root:   abs,
		logger: logger.Named("cachestore"),
		locks:  make(map[string]*entryLock),
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

// DirName converts "org/name" to "org--name".
func DirName(artifactID string) string {
	return strings.ReplaceAll(artifactID, "/", "--")
}

func ValidateArtifactID(artifactID string) error {
	if strings.TrimSpace(artifactID) == "" {
		return types.Errorf(types.KindInvalidInput, "validate", "artifact id is empty")
	}
	if strings.IndexFunc(artifactID, unicode.IsSpace) >= 0 || strings.Contains(artifactID, `\`) {
		return types.Errorf(types.KindInvalidInput, "validate", "artifact id %q contains invalid characters", artifactID)
	}
	// "--" is the directory encoding of "/", so it may not appear in ids.
	if strings.Contains(artifactID, "--") {
		return types.Errorf(types.KindInvalidInput, "validate", "artifact id %q must not contain \"--\"", artifactID)
	}
	for _, part := range strings.Split(artifactID, "/") {
		if part == "" || part == "." || part == ".." {
			return types.Errorf(types.KindInvalidInput, "validate", "artifact id %q is malformed", artifactID)
		}
	}
	if strings.HasPrefix(artifactID, ".") {
		return types.Errorf(types.KindInvalidInput, "validate", "artifact id %q must not start with a dot", artifactID)
	}

	return nil
}

// PathFor returns the entry directory for artifactID. It creates the cache
// root if needed but never the entry directory itself, so an absent entry
// stays absent until a transfer begins.
func (s *Store) PathFor(artifactID string) (string, error) {
	if err := ValidateArtifactID(artifactID); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("create cache root: %w", err)
	}

	return filepath.Join(s.root, DirName(artifactID)), nil
}

// EntryPath is PathFor without validation or side effects. Callers must
// validate artifactID first.
func (s *Store) EntryPath(artifactID string) string {
	return filepath.Join(s.root, DirName(artifactID))
}

// Entries lists the top-level entry directories, oldest first. Hidden
// directories such as the lock directory are skipped.
func (s *Store) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, de := range dirEntries {
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			ArtifactDir: de.Name(),
			Path:        filepath.Join(s.root, de.Name()),
			ModTime:     info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	return entries, nil
}
