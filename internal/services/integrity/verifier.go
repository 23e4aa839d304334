package integrity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	pathpkg "path"
	"path/filepath"

	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/cozy-creator/model-cache/internal/utils/patternutil"
	"go.uber.org/zap"
)

// RequiredFileSet is what a directory must hold to count as complete: every
// name in Names at the top level, at least one file matching WeightPatterns
// anywhere below it, and, when Expected is set, each expected file with its
// manifest size.
//
// StrictWeights replaces the "any weight file" rule for entries whose
// manifest is unknown: every shard listed by a shard index must be present,
// and without an index a canonical single-file checkpoint must sit at the
// top level.
type RequiredFileSet struct {
	Names          []string
	WeightPatterns []string
	Expected       []types.RemoteFileDescriptor
	StrictWeights  bool
}

func DefaultRequiredFileSet() RequiredFileSet {
	return NewRequiredFileSet(types.DefaultRequiredFiles)
}

func NewRequiredFileSet(names []string) RequiredFileSet {
	return RequiredFileSet{
		Names:          append([]string(nil), names...),
		WeightPatterns: types.WeightFilePatterns,
	}
}

// CachedFileSet is used when an entry is inspected without a manifest.
func CachedFileSet(names []string) RequiredFileSet {
	set := NewRequiredFileSet(names)
	set.StrictWeights = true
	return set
}

// ForManifest narrows the configured names to those the remote manifest
// actually carries and adds the tokenizer files it lists. Expected is left
// for the caller to fill in.
func ForManifest(names []string, files []types.RemoteFileDescriptor) RequiredFileSet {
	remote := make(map[string]bool, len(files))
	for _, f := range files {
		remote[f.Name] = true
	}

	set := NewRequiredFileSet(nil)
	seen := map[string]bool{}
	for _, n := range append(append([]string(nil), names...), types.TokenizerFiles...) {
		if remote[n] && !seen[n] {
			set.Names = append(set.Names, n)
			seen[n] = true
		}
	}

	return set
}

type Verifier struct {
	logger *zap.Logger
}

func NewVerifier(logger *zap.Logger) *Verifier {
	return &Verifier{logger: logger.Named("integrity")}
}

var errMarkerFound = errors.New("in-progress marker found")

// Verify inspects path and derives its state. The checks run in a fixed
// order: in-progress markers, then required names, then weight files, then
// expected sizes. A marker anywhere makes the entry Partial regardless of
// what else is present.
func (v *Verifier) Verify(path string, req RequiredFileSet) (types.CacheState, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.CacheStateAbsent, nil
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return types.CacheStatePartial, nil
	}

	weights, err := patternutil.Compile(req.WeightPatterns...)
	if err != nil {
		return "", err
	}

	topLevel := map[string]bool{}
	present := map[string]bool{}
	var indexes []string
	sizes := map[string]int64{}
	hasWeight := false
	marker := ""

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}

		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if types.IsMarkerFile(rel) {
			marker = rel
			return errMarkerFound
		}

		present[rel] = true
		if filepath.Dir(p) == path {
			topLevel[d.Name()] = true
		}
		if types.IsShardIndex(rel) {
			indexes = append(indexes, rel)
		}
		if weights.Match(d.Name()) {
			hasWeight = true
		}
		if len(req.Expected) > 0 {
			fi, err := os.Stat(p)
			if err != nil {
				return err
			}
			sizes[rel] = fi.Size()
		}

		return nil
	})
	if errors.Is(err, errMarkerFound) {
		v.logger.Debug("entry has in-progress marker", zap.String("path", path), zap.String("marker", marker))
		return types.CacheStatePartial, nil
	}
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", path, err)
	}

	for _, name := range req.Names {
		if !topLevel[name] {
			v.logger.Debug("entry is missing required file", zap.String("path", path), zap.String("file", name))
			return types.CacheStatePartial, nil
		}
	}

	if !hasWeight {
		v.logger.Debug("entry has no weight files", zap.String("path", path))
		return types.CacheStatePartial, nil
	}

	if req.StrictWeights {
		if !v.hasAllWeights(path, indexes, present, topLevel) {
			return types.CacheStatePartial, nil
		}
	}

	for _, f := range req.Expected {
		size, ok := sizes[f.Name]
		if !ok || size != f.Size {
			v.logger.Debug("entry file does not match manifest",
				zap.String("path", path),
				zap.String("file", f.Name),
				zap.Int64("expected_size", f.Size),
				zap.Int64("size", size),
			)
			return types.CacheStatePartial, nil
		}
	}

	return types.CacheStateComplete, nil
}

func (v *Verifier) hasAllWeights(root string, indexes []string, present, topLevel map[string]bool) bool {
	if len(indexes) == 0 {
		for _, name := range types.CanonicalWeightFiles {
			if topLevel[name] {
				return true
			}
		}
		v.logger.Debug("entry has no canonical weight file", zap.String("path", root))
		return false
	}

	for _, index := range indexes {
		shards, err := readShardIndex(filepath.Join(root, filepath.FromSlash(index)))
		if err != nil {
			v.logger.Debug("unreadable shard index", zap.String("path", root), zap.String("index", index), zap.Error(err))
			return false
		}
		if len(shards) == 0 {
			v.logger.Debug("shard index lists no shards", zap.String("path", root), zap.String("index", index))
			return false
		}

		dir := pathpkg.Dir(index)
		for _, shard := range shards {
			rel := pathpkg.Join(dir, shard)
			if !present[rel] {
				v.logger.Debug("entry is missing shard",
					zap.String("path", root),
					zap.String("index", index),
					zap.String("shard", rel),
				)
				return false
			}
		}
	}

	return true
}

type shardIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// readShardIndex returns the distinct shard file names an index refers to.
func readShardIndex(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var idx shardIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	seen := map[string]bool{}
	var shards []string
	for _, shard := range idx.WeightMap {
		if shard != "" && !seen[shard] {
			seen[shard] = true
			shards = append(shards, shard)
		}
	}
	return shards, nil
}
