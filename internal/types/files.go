package types

import (
	"path"

	"github.com/cozy-creator/model-cache/internal/utils/patternutil"
)

// RemoteFileDescriptor describes one file of an artifact's remote manifest.
// Name is slash separated and relative to the artifact root. SHA256 is the
// content-addressing hint when the repository provides one.
type RemoteFileDescriptor struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	SHA256       string `json:"sha256,omitempty"`
	IsWeightFile bool   `json:"is_weight_file"`
}

var (
	WeightFilePatterns = []string{"*.safetensors", "*.bin", "*.ckpt", "*.pt"}

	// MarkerPatterns flag an in-progress or interrupted transfer.
	MarkerPatterns = []string{"*.incomplete", "*.part*", "*.tmp"}

	// ConfigFilePatterns are the metadata and text files a weight-aware
	// transfer keeps alongside the weights.
	ConfigFilePatterns = []string{"*.json", "*.txt", "*.model", "*.py", "*.md", "*.tiktoken"}

	DefaultRequiredFiles = []string{"config.json"}

	// TokenizerFiles become required when the remote manifest carries them.
	TokenizerFiles = []string{"tokenizer.json", "tokenizer_config.json"}

	// CanonicalWeightFiles are the single-file checkpoints an entry without
	// a known manifest must hold when it has no shard index.
	CanonicalWeightFiles = []string{"model.safetensors", "pytorch_model.bin"}

	// ShardIndexPatterns match the index files that list every shard of a
	// sharded checkpoint in their weight_map.
	ShardIndexPatterns = []string{"*.safetensors.index.json", "*.bin.index.json"}
)

const IncompleteSuffix = ".incomplete"

var (
	weightMatcher = patternutil.MustCompile(WeightFilePatterns...)
	markerMatcher = patternutil.MustCompile(MarkerPatterns...)
	indexMatcher  = patternutil.MustCompile(ShardIndexPatterns...)
)

// IsWeightFile matches on the base name so nested files (unet/x.safetensors)
// count as weights too. Marker files never count as weights.
func IsWeightFile(name string) bool {
	base := path.Base(name)
	return !markerMatcher.Match(base) && weightMatcher.Match(base)
}

func IsMarkerFile(name string) bool {
	return markerMatcher.Match(path.Base(name))
}

func IsShardIndex(name string) bool {
	return indexMatcher.Match(path.Base(name))
}

func IsCanonicalWeightFile(name string) bool {
	base := path.Base(name)
	for _, c := range CanonicalWeightFiles {
		if base == c {
			return true
		}
	}
	return false
}

func NewFileDescriptor(name string, size int64, sha string) RemoteFileDescriptor {
	return RemoteFileDescriptor{
		Name:         name,
		Size:         size,
		SHA256:       sha,
		IsWeightFile: IsWeightFile(name),
	}
}

func TotalSize(files []RemoteFileDescriptor) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}
