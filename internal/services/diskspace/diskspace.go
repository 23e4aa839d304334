package diskspace

import (
	"math"

	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/cozy-creator/model-cache/internal/utils/pathutil"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// SafetyBuffer is the headroom applied on top of the manifest size.
const SafetyBuffer = 1.1

// StatFunc reports the bytes available to the caller on the volume
// holding an existing path.
type StatFunc func(path string) (uint64, error)

type Checker struct {
	logger *zap.Logger
	statfs StatFunc
}

type Option func(*Checker)

func WithStatFunc(fn StatFunc) Option {
	return func(c *Checker) { c.statfs = fn }
}

func NewChecker(logger *zap.Logger, opts ...Option) *Checker {
	c := &Checker{
		logger: logger.Named("diskspace"),
		statfs: availableBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequiredBytes is the manifest size times SafetyBuffer, rounded up.
func RequiredBytes(files []types.RemoteFileDescriptor) uint64 {
	return uint64(math.Ceil(float64(types.TotalSize(files)) * SafetyBuffer))
}

// Available reports free bytes on the volume holding path. path need not
// exist yet; its nearest existing ancestor is queried.
func (c *Checker) Available(path string) (uint64, error) {
	dir, err := pathutil.ExistingAncestor(path)
	if err != nil {
		return 0, err
	}

	return c.statfs(dir)
}

// HasSpace never fails: if the volume cannot be queried it returns false,
// which callers treat as "insufficient or unknown".
func (c *Checker) HasSpace(path string, requiredBytes uint64) bool {
	available, err := c.Available(path)
	if err != nil {
		c.logger.Warn("failed to query free space", zap.String("path", path), zap.Error(err))
		return false
	}

	ok := available >= requiredBytes
	c.logger.Debug("checked free space",
		zap.String("path", path),
		zap.String("required", humanize.IBytes(requiredBytes)),
		zap.String("available", humanize.IBytes(available)),
		zap.Bool("sufficient", ok),
	)

	return ok
}
