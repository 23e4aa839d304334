package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/cozy-creator/model-cache/internal/config"
)

// NewClientFromConfig returns the client for cfg.Source. Offline mode
// always serves from the local hub cache.
func NewClientFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (Client, error) {
	opts = append([]Option{WithRevision(cfg.Revision), WithWorkers(cfg.MaxWorkers)}, opts...)

	if cfg.Offline {
		return NewHubCacheClient(cfg.HubCacheDir, opts...), nil
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case config.SourceHuggingFace, "":
		return NewHuggingFaceClient(cfg.Endpoint, append(opts, WithToken(cfg.AuthToken))...), nil
	case config.SourceS3:
		return NewS3Client(ctx, cfg.S3, opts...)
	default:
		return nil, fmt.Errorf("unknown repository source %q", cfg.Source)
	}
}
