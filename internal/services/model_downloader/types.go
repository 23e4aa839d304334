package model_downloader

import (
	"github.com/cozy-creator/model-cache/internal/services/diskspace"
	"github.com/cozy-creator/model-cache/internal/services/retry"
	"github.com/cozy-creator/model-cache/internal/types"
)

type Option func(*ModelDownloaderManager)

// WithHistory records every finished download.
func WithHistory(h types.History) Option {
	return func(m *ModelDownloaderManager) { m.history = h }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(m *ModelDownloaderManager) { m.retry = p }
}

func WithSpaceChecker(c *diskspace.Checker) Option {
	return func(m *ModelDownloaderManager) { m.space = c }
}
