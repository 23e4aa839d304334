package model_downloader

import (
	"context"

	"github.com/cozy-creator/model-cache/internal/services/repository"
	"github.com/cozy-creator/model-cache/internal/types"
)

// Strategy decides which part of an artifact's manifest is transferred.
type Strategy interface {
	Name() string
	// AllowPatterns returns nil when the whole manifest is wanted.
	AllowPatterns() []string
	Download(ctx context.Context, client repository.Client, artifactID, targetDir string) error
}

const (
	StrategyWeightAware = "weight-aware"
	StrategyGeneric     = "generic"
)

// weightAware pulls weights plus the config and text files needed to load
// them, skipping alternate formats such as onnx or flax exports.
type weightAware struct {
	patterns []string
}

func newWeightAware() weightAware {
	patterns := make([]string, 0, len(types.WeightFilePatterns)+len(types.ConfigFilePatterns))
	patterns = append(patterns, types.WeightFilePatterns...)
	patterns = append(patterns, types.ConfigFilePatterns...)
	return weightAware{patterns: patterns}
}

func (s weightAware) Name() string { return StrategyWeightAware }

func (s weightAware) AllowPatterns() []string { return s.patterns }

func (s weightAware) Download(ctx context.Context, client repository.Client, artifactID, targetDir string) error {
	return client.Fetch(ctx, artifactID, s.patterns, targetDir)
}

type generic struct{}

func (generic) Name() string { return StrategyGeneric }

func (generic) AllowPatterns() []string { return nil }

func (generic) Download(ctx context.Context, client repository.Client, artifactID, targetDir string) error {
	return client.Fetch(ctx, artifactID, nil, targetDir)
}

// SelectStrategy picks the weight-aware strategy when any remote file is a
// weight file and the generic one otherwise, including for an empty or
// unknown manifest.
func SelectStrategy(files []types.RemoteFileDescriptor) Strategy {
	for _, f := range files {
		if f.IsWeightFile {
			return newWeightAware()
		}
	}
	return generic{}
}
