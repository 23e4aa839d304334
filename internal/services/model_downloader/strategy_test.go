package model_downloader

import (
	"testing"

	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestSelectStrategy(t *testing.T) {
	assert.Equal(t, StrategyWeightAware, SelectStrategy(scenarioManifest()).Name())

	nested := []types.RemoteFileDescriptor{
		types.NewFileDescriptor("model_index.json", 1, ""),
		types.NewFileDescriptor("text_encoder/pytorch_model.bin", 1, ""),
	}
	assert.Equal(t, StrategyWeightAware, SelectStrategy(nested).Name())

	textOnly := []types.RemoteFileDescriptor{
		types.NewFileDescriptor("config.json", 1, ""),
		types.NewFileDescriptor("model.onnx", 1, ""),
	}
	assert.Equal(t, StrategyGeneric, SelectStrategy(textOnly).Name())
	assert.Nil(t, SelectStrategy(textOnly).AllowPatterns())

	assert.Equal(t, StrategyGeneric, SelectStrategy(nil).Name())
}

func TestWeightAwarePatterns(t *testing.T) {
	patterns := SelectStrategy(scenarioManifest()).AllowPatterns()
	for _, p := range append(types.WeightFilePatterns, "*.json", "*.txt") {
		assert.Contains(t, patterns, p)
	}
	assert.NotContains(t, patterns, "*.onnx")
	assert.NotContains(t, patterns, "*.msgpack")
}
