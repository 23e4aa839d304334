package logger

import (
	"fmt"

	"github.com/cozy-creator/model-cache/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the logger for cfg.Environment. LogLevel, when set,
// overrides the environment's default level.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	switch cfg.Environment {
	case "prod", "production":
		zcfg = zap.NewProductionConfig()
	case "test":
		if cfg.LogLevel == "" {
			return zap.NewExample(), nil
		}
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zcfg.Build()
}

func MustNewLogger(cfg *config.Config) *zap.Logger {
	return zap.Must(NewLogger(cfg))
}
