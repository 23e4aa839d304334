// Package cliutil holds the glue shared by the cozy subcommands.
package cliutil

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cozy-creator/model-cache/internal/app"
	"github.com/cozy-creator/model-cache/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LoadConfig reads flags, env and config files through the global viper
// instance the root command bound its flags to.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// NewApp loads the config and builds an App with the command's options.
func NewApp(opts ...app.OptionFunc) (*app.App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return app.NewApp(cfg, opts...)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
