package cmd

import (
	"context"
	"fmt"

	"github.com/cozy-creator/model-cache/cmd/cozy/cliutil"
	"github.com/cozy-creator/model-cache/internal/app"
	"github.com/cozy-creator/model-cache/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the model cache over HTTP",
	RunE:  runServe,
}

func init() {
	flags := Cmd.Flags()

	flags.Int("port", 8881, "Port to run the server on")
	flags.String("host", "localhost", "Host to run the server on")
	flags.String("environment", "dev", "Environment configuration")
	flags.StringSlice("warmup-models", []string{}, "Models to download into the cache on startup")
	flags.String("db-dsn", "", "Download history database DSN (Connection URL or Path)")

	viper.BindPFlag("port", flags.Lookup("port"))
	viper.BindPFlag("host", flags.Lookup("host"))
	viper.BindPFlag("environment", flags.Lookup("environment"))
	viper.BindPFlag("warmup_models", flags.Lookup("warmup-models"))
	viper.BindPFlag("db.dsn", flags.Lookup("db-dsn"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := cliutil.SignalContext(cmd)
	defer stop()

	a, err := cliutil.NewApp(app.WithDBInitialization())
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.NewServer(a.Config(), a.Logger)
	if err != nil {
		return err
	}
	srv.SetupRoutes(a)

	if models := viper.GetStringSlice("warmup_models"); len(models) > 0 {
		go warmup(a, models)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := srv.Stop(context.Background()); err != nil {
			return fmt.Errorf("error stopping server: %w", err)
		}
		return nil
	}
}

func warmup(a *app.App, models []string) {
	results := a.Downloader.DownloadAll(a.Context(), models)
	for id, res := range results {
		if !res.Success {
			a.Logger.Error("warmup download failed", zap.String("artifact_id", id), zap.Error(res.Err))
		}
	}
}
