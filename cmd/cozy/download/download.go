package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/cozy-creator/model-cache/cmd/cozy/cliutil"
	"github.com/cozy-creator/model-cache/internal/app"
	"github.com/cozy-creator/model-cache/internal/services/retry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var Cmd = &cobra.Command{
	Use:   "download [model-id...]",
	Short: "Download models into the cache",
	Long:  "Download one or more models into the cache. With no arguments the MODEL_ID environment variable names the model.",
	RunE:  runDownload,
}

func init() {
	flags := Cmd.Flags()
	flags.Bool("wait-for-network", false, "Wait for the model endpoint to become reachable before downloading")
	flags.Bool("no-progress", false, "Do not render progress bars")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ids := args
	if len(ids) == 0 {
		if id := viper.GetString("model_id"); id != "" {
			ids = []string{id}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no model id given; pass one as an argument or set MODEL_ID")
	}

	ctx, stop := cliutil.SignalContext(cmd)
	defer stop()

	var opts []app.OptionFunc
	if noProgress, _ := cmd.Flags().GetBool("no-progress"); !noProgress {
		opts = append(opts, app.WithProgress(os.Stderr))
	}
	opts = append(opts, app.WithDBInitialization())

	a, err := cliutil.NewApp(opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	if wait, _ := cmd.Flags().GetBool("wait-for-network"); wait {
		cfg := a.Config()
		policy := retry.NewPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, a.Logger)
		if err := a.Connectivity().WaitForNetwork(ctx, policy); err != nil {
			return fmt.Errorf("network is not reachable: %w", err)
		}
	}

	results := a.Downloader.DownloadAll(ctx, ids)

	keys := make([]string, 0, len(results))
	for id := range results {
		keys = append(keys, id)
	}
	sort.Strings(keys)

	failed := 0
	for _, id := range keys {
		res := results[id]
		if res.Success {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ready at %s\n", id, res.Path)
			continue
		}
		failed++
		a.Logger.Error("download failed", zap.String("artifact_id", id), zap.String("error_kind", string(res.ErrorKind)), zap.Error(res.Err))
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", id, res.ErrorKind, res.Message())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(keys))
	}
	return nil
}
