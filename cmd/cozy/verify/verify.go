package cmd

import (
	"fmt"

	"github.com/cozy-creator/model-cache/cmd/cozy/cliutil"
	"github.com/cozy-creator/model-cache/internal/types"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "verify <model-id>",
	Short: "Report the cache state of a model without downloading anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliutil.NewApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id := args[0]
		state, err := a.Downloader.VerifyOnly(id)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, state)
		if state != types.CacheStateComplete {
			return fmt.Errorf("%s is not fully cached", id)
		}
		return nil
	},
}
