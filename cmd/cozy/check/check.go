package cmd

import (
	"fmt"
	"time"

	"github.com/cozy-creator/model-cache/cmd/cozy/cliutil"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "check",
	Short: "Check DNS and HTTPS reachability of the model endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := cliutil.SignalContext(cmd)
		defer stop()

		a, err := cliutil.NewApp()
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Connectivity().Check(ctx)
		out := cmd.OutOrStdout()
		for _, r := range results {
			if r.OK() {
				fmt.Fprintf(out, "%s: ok (%d, %s, %v)\n", r.Target, r.Status, r.Latency.Round(time.Millisecond), r.Addresses)
				continue
			}
			fmt.Fprintf(out, "%s: failed: %v\n", r.Target, r.Err)
		}
		return err
	},
}
