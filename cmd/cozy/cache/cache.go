package cmd

import (
	"fmt"

	"github.com/cozy-creator/model-cache/cmd/cozy/cliutil"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var CleanupCmd = &cobra.Command{
	Use:   "cleanup <model-id>",
	Short: "Remove leftover partial files from a cache entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := cliutil.SignalContext(cmd)
		defer stop()

		a, err := cliutil.NewApp()
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Downloader.Cleanup(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d partial files\n", removed)
		return nil
	},
}

var EvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Remove cache entries that have not changed in the given number of days",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliutil.NewApp()
		if err != nil {
			return err
		}
		defer a.Close()

		maxAge := a.Config().RetentionDays
		if cmd.Flags().Changed("max-age-days") {
			maxAge, _ = cmd.Flags().GetInt("max-age-days")
		}

		evicted, err := a.Downloader.Evict(maxAge)
		if err != nil {
			return err
		}
		for _, path := range evicted {
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %s\n", path)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries evicted\n", len(evicted))
		return nil
	},
}

var PurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every entry from the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		if force, _ := cmd.Flags().GetBool("force"); !force {
			return fmt.Errorf("purge removes the whole cache; pass --force to confirm")
		}

		a, err := cliutil.NewApp()
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Downloader.Purge()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries removed\n", len(removed))
		return nil
	},
}

var UsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show how much disk space each cache entry uses",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliutil.NewApp()
		if err != nil {
			return err
		}
		defer a.Close()

		usage, err := a.Downloader.Usage()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, e := range usage.Entries {
			fmt.Fprintf(out, "%-60s %10s %6d files\n", e.Name, humanize.IBytes(uint64(e.Bytes)), e.Files)
		}
		fmt.Fprintf(out, "total: %s\n", humanize.IBytes(uint64(usage.TotalBytes)))
		return nil
	},
}

func init() {
	EvictCmd.Flags().Int("max-age-days", 0, "Maximum age in days; defaults to the configured retention")
	PurgeCmd.Flags().Bool("force", false, "Confirm removal of the whole cache")
}
