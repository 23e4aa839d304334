package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/cozy-creator/model-cache/cmd/cozy/cliutil"
	"github.com/cozy-creator/model-cache/internal/app"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "history <model-id>",
	Short: "List recorded download attempts for a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliutil.NewApp(app.WithDBInitialization())
		if err != nil {
			return err
		}
		defer a.Close()

		if a.DownloadRepository == nil {
			return fmt.Errorf("download history is disabled; set db.dsn to enable it")
		}

		limit, _ := cmd.Flags().GetInt("limit")
		downloads, err := a.DownloadRepository.ListByArtifact(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tRESULT\tSTRATEGY\tSIZE\tDURATION")
		for _, d := range downloads {
			result := "ok"
			if !d.Success {
				result = d.ErrorKind
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				humanize.Time(d.StartedAt),
				result,
				d.Strategy,
				humanize.IBytes(uint64(d.TotalBytes)),
				d.Duration().Round(time.Millisecond),
			)
		}
		return w.Flush()
	},
}

func init() {
	Cmd.Flags().Int("limit", 20, "Maximum number of attempts to list")
}
