package cmd

import (
	"fmt"
	"os"

	// Subcommands
	cache "github.com/cozy-creator/model-cache/cmd/cozy/cache"
	check "github.com/cozy-creator/model-cache/cmd/cozy/check"
	db "github.com/cozy-creator/model-cache/cmd/cozy/db"
	download "github.com/cozy-creator/model-cache/cmd/cozy/download"
	history "github.com/cozy-creator/model-cache/cmd/cozy/history"
	serve "github.com/cozy-creator/model-cache/cmd/cozy/serve"
	verify "github.com/cozy-creator/model-cache/cmd/cozy/verify"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:   "cozy",
	Short: "Cozy model cache",
	Long:  "Downloads model artifacts from HuggingFace or S3 into a local cache and keeps that cache healthy",

	SilenceUsage: true,

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Bind all flags from the current command and its persistent parent flags
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		return viper.BindPFlags(cmd.PersistentFlags())
	},
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pflags := Cmd.PersistentFlags()

	pflags.String("cozy-home", "", "Path to the cozy home directory")
	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")
	pflags.String("cache-dir", "", "Cache root; defaults to <cozy-home>/models")

	viper.BindPFlag("cozy_home", pflags.Lookup("cozy-home"))
	viper.BindPFlag("config_file", pflags.Lookup("config-file"))
	viper.BindPFlag("env_file", pflags.Lookup("env-file"))
	viper.BindPFlag("cache_dir", pflags.Lookup("cache-dir"))

	Cmd.AddCommand(
		download.Cmd,
		verify.Cmd,
		cache.CleanupCmd,
		cache.EvictCmd,
		cache.PurgeCmd,
		cache.UsageCmd,
		check.Cmd,
		history.Cmd,
		serve.Cmd,
		db.Cmd,
	)
	Cmd.CompletionOptions.HiddenDefaultCmd = true
}
