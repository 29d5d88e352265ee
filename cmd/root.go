package main

import (
	"github.com/spf13/cobra"

	"asr-datamodule/internal/config"
)

func newRootCommand() *cobra.Command {
	var envFlag string
	var configFlag string
	var logLevelFlag string

	rootCmd := &cobra.Command{
		Use:           "asrdata",
		Short:         "GigaSpeech discrete-token data module",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFlag, "env", ".env", "Path to .env file")
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML or YAML)")
	flags.StringVar(&logLevelFlag, "log-level", "", "Override logging.level")
	dataFlags := config.AddDataFlags(flags)

	ctx := newCommandContext(&envFlag, &configFlag, &logLevelFlag, dataFlags)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd == rootCmd {
			return nil
		}
		_, err := ctx.ensureConfig()
		return err
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		ctx.close()
	}

	rootCmd.AddCommand(newInspectCommand(ctx))
	rootCmd.AddCommand(newCountCommand(ctx))
	rootCmd.AddCommand(newIterateCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))

	return rootCmd
}
