package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-arkiosk/internal/config"
	"github.com/teslashibe/go-arkiosk/internal/log"
	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	logLevel   string
	standsFile string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "kiosk",
		Short:         "AR kiosk stand service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := opts.logLevel
			if level == "" {
				level = os.Getenv("KIOSK_LOG_LEVEL")
			}
			log.InitTo(os.Stderr, level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&opts.standsFile, "stands", "s", "", "Stand configuration file (default $KIOSK_STANDS_FILE)")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newCheckCommand(opts))
	rootCmd.AddCommand(newReplayCommand(opts))
	rootCmd.AddCommand(newPushCommand())
	rootCmd.AddCommand(newStatsCommand())

	return rootCmd
}

// standsPath resolves the stand file from args, the flag, then the environment.
func (o *options) standsPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if o.standsFile != "" {
		return o.standsFile
	}
	if p := os.Getenv("KIOSK_STANDS_FILE"); p != "" {
		return p
	}
	return config.DefaultStandsFile
}

func (o *options) loadStands(args []string) (string, stand.Configuration, error) {
	path := o.standsPath(args)
	cfg, err := config.LoadStands(path)
	return path, cfg, err
}
