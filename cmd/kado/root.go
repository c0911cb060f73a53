package main

import (
	"fmt"
	"os"

	"github.com/kadohq/kado/internal/config"
	"github.com/kadohq/kado/internal/logger"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kado",
	Short: "Kado agent trust core",
	Long:  `Kado arbitrates agent tool calls against policy and keeps project and session state durable across processes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Log.Level)
		// Every store call and decision record made by this invocation
		// shares one trace ID.
		cmd.SetContext(logger.WithTraceID(cmd.Context(), ulid.Make().String()))
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kado/config.yaml)")
	rootCmd.PersistentFlags().String("log.level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("policy.mode", config.DefaultPolicyMode, "default policy mode (plan, auto, ask)")
	rootCmd.PersistentFlags().String("storage.root", "", "storage root (default is $KADO_HOME or $HOME/.kado)")
}
