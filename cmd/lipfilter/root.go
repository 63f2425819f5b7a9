package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dudu/lipfilter/internal/config"
	"github.com/dudu/lipfilter/internal/logger"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is loaded before any subcommand runs
	cfg *config.Config
	// v backs cfg and is watched for changes by run
	v *viper.Viper

	configPath string
	verbose    bool
)

// flagKeys binds command flags to config keys when the running command
// defines them
var flagKeys = map[string]string{
	"camera":   "camera.device",
	"backend":  "render.backend",
	"color":    "style.color",
	"opacity":  "style.opacity",
	"server":   "server.enabled",
	"addr":     "server.addr",
	"out":      "capture.dir",
	"format":   "capture.format",
	"provider": "detector.provider",
}

var rootCmd = &cobra.Command{
	Use:           "lipfilter",
	Short:         "Real-time virtual lipstick for your webcam",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New()
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return errors.Wrapf(err, "failed to bind --%s", name)
				}
			}
		}

		var err error
		cfg, err = config.Load(v, configPath)
		if err != nil {
			return err
		}
		if problems := cfg.Validate(); len(problems) > 0 {
			return errors.Newf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
		}

		if err := logger.Init(cfg.Log.Development || verbose); err != nil {
			return errors.Wrap(err, "failed to create logger")
		}
		if used := v.ConfigFileUsed(); used != "" {
			logger.S().Debugw("config loaded", "file", used)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute runs the root command with a context cancelled on Ctrl+C
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "config file (default: ./lipfilter.yaml or ~/.lipfilter/lipfilter.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
