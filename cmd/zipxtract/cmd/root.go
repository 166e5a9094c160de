// Package cmd holds the zipxtract command line.
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/javi11/zipxtract/internal/config"
	"github.com/javi11/zipxtract/internal/slogutil"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string

	cfgManager *config.Manager
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "zipxtract",
	Short: "Extract and update zip, 7z, rar and tar archives",
	Long: `zipxtract resolves multi-volume archive sets from any of their volumes,
extracts them into a fresh directory and rewrites zip and tar archives in place.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn or error")
}

// Execute runs the command line until ctx is cancelled.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, args []string) error {
	cfgManager = config.NewManager(afero.NewOsFs(), configFile)
	if err := cfgManager.Load(); err != nil {
		return fmt.Errorf("failed to load config from %s: %w", cfgManager.Path(), err)
	}

	if logLevel != "" {
		if err := cfgManager.Update(func(c *config.Config) { c.Log.Level = logLevel }); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	cfg := cfgManager.Snapshot()
	if err := checkOutputPaths(afero.NewOsFs(), cfg); err != nil {
		return err
	}
	logCloser = slogutil.Setup(slogutil.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	return nil
}
