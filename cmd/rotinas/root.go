package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/acolita/rotinas/internal/config"
	"github.com/acolita/rotinas/internal/logging"
)

// Version information, set at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "rotinas",
	Short: "Screen automation for terminal applications",
	Long: `rotinas drives a terminal application (local, over SSH or over a
WebSocket gateway) with small scripts that read the screen and type.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", config.DefaultConfigPath(), "Path to configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Log at debug level")
}

// loadConfig reads the configuration and applies the command line
// overrides. The returned override is reapplied on hot reload.
func loadConfig(cmd *cobra.Command) (*config.Config, string, func(*config.Config), error) {
	path, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", nil, err
	}
	override := func(c *config.Config) {
		if debug {
			c.Logging.Level = "debug"
		}
	}
	override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, path, override, nil
}

// setupLogging installs the default logger. toFile forces a log file when
// the terminal is taken by the screen.
func setupLogging(cfg *config.Config, toFile bool) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	file := cfg.Logging.File
	if file == "" && toFile {
		file = filepath.Join(filepath.Dir(config.DefaultConfigPath()), "rotinas.log")
	}
	if file == "" {
		level := logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)
		return slog.Default(), level, io.NopCloser(nil), nil
	}

	w, err := logging.OpenFile(config.ExpandHome(file))
	if err != nil {
		return nil, nil, nil, err
	}
	logger, level := logging.New(w, cfg.Logging.Level, cfg.Logging.Sanitize)
	slog.SetDefault(logger)
	return logger, level, w, nil
}
