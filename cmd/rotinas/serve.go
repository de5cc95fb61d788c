package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acolita/rotinas/internal/adapters/realclock"
	"github.com/acolita/rotinas/internal/app"
	"github.com/acolita/rotinas/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the runtime and serve MCP tools on stdio",
	Long: `Starts the configured terminal session with the auto-trigger watcher
and keep-alive, and exposes it as an MCP server on stdin/stdout. Dialogs
raised by rotinas wait for the rotina_decide tool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, override, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// Stdout carries JSON-RPC, logs go to stderr or the configured file.
		logger, level, logFile, err := setupLogging(cfg, false)
		if err != nil {
			return err
		}
		defer logFile.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		clock := realclock.New()
		dialog := mcp.NewDialog(clock)
		rt, err := app.New(ctx, cfg,
			app.WithDialog(dialog),
			app.WithClock(clock),
			app.WithLogger(logger, level),
		)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.WatchConfig(path, override); err != nil {
			logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		}

		mcp.Version = Version
		srv := mcp.NewServer(mcp.Deps{
			Supervisor: rt.Supervisor,
			Repository: rt.Repository,
			Terminal:   rt.Session,
			Dialog:     dialog,
			Monitor:    rt.Watcher,
			Recorder:   rt.Recorder,
		}, mcp.WithLogger(logger), mcp.WithClock(clock))

		logger.Info("starting rotinas",
			slog.String("version", Version),
			slog.String("transport", cfg.Terminal.Transport),
		)

		runErr := make(chan error, 1)
		go func() { runErr <- rt.Run(ctx) }()

		serveErr := make(chan error, 1)
		go func() { serveErr <- srv.Run() }()

		select {
		case err = <-serveErr:
			if err != nil {
				logger.Error("mcp server error", slog.String("error", err.Error()))
			}
			stop()
			<-runErr
		case err = <-runErr:
		}
		rt.Supervisor.Stop()
		srv.Wait()
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
