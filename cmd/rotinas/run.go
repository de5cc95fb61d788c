package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acolita/rotinas/internal/app"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run <path>",
	Short: "Execute one rotina and exit",
	Long: `Connects the configured terminal, executes the rotina at path and
exits. Questions raised by the rotina are declined.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, level, logFile, err := setupLogging(cfg, false)
		if err != nil {
			return err
		}
		defer logFile.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := app.New(ctx, cfg, app.WithLogger(logger, level))
		if err != nil {
			return err
		}
		defer rt.Close()

		origin, _ := cmd.Flags().GetString("origin")
		go func() {
			<-ctx.Done()
			rt.Supervisor.Stop()
		}()
		err = rt.Supervisor.Execute(ctx, supervisor.Request{Path: args[0], Origin: ports.Origin(origin)})
		if err != nil {
			return fmt.Errorf("rotina %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rotina %s finished\n", args[0])
		return nil
	},
}

func init() {
	runCmd.Flags().String("origin", "", "Script origin: user or public (default: user, then public)")
	rootCmd.AddCommand(runCmd)
}
