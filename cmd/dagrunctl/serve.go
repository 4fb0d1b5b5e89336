package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cron scheduler against every active DAG schedule",
	Long: "Starts the DAG Scheduler, which registers every persisted DAG with " +
		"schedule_active = true and hands each firing off to the Executor. " +
		"The HTTP/REST transport is out of this module's scope: serve blocks " +
		"on the scheduler alone until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		a.logger.Info(ctx, "dagrunctl: scheduler starting", "db_driver", cfg.DBDriver, "model_provider", cfg.ModelProvider)
		if err := a.sched.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		a.logger.Info(context.Background(), "dagrunctl: scheduler stopping")
		<-a.sched.Stop().Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
