package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleSpec string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run discovery passes on a cron schedule",
	Long:  "Runs a discovery pass on every tick of the cron spec. A tick that fires while the previous pass is still running is skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDiscovery(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		spec := scheduleSpec
		if spec == "" {
			spec = cfg.Discovery.Schedule
		}

		c, err := newScheduler(ctx, spec, newRunner(env.Pass))
		if err != nil {
			return err
		}
		c.Start()
		zap.L().Info("scheduler started", zap.String("schedule", spec))

		<-ctx.Done()
		zap.L().Info("stopping scheduler, waiting for running pass")
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleSpec, "cron", "", "cron spec (default from config)")
	rootCmd.AddCommand(scheduleCmd)
}
