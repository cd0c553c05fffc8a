package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/scheduler"
	"github.com/sstent/garmin2dawarich/internal/server"
	"github.com/sstent/garmin2dawarich/internal/supervisor"
)

var serveNoSchedule bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and the daily sync",
	Long: `Runs the HTTP control API and, unless disabled, the daily job that
downloads yesterday's activities and uploads the pending backlog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		api := server.New(server.Deps{
			Store:         a.db,
			Gate:          a.gate,
			Ingest:        a.ingest,
			Uploads:       a.uploads,
			Sweep:         a.sweep,
			ActivitiesDir: cfg.ActivitiesDir,
		})

		tree := supervisor.New(logging.Slog(), supervisor.DefaultConfig())
		tree.Add(server.NewHTTPService(cfg.Listen, api.Handler()))
		tree.Add(supervisor.StopOnShutdown("sweep", a.sweep, supervisor.DefaultConfig().ShutdownTimeout))

		if !serveNoSchedule {
			daily, err := scheduler.NewDaily(cfg.ScheduleTime, a.ingest, a.uploads)
			if err != nil {
				return fmt.Errorf("failed to create scheduler: %w", err)
			}
			tree.Add(daily)
		}

		logging.Info().
			Str("listen", cfg.Listen).
			Str("database", a.db.Dialect()).
			Str("schedule", cfg.ScheduleTime).
			Bool("scheduler", !serveNoSchedule).
			Msg("Starting garmin2dawarich")

		return tree.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Address for the control API (default :5000)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "Disable the daily sync job")
	v.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))

	rootCmd.AddCommand(serveCmd)
}
