package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/sweep"
)

var (
	sweepStart string
	sweepEnd   string
	sweepDelay int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Download a historical date range day by day",
	Long: `Walks the saved sweep range one day at a time in the foreground. The
saved start date advances after each day, so an interrupted sweep resumes
where it stopped. Ctrl-C stops after the current day.

--start, --end and --delay update the saved range before starting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := saveSweepRange(ctx, cmd, a.db); err != nil {
			return err
		}

		runID, err := a.sweep.Start(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Sweep %s started\n", runID)

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)
		done := make(chan struct{})
		forwarded := forwardStop(sigs, done, a.sweep.Stop)

		err = a.sweep.Wait(context.Background())
		close(done)
		<-forwarded
		if err != nil {
			return err
		}

		st := a.sweep.Status()
		fmt.Printf("%s: %s (%d days, %d activities)\n", st.State, st.Message, st.Days, st.Downloaded)
		if st.State == sweep.Failed {
			return fmt.Errorf("sweep failed: %s", st.Message)
		}
		return nil
	},
}

// forwardStop calls stop on the first signal, until done is closed. The
// returned channel is closed when the forwarder exits.
func forwardStop(sigs <-chan os.Signal, done <-chan struct{}, stop func() error) <-chan struct{} {
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-sigs:
			fmt.Println("\n⏳ Stopping after the current day...")
			stop()
		case <-done:
		}
	}()
	return exited
}

// saveSweepRange applies the range flags that were set to the saved settings
func saveSweepRange(ctx context.Context, cmd *cobra.Command, store *db.Database) error {
	flags := cmd.Flags()
	if !flags.Changed("start") && !flags.Changed("end") && !flags.Changed("delay") {
		return nil
	}

	s, err := store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if flags.Changed("start") {
		t, err := parseDay("start", sweepStart)
		if err != nil {
			return err
		}
		s.StartDate = &t
	}
	if flags.Changed("end") {
		t, err := parseDay("end", sweepEnd)
		if err != nil {
			return err
		}
		s.EndDate = &t
	}
	if flags.Changed("delay") {
		s.DelaySeconds = sweepDelay
	}
	return store.SaveSettings(ctx, s)
}

func init() {
	sweepCmd.Flags().StringVar(&sweepStart, "start", "", "First day of the range (YYYY-MM-DD)")
	sweepCmd.Flags().StringVar(&sweepEnd, "end", "", "Last day of the range (YYYY-MM-DD)")
	sweepCmd.Flags().IntVar(&sweepDelay, "delay", 0, "Seconds to wait between days")

	rootCmd.AddCommand(sweepCmd)
}
