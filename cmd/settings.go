package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sstent/garmin2dawarich/internal/db"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update the saved sweep settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.NewDatabase(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		s, err := database.GetSettings(cmd.Context())
		if err != nil {
			return err
		}
		printSettings(s)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update saved settings; only the flags given are changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.NewDatabase(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		ctx := cmd.Context()
		s, err := database.GetSettings(ctx)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("start") {
			v, _ := flags.GetString("start")
			t, err := parseDay("start", v)
			if err != nil {
				return err
			}
			s.StartDate = &t
		}
		if flags.Changed("end") {
			v, _ := flags.GetString("end")
			t, err := parseDay("end", v)
			if err != nil {
				return err
			}
			s.EndDate = &t
		}
		if flags.Changed("delay") {
			s.DelaySeconds, _ = flags.GetInt("delay")
			if s.DelaySeconds < 0 {
				return fmt.Errorf("--delay must not be negative")
			}
		}
		if flags.Changed("ignore-version-check") {
			s.IgnoreSafeVersionCheck, _ = flags.GetBool("ignore-version-check")
		}
		if flags.Changed("delete-old-files") {
			s.DeleteOldFiles, _ = flags.GetBool("delete-old-files")
		}
		if s.StartDate != nil && s.EndDate != nil && s.StartDate.After(*s.EndDate) {
			return fmt.Errorf("start date must not be after end date")
		}

		if err := database.SaveSettings(ctx, s); err != nil {
			return err
		}
		printSettings(s)
		return nil
	},
}

func printSettings(s db.UserSettings) {
	fmt.Printf("Sweep start:           %s\n", formatDay(s.StartDate))
	fmt.Printf("Sweep end:             %s\n", formatDay(s.EndDate))
	fmt.Printf("Delay between days:    %ds\n", s.DelaySeconds)
	fmt.Printf("Ignore version check:  %t\n", s.IgnoreSafeVersionCheck)
	fmt.Printf("Delete old files:      %t\n", s.DeleteOldFiles)
}

func formatDay(t *time.Time) string {
	if t == nil {
		return "(unset)"
	}
	return t.Format(db.DateLayout)
}

func init() {
	f := settingsSetCmd.Flags()
	f.String("start", "", "Sweep start date (YYYY-MM-DD)")
	f.String("end", "", "Sweep end date (YYYY-MM-DD)")
	f.Int("delay", 0, "Seconds to wait between sweep days")
	f.Bool("ignore-version-check", false, "Accept any Dawarich version")
	f.Bool("delete-old-files", false, "Delete old files flag (stored only)")

	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
