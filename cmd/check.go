package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/upload"
)

var (
	checkStart  string
	checkEnd    string
	checkUpload bool
)

// checkCmd replaces the FIT download command: it pulls GPX tracks for a
// date window into the activities directory.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Download new Garmin activities as GPX files",
	Long: `Downloads activities for a date window (yesterday by default) that are
not yet in the ledger. Excluded and empty activities are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now().AddDate(0, 0, -1)
		end := start
		var err error
		if checkStart != "" {
			if start, err = parseDay("start", checkStart); err != nil {
				return err
			}
			end = start
		}
		if checkEnd != "" {
			if end, err = parseDay("end", checkEnd); err != nil {
				return err
			}
		}
		if end.Before(start) {
			return fmt.Errorf("--end must not be before --start")
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Checking Garmin Connect for %s to %s...\n", start.Format(db.DateLayout), end.Format(db.DateLayout))
		n, err := a.ingest.Download(cmd.Context(), start, end)
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		fmt.Printf("📥 Downloaded %d new activities\n", n)

		if !checkUpload {
			return nil
		}
		res, err := a.uploads.UploadPending(cmd.Context(), upload.All)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		printUploadResult(res)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkStart, "start", "", "First day to check (YYYY-MM-DD)")
	checkCmd.Flags().StringVar(&checkEnd, "end", "", "Last day to check (YYYY-MM-DD, defaults to --start)")
	checkCmd.Flags().BoolVar(&checkUpload, "upload", false, "Upload pending files afterwards")

	rootCmd.AddCommand(checkCmd)
}
