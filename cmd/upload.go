package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sstent/garmin2dawarich/internal/upload"
)

var (
	uploadLatest bool
	uploadID     int64
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Import pending GPX files into Dawarich",
	Long: `Uploads pending ledger entries oldest first, pausing between files.
Failures are reported and the remaining files are still attempted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		scope := upload.Scope{RecordID: uploadID, Latest: uploadLatest}
		res, err := a.uploads.UploadPending(cmd.Context(), scope)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		printUploadResult(res)
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", res.Failed, res.Succeeded+res.Failed)
		}
		return nil
	},
}

func printUploadResult(res upload.Result) {
	if res.Succeeded+res.Failed == 0 {
		fmt.Println("No pending files to upload")
		return
	}
	for _, msg := range res.Errors {
		fmt.Printf("❌ %s\n", msg)
	}
	fmt.Printf("\n📊 Upload summary: %d succeeded, %d failed\n", res.Succeeded, res.Failed)
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadLatest, "latest", false, "Upload only the newest pending file")
	uploadCmd.Flags().Int64Var(&uploadID, "id", 0, "Upload a single ledger entry by id")
	uploadCmd.MarkFlagsMutuallyExclusive("latest", "id")

	rootCmd.AddCommand(uploadCmd)
}
