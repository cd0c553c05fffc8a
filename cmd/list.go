package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sstent/garmin2dawarich/internal/db"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloaded activity files",
	Long: `List ledger entries, newest first, with optional filters:
- All entries (default)
- Pending entries (not yet uploaded)
- Uploaded entries`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listPending, _ := cmd.Flags().GetBool("pending")
		listUploaded, _ := cmd.Flags().GetBool("uploaded")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		if pageSize < 1 {
			return fmt.Errorf("--page-size must be at least 1")
		}

		filter := db.FilterAll
		switch {
		case listPending:
			filter = db.FilterPending
		case listUploaded:
			filter = db.FilterUploaded
		}

		database, err := db.NewDatabase(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		ctx := cmd.Context()
		total, err := database.CountRecords(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to count records: %w", err)
		}
		if total == 0 {
			fmt.Println("No records found matching the criteria")
			return nil
		}

		page := 1
		shown := 0
		for {
			records, err := database.ListRecordsPaginated(ctx, filter, page, pageSize)
			if err != nil {
				return fmt.Errorf("failed to get records: %w", err)
			}
			if len(records) == 0 {
				break
			}

			for _, r := range records {
				status := "⏳ Pending"
				if r.Uploaded {
					status = "✅ Uploaded"
				}
				fmt.Printf("ID: %d | %s | %s | %s\n",
					r.ID,
					r.DownloadTime.Local().Format("2006-01-02 15:04:05"),
					r.Filename,
					status)
				shown++
			}

			if shown >= total {
				break
			}
			fmt.Printf("\nPage %d (%d of %d shown) - Show more? (y/n): ", page, shown, total)
			var response string
			fmt.Scanln(&response)
			if strings.ToLower(response) != "y" {
				return nil
			}
			page++
		}

		fmt.Printf("\nTotal: %d %s records\n", total, filter)
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("pending", false, "List entries that have not been uploaded")
	listCmd.Flags().Bool("uploaded", false, "List entries that have been uploaded")
	listCmd.Flags().Int("page-size", 20, "Entries per page")
	listCmd.MarkFlagsMutuallyExclusive("pending", "uploaded")

	rootCmd.AddCommand(listCmd)
}
