package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the Dawarich connection and version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.gate.CheckStatus(cmd.Context(), true)
		if !st.Healthy {
			return fmt.Errorf("❌ %s", st.Message)
		}
		fmt.Printf("✅ %s\n", st.Message)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
