package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sstent/garmin2dawarich/internal/config"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "garmin2dawarich",
	Short: "garmin2dawarich copies Garmin Connect GPS tracks into Dawarich",
	Long: `garmin2dawarich is a sync daemon and CLI that:
1. Downloads Garmin Connect activities as GPX files
2. Tracks downloads and uploads in a SQLite or PostgreSQL ledger
3. Imports pending files into a self-hosted Dawarich instance
4. Sweeps historical date ranges day by day, resumably`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		c, err := config.LoadConfig(v)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logging.Init(logging.Config{Level: c.LogLevel, Format: c.LogFormat})
		cfg = c
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", syncerr.Summary(err))
		logging.Debug().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func init() {
	config.SetDefaults(v)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	flags.String("db", "", "Database DSN (SQLite path or postgres:// URL)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: json or console")

	v.BindPFlag("database.dsn", flags.Lookup("db"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("log.format", flags.Lookup("log-format"))
}
