package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "uploadkit",
	Short: "Media ingestion pipeline - validate, transform and upload images",
	Long:  `Validates images, derives resized variants, obtains presigned write credentials from the session broker and uploads all variants in parallel with retry.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/uploads.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("broker-url", "http://localhost:8080", "Upload-session broker base URL")
	rootCmd.PersistentFlags().String("broker-token", "", "Broker bearer token")
	rootCmd.PersistentFlags().String("cdn-base-url", "https://cdn.example.com", "Public read base URL")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/uploadkit", "Staging work directory")
	rootCmd.PersistentFlags().Int64("max-file-size", 2*1024*1024, "Max file size in bytes")
	rootCmd.PersistentFlags().Bool("legacy-enabled", false, "Route uploads through the legacy single-variant path")

	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("broker-url", rootCmd.PersistentFlags().Lookup("broker-url"))
	viper.BindPFlag("broker-token", rootCmd.PersistentFlags().Lookup("broker-token"))
	viper.BindPFlag("cdn-base-url", rootCmd.PersistentFlags().Lookup("cdn-base-url"))
	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("max-file-size", rootCmd.PersistentFlags().Lookup("max-file-size"))
	viper.BindPFlag("legacy-enabled", rootCmd.PersistentFlags().Lookup("legacy-enabled"))
}
