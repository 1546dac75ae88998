package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tripstakes/tripstakes/config"
	"github.com/tripstakes/tripstakes/storage"
)

var rootCmd = &cobra.Command{
	Use:          "tripstakes",
	Short:        "Trip prediction game resolver",
	Long:         "Resolves trip outcomes from a GTFS Realtime feed and scores predictions",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.DatabaseURL != "" {
		return storage.NewPSQLStorage(cfg.DatabaseURL, false)
	}
	return storage.NewSQLiteStorage(storage.SQLiteConfig{
		OnDisk:    true,
		Directory: cfg.SQLitePath,
	})
}
