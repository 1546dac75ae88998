package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tripstakes/tripstakes/config"
	"github.com/tripstakes/tripstakes/parse"
)

var (
	gtfsPath    string
	serviceDate string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a static GTFS schedule",
	Long:  "Loads trips and stop times from a GTFS zip as occurrences on a service date",
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringVarP(&gtfsPath, "gtfs", "", "", "path to GTFS zip file")
	importCmd.Flags().StringVarP(&serviceDate, "service-date", "", "", "service date (YYYYMMDD)")
	importCmd.MarkFlagRequired("gtfs")
	importCmd.MarkFlagRequired("service-date")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	buf, err := os.ReadFile(gtfsPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", gtfsPath, err)
	}

	writer, err := store.ScheduleWriter()
	if err != nil {
		return fmt.Errorf("getting schedule writer: %w", err)
	}

	stats, err := parse.ParseSchedule(writer, buf, serviceDate)
	if err != nil {
		return fmt.Errorf("importing schedule: %w", err)
	}

	fmt.Printf("imported %d trips, %d stop times for %s\n", stats.Trips, stats.StopTimes, serviceDate)
	return nil
}
