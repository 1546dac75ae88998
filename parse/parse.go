// Package parse loads static GTFS schedule data into storage. Only
// the two files the game needs are read: trips.txt identifies the
// trips users can predict on, and stop_times.txt provides the arrival
// times the resolver anchors its due-time computation to.
package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"github.com/tripstakes/tripstakes/storage"
)

// Stats summarizes an import.
type Stats struct {
	Trips     int
	StopTimes int
}

// ParseSchedule reads trips.txt and stop_times.txt from a zipped GTFS
// dump and writes them as trip occurrences for the given service date
// (YYYYMMDD).
func ParseSchedule(writer storage.ScheduleWriter, buf []byte, serviceDate string) (*Stats, error) {
	if _, err := time.Parse("20060102", serviceDate); err != nil {
		return nil, fmt.Errorf("invalid service date '%s'", serviceDate)
	}

	file := map[string]io.ReadCloser{
		"trips.txt":      nil,
		"stop_times.txt": nil,
	}

	defer func() {
		for _, rc := range file {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if _, found := file[fName]; !found {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}

		file[fName] = rc
	}

	for _, required := range []string{"trips.txt", "stop_times.txt"} {
		if file[required] == nil {
			return nil, fmt.Errorf("missing %s", required)
		}
	}

	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})

	if err := writer.BeginTrips(); err != nil {
		return nil, fmt.Errorf("beginning trips: %w", err)
	}
	trips, err := ParseTrips(writer, file["trips.txt"], serviceDate)
	if err != nil {
		return nil, fmt.Errorf("parsing trips.txt: %w", err)
	}
	if err := writer.EndTrips(); err != nil {
		return nil, fmt.Errorf("ending trips: %w", err)
	}

	if err := writer.BeginStopTimes(); err != nil {
		return nil, fmt.Errorf("beginning stop_times: %w", err)
	}
	numStopTimes, err := ParseStopTimes(writer, file["stop_times.txt"], serviceDate, trips)
	if err != nil {
		return nil, fmt.Errorf("parsing stop_times.txt: %w", err)
	}
	if err := writer.EndStopTimes(); err != nil {
		return nil, fmt.Errorf("ending stop_times: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing schedule writer: %w", err)
	}

	return &Stats{
		Trips:     len(trips),
		StopTimes: numStopTimes,
	}, nil
}
