package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/tripstakes/tripstakes/model"
	"github.com/tripstakes/tripstakes/storage"
)

type TripCSV struct {
	ID       string `csv:"trip_id"`
	RouteID  string `csv:"route_id"`
	Headsign string `csv:"trip_headsign"`
}

func ParseTrips(
	writer storage.ScheduleWriter,
	data io.Reader,
	serviceDate string,
) (map[string]bool, error) {
	tripCsv := []*TripCSV{}
	if err := gocsv.Unmarshal(data, &tripCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling trips csv: %w", err)
	}

	trips := map[string]bool{}
	for _, t := range tripCsv {
		if t.ID == "" {
			return nil, fmt.Errorf("empty trip_id")
		}
		if trips[t.ID] {
			return nil, fmt.Errorf("repeated trip_id '%s'", t.ID)
		}
		trips[t.ID] = true

		if t.RouteID == "" {
			return nil, fmt.Errorf("empty route_id for trip '%s'", t.ID)
		}

		err := writer.WriteTrip(&model.Trip{
			Key: model.TripKey{
				TripID:      t.ID,
				ServiceDate: serviceDate,
			},
			RouteID:  t.RouteID,
			Headsign: t.Headsign,
		})
		if err != nil {
			return nil, fmt.Errorf("writing trip: %w", err)
		}
	}

	return trips, nil
}
