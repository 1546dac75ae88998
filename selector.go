package tripstakes

import (
	"fmt"
	"time"

	"github.com/tripstakes/tripstakes/model"
	"github.com/tripstakes/tripstakes/storage"
)

// DueTrip is an unresolved trip whose grace window has elapsed: its
// real outcome is now considered determinable.
type DueTrip struct {
	storage.UnresolvedTrip
	DueAt time.Time
}

// dueAt computes the instant a trip becomes due: the scheduled
// arrival at its last stop, anchored to the service date, plus the
// grace window.
//
// Arrival offsets can exceed 24h for post-midnight service. Anchoring
// at noon minus 12h instead of midnight keeps the arithmetic correct
// across DST transitions, where midnight-based math would drift by an
// hour.
func dueAt(trip storage.UnresolvedTrip, grace time.Duration, loc *time.Location) (time.Time, error) {
	date, err := time.ParseInLocation("20060102", trip.Key.ServiceDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing service date '%s': %w", trip.Key.ServiceDate, err)
	}

	offset, err := model.ParseHHMMSS(trip.LastArrival)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last arrival: %w", err)
	}

	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc)
	return noon.Add(-12 * time.Hour).Add(offset).Add(grace), nil
}

// dueTrips filters the unresolved trips down to those due at or
// before now. Trips without stop time data are skipped: a schedule
// gap must never produce a spurious outcome.
func (e *Engine) dueTrips(now time.Time, unresolved []storage.UnresolvedTrip, stats *PassStats) []DueTrip {
	due := []DueTrip{}
	for _, trip := range unresolved {
		if trip.LastArrival == "" {
			stats.SkippedNoSchedule++
			if e.metrics != nil {
				e.metrics.TripsNoSchedule.Inc()
			}
			e.logger.Warn("trip has no stop time data, skipping",
				"trip_id", trip.Key.TripID,
				"service_date", trip.Key.ServiceDate)
			continue
		}

		at, err := dueAt(trip, e.grace, e.location)
		if err != nil {
			stats.SkippedNoSchedule++
			if e.metrics != nil {
				e.metrics.TripsNoSchedule.Inc()
			}
			e.logger.Warn("trip has unusable schedule data, skipping",
				"trip_id", trip.Key.TripID,
				"service_date", trip.Key.ServiceDate,
				"error", err)
			continue
		}

		if at.After(now) {
			continue
		}

		due = append(due, DueTrip{UnresolvedTrip: trip, DueAt: at})
	}
	return due
}
