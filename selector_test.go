package tripstakes

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstakes/tripstakes/model"
	"github.com/tripstakes/tripstakes/storage"
)

func TestDueAt(t *testing.T) {
	utc := time.UTC

	for _, tc := range []struct {
		name     string
		trip     storage.UnresolvedTrip
		grace    time.Duration
		expected time.Time
	}{
		{
			"morning arrival plus grace",
			storage.UnresolvedTrip{
				Key:         model.TripKey{TripID: "t1", ServiceDate: "20240215"},
				LastArrival: "081500",
			},
			5 * time.Minute,
			time.Date(2024, 2, 15, 8, 20, 0, 0, utc),
		},
		{
			"grace spills into the next day",
			storage.UnresolvedTrip{
				Key:         model.TripKey{TripID: "t1", ServiceDate: "20240215"},
				LastArrival: "235800",
			},
			5 * time.Minute,
			time.Date(2024, 2, 16, 0, 3, 0, 0, utc),
		},
		{
			"post-midnight arrival lands on the next day",
			storage.UnresolvedTrip{
				Key:         model.TripKey{TripID: "t1", ServiceDate: "20240215"},
				LastArrival: "251000",
			},
			5 * time.Minute,
			time.Date(2024, 2, 16, 1, 15, 0, 0, utc),
		},
		{
			"zero grace",
			storage.UnresolvedTrip{
				Key:         model.TripKey{TripID: "t1", ServiceDate: "20240215"},
				LastArrival: "120000",
			},
			0,
			time.Date(2024, 2, 15, 12, 0, 0, 0, utc),
		},
	} {
		at, err := dueAt(tc.trip, tc.grace, utc)
		require.NoError(t, err, tc.name)
		assert.True(t, at.Equal(tc.expected), "%s: got %s, want %s", tc.name, at, tc.expected)
	}
}

func TestDueAtAcrossDSTTransition(t *testing.T) {
	nyc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// DST begins 2024-03-10 at 02:00 in New York, so the 02:00-03:00
	// hour doesn't exist. A 26:00:00 arrival is noon minus 12h plus
	// 26h, which lands at 03:00 wall clock.
	at, err := dueAt(storage.UnresolvedTrip{
		Key:         model.TripKey{TripID: "t1", ServiceDate: "20240309"},
		LastArrival: "260000",
	}, 0, nyc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 3, 0, 0, 0, nyc), at)
}

func TestDueAtBadData(t *testing.T) {
	_, err := dueAt(storage.UnresolvedTrip{
		Key:         model.TripKey{TripID: "t1", ServiceDate: "yesterday"},
		LastArrival: "120000",
	}, 0, time.UTC)
	assert.Error(t, err)

	_, err = dueAt(storage.UnresolvedTrip{
		Key:         model.TripKey{TripID: "t1", ServiceDate: "20240215"},
		LastArrival: "noonish",
	}, 0, time.UTC)
	assert.Error(t, err)
}

func TestDueTrips(t *testing.T) {
	engine := NewEngine(storage.NewMemoryStorage(), nil, Options{
		GraceWindow: 5 * time.Minute,
		Location:    time.UTC,
		Logger:      slog.Default(),
	})

	unresolved := []storage.UnresolvedTrip{
		// Due: arrival 08:00 + 5m grace = 08:05
		{Key: model.TripKey{TripID: "due", ServiceDate: "20240215"}, LastStopSequence: 3, LastArrival: "080000"},
		// Due exactly now
		{Key: model.TripKey{TripID: "boundary", ServiceDate: "20240215"}, LastStopSequence: 2, LastArrival: "085500"},
		// Not due yet
		{Key: model.TripKey{TripID: "early", ServiceDate: "20240215"}, LastStopSequence: 5, LastArrival: "090000"},
		// No stop time data: skipped, never resolved
		{Key: model.TripKey{TripID: "gap", ServiceDate: "20240215"}},
	}

	now := time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC)
	stats := PassStats{}
	due := engine.dueTrips(now, unresolved, &stats)

	require.Equal(t, 2, len(due))
	assert.Equal(t, "due", due[0].Key.TripID)
	assert.Equal(t, time.Date(2024, 2, 15, 8, 5, 0, 0, time.UTC), due[0].DueAt)
	assert.Equal(t, "boundary", due[1].Key.TripID)
	assert.Equal(t, 1, stats.SkippedNoSchedule)
}
