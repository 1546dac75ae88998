package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeTerminal(t *testing.T) {
	assert.False(t, OutcomeUnresolved.Terminal())
	assert.True(t, OutcomeOnTime.Terminal())
	assert.True(t, OutcomeLate.Terminal())
	assert.False(t, Outcome("bogus").Terminal())
}

func TestTripKeyString(t *testing.T) {
	key := TripKey{TripID: "t1", ServiceDate: "20240215"}
	assert.Equal(t, "t1@20240215", key.String())
}

func TestParseHHMMSS(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected time.Duration
	}{
		{"000000", 0},
		{"120000", 12 * time.Hour},
		{"235959", 23*time.Hour + 59*time.Minute + 59*time.Second},

		// Post-midnight service runs past 24h
		{"251000", 25*time.Hour + 10*time.Minute},
		{"990000", 99 * time.Hour},
	} {
		d, err := ParseHHMMSS(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, d, tc.input)
	}

	for _, bad := range []string{"", "1200", "12:00:00", "12000a", "126000", "120060"} {
		_, err := ParseHHMMSS(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseArrival(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected string
	}{
		{"00:00:00", "000000"},
		{"9:05:07", "090507"},
		{"23:59:59", "235959"},
		{"25:10:00", "251000"},
		{"99:00:00", "990000"},
	} {
		s, err := ParseArrival(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, s, tc.input)
	}

	for _, bad := range []string{"", "12:00", "12:00:00:00", "ab:00:00", "100:00:00", "12:60:00", "12:00:60", "-1:00:00"} {
		_, err := ParseArrival(bad)
		assert.Error(t, err, bad)
	}
}

func TestStopTimeArrivalOffset(t *testing.T) {
	st := StopTime{TripID: "t1", ServiceDate: "20240215", StopSequence: 3, Arrival: "251000"}
	assert.Equal(t, 25*time.Hour+10*time.Minute, st.ArrivalOffset())
}
