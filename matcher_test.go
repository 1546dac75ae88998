package tripstakes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstakes/tripstakes/feed"
	"github.com/tripstakes/tripstakes/model"
	"github.com/tripstakes/tripstakes/storage"
	"github.com/tripstakes/tripstakes/testutil"
)

func TestParseFallbackPolicy(t *testing.T) {
	p, err := ParseFallbackPolicy("latest")
	require.NoError(t, err)
	assert.Equal(t, FallbackLatest, p)

	p, err = ParseFallbackPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FallbackLatest, p)

	p, err = ParseFallbackPolicy("first")
	require.NoError(t, err)
	assert.Equal(t, FallbackFirst, p)

	_, err = ParseFallbackPolicy("median")
	assert.Error(t, err)
}

func dueTrip(tripID, serviceDate string, lastSeq uint32) DueTrip {
	return DueTrip{
		UnresolvedTrip: storage.UnresolvedTrip{
			Key:              model.TripKey{TripID: tripID, ServiceDate: serviceDate},
			LastStopSequence: lastSeq,
		},
	}
}

func decodeFeed(t *testing.T, data []byte) *feed.Snapshot {
	snap, err := feed.Decode(data, time.Now())
	require.NoError(t, err)
	return snap
}

func TestClassifyThreshold(t *testing.T) {
	threshold := 60 * time.Second

	for _, tc := range []struct {
		delay    int32
		expected model.Outcome
	}{
		{0, model.OutcomeOnTime},
		{30, model.OutcomeOnTime},
		{60, model.OutcomeOnTime}, // boundary is on time
		{61, model.OutcomeLate},
		{95, model.OutcomeLate},
		{-45, model.OutcomeOnTime}, // early is on time
	} {
		snap := decodeFeed(t, testutil.BuildFeed(t, 1,
			testutil.TripUpdate("t1", "20240215", map[uint32]int32{5: tc.delay}),
		))

		outcome, matched := classify(dueTrip("t1", "20240215", 5), snap, threshold, FallbackLatest)
		require.True(t, matched, "delay %d", tc.delay)
		assert.Equal(t, tc.expected, outcome, "delay %d", tc.delay)
	}
}

func TestClassifyUnmatched(t *testing.T) {
	snap := decodeFeed(t, testutil.BuildFeed(t, 1,
		testutil.TripUpdate("other", "20240215", map[uint32]int32{1: 10}),
	))

	// No feed entry at all
	outcome, matched := classify(dueTrip("t1", "20240215", 5), snap, time.Minute, FallbackLatest)
	assert.False(t, matched)
	assert.Equal(t, model.OutcomeUnresolved, outcome)

	// Entry exists but carries no arrival delays
	snap = decodeFeed(t, testutil.BuildFeed(t, 1,
		testutil.TripUpdate("t1", "20240215", nil),
	))
	_, matched = classify(dueTrip("t1", "20240215", 5), snap, time.Minute, FallbackLatest)
	assert.False(t, matched)
}

func TestClassifyFallback(t *testing.T) {
	// Last stop is sequence 9; the feed only reports 2 and 6.
	snap := decodeFeed(t, testutil.BuildFeed(t, 1,
		testutil.TripUpdate("t1", "20240215", map[uint32]int32{
			2: 20,
			6: 90,
		}),
	))

	// Latest reported stop stands in: 90s, late.
	outcome, matched := classify(dueTrip("t1", "20240215", 9), snap, time.Minute, FallbackLatest)
	require.True(t, matched)
	assert.Equal(t, model.OutcomeLate, outcome)

	// First reported stop stands in: 20s, on time.
	outcome, matched = classify(dueTrip("t1", "20240215", 9), snap, time.Minute, FallbackFirst)
	require.True(t, matched)
	assert.Equal(t, model.OutcomeOnTime, outcome)

	// An exact match at the last stop wins regardless of policy.
	snap = decodeFeed(t, testutil.BuildFeed(t, 1,
		testutil.TripUpdate("t1", "20240215", map[uint32]int32{
			6: 90,
			9: 15,
		}),
	))
	outcome, matched = classify(dueTrip("t1", "20240215", 9), snap, time.Minute, FallbackLatest)
	require.True(t, matched)
	assert.Equal(t, model.OutcomeOnTime, outcome)
}
