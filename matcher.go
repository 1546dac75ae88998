package tripstakes

import (
	"fmt"
	"time"

	"github.com/tripstakes/tripstakes/feed"
	"github.com/tripstakes/tripstakes/model"
)

// FallbackPolicy picks the stop whose delay stands in for the last
// stop when the feed doesn't report the last stop sequence exactly.
// Feeds routinely drop stops a vehicle has already passed.
type FallbackPolicy int

const (
	// FallbackLatest uses the late-most stop the feed reports.
	FallbackLatest FallbackPolicy = iota

	// FallbackFirst uses the first stop the feed reports.
	FallbackFirst
)

func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch s {
	case "latest", "":
		return FallbackLatest, nil
	case "first":
		return FallbackFirst, nil
	}
	return 0, fmt.Errorf("unknown fallback policy '%s'", s)
}

// classify determines a due trip's outcome from the snapshot. The
// second return is false when the trip can't be matched this tick:
// either the feed has no entry for it, or the entry carries no
// arrival delay at all. An unmatched trip stays unresolved and is
// retried on a later tick; it does not mean "on time".
func classify(trip DueTrip, snap *feed.Snapshot, threshold time.Duration, policy FallbackPolicy) (model.Outcome, bool) {
	entry, found := snap.Trip(trip.Key)
	if !found {
		return model.OutcomeUnresolved, false
	}

	delay, found := entry.Delay(trip.LastStopSequence)
	if !found {
		switch policy {
		case FallbackFirst:
			_, delay, found = entry.FirstReported()
		default:
			_, delay, found = entry.LatestReported()
		}
	}
	if !found {
		return model.OutcomeUnresolved, false
	}

	// The boundary is inclusive: a delay of exactly the threshold
	// still counts as on time.
	if delay <= threshold {
		return model.OutcomeOnTime, true
	}
	return model.OutcomeLate, true
}
