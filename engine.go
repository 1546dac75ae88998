// Package tripstakes implements the trip resolution and scoring
// engine of the prediction game: it periodically determines the real
// outcome of scheduled trips from a GTFS Realtime feed, persists each
// outcome exactly once, and credits every correct prediction exactly
// once.
//
// The engine is stateless between passes. Everything it knows lives
// in the schedule store, which makes a crash between any two steps
// recoverable: the next pass simply picks up whatever is still
// unresolved.
package tripstakes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tripstakes/tripstakes/feed"
	"github.com/tripstakes/tripstakes/metrics"
	"github.com/tripstakes/tripstakes/model"
	"github.com/tripstakes/tripstakes/storage"
)

const (
	DefaultGraceWindow   = 5 * time.Minute
	DefaultLateThreshold = 60 * time.Second
)

// FeedSource provides the current realtime snapshot. Implemented by
// feed.Client; tests substitute their own.
type FeedSource interface {
	Fetch(ctx context.Context) (*feed.Snapshot, error)
}

// Options configures an Engine. The zero value gives defaults
// throughout.
type Options struct {
	// GraceWindow is how long after a trip's last scheduled
	// arrival its outcome is considered determinable.
	GraceWindow time.Duration

	// LateThreshold is the last-stop delay above which a trip is
	// late. The boundary itself is on time.
	LateThreshold time.Duration

	Fallback FallbackPolicy

	// Location anchors service dates to wall-clock time.
	Location *time.Location

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

type Engine struct {
	store     storage.Storage
	feed      FeedSource
	grace     time.Duration
	threshold time.Duration
	fallback  FallbackPolicy
	location  *time.Location
	logger    *slog.Logger
	metrics   *metrics.Collector

	// Overridable for tests.
	now func() time.Time
}

func NewEngine(store storage.Storage, src FeedSource, opts Options) *Engine {
	if opts.GraceWindow == 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.LateThreshold == 0 {
		opts.LateThreshold = DefaultLateThreshold
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		store:     store,
		feed:      src,
		grace:     opts.GraceWindow,
		threshold: opts.LateThreshold,
		fallback:  opts.Fallback,
		location:  opts.Location,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// PassStats summarizes one resolution pass.
type PassStats struct {
	Unresolved        int
	Due               int
	SkippedNoSchedule int
	Unmatched         int
	Resolved          int
	OnTime            int
	Late              int
	AlreadyResolved   int
	Failed            int
	PointsAwarded     int
}

// RunOnce executes a single resolution pass: fetch the feed snapshot,
// select due trips, classify each against the snapshot, and resolve.
//
// A feed failure aborts the whole pass before anything is written. A
// failure resolving one trip is logged and counted but does not stop
// the remaining due trips from being processed.
func (e *Engine) RunOnce(ctx context.Context) (PassStats, error) {
	stats := PassStats{}
	passStart := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Passes.Inc()
			e.metrics.PassDuration.Observe(time.Since(passStart).Seconds())
		}
	}()

	fetchStart := time.Now()
	snap, err := e.feed.Fetch(ctx)
	if err != nil {
		if e.metrics != nil {
			e.metrics.FeedErrors.Inc()
		}
		return stats, fmt.Errorf("fetching feed: %w", err)
	}
	if e.metrics != nil {
		e.metrics.FetchDuration.Observe(time.Since(fetchStart).Seconds())
	}

	unresolved, err := e.store.UnresolvedTrips(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing unresolved trips: %w", err)
	}
	stats.Unresolved = len(unresolved)
	if e.metrics != nil {
		e.metrics.UnresolvedTrips.Set(float64(len(unresolved)))
	}

	due := e.dueTrips(e.now(), unresolved, &stats)
	stats.Due = len(due)

	for _, trip := range due {
		outcome, matched := classify(trip, snap, e.threshold, e.fallback)
		if !matched {
			stats.Unmatched++
			if e.metrics != nil {
				e.metrics.TripsUnmatched.Inc()
			}
			e.logger.Debug("due trip not in feed, deferring",
				"trip_id", trip.Key.TripID,
				"service_date", trip.Key.ServiceDate,
				"due_at", trip.DueAt)
			continue
		}

		result, err := e.store.ResolveTrip(ctx, trip.Key, outcome)
		if err != nil {
			stats.Failed++
			if e.metrics != nil {
				e.metrics.ResolveFailures.Inc()
			}
			e.logger.Error("resolving trip failed",
				"trip_id", trip.Key.TripID,
				"service_date", trip.Key.ServiceDate,
				"error", err)
			continue
		}

		if !result.Resolved {
			// Lost the race to another pass. Expected, not
			// an error.
			stats.AlreadyResolved++
			if e.metrics != nil {
				e.metrics.ResolveConflicts.Inc()
			}
			continue
		}

		stats.Resolved++
		stats.PointsAwarded += result.PointsAwarded
		switch outcome {
		case model.OutcomeOnTime:
			stats.OnTime++
		case model.OutcomeLate:
			stats.Late++
		}
		if e.metrics != nil {
			e.metrics.TripsResolved.WithLabelValues(string(outcome)).Inc()
			e.metrics.PointsAwarded.Add(float64(result.PointsAwarded))
		}
		e.logger.Info("trip resolved",
			"trip_id", trip.Key.TripID,
			"service_date", trip.Key.ServiceDate,
			"outcome", outcome,
			"predictions", result.Predictions,
			"points_awarded", result.PointsAwarded)
	}

	return stats, nil
}
