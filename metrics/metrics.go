package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Passes        prometheus.Counter
	PassesSkipped prometheus.Counter
	PassDuration  prometheus.Histogram

	FeedErrors    prometheus.Counter
	FetchDuration prometheus.Histogram

	TripsResolved   *prometheus.CounterVec // outcome label: on_time|late
	TripsUnmatched  prometheus.Counter
	TripsNoSchedule prometheus.Counter

	ResolveConflicts prometheus.Counter
	ResolveFailures  prometheus.Counter
	PointsAwarded    prometheus.Counter

	UnresolvedTrips prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_passes_total",
			Help: "Total resolution passes executed.",
		}),
		PassesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_passes_skipped_total",
			Help: "Ticks skipped because a pass was still running.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resolver_pass_duration_seconds",
			Help:    "Duration of resolution passes.",
			Buckets: prometheus.DefBuckets,
		}),
		FeedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_feed_errors_total",
			Help: "Feed fetches that failed or didn't decode.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resolver_feed_fetch_duration_seconds",
			Help:    "Duration of realtime feed fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		TripsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolver_trips_resolved_total",
			Help: "Trips resolved, by outcome.",
		}, []string{"outcome"}),
		TripsUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_trips_unmatched_total",
			Help: "Due trips absent from the feed snapshot, deferred to a later tick.",
		}),
		TripsNoSchedule: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_trips_no_schedule_total",
			Help: "Unresolved trips skipped for lack of stop time data.",
		}),
		ResolveConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_resolve_conflicts_total",
			Help: "Resolutions that no-oped because the trip was already resolved.",
		}),
		ResolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_resolve_failures_total",
			Help: "Resolution transactions that failed and rolled back.",
		}),
		PointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_points_awarded_total",
			Help: "Points credited to correct predictions.",
		}),
		UnresolvedTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resolver_unresolved_trips",
			Help: "Unresolved trips seen at the start of the last pass.",
		}),
	}

	reg.MustRegister(
		c.Passes,
		c.PassesSkipped,
		c.PassDuration,
		c.FeedErrors,
		c.FetchDuration,
		c.TripsResolved,
		c.TripsUnmatched,
		c.TripsNoSchedule,
		c.ResolveConflicts,
		c.ResolveFailures,
		c.PointsAwarded,
		c.UnresolvedTrips,
	)

	return c
}

// Serve exposes the collector on addr. The returned server should be
// shut down by the caller.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
