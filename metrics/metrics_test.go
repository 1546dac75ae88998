package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorExposition(t *testing.T) {
	c := NewCollector()

	c.Passes.Inc()
	c.TripsResolved.WithLabelValues("on_time").Inc()
	c.TripsResolved.WithLabelValues("late").Add(2)
	c.PointsAwarded.Add(3)
	c.UnresolvedTrips.Set(17)

	server := httptest.NewServer(promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}))
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	for _, expected := range []string{
		"resolver_passes_total 1",
		`resolver_trips_resolved_total{outcome="on_time"} 1`,
		`resolver_trips_resolved_total{outcome="late"} 2`,
		"resolver_points_awarded_total 3",
		"resolver_unresolved_trips 17",
	} {
		assert.True(t, strings.Contains(body, expected), "missing %q in:\n%s", expected, body)
	}
}
