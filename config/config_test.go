package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FEED_URL", "https://transit.example.com/gtfsrt")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://transit.example.com/gtfsrt", cfg.FeedURL)
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, ".", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.FeedTimeout)
	assert.Equal(t, 1<<20, cfg.FeedMaxSize)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.GraceWindow)
	assert.Equal(t, 60*time.Second, cfg.LateThreshold)
	assert.Equal(t, "latest", cfg.FeedFallback)
	assert.Equal(t, "", cfg.MetricsAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FEED_URL", "https://transit.example.com/gtfsrt")
	t.Setenv("FEED_API_KEY", "sekrit")
	t.Setenv("FEED_TIMEOUT", "10s")
	t.Setenv("FEED_MAX_BYTES", "5242880")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("GRACE_WINDOW", "2m")
	t.Setenv("LATE_THRESHOLD", "90s")
	t.Setenv("FEED_FALLBACK", "first")
	t.Setenv("DATABASE_URL", "postgres://localhost/tripstakes")
	t.Setenv("METRICS_ADDR", ":9090")
	t.Setenv("TZ", "America/New_York")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sekrit", cfg.FeedAPIKey)
	assert.Equal(t, 10*time.Second, cfg.FeedTimeout)
	assert.Equal(t, 5242880, cfg.FeedMaxSize)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.GraceWindow)
	assert.Equal(t, 90*time.Second, cfg.LateThreshold)
	assert.Equal(t, "first", cfg.FeedFallback)
	assert.Equal(t, "postgres://localhost/tripstakes", cfg.DatabaseURL)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "America/New_York", cfg.Location.String())
}

func TestLoadRejectsBadValues(t *testing.T) {
	for _, tc := range []struct {
		key   string
		value string
	}{
		{"POLL_INTERVAL", "soon"},
		{"POLL_INTERVAL", "-30s"},
		{"GRACE_WINDOW", "5"},
		{"LATE_THRESHOLD", "0s"},
		{"FEED_MAX_BYTES", "lots"},
		{"FEED_MAX_BYTES", "-1"},
		{"FEED_FALLBACK", "median"},
		{"TZ", "Mars/OlympusMons"},
	} {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv("FEED_URL", "https://transit.example.com/gtfsrt")
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresFeedURL(t *testing.T) {
	t.Setenv("FEED_URL", "")

	_, err := Load()
	assert.Error(t, err)
}
