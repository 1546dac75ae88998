package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Storage. DatabaseURL selects Postgres; when empty the
	// engine falls back to an on-disk SQLite database under
	// SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// Realtime feed.
	FeedURL     string
	FeedAPIKey  string
	FeedTimeout time.Duration
	FeedMaxSize int

	// Resolution policy.
	PollInterval  time.Duration
	GraceWindow   time.Duration
	LateThreshold time.Duration
	FeedFallback  string // "latest" or "first"

	Location    *time.Location
	MetricsAddr string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getenvDefault("SQLITE_PATH", "."),
		FeedURL:     os.Getenv("FEED_URL"),
		FeedAPIKey:  os.Getenv("FEED_API_KEY"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if cfg.FeedURL == "" {
		return nil, errors.New("FEED_URL must be set")
	}

	var err error
	if cfg.FeedTimeout, err = duration("FEED_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = duration("POLL_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.GraceWindow, err = duration("GRACE_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LateThreshold, err = duration("LATE_THRESHOLD", 60*time.Second); err != nil {
		return nil, err
	}

	if v := os.Getenv("FEED_MAX_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid FEED_MAX_BYTES: %q", v)
		}
		cfg.FeedMaxSize = n
	} else {
		cfg.FeedMaxSize = 1 << 20
	}

	cfg.FeedFallback = getenvDefault("FEED_FALLBACK", "latest")
	if cfg.FeedFallback != "latest" && cfg.FeedFallback != "first" {
		return nil, fmt.Errorf("invalid FEED_FALLBACK: %q (want latest or first)", cfg.FeedFallback)
	}

	// Time zone for service date anchoring
	tzName := os.Getenv("TZ")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
