package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripstakes/tripstakes"
	"github.com/tripstakes/tripstakes/config"
	"github.com/tripstakes/tripstakes/feed"
	"github.com/tripstakes/tripstakes/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the resolution engine",
	Long:  "Runs the resolution loop until interrupted",
	RunE:  runService,
}

func runService(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	feedURL, err := composeFeedURL(cfg.FeedURL, cfg.FeedAPIKey)
	if err != nil {
		return fmt.Errorf("composing feed URL: %w", err)
	}
	client := feed.NewClient(feedURL)
	client.Timeout = cfg.FeedTimeout
	client.MaxSize = cfg.FeedMaxSize

	fallback, err := tripstakes.ParseFallbackPolicy(cfg.FeedFallback)
	if err != nil {
		return fmt.Errorf("invalid feed fallback: %w", err)
	}

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	engine := tripstakes.NewEngine(store, client, tripstakes.Options{
		GraceWindow:   cfg.GraceWindow,
		LateThreshold: cfg.LateThreshold,
		Fallback:      fallback,
		Location:      cfg.Location,
		Logger:        logger,
		Metrics:       mcol,
	})

	logger.Info("starting resolution loop",
		"interval", cfg.PollInterval,
		"grace_window", cfg.GraceWindow,
		"late_threshold", cfg.LateThreshold)

	tripstakes.NewLoop(engine, cfg.PollInterval).Run(ctx)

	logger.Info("shutdown complete")
	return nil
}

// composeFeedURL appends the provider API key as a query parameter,
// if one is configured.
func composeFeedURL(rawURL, apiKey string) (string, error) {
	if apiKey == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("apikey", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
