package tripstakes

import (
	"context"
	"sync"
	"time"
)

// Loop drives the engine: one resolution pass per interval. Passes
// never overlap; a tick that fires while a pass is still running is
// dropped rather than queued.
type Loop struct {
	engine   *Engine
	interval time.Duration

	// Held for the duration of a pass. TryLock doubles as the
	// idle/running state: if it fails, a pass is in flight.
	mu sync.Mutex
}

func NewLoop(engine *Engine, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Loop{
		engine:   engine,
		interval: interval,
	}
}

// Run executes passes until ctx is cancelled, starting with an
// immediate one. On shutdown the in-flight pass (if any) is allowed
// to finish; a resolution transaction is never aborted midway.
func (l *Loop) Run(ctx context.Context) {
	// Passes run on a context detached from cancellation so that
	// shutdown doesn't kill a transaction in progress.
	passCtx := context.WithoutCancel(ctx)

	l.tick(passCtx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Taking the lock waits out any in-flight pass.
			l.mu.Lock()
			defer l.mu.Unlock()
			l.engine.logger.Info("resolution loop stopped")
			return
		case <-ticker.C:
			l.tick(passCtx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if !l.mu.TryLock() {
		if l.engine.metrics != nil {
			l.engine.metrics.PassesSkipped.Inc()
		}
		l.engine.logger.Warn("previous pass still running, skipping tick")
		return
	}

	go func() {
		defer l.mu.Unlock()

		stats, err := l.engine.RunOnce(ctx)
		if err != nil {
			// Recoverable by design: the next tick retries.
			l.engine.logger.Warn("resolution pass aborted", "error", err)
			return
		}

		l.engine.logger.Info("resolution pass complete",
			"unresolved", stats.Unresolved,
			"due", stats.Due,
			"resolved", stats.Resolved,
			"on_time", stats.OnTime,
			"late", stats.Late,
			"unmatched", stats.Unmatched,
			"no_schedule", stats.SkippedNoSchedule,
			"conflicts", stats.AlreadyResolved,
			"failed", stats.Failed,
			"points_awarded", stats.PointsAwarded)
	}()
}
