package tripstakes

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tripstakes/tripstakes/feed"
	"github.com/tripstakes/tripstakes/testutil"
)

func TestLoopSkipsOverlappingTicks(t *testing.T) {
	empty := testutil.BuildFeed(t, 1)

	var fetches int32
	release := make(chan struct{})
	engine, _ := testEngine(t, feedFunc(func(ctx context.Context) (*feed.Snapshot, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return feed.Decode(empty, time.Now())
	}))

	loop := NewLoop(engine, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	// Plenty of ticks fire while the first pass blocks; all of them
	// must be dropped.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopShutdownWaitsForInFlightPass(t *testing.T) {
	empty := testutil.BuildFeed(t, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	engine, _ := testEngine(t, feedFunc(func(ctx context.Context) (*feed.Snapshot, error) {
		started <- struct{}{}
		<-release
		return feed.Decode(empty, time.Now())
	}))

	loop := NewLoop(engine, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	// The pass is still blocked in Fetch; Run must not return.
	select {
	case <-done:
		t.Fatal("loop stopped with a pass in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopDefaultInterval(t *testing.T) {
	engine, _ := testEngine(t, staticFeed(testutil.BuildFeed(t, 1)))
	loop := NewLoop(engine, 0)
	assert.Equal(t, 60*time.Second, loop.interval)
}
