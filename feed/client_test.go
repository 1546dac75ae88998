package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstakes/tripstakes/feed"
	"github.com/tripstakes/tripstakes/model"
	"github.com/tripstakes/tripstakes/testutil"
)

func TestClientFetch(t *testing.T) {
	data := testutil.BuildFeed(t, 1702473763,
		testutil.TripUpdate("trip1", "20240215", map[uint32]int32{4: 75}),
	)

	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		w.Write(data)
	}))
	defer server.Close()

	client := feed.NewClient(server.URL)
	client.Headers = map[string]string{"X-Api-Key": "sekrit"}

	snap, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sekrit", gotHeader)
	assert.Equal(t, uint64(1702473763), snap.Timestamp)

	entry, found := snap.Trip(model.TripKey{TripID: "trip1", ServiceDate: "20240215"})
	require.True(t, found)
	delay, found := entry.Delay(4)
	require.True(t, found)
	assert.Equal(t, 75*time.Second, delay)
}

func TestClientFetchBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	client := feed.NewClient(server.URL)
	_, err := client.Fetch(context.Background())
	assert.ErrorIs(t, err, feed.ErrUnavailable)
}

func TestClientFetchGarbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a protobuf"))
	}))
	defer server.Close()

	client := feed.NewClient(server.URL)
	_, err := client.Fetch(context.Background())
	assert.ErrorIs(t, err, feed.ErrUnavailable)
}

func TestClientFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := feed.NewClient(server.URL)
	client.Timeout = 10 * time.Millisecond

	_, err := client.Fetch(context.Background())
	assert.ErrorIs(t, err, feed.ErrUnavailable)
}

func TestClientFetchConnectionRefused(t *testing.T) {
	// Grab a port nothing listens on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := feed.NewClient(url)
	_, err := client.Fetch(context.Background())
	assert.ErrorIs(t, err, feed.ErrUnavailable)
}
