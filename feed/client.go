package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultMaxSize = 1 << 20 // 1 MB
)

// Client fetches the current realtime feed snapshot over HTTP. One
// request, no retries, no caching: a failed tick is simply retried on
// the next interval by the scheduler.
type Client struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	MaxSize int

	httpClient *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		URL:     url,
		Timeout: DefaultTimeout,
		MaxSize: DefaultMaxSize,
	}
}

// Fetch performs one GET against the feed endpoint and decodes the
// response. Any transport, status or decode problem is reported as
// ErrUnavailable; partial data is never returned.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	body, err := c.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	snap, err := Decode(body, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: decoding feed: %v", ErrUnavailable, err)
	}

	return snap, nil
}

func (c *Client) get(ctx context.Context) ([]byte, error) {
	if c.httpClient == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, v := range c.Headers {
		req.Header.Add(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if c.MaxSize > 0 {
		reader = io.LimitReader(resp.Body, int64(c.MaxSize))
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return body, nil
}
