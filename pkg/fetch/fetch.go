package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher retrieves raw page bytes for a product URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Client fetches product pages with a browser-like identity. Network
// errors, timeouts and non-2xx responses all fold into a single fetch
// error; the next scheduled cycle is the retry mechanism.
type Client struct {
	client    *http.Client
	userAgent string
}

// NewClient creates a page fetcher. A zero timeout defaults to 10s,
// bounding how long one slow origin can stall a tracking cycle.
func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0"
	}
	return &Client{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
