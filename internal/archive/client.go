package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// maxPageSize caps how much of an index page is read
const maxPageSize = 8 << 20

// StatusError is returned when the archive answers with a non-2xx status
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Throttled reports whether the status asks the client to back off
func (e *StatusError) Throttled() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusTooManyRequests
}

// ClientOptions configures a Client
type ClientOptions struct {
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute int
	PageRetries       int           // retries after a 429/503 answer
	RetryDelay        time.Duration // wait before each of those retries
	Logger            *slog.Logger
	HTTPClient        *http.Client // optional, for tests
}

// Client fetches and parses archive index pages
type Client struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient creates a new archive client
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: httpClient,
		userAgent:  opts.UserAgent,
		limiter:    rate.NewLimiter(limit, 1),
		retries:    opts.PageRetries,
		retryDelay: opts.RetryDelay,
		logger:     logger,
	}
}

// FetchPage downloads and parses one index page. Throttling answers are
// retried; every other failure is returned to the caller as is.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (*Page, error) {
	for attempt := 0; ; attempt++ {
		page, err := c.fetchOnce(ctx, pageURL)
		if err == nil {
			return page, nil
		}

		se, ok := err.(*StatusError)
		if !ok || !se.Throttled() || attempt >= c.retries {
			return nil, err
		}

		c.logger.Debug("archive throttled, backing off",
			"url", pageURL, "status", se.StatusCode, "attempt", attempt+1, "delay", c.retryDelay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, pageURL string) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	page, err := ParsePage(io.LimitReader(resp.Body, maxPageSize), pageURL)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("page fetched", "url", pageURL, "links", len(page.Links), "next", page.Next)
	return page, nil
}
