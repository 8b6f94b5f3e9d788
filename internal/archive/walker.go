package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/patchfetch/patchfetch/internal/filter"
)

// PageFetcher retrieves a parsed index page
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (*Page, error)
}

// StopReason explains why a walk ended
type StopReason string

const (
	StopOldestReached StopReason = "oldest_reached"
	StopNoMorePages   StopReason = "no_more_pages"
	StopMaxPages      StopReason = "max_pages"
	StopLoop          StopReason = "page_loop"
)

// PageCallback is called after each page with the links it contributed
type PageCallback func(page *Page, accepted []ThreadLink) error

// WalkOptions configures a walk
type WalkOptions struct {
	OnPage PageCallback // Optional
}

// WalkResult contains what a walk discovered
type WalkResult struct {
	Links  []ThreadLink // In discovery order, unique by URL
	Pages  int
	Reason StopReason
}

// Walker pages backward through an archive index
type Walker struct {
	fetcher  PageFetcher
	baseURL  string
	maxPages int
	logger   *slog.Logger
}

// NewWalker creates a Walker for the archive at baseURL. maxPages <= 0
// means no page limit.
func NewWalker(fetcher PageFetcher, baseURL string, maxPages int, logger *slog.Logger) (*Walker, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		fetcher:  fetcher,
		baseURL:  normalized,
		maxPages: maxPages,
		logger:   logger,
	}, nil
}

// NormalizeBaseURL validates an archive URL and ensures a trailing slash so
// relative thread links resolve inside the list.
func NormalizeBaseURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q: expected http(s)://host/list/", baseURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// BaseURL returns the normalized archive URL
func (w *Walker) BaseURL() string {
	return w.baseURL
}

// StartURL returns the first index page for the window
func (w *Walker) StartURL(win filter.Window) string {
	if !win.Explicit {
		return w.baseURL
	}
	return w.baseURL + "?t=" + win.Cursor()
}

// Walk fetches index pages from the start of the window backward until the
// oldest date is passed. A fetch error halts the walk; the links found so
// far are returned together with the error.
func (w *Walker) Walk(ctx context.Context, win filter.Window, opts WalkOptions) (*WalkResult, error) {
	result := &WalkResult{}
	seen := make(map[string]bool)
	visited := make(map[string]bool)

	next := w.StartURL(win)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if w.maxPages > 0 && result.Pages >= w.maxPages {
			result.Reason = StopMaxPages
			return result, nil
		}

		visited[next] = true
		page, err := w.fetcher.FetchPage(ctx, next)
		if err != nil {
			return result, fmt.Errorf("failed to fetch index page %s: %w", next, err)
		}
		result.Pages++

		var accepted []ThreadLink
		for _, link := range page.Links {
			if link.Date.IsZero() {
				w.logger.Debug("skipping undated link", "url", link.URL)
				continue
			}
			if !win.Contains(link.Date) || seen[link.URL] {
				continue
			}
			seen[link.URL] = true
			accepted = append(accepted, link)
		}
		result.Links = append(result.Links, accepted...)

		if opts.OnPage != nil {
			if err := opts.OnPage(page, accepted); err != nil {
				return result, err
			}
		}

		if oldest, ok := page.Oldest(); ok && win.Before(oldest) {
			w.logger.Debug("reached oldest date", "page", page.URL, "oldest_link", oldest)
			result.Reason = StopOldestReached
			return result, nil
		}
		if page.Next == "" {
			result.Reason = StopNoMorePages
			return result, nil
		}
		if !page.NextCursor.IsZero() && win.Before(page.NextCursor) {
			w.logger.Debug("reached oldest date", "next", page.Next, "cursor", page.NextCursor)
			result.Reason = StopOldestReached
			return result, nil
		}
		if visited[page.Next] {
			w.logger.Warn("index pagination loops, stopping", "page", page.Next)
			result.Reason = StopLoop
			return result, nil
		}

		next = page.Next
	}
}
