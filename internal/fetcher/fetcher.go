// Package fetcher runs a fetch: it walks the archive index, skips threads the
// cache already resolved, and retrieves the rest.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patchfetch/patchfetch/internal/archive"
	"github.com/patchfetch/patchfetch/internal/cache"
	"github.com/patchfetch/patchfetch/internal/filter"
	"github.com/patchfetch/patchfetch/internal/retriever"
)

// Walker discovers thread links inside a date window
type Walker interface {
	BaseURL() string
	Walk(ctx context.Context, win filter.Window, opts archive.WalkOptions) (*archive.WalkResult, error)
}

// Cache persists discovery and resolution state between runs
type Cache interface {
	ResolvedSet(ctx context.Context) (map[string]bool, error)
	RecordDiscovered(ctx context.Context, link archive.ThreadLink) error
	RecordPage(ctx context.Context, url string, linkCount int) error
	MarkResolved(ctx context.Context, url, artifactDir string, messageCount int) error
	MarkFailed(ctx context.Context, url string, cause error) error
	StartRun(ctx context.Context, r *cache.Run) error
	FinishRun(ctx context.Context, r *cache.Run) error
}

// Fetcher orchestrates walking, cache lookups and retrieval
type Fetcher struct {
	walker    Walker
	cache     Cache
	retriever retriever.Retriever
	logger    *slog.Logger
}

// New creates a Fetcher. A nil cache disables caching: nothing is loaded or
// saved and every discovered thread is retrieved.
func New(w Walker, c Cache, r retriever.Retriever, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{walker: w, cache: c, retriever: r, logger: logger}
}

// Options configures a run
type Options struct {
	Window    filter.Window
	OutputDir string
	Progress  ProgressCallback // Optional progress callback
}

// Result contains the outcome of a run
type Result struct {
	Pages      int
	Discovered int // links inside the window
	Cached     int // already resolved in the cache, skipped
	Retrieved  int
	Existing   int // artifact already on disk, tool not run
	Failed     int
	StopReason archive.StopReason
	Errors     []error
}

// Run walks the index for opts.Window and resolves every discovered thread
// the cache does not mark as resolved. Per-thread failures are collected in
// Result.Errors; a walk failure aborts the run and is returned.
func (f *Fetcher) Run(ctx context.Context, opts Options) (result *Result, err error) {
	result = &Result{}

	report := func(p Progress) {
		if opts.Progress != nil {
			opts.Progress(p)
		}
	}

	resolved := make(map[string]bool)
	if f.cache != nil {
		run := &cache.Run{
			BaseURL:      f.walker.BaseURL(),
			WindowStart:  opts.Window.Start.Format(filter.DateLayout),
			WindowOldest: opts.Window.Oldest.Format(filter.DateLayout),
		}
		if err := f.cache.StartRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		defer func() { f.finishRun(ctx, run, result, err) }()

		resolved, err = f.cache.ResolvedSet(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to load cache: %w", err)
		}
		f.logger.Debug("cache loaded", "threads", len(resolved))
	}

	// Phase 1: walk the index
	walkStarted := time.Now()
	found := 0
	walk, err := f.walker.Walk(ctx, opts.Window, archive.WalkOptions{
		OnPage: func(page *archive.Page, accepted []archive.ThreadLink) error {
			found += len(accepted)
			if f.cache != nil {
				if err := f.cache.RecordPage(ctx, page.URL, len(page.Links)); err != nil {
					return fmt.Errorf("failed to record page: %w", err)
				}
				for _, link := range accepted {
					if err := f.cache.RecordDiscovered(ctx, link); err != nil {
						return fmt.Errorf("failed to record thread: %w", err)
					}
				}
			}

			fraction := 0.0
			if oldest, ok := page.Oldest(); ok {
				fraction = opts.Window.Progress(oldest)
			}
			result.Pages++
			report(Progress{
				Phase:       PhaseWalking,
				Current:     result.Pages,
				Found:       found,
				Fraction:    fraction,
				Description: "Walking archive index",
				StartedAt:   walkStarted,
			})
			return nil
		},
	})
	if walk != nil {
		result.Pages = walk.Pages
		result.Discovered = len(walk.Links)
		result.StopReason = walk.Reason
	}
	if err != nil {
		return result, err
	}
	f.logger.Debug("walk finished", "pages", walk.Pages, "links", len(walk.Links), "reason", walk.Reason)

	var todo []archive.ThreadLink
	for _, link := range walk.Links {
		if resolved[link.URL] {
			result.Cached++
			continue
		}
		todo = append(todo, link)
	}

	// Phase 2: resolve what the cache does not have
	resolveStarted := time.Now()
	for i, link := range todo {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		report(Progress{
			Phase:       PhaseResolving,
			Current:     i,
			Total:       len(todo),
			Found:       result.Discovered,
			Description: link.Title,
			StartedAt:   resolveStarted,
		})

		res, rerr := f.retriever.Retrieve(ctx, retriever.Request{Link: link, OutputDir: opts.OutputDir})
		if rerr != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			result.Errors = append(result.Errors, rerr)
			f.logger.Warn("retrieval failed", "url", link.URL, "error", rerr)

			if f.cache != nil {
				if err := f.cache.MarkFailed(ctx, link.URL, rerr); err != nil {
					f.logger.Warn("failed to record failure", "url", link.URL, "error", err)
				}
			}
			continue
		}

		if res.Existing {
			result.Existing++
		} else {
			result.Retrieved++
		}
		f.logger.Debug("thread resolved", "url", link.URL, "dir", res.Dir, "messages", res.Messages, "existing", res.Existing)

		if f.cache != nil {
			if err := f.cache.MarkResolved(ctx, link.URL, res.Dir, res.Messages); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("failed to cache %s: %w", link.URL, err))
			}
		}
	}

	report(Progress{
		Phase:       PhaseResolving,
		Current:     len(todo),
		Total:       len(todo),
		Found:       result.Discovered,
		Description: "Done",
		StartedAt:   resolveStarted,
	})

	return result, nil
}

// finishRun stores the run counters even when ctx was canceled
func (f *Fetcher) finishRun(ctx context.Context, run *cache.Run, result *Result, runErr error) {
	run.Pages = result.Pages
	run.Discovered = result.Discovered
	run.Retrieved = result.Retrieved + result.Existing
	run.Failed = result.Failed
	if runErr != nil {
		run.Error = cache.NullString(runErr.Error())
	}

	if err := f.cache.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		f.logger.Warn("failed to record run", "id", run.ID, "error", err)
	}
}
