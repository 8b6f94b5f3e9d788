package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/patchfetch/patchfetch/internal/archive"
	"github.com/patchfetch/patchfetch/internal/cache"
	"github.com/patchfetch/patchfetch/internal/config"
	"github.com/patchfetch/patchfetch/internal/fetcher"
	"github.com/patchfetch/patchfetch/internal/filter"
	"github.com/patchfetch/patchfetch/internal/output"
	"github.com/patchfetch/patchfetch/internal/retriever"
)

var (
	fetchBaseURL    string
	fetchStartDate  string
	fetchOldestDate string
	fetchOutputDir  string
	fetchNoCache    bool
	fetchMaxPages   int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch-patches",
	Short: "Walk an archive index and retrieve every thread in a date range",
	Long: `fetch-patches walks the index of a public-inbox archive from the start
date back to the oldest date, and retrieves each thread it finds with b4
into its own directory below the output directory.

Threads retrieved by earlier runs are remembered in a per-archive cache
file (see 'patchfetch cache path'), so re-running the same range only
fetches what is new or previously failed.

Examples:
  patchfetch fetch-patches --base-url https://lore.kernel.org/netdev/ --oldest-date 2024-12-01
  patchfetch fetch-patches --base-url https://lore.kernel.org/netdev/ \
      --start-date 2024-12-10 --oldest-date 2024-12-01 --output-dir netdev
  patchfetch fetch-patches --base-url https://lore.kernel.org/bpf/ --oldest-date 2024-12-01 -C`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchBaseURL, "base-url", "", "archive list URL, e.g. https://lore.kernel.org/netdev/")
	fetchCmd.Flags().StringVar(&fetchStartDate, "start-date", "", "newest day to fetch, YYYY-MM-DD (default: today)")
	fetchCmd.Flags().StringVar(&fetchOldestDate, "oldest-date", "", "oldest day to fetch, YYYY-MM-DD")
	fetchCmd.Flags().StringVar(&fetchOutputDir, "output-dir", "", "directory for retrieved threads (default from config: b4_threads)")
	fetchCmd.Flags().BoolVarP(&fetchNoCache, "no-cache", "C", false, "ignore the cache: do not load or save it, retrieve everything")
	fetchCmd.Flags().IntVar(&fetchMaxPages, "max-pages", -1, "stop after this many index pages (default from config)")
	_ = fetchCmd.MarkFlagRequired("base-url")
	_ = fetchCmd.MarkFlagRequired("oldest-date")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	// Validate arguments before touching the network
	win, err := filter.NewWindow(fetchStartDate, fetchOldestDate, time.Now())
	if err != nil {
		return err
	}
	baseURL, err := archive.NormalizeBaseURL(fetchBaseURL)
	if err != nil {
		return err
	}
	if fetchOutputDir != "" {
		cfg.Output.Dir = fetchOutputDir
	}
	if fetchMaxPages >= 0 {
		cfg.Archive.MaxPages = fetchMaxPages
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	client := archive.NewClient(archive.ClientOptions{
		UserAgent:         cfg.Archive.UserAgent,
		Timeout:           cfg.Archive.Timeout.Duration,
		RequestsPerMinute: cfg.Archive.RequestsPerMinute,
		PageRetries:       cfg.Archive.PageRetries,
		RetryDelay:        cfg.Archive.RetryDelay.Duration,
		Logger:            logger,
	})
	walker, err := archive.NewWalker(client, baseURL, cfg.Archive.MaxPages, logger)
	if err != nil {
		return err
	}

	r := retriever.NewCommand(retriever.CommandOptions{
		Command:       cfg.Retriever.Command,
		Args:          cfg.Retriever.Args,
		Retries:       cfg.Retriever.Retries,
		RetryInterval: cfg.Retriever.RetryInterval.Duration,
		Timeout:       cfg.Retriever.Timeout.Duration,
		Fs:            afero.NewOsFs(),
		Logger:        logger,
	})

	// Status lines stay off stdout when it carries JSON
	status := cmd.OutOrStdout()
	if outputFmt == "json" {
		status = cmd.ErrOrStderr()
	}

	// A nil interface disables caching in the fetcher
	var c fetcher.Cache
	if fetchNoCache {
		fmt.Fprintln(status, "Cache: disabled (--no-cache)")
	} else {
		store, err := openCache(cfg, baseURL, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		c = store
		fmt.Fprintf(status, "Cache: %s\n", store.Path())
	}

	f := fetcher.New(walker, c, r, logger)

	fmt.Fprintf(status, "Fetching %s threads from %s\n", win, baseURL)
	fmt.Fprintf(status, "Output: %s\n", cfg.Output.Dir)
	fmt.Fprintln(status)

	terminal := NewTerminal(status)
	result, err := f.Run(ctx, fetcher.Options{
		Window:    win,
		OutputDir: cfg.Output.Dir,
		Progress:  progressPrinter(terminal),
	})

	// Clear progress line
	terminal.ClearLine()
	fmt.Fprintln(status)

	if err != nil {
		if result != nil && result.Discovered > 0 {
			fmt.Fprintf(status, "Stopped after %d index pages, %d threads found.\n", result.Pages, result.Discovered)
			if c != nil {
				fmt.Fprintln(status, "Progress so far is cached; re-run to continue.")
			}
		}
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted: %w", err)
		}
		return fmt.Errorf("fetch failed: %w", err)
	}

	if outputFmt == "json" {
		return output.JSONTo(cmd.OutOrStdout(), fetchSummary(result))
	}
	return output.TableTo(cmd.OutOrStdout(), result)
}

// openCache opens the per-archive cache file derived from baseURL
func openCache(cfg *config.Config, baseURL string, logger *slog.Logger) (*cache.Store, error) {
	path := cfg.CachePath(baseURL)
	store, err := cache.Open(path, logger)
	if errors.Is(err, cache.ErrLocked) {
		return nil, fmt.Errorf("%w (is another fetch-patches running?)", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return store, nil
}

// progressPrinter renders fetcher progress on one terminal line, or as
// occasional plain lines when the status stream is not a terminal
func progressPrinter(terminal *Terminal) fetcher.ProgressCallback {
	var lastPhase fetcher.ProgressPhase

	return func(p fetcher.Progress) {
		terminal.ClearLine()

		var msg string
		switch p.Phase {
		case fetcher.PhaseWalking:
			msg = fmt.Sprintf("%s%s Walking index: %d pages, %d threads",
				terminal.Bar(p.Fraction), terminal.Spinner(), p.Current, p.Found)
		case fetcher.PhaseResolving:
			eta := ""
			if etaDur := p.ETA(); etaDur > 0 {
				eta = fmt.Sprintf(" (ETA: %s)", FormatETA(etaDur))
			}
			frac := 0.0
			if p.Total > 0 {
				frac = float64(p.Current) / float64(p.Total)
			}
			msg = fmt.Sprintf("%sRetrieving: %d/%d threads (%d%%)%s",
				terminal.Bar(frac), p.Current, p.Total, p.Percentage(), eta)
		}
		msg = terminal.Style(PhaseStyle(p.Phase), strings.TrimSpace(msg))

		if terminal.IsTerminal {
			terminal.Print(msg)
			terminal.Flush()
		} else {
			shouldPrint := p.Phase != lastPhase ||
				(p.Phase == fetcher.PhaseResolving && (p.Current%10 == 0 || p.Current == p.Total))
			if shouldPrint {
				terminal.Println(msg)
			}
		}
		lastPhase = p.Phase
	}
}

type fetchSummaryJSON struct {
	Pages      int      `json:"pages"`
	Discovered int      `json:"discovered"`
	Cached     int      `json:"cached"`
	Retrieved  int      `json:"retrieved"`
	Existing   int      `json:"existing"`
	Failed     int      `json:"failed"`
	StopReason string   `json:"stop_reason"`
	Errors     []string `json:"errors,omitempty"`
}

func fetchSummary(r *fetcher.Result) fetchSummaryJSON {
	s := fetchSummaryJSON{
		Pages:      r.Pages,
		Discovered: r.Discovered,
		Cached:     r.Cached,
		Retrieved:  r.Retrieved,
		Existing:   r.Existing,
		Failed:     r.Failed,
		StopReason: string(r.StopReason),
	}
	for _, e := range r.Errors {
		s.Errors = append(s.Errors, e.Error())
	}
	return s
}
