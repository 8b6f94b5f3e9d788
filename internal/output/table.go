package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/patchfetch/patchfetch/internal/cache"
	"github.com/patchfetch/patchfetch/internal/fetcher"
	"github.com/patchfetch/patchfetch/internal/mbox"
)

// TableTo writes data as a formatted table to the given writer
func TableTo(w io.Writer, data interface{}) error {
	switch v := data.(type) {
	case []cache.Thread:
		return threadsTable(w, v)
	case *cache.Stats:
		return statsTable(w, v)
	case *fetcher.Result:
		return resultTable(w, v)
	case []mbox.Summary:
		return summariesTable(w, v)
	case *mbox.Report:
		return reportTable(w, v)
	default:
		return fmt.Errorf("unsupported data type for table output: %T", data)
	}
}

func threadsTable(w io.Writer, threads []cache.Thread) error {
	if len(threads) == 0 {
		fmt.Fprintln(w, "No cached threads.")
		return nil
	}

	// the error column only appears when some thread has one
	withErrors := false
	for i := range threads {
		if threads[i].Failure() != "" {
			withErrors = true
			break
		}
	}

	rows := make([][]string, 0, len(threads))
	for _, t := range threads {
		status := "resolved"
		switch {
		case !t.Resolved && t.Attempts > 0:
			status = fmt.Sprintf("failed x%d", t.Attempts)
		case !t.Resolved:
			status = "pending"
		}

		date := ""
		if t.ThreadDate != nil {
			date = t.ThreadDate.Format("2006-01-02 15:04")
		}

		row := []string{
			date,
			truncate(t.Title, 60),
			status,
			strconv.Itoa(t.MessageCount),
			humanize.Time(t.DiscoveredAt),
		}
		if withErrors {
			row = append(row, truncate(t.Failure(), 50))
		}
		rows = append(rows, row)
	}

	header := []any{"Date", "Title", "Status", "Msgs", "Discovered"}
	if withErrors {
		header = append(header, "Last Error")
	}

	table := tablewriter.NewWriter(w)
	table.Header(header...)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func statsTable(w io.Writer, s *cache.Stats) error {
	fmt.Fprintln(w, "Cache Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 30))
	fmt.Fprintf(w, "File:                   %s\n", s.Path)
	fmt.Fprintf(w, "Threads:                %d\n", s.Threads)
	fmt.Fprintf(w, "Resolved:               %d\n", s.Resolved)
	fmt.Fprintf(w, "Unresolved:             %d\n", s.Unresolved)
	if s.Failing > 0 {
		fmt.Fprintf(w, "  with failures:        %d\n", s.Failing)
	}
	fmt.Fprintf(w, "Index pages:            %d\n", s.Pages)
	fmt.Fprintf(w, "Runs:                   %d\n", s.Runs)

	if r := s.LastRun; r != nil {
		fmt.Fprintf(w, "Last run:               %s (%s .. %s)\n",
			humanize.Time(r.StartedAt), r.WindowOldest, r.WindowStart)
		if r.Error.Valid {
			fmt.Fprintf(w, "Last run error:         %s\n", r.Error.String)
		}
	}

	return nil
}

func resultTable(w io.Writer, r *fetcher.Result) error {
	fmt.Fprintln(w, "Fetch complete:")
	fmt.Fprintf(w, "  Index pages:       %d\n", r.Pages)
	fmt.Fprintf(w, "  Threads in window: %d\n", r.Discovered)
	fmt.Fprintf(w, "  Already cached:    %d\n", r.Cached)
	fmt.Fprintf(w, "  Retrieved:         %d\n", r.Retrieved)
	if r.Existing > 0 {
		fmt.Fprintf(w, "  Already on disk:   %d\n", r.Existing)
	}
	fmt.Fprintf(w, "  Failed:            %d\n", r.Failed)

	if len(r.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Warnings: %d\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  - %v\n", e)
		}
	}
	return nil
}

func summariesTable(w io.Writer, summaries []mbox.Summary) error {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No mailboxes found.")
		return nil
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			formatDate(s.First),
			truncate(s.Subject, 60),
			truncate(s.Author, 25),
			strconv.Itoa(s.Messages),
			strconv.Itoa(s.Patches),
		})
	}

	table := tablewriter.NewWriter(w)
	table.Header("Date", "Subject", "Author", "Msgs", "Patches")
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func reportTable(w io.Writer, r *mbox.Report) error {
	fmt.Fprintln(w, "Mailbox Summary")
	fmt.Fprintln(w, strings.Repeat("-", 30))
	fmt.Fprintf(w, "Threads:                %d\n", r.Threads)
	fmt.Fprintf(w, "Messages:               %d\n", r.Messages)
	fmt.Fprintf(w, "Patch messages:         %d\n", r.Patches)
	if !r.First.IsZero() {
		fmt.Fprintf(w, "Period:                 %s .. %s\n", formatDate(r.First), formatDate(r.Last))
	}

	if len(r.TopAuthors) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	rows := make([][]string, 0, len(r.TopAuthors))
	for i, a := range r.TopAuthors {
		rows = append(rows, []string{strconv.Itoa(i + 1), a.Author, strconv.Itoa(a.Messages)})
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "Author", "Messages")
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
