package archive_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchfetch/patchfetch/internal/archive"
	"github.com/patchfetch/patchfetch/internal/archive/archivetest"
	"github.com/patchfetch/patchfetch/internal/filter"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newWalker(t *testing.T, srv *archivetest.Server) *archive.Walker {
	t.Helper()
	w, err := archive.NewWalker(archive.NewClient(archive.ClientOptions{}), srv.BaseURL(), 0, nil)
	require.NoError(t, err)
	return w
}

func TestWalkDiscoversWindow(t *testing.T) {
	srv := archivetest.NewServer(archivetest.Daily(day("2024-12-20"), day("2024-11-01")), 5)
	defer srv.Close()

	win, err := filter.NewWindow("2024-12-10", "2024-12-01", time.Now())
	require.NoError(t, err)

	var pages []string
	res, err := newWalker(t, srv).Walk(context.Background(), win, archive.WalkOptions{
		OnPage: func(p *archive.Page, accepted []archive.ThreadLink) error {
			pages = append(pages, p.URL)
			return nil
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Links, 10)
	for _, l := range res.Links {
		assert.True(t, win.Contains(l.Date), "%s dated %s is outside %s", l.URL, l.Date, win)
	}
	assert.Equal(t, "[PATCH net-next] fix for 2024-12-10", res.Links[0].Title)
	assert.Equal(t, "[PATCH net-next] fix for 2024-12-01", res.Links[9].Title)

	// two pages inside the window plus the one that crosses the oldest date
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, archive.StopOldestReached, res.Reason)
	assert.Len(t, srv.Requests(), 3)
	assert.Equal(t, "/list/?t=20241211000000", srv.Requests()[0])
	assert.Len(t, pages, 3)
}

func TestWalkDefaultStartUsesBaseURL(t *testing.T) {
	srv := archivetest.NewServer(archivetest.Daily(day("2024-12-20"), day("2024-11-01")), 5)
	defer srv.Close()

	win, err := filter.NewWindow("", "2024-12-15", day("2024-12-20").Add(15*time.Hour))
	require.NoError(t, err)

	res, err := newWalker(t, srv).Walk(context.Background(), win, archive.WalkOptions{})
	require.NoError(t, err)

	assert.Len(t, res.Links, 6)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "/list/", srv.Requests()[0])
}

func TestWalkStopsAtEndOfArchive(t *testing.T) {
	srv := archivetest.NewServer(archivetest.Daily(day("2024-12-05"), day("2024-12-03")), 5)
	defer srv.Close()

	win, err := filter.NewWindow("2024-12-10", "2024-01-01", time.Now())
	require.NoError(t, err)

	res, err := newWalker(t, srv).Walk(context.Background(), win, archive.WalkOptions{})
	require.NoError(t, err)

	assert.Len(t, res.Links, 3)
	assert.Equal(t, archive.StopNoMorePages, res.Reason)
}

func TestWalkHaltsOnFetchError(t *testing.T) {
	srv := archivetest.NewServer(archivetest.Daily(day("2024-12-20"), day("2024-11-01")), 5)
	defer srv.Close()
	srv.FailRequest(2, http.StatusInternalServerError)

	win, err := filter.NewWindow("2024-12-10", "2024-11-15", time.Now())
	require.NoError(t, err)

	res, err := newWalker(t, srv).Walk(context.Background(), win, archive.WalkOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch index page")

	assert.Len(t, res.Links, 5, "links from the first page are kept")
	assert.Len(t, srv.Requests(), 2, "no further pages after the failure")
}

func TestWalkMaxPages(t *testing.T) {
	srv := archivetest.NewServer(archivetest.Daily(day("2024-12-20"), day("2024-11-01")), 5)
	defer srv.Close()

	w, err := archive.NewWalker(archive.NewClient(archive.ClientOptions{}), srv.BaseURL(), 1, nil)
	require.NoError(t, err)

	win, err := filter.NewWindow("2024-12-10", "2024-11-01", time.Now())
	require.NoError(t, err)

	res, err := w.Walk(context.Background(), win, archive.WalkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, archive.StopMaxPages, res.Reason)
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://lore.kernel.org/netdev", "https://lore.kernel.org/netdev/", false},
		{"https://lore.kernel.org/netdev/", "https://lore.kernel.org/netdev/", false},
		{"https://lore.kernel.org/netdev/?t=20240101000000", "https://lore.kernel.org/netdev/", false},
		{"lore.kernel.org/netdev", "", true},
		{"ftp://lore.kernel.org/netdev", "", true},
	}

	for _, tt := range tests {
		got, err := archive.NormalizeBaseURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

// pageMap serves canned pages keyed by URL
type pageMap map[string]*archive.Page

func (m pageMap) FetchPage(ctx context.Context, pageURL string) (*archive.Page, error) {
	p, ok := m[pageURL]
	if !ok {
		return nil, fmt.Errorf("no page at %s", pageURL)
	}
	return p, nil
}

func TestWalkDedupsThreadsAcrossPages(t *testing.T) {
	const base = "https://lore.example.org/netdev/"
	bumped := base + "20241208.1@example.org/T/"

	pages := pageMap{}
	w, err := archive.NewWalker(pages, base, 0, nil)
	require.NoError(t, err)

	win, err := filter.NewWindow("2024-12-10", "2024-12-01", time.Now())
	require.NoError(t, err)

	first := w.StartURL(win)
	second := base + "?t=20241208000000"
	pages[first] = &archive.Page{
		URL: first,
		Links: []archive.ThreadLink{
			{URL: bumped, Title: "[PATCH v2] first sighting", Date: day("2024-12-09"), Page: first},
			{URL: base + "20241208.2@example.org/T/", Title: "[PATCH] other", Date: day("2024-12-08"), Page: first},
		},
		Next:       second,
		NextCursor: day("2024-12-08"),
	}
	pages[second] = &archive.Page{
		URL: second,
		Links: []archive.ThreadLink{
			{URL: bumped, Title: "[PATCH v2] second sighting", Date: day("2024-12-07"), Page: second},
			{URL: base + "20241206.1@example.org/T/", Title: "[PATCH] older", Date: day("2024-12-06"), Page: second},
		},
	}

	var acceptedPerPage [][]archive.ThreadLink
	res, err := w.Walk(context.Background(), win, archive.WalkOptions{
		OnPage: func(p *archive.Page, accepted []archive.ThreadLink) error {
			acceptedPerPage = append(acceptedPerPage, accepted)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, archive.StopNoMorePages, res.Reason)
	require.Len(t, res.Links, 3)

	var count int
	for _, l := range res.Links {
		if l.URL == bumped {
			count++
		}
	}
	assert.Equal(t, 1, count)

	got := res.Links[0]
	assert.Equal(t, bumped, got.URL)
	assert.Equal(t, "[PATCH v2] first sighting", got.Title)
	assert.Equal(t, first, got.Page)
	assert.True(t, got.Date.Equal(day("2024-12-09")))

	require.Len(t, acceptedPerPage, 2)
	assert.Len(t, acceptedPerPage[1], 1, "the repeat is not reported again")
}
