package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchfetch/patchfetch/internal/cache"
	"github.com/patchfetch/patchfetch/internal/fetcher"
	"github.com/patchfetch/patchfetch/internal/mbox"
)

func TestThreadsTable(t *testing.T) {
	date := time.Date(2024, 12, 5, 9, 30, 0, 0, time.UTC)
	threads := []cache.Thread{
		{Title: "[PATCH net] net: fix leak", ThreadDate: &date, Resolved: true, MessageCount: 4, DiscoveredAt: time.Now()},
		{Title: "[RFC] idea", Attempts: 2, DiscoveredAt: time.Now()},
	}

	var buf bytes.Buffer
	require.NoError(t, TableTo(&buf, threads))

	out := buf.String()
	assert.Contains(t, out, "2024-12-05 09:30")
	assert.Contains(t, out, "[PATCH net] net: fix leak")
	assert.Contains(t, out, "failed x2")
	assert.NotContains(t, strings.ToUpper(out), "LAST ERROR")
}

func TestThreadsTableShowsLastError(t *testing.T) {
	threads := []cache.Thread{
		{Title: "[PATCH net] net: fix leak", Resolved: true, DiscoveredAt: time.Now()},
		{Title: "[RFC] idea", Attempts: 1, LastError: cache.NullString("b4 exited with status 1"), DiscoveredAt: time.Now()},
	}

	var buf bytes.Buffer
	require.NoError(t, TableTo(&buf, threads))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "LAST ERROR")
	assert.Contains(t, out, "b4 exited with status 1")
}

func TestThreadJSONIncludesLastError(t *testing.T) {
	threads := []cache.Thread{{
		URL:         "https://lore.kernel.org/netdev/x@y/T/",
		Attempts:    3,
		LastError:   cache.NullString("HTTP 503"),
		ArtifactDir: cache.NullString("b4_threads/_RFC_idea"),
	}, {
		URL: "https://lore.kernel.org/netdev/z@y/T/",
	}}

	var buf bytes.Buffer
	require.NoError(t, OutputTo(&buf, "json", threads))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "HTTP 503", decoded[0]["last_error"])
	assert.Equal(t, "b4_threads/_RFC_idea", decoded[0]["artifact_dir"])
	assert.Equal(t, float64(3), decoded[0]["attempts"])
	assert.NotContains(t, decoded[1], "last_error")
}

func TestOutputToRejectsUnknownFormat(t *testing.T) {
	err := OutputTo(&bytes.Buffer{}, "yaml", []cache.Thread{})
	assert.Error(t, err)
}

func TestEmptyThreadsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, TableTo(&buf, []cache.Thread{}))
	assert.Equal(t, "No cached threads.\n", buf.String())
}

func TestResultTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, TableTo(&buf, &fetcher.Result{
		Pages: 3, Discovered: 10, Cached: 4, Retrieved: 5, Failed: 1,
		Errors: []error{errors.New("failed to retrieve x")},
	}))

	out := buf.String()
	assert.Contains(t, out, "Threads in window: 10")
	assert.Contains(t, out, "Warnings: 1")
	assert.Contains(t, out, "- failed to retrieve x")
	assert.NotContains(t, out, "Already on disk")
}

func TestReportTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, TableTo(&buf, &mbox.Report{
		Threads: 2, Messages: 5, Patches: 3,
		TopAuthors: []mbox.AuthorCount{{Author: "Jane Dev", Messages: 3}},
	}))

	out := buf.String()
	assert.Contains(t, out, "Messages:               5")
	assert.Contains(t, out, "Jane Dev")
}

func TestUnsupportedType(t *testing.T) {
	err := TableTo(&bytes.Buffer{}, 42)
	assert.Error(t, err)
}

func TestJSONTo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONTo(&buf, &cache.Stats{Path: "x.db", Threads: 2}))
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \"path\": \"x.db\""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
