package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchfetch/patchfetch/internal/archive"
)

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lore.kernel.org_netdev_cache.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, path
}

func link(id string, date time.Time) archive.ThreadLink {
	return archive.ThreadLink{
		URL:       "https://lore.kernel.org/netdev/" + id + "/T/",
		MessageID: id,
		Title:     "[PATCH] " + id,
		Date:      date,
		Page:      "https://lore.kernel.org/netdev/",
	}
}

// findThread looks a cached thread up by URL through ListThreads
func findThread(t *testing.T, s *Store, url string) *Thread {
	t.Helper()
	threads, err := s.ListThreads(context.Background(), ListOptions{})
	require.NoError(t, err)
	for i := range threads {
		if threads[i].URL == url {
			return &threads[i]
		}
	}
	return nil
}

func TestOpen(t *testing.T) {
	s, path := setupTestStore(t)

	assert.Equal(t, path, s.Path())

	var count int
	require.NoError(t, s.db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='threads'"))
	assert.Equal(t, 1, count)
}

func TestOpenLocked(t *testing.T) {
	_, path := setupTestStore(t)

	_, err := Open(path, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database, not even close......"), 0644))

	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	set, err := s.ResolvedSet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, set)

	matches, err := filepath.Glob(filepath.Join(dir, "cache.db.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1, "corrupt file is kept aside")
}

func TestThreadLifecycle(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	date := time.Date(2024, 12, 5, 12, 0, 0, 0, time.UTC)

	a, b := link("a@x", date), link("b@x", date.Add(-time.Hour))
	require.NoError(t, s.RecordDiscovered(ctx, a))
	require.NoError(t, s.RecordDiscovered(ctx, b))

	set, err := s.ResolvedSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{a.URL: false, b.URL: false}, set)

	require.NoError(t, s.MarkFailed(ctx, b.URL, errors.New("b4 exploded")))
	require.NoError(t, s.MarkResolved(ctx, a.URL, "/out/a", 3))

	set, err = s.ResolvedSet(ctx)
	require.NoError(t, err)
	assert.True(t, set[a.URL])
	assert.False(t, set[b.URL])

	got := findThread(t, s, a.URL)
	require.NotNil(t, got)
	assert.True(t, got.Resolved)
	assert.NotNil(t, got.ResolvedAt)
	assert.Equal(t, "/out/a", got.Dir())
	assert.Equal(t, 3, got.MessageCount)
	require.NotNil(t, got.ThreadDate)
	assert.True(t, date.Equal(*got.ThreadDate))

	failed := findThread(t, s, b.URL)
	require.NotNil(t, failed)
	assert.Equal(t, "b4 exploded", failed.Failure())
	assert.Equal(t, 1, failed.Attempts)

	// rediscovery does not reset state
	require.NoError(t, s.RecordDiscovered(ctx, a))
	got = findThread(t, s, a.URL)
	assert.True(t, got.Resolved)

	// a resolved thread is never marked failed again
	assert.Error(t, s.MarkFailed(ctx, a.URL, errors.New("late")))
	assert.Nil(t, findThread(t, s, "https://nowhere/"))
}

func TestOpenReadOnlyWhileLocked(t *testing.T) {
	s, path := setupTestStore(t)
	ctx := context.Background()

	l := link("busy@x", time.Date(2024, 12, 5, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.RecordDiscovered(ctx, l))
	require.NoError(t, s.MarkFailed(ctx, l.URL, errors.New("HTTP 503")))

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	threads, err := ro.ListThreads(ctx, ListOptions{Unresolved: true})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "HTTP 503", threads[0].Failure())

	stats, err := ro.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failing)

	assert.Error(t, ro.RecordDiscovered(ctx, link("new@x", time.Now())), "read-only store rejects writes")

	// the writer still holds the lock
	_, err = Open(path, nil)
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestOpenReadOnlyLeavesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	garbage := []byte("this is not a sqlite database, not even close......")
	require.NoError(t, os.WriteFile(path, garbage, 0644))

	_, err := OpenReadOnly(path)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, garbage, data)

	matches, err := filepath.Glob(filepath.Join(dir, "cache.db.corrupt-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")

	_, err := OpenReadOnly(path)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no file is created")
}

func TestCachePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()
	l := link("persist@x", time.Now())

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.RecordDiscovered(ctx, l))
	require.NoError(t, s.MarkResolved(ctx, l.URL, "", 0))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	set, err := s.ResolvedSet(ctx)
	require.NoError(t, err)
	assert.True(t, set[l.URL])
}

func TestListThreadsAndStats(t *testing.T) {
	s, path := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 12, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old@x", "mid@x", "new@x"} {
		require.NoError(t, s.RecordDiscovered(ctx, link(id, base.AddDate(0, 0, i))))
	}
	require.NoError(t, s.MarkResolved(ctx, link("mid@x", base).URL, "", 1))
	require.NoError(t, s.MarkFailed(ctx, link("old@x", base).URL, errors.New("nope")))
	require.NoError(t, s.RecordPage(ctx, "https://lore.kernel.org/netdev/", 3))
	require.NoError(t, s.RecordPage(ctx, "https://lore.kernel.org/netdev/", 4))

	all, err := s.ListThreads(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new@x", all[0].MessageID)

	unresolved, err := s.ListThreads(ctx, ListOptions{Unresolved: true})
	require.NoError(t, err)
	assert.Len(t, unresolved, 2)

	limited, err := s.ListThreads(ctx, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "mid@x", limited[0].MessageID)

	run := &Run{BaseURL: "https://lore.kernel.org/netdev/", WindowStart: "2024-12-10", WindowOldest: "2024-12-01"}
	require.NoError(t, s.StartRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	run.Pages, run.Discovered, run.Retrieved, run.Failed = 1, 3, 1, 1
	require.NoError(t, s.FinishRun(ctx, run))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, path, stats.Path)
	assert.Equal(t, 3, stats.Threads)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 2, stats.Unresolved)
	assert.Equal(t, 1, stats.Failing)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 1, stats.Runs)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, run.ID, stats.LastRun.ID)
	assert.Equal(t, 3, stats.LastRun.Discovered)
	assert.NotNil(t, stats.LastRun.FinishedAt)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(path, nil)
	require.NoError(t, err)

	err = Remove(path)
	assert.True(t, errors.Is(err, ErrLocked), "cannot remove a cache in use")

	require.NoError(t, s.Close())
	require.NoError(t, Remove(path))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// removing a missing cache is fine
	require.NoError(t, Remove(path))
}
