package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/patchfetch/patchfetch/internal/archive"
)

const threadColumns = `url, message_id, title, thread_date, page_url, discovered_at,
	resolved, resolved_at, attempts, last_error, artifact_dir, message_count`

// ResolvedSet loads identifier -> resolved for every cached thread
func (s *Store) ResolvedSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT url, resolved FROM threads`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var url string
		var resolved bool
		if err := rows.Scan(&url, &resolved); err != nil {
			return nil, err
		}
		set[url] = resolved
	}
	return set, rows.Err()
}

// RecordDiscovered creates the cache entry for a link on first discovery.
// Existing entries are left untouched.
func (s *Store) RecordDiscovered(ctx context.Context, link archive.ThreadLink) error {
	var date *time.Time
	if !link.Date.IsZero() {
		d := link.Date
		date = &d
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (url, message_id, title, thread_date, page_url, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING
	`, link.URL, link.MessageID, link.Title, date, link.Page, time.Now().UTC())
	return err
}

// RecordPage remembers an index page the walker fetched
func (s *Store) RecordPage(ctx context.Context, url string, linkCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (url, link_count, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET link_count = excluded.link_count, fetched_at = excluded.fetched_at
	`, url, linkCount, time.Now().UTC())
	return err
}

// MarkResolved marks a thread as retrieved
func (s *Store) MarkResolved(ctx context.Context, url, artifactDir string, messageCount int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads SET
			resolved = 1, resolved_at = ?, attempts = attempts + 1,
			last_error = NULL, artifact_dir = ?, message_count = ?
		WHERE url = ?
	`, time.Now().UTC(), NullString(artifactDir), messageCount, url)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("thread not cached: %s", url)
	}
	return nil
}

// MarkFailed records a failed retrieval; the thread stays unresolved
func (s *Store) MarkFailed(ctx context.Context, url string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE threads SET attempts = attempts + 1, last_error = ?
		WHERE url = ? AND resolved = 0
	`, NullString(msg), url)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("unresolved thread not cached: %s", url)
	}
	return nil
}

// ListThreads retrieves cached threads, newest first
func (s *Store) ListThreads(ctx context.Context, opts ListOptions) ([]Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE 1=1`
	args := []interface{}{}

	if opts.Unresolved {
		query += " AND resolved = ?"
		args = append(args, false)
	}

	query += " ORDER BY thread_date DESC, discovered_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
		if opts.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", opts.Offset)
		}
	}

	var threads []Thread
	if err := s.db.SelectContext(ctx, &threads, query, args...); err != nil {
		return nil, err
	}
	return threads, nil
}

// StartRun inserts a run record, assigning its ID
func (s *Store) StartRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, base_url, window_start, window_oldest, started_at)
		VALUES (:id, :base_url, :window_start, :window_oldest, :started_at)
	`, r)
	return err
}

// FinishRun stores the final counters of a run
func (s *Store) FinishRun(ctx context.Context, r *Run) error {
	now := time.Now().UTC()
	r.FinishedAt = &now

	_, err := s.db.NamedExecContext(ctx, `
		UPDATE runs SET
			finished_at = :finished_at, pages = :pages, discovered = :discovered,
			retrieved = :retrieved, failed = :failed, error = :error
		WHERE id = :id
	`, r)
	return err
}

// LastRun returns the most recent run, or nil when there is none
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	r := &Run{}
	err := s.db.GetContext(ctx, r, `
		SELECT id, base_url, window_start, window_oldest, started_at, finished_at,
		       pages, discovered, retrieved, failed, error
		FROM runs ORDER BY started_at DESC LIMIT 1
	`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Stats returns aggregate counts over the cache
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Path: s.path}

	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN resolved = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN resolved = 0 AND attempts > 0 THEN 1 ELSE 0 END), 0)
		FROM threads
	`).Scan(&stats.Threads, &stats.Resolved, &stats.Failing)
	if err != nil {
		return nil, err
	}
	stats.Unresolved = stats.Threads - stats.Resolved

	if err := s.db.GetContext(ctx, &stats.Pages, `SELECT COUNT(*) FROM pages`); err != nil {
		return nil, err
	}
	if err := s.db.GetContext(ctx, &stats.Runs, `SELECT COUNT(*) FROM runs`); err != nil {
		return nil, err
	}

	lastRun, err := s.LastRun(ctx)
	if err != nil {
		return nil, err
	}
	stats.LastRun = lastRun

	return stats, nil
}
