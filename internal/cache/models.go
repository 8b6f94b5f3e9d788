package cache

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Thread is a cached thread link and its resolution state
type Thread struct {
	URL          string         `db:"url" json:"url"`
	MessageID    string         `db:"message_id" json:"message_id"`
	Title        string         `db:"title" json:"title"`
	ThreadDate   *time.Time     `db:"thread_date" json:"thread_date,omitempty"`
	PageURL      string         `db:"page_url" json:"page_url"`
	DiscoveredAt time.Time      `db:"discovered_at" json:"discovered_at"`
	Resolved     bool           `db:"resolved" json:"resolved"`
	ResolvedAt   *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	Attempts     int            `db:"attempts" json:"attempts"`
	LastError    sql.NullString `db:"last_error" json:"-"`
	ArtifactDir  sql.NullString `db:"artifact_dir" json:"-"`
	MessageCount int            `db:"message_count" json:"message_count"`
}

// Failure returns the last retrieval error, if any
func (t *Thread) Failure() string {
	if !t.LastError.Valid {
		return ""
	}
	return t.LastError.String
}

// Dir returns the artifact directory, if known
func (t *Thread) Dir() string {
	if !t.ArtifactDir.Valid {
		return ""
	}
	return t.ArtifactDir.String
}

// MarshalJSON renders the nullable columns as plain optional strings
func (t Thread) MarshalJSON() ([]byte, error) {
	type plain Thread
	return json.Marshal(struct {
		plain
		LastError   string `json:"last_error,omitempty"`
		ArtifactDir string `json:"artifact_dir,omitempty"`
	}{plain(t), t.Failure(), t.Dir()})
}

// Run records one fetch-patches invocation
type Run struct {
	ID           string         `db:"id" json:"id"`
	BaseURL      string         `db:"base_url" json:"base_url"`
	WindowStart  string         `db:"window_start" json:"window_start"`
	WindowOldest string         `db:"window_oldest" json:"window_oldest"`
	StartedAt    time.Time      `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	Pages        int            `db:"pages" json:"pages"`
	Discovered   int            `db:"discovered" json:"discovered"`
	Retrieved    int            `db:"retrieved" json:"retrieved"`
	Failed       int            `db:"failed" json:"failed"`
	Error        sql.NullString `db:"error" json:"-"`
}

// Stats summarizes the cache contents
type Stats struct {
	Path       string `json:"path"`
	Threads    int    `json:"threads"`
	Resolved   int    `json:"resolved"`
	Unresolved int    `json:"unresolved"`
	Failing    int    `json:"failing"` // unresolved with at least one failed attempt
	Pages      int    `json:"pages"`
	Runs       int    `json:"runs"`
	LastRun    *Run   `json:"last_run,omitempty"`
}

// ListOptions contains options for listing cached threads
type ListOptions struct {
	Unresolved bool // only threads not yet resolved
	Limit      int
	Offset     int
}

// NullString is a helper to convert a string to sql.NullString, empty = NULL
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
