// Package archivetest serves a fake public-inbox index for tests.
package archivetest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const cursorLayout = "20060102150405"

// Thread is one entry of the fake index
type Thread struct {
	MessageID string
	Title     string
	Date      time.Time
}

// URL returns the thread URL the server advertises for t under base
func (t Thread) URL(base string) string {
	return base + url.PathEscape(t.MessageID) + "/T/"
}

// Server is an httptest server rendering paginated topic listings
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	threads  []Thread
	perPage  int
	requests []string
	failOn   map[int]int // request number (1-based) -> status
}

// NewServer starts a fake archive serving threads perPage at a time under /list/
func NewServer(threads []Thread, perPage int) *Server {
	sorted := append([]Thread(nil), threads...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })

	s := &Server{threads: sorted, perPage: perPage, failOn: make(map[int]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL returns the list URL with a trailing slash
func (s *Server) BaseURL() string {
	return s.Server.URL + "/list/"
}

// FailRequest makes the n-th request (1-based) answer with status
func (s *Server) FailRequest(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[n] = status
}

// Requests returns the request URIs served so far
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Daily builds one thread per day at noon UTC from newest back to oldest
func Daily(newest, oldest time.Time) []Thread {
	var threads []Thread
	for d := newest; !d.Before(oldest); d = d.AddDate(0, 0, -1) {
		day := d.Format("20060102")
		threads = append(threads, Thread{
			MessageID: fmt.Sprintf("%s.120000.1-1-dev@example.org", day),
			Title:     fmt.Sprintf("[PATCH net-next] fix for %s", d.Format("2006-01-02")),
			Date:      time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, time.UTC),
		})
	}
	return threads
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.RequestURI())
	status, fail := s.failOn[len(s.requests)]
	s.mu.Unlock()

	if fail {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if r.URL.Path != "/list/" {
		http.NotFound(w, r)
		return
	}

	var before time.Time
	if t := r.URL.Query().Get("t"); t != "" {
		parsed, err := time.Parse(cursorLayout, t)
		if err != nil {
			http.Error(w, "bad t", http.StatusBadRequest)
			return
		}
		before = parsed
	}

	var page []Thread
	for _, t := range s.threads {
		if !before.IsZero() && !t.Date.Before(before) {
			continue
		}
		page = append(page, t)
		if len(page) == s.perPage {
			break
		}
	}

	var b strings.Builder
	b.WriteString("<html><head><title>list</title></head><body>\n")
	b.WriteString(`<a href="../">all lists</a> <a href="?q=">search</a>` + "\n<pre>")
	for _, t := range page {
		fmt.Fprintf(&b, "<a\nhref=\"%s/T/#t\"><b>%s</b></a>\n %s UTC (2+ messages)\n",
			url.PathEscape(t.MessageID), html.EscapeString(t.Title), t.Date.Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "` <a href=\"%s/T/#u\">reply</a>\n", url.PathEscape(t.MessageID))
	}
	b.WriteString("</pre>")
	if len(page) == s.perPage {
		last := page[len(page)-1]
		fmt.Fprintf(&b, `<a id=old href="?t=%s" rel=next>next (older)</a>`, last.Date.Format(cursorLayout))
	}
	b.WriteString("</body></html>")

	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	_, _ = w.Write([]byte(b.String()))
}
