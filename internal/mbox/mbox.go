// Package mbox inspects the mailbox files written for retrieved threads.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/spf13/afero"
)

// Ext is the file extension of thread mailboxes
const Ext = ".mbx"

// ErrNoMailbox is returned when a thread directory holds no mailbox
var ErrNoMailbox = errors.New("no mailbox found")

// Summary describes one thread mailbox
type Summary struct {
	Dir      string    `json:"dir"`
	Path     string    `json:"path"`
	Messages int       `json:"messages"`
	Patches  int       `json:"patches"` // messages whose subject carries a [PATCH tag
	Subject  string    `json:"subject"`
	Author   string    `json:"author"`
	First    time.Time `json:"first,omitempty"`
	Last     time.Time `json:"last,omitempty"`
	Authors  []string  `json:"authors,omitempty"` // sender of every message, in order
}

// Find returns the first mailbox in dir, or "" when there is none
func Find(fs afero.Fs, dir string) (string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), Ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// Inspect summarizes the mailbox inside a thread directory
func Inspect(fs afero.Fs, dir string) (*Summary, error) {
	path, err := Find(fs, dir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w in %s", ErrNoMailbox, dir)
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	s.Dir = dir
	s.Path = path
	return s, nil
}

// Read summarizes an mbox stream. Messages are split on "From " separator lines.
func Read(r io.Reader) (*Summary, error) {
	s := &Summary{}

	var msg bytes.Buffer
	flush := func() {
		if msg.Len() == 0 {
			return
		}
		s.add(msg.Bytes())
		msg.Reset()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	inMessage := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.HasPrefix(line, []byte("From ")) {
			flush()
			inMessage = true
			continue
		}
		if !inMessage {
			continue
		}
		msg.Write(line)
		msg.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return s, nil
}

func (s *Summary) add(raw []byte) {
	s.Messages++

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		s.Authors = append(s.Authors, "")
		return
	}
	defer mr.Close()

	subject, _ := mr.Header.Subject()
	if strings.Contains(subject, "[PATCH") {
		s.Patches++
	}

	author := ""
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		author = from[0].Name
		if author == "" {
			author = from[0].Address
		}
	}
	s.Authors = append(s.Authors, author)

	if s.Messages == 1 {
		s.Subject = subject
		s.Author = author
	}

	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		date = date.UTC()
		if s.First.IsZero() || date.Before(s.First) {
			s.First = date
		}
		if date.After(s.Last) {
			s.Last = date
		}
	}
}

// Scan inspects every thread directory directly below root. Directories
// without a mailbox are skipped.
func Scan(fs afero.Fs, root string) ([]Summary, error) {
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := Inspect(fs, filepath.Join(root, e.Name()))
		if errors.Is(err, ErrNoMailbox) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// AuthorCount is an author and the number of messages they sent
type AuthorCount struct {
	Author   string `json:"author"`
	Messages int    `json:"messages"`
}

// Report aggregates summaries of many threads
type Report struct {
	Threads    int           `json:"threads"`
	Messages   int           `json:"messages"`
	Patches    int           `json:"patches"`
	First      time.Time     `json:"first,omitempty"`
	Last       time.Time     `json:"last,omitempty"`
	TopAuthors []AuthorCount `json:"top_authors"`
}

// Aggregate builds a Report with the top n authors by message count
func Aggregate(summaries []Summary, n int) *Report {
	r := &Report{Threads: len(summaries)}
	counts := make(map[string]int)

	for _, s := range summaries {
		r.Messages += s.Messages
		r.Patches += s.Patches
		if !s.First.IsZero() && (r.First.IsZero() || s.First.Before(r.First)) {
			r.First = s.First
		}
		if s.Last.After(r.Last) {
			r.Last = s.Last
		}
		for _, a := range s.Authors {
			if a != "" {
				counts[a]++
			}
		}
	}

	for a, c := range counts {
		r.TopAuthors = append(r.TopAuthors, AuthorCount{Author: a, Messages: c})
	}
	sort.Slice(r.TopAuthors, func(i, j int) bool {
		if r.TopAuthors[i].Messages != r.TopAuthors[j].Messages {
			return r.TopAuthors[i].Messages > r.TopAuthors[j].Messages
		}
		return r.TopAuthors[i].Author < r.TopAuthors[j].Author
	})
	if n > 0 && len(r.TopAuthors) > n {
		r.TopAuthors = r.TopAuthors[:n]
	}
	return r
}
