package retriever

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/patchfetch/patchfetch/internal/archive"
)

// MaxDirNameLength bounds the thread directory name derived from a title
const MaxDirNameLength = 200

// ErrPermanent marks a retrieval that will not succeed on retry
var ErrPermanent = errors.New("thread cannot be retrieved")

// Request asks for one thread to be written below OutputDir
type Request struct {
	Link      archive.ThreadLink
	OutputDir string
}

// Result describes a retrieved thread artifact
type Result struct {
	Dir      string `json:"dir"`
	Existing bool   `json:"existing"` // artifact was already on disk, nothing was run
	Messages int    `json:"messages"`
}

// Retriever fetches the full content of a thread
type Retriever interface {
	Retrieve(ctx context.Context, req Request) (*Result, error)
}

// SanitizeTitle turns a thread title into a directory name. Titles longer than
// MaxDirNameLength characters are cut first; truncated reports whether that happened.
func SanitizeTitle(title string) (name string, truncated bool) {
	runes := []rune(title)
	if len(runes) > MaxDirNameLength {
		runes = runes[:MaxDirNameLength]
		truncated = true
	}

	var b strings.Builder
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String(), truncated
}

// ThreadDir returns the artifact directory for link inside outputDir
func ThreadDir(outputDir string, link archive.ThreadLink) (dir string, truncated bool) {
	name, truncated := SanitizeTitle(strings.TrimSpace(link.Title))
	if strings.Trim(name, "_") == "" {
		name, _ = SanitizeTitle(link.MessageID)
		truncated = false
	}
	if name == "" {
		name = "untitled"
	}
	return filepath.Join(outputDir, name), truncated
}

// CollisionDir returns the directory used when dir already belongs to a
// different thread with the same title
func CollisionDir(dir string, link archive.ThreadLink) string {
	id := link.MessageID
	if id == "" {
		id = link.URL
	}
	suffix, _ := SanitizeTitle(id)
	return dir + "_" + suffix
}
