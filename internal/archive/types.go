package archive

import (
	"time"
)

// ThreadLink is a thread entry point discovered on an index page
type ThreadLink struct {
	URL       string    // Absolute thread URL, fragment stripped (identifier)
	MessageID string    // Message-ID of the thread root
	Title     string    // Anchor text, usually the patch subject
	Date      time.Time // Last activity as printed on the index page (UTC)
	Page      string    // Index page the link was found on
}

// Page is one parsed archive index page
type Page struct {
	URL        string
	Links      []ThreadLink
	Next       string    // Older page, empty on the last page
	NextCursor time.Time // Decoded t= of Next, zero if absent
}

// Oldest returns the oldest dated link on the page
func (p *Page) Oldest() (time.Time, bool) {
	var oldest time.Time
	for _, l := range p.Links {
		if l.Date.IsZero() {
			continue
		}
		if oldest.IsZero() || l.Date.Before(oldest) {
			oldest = l.Date
		}
	}
	return oldest, !oldest.IsZero()
}
