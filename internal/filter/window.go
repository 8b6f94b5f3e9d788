package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the accepted format for --start-date and --oldest-date
const DateLayout = "2006-01-02"

// CursorLayout is the format of the archive's t= pagination parameter
const CursorLayout = "20060102150405"

var (
	// ErrInvalidDate is returned when a date argument is not YYYY-MM-DD
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvertedWindow is returned when the oldest date is after the start date
	ErrInvertedWindow = errors.New("oldest date is after start date")
)

// Window bounds which thread links are considered. Both boundaries are
// calendar dates in UTC; the whole start day is included.
type Window struct {
	Start  time.Time // midnight of the newest day to include
	Oldest time.Time // midnight of the oldest day to include

	// Explicit reports whether Start came from the user rather than "today"
	Explicit bool
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	return t, nil
}

// NewWindow builds a Window from the CLI arguments. An empty start means
// "today" relative to now.
func NewWindow(start, oldest string, now time.Time) (Window, error) {
	var w Window

	if strings.TrimSpace(oldest) == "" {
		return w, fmt.Errorf("%w: oldest date is required", ErrInvalidDate)
	}

	o, err := ParseDate(oldest)
	if err != nil {
		return w, fmt.Errorf("--oldest-date: %w", err)
	}
	w.Oldest = o

	if strings.TrimSpace(start) == "" {
		now = now.UTC()
		w.Start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		s, err := ParseDate(start)
		if err != nil {
			return w, fmt.Errorf("--start-date: %w", err)
		}
		w.Start = s
		w.Explicit = true
	}

	if w.Oldest.After(w.Start) {
		return w, fmt.Errorf("%w: oldest %s, start %s", ErrInvertedWindow,
			w.Oldest.Format(DateLayout), w.Start.Format(DateLayout))
	}

	return w, nil
}

// End returns the exclusive upper bound of the window
func (w Window) End() time.Time {
	return w.Start.AddDate(0, 0, 1)
}

// Contains reports whether t lies inside [Oldest, End)
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Oldest) && t.Before(w.End())
}

// Before reports whether t precedes the oldest boundary
func (w Window) Before(t time.Time) bool {
	return t.Before(w.Oldest)
}

// Cursor returns the t= value that lists threads older than the end of the window
func (w Window) Cursor() string {
	return w.End().Format(CursorLayout)
}

// Progress returns how far t is into the window walking backward from End,
// between 0 and 1.
func (w Window) Progress(t time.Time) float64 {
	total := w.End().Sub(w.Oldest).Seconds()
	if total <= 0 {
		return 1
	}
	p := w.End().Sub(t).Seconds() / total
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// String formats the window for display
func (w Window) String() string {
	return fmt.Sprintf("%s .. %s", w.Oldest.Format(DateLayout), w.Start.Format(DateLayout))
}
