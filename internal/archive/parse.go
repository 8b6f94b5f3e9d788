package archive

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/patchfetch/patchfetch/internal/filter"
)

// dateRe matches the timestamp public-inbox prints after each thread link
var dateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}`)

const linkDateLayout = "2006-01-02 15:04"

// ParsePage extracts thread links and the next-page link from a
// public-inbox index page. Relative links are resolved against pageURL.
func ParsePage(r io.Reader, pageURL string) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	page := &Page{URL: pageURL}
	z := html.NewTokenizer(r)

	var (
		current  *ThreadLink
		title    strings.Builder
		awaiting = -1 // index of the last link still waiting for its date
	)

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				return page, nil
			}
			return nil, fmt.Errorf("failed to parse page: %w", z.Err())
		}

		tok := z.Token()
		switch tt {
		case html.StartTagToken:
			if tok.DataAtom != atom.A {
				continue
			}
			href := attr(tok, "href")
			if href == "" {
				continue
			}

			if attr(tok, "rel") == "next" && page.Next == "" {
				if next, ok := resolve(base, href); ok {
					page.Next = next
					page.NextCursor = cursorOf(next)
				}
			}

			if link, ok := threadLink(base, href); ok {
				current = &link
				title.Reset()
				awaiting = -1
			}

		case html.TextToken:
			if current != nil {
				title.WriteString(tok.Data)
				continue
			}
			if awaiting >= 0 {
				if m := dateRe.FindString(tok.Data); m != "" {
					if t, err := time.Parse(linkDateLayout, m); err == nil {
						page.Links[awaiting].Date = t
					}
					awaiting = -1
				}
			}

		case html.EndTagToken:
			if current != nil && tok.DataAtom == atom.A {
				current.Title = strings.Join(strings.Fields(title.String()), " ")
				current.Page = pageURL
				page.Links = append(page.Links, *current)
				awaiting = len(page.Links) - 1
				current = nil
			}
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

// threadLink recognizes topic anchors of the form <msgid>/T/#t
func threadLink(base *url.URL, href string) (ThreadLink, bool) {
	ref, err := url.Parse(href)
	if err != nil || ref.Fragment != "t" || !strings.HasSuffix(ref.Path, "/T/") {
		return ThreadLink{}, false
	}

	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""

	seg := path.Base(strings.TrimSuffix(abs.EscapedPath(), "/T/"))
	msgID, err := url.PathUnescape(seg)
	if err != nil {
		msgID = seg
	}

	return ThreadLink{
		URL:       abs.String(),
		MessageID: msgID,
	}, true
}

func cursorOf(pageURL string) time.Time {
	u, err := url.Parse(pageURL)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(filter.CursorLayout, u.Query().Get("t"))
	if err != nil {
		return time.Time{}
	}
	return t
}
