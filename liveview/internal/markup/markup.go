// Package markup holds the stateless helpers of the reader: timestamp
// formatting, escaping, sanitized fragment parsing and the viewport
// predicates.
package markup

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/liveblog/liveview/internal/sanitize"
)

// FormatTimestamp renders epoch seconds as a 12-hour clock ("3:04 PM").
// Zero renders as "". A nil loc means UTC.
func FormatTimestamp(ts int64, loc *time.Location) string {
	if ts == 0 {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(ts, 0).In(loc).Format("3:04 PM")
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeHTML escapes text for use in HTML content or attribute values.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// EscapeSelectorAttr serializes v as a CSS identifier (CSS.escape), which is
// also safe inside a quoted attribute selector value.
func EscapeSelectorAttr(v string) string {
	var b strings.Builder
	runes := []rune(v)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('�')
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UpdateSelector returns the attribute selector that finds an entry by id.
func UpdateSelector(id string) string {
	return `[data-update-id="` + EscapeSelectorAttr(id) + `"]`
}

// SafeParse sanitizes raw and parses it as the content of a div. It returns
// the first top-level element, detached, or nil when there is none.
func SafeParse(s sanitize.Sanitizer, raw string) *html.Node {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(s.Sanitize(raw)), ctx)
	if err != nil {
		return nil
	}
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return n
		}
	}
	return nil
}

// Scroller exposes the viewport offset.
type Scroller interface {
	ScrollY() int
}

// Visibility exposes tab visibility.
type Visibility interface {
	Hidden() bool
}

// IsAtTop reports whether the reader is scrolled within threshold pixels of
// the top of the page.
func IsAtTop(v Scroller, threshold int) bool {
	return v.ScrollY() < threshold
}

// IsTabVisible reports whether the tab is in the foreground.
func IsTabVisible(v Visibility) bool {
	return !v.Hidden()
}
