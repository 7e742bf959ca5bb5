// Package viewstate owns the per-tab unread counter and mirrors it into the
// document title as a "(N) " prefix.
package viewstate

import (
	"regexp"
	"strconv"
	"strings"
)

// Titler reads and writes the document title. Calls happen on the main thread.
type Titler interface {
	Title() string
	SetTitle(string)
}

var prefix = regexp.MustCompile(`(?i)^\(\d+\s*(?:new\s*)?\)\s*`)

// Store is the view state of one tab. Main thread only.
type Store struct {
	doc           Titler
	unread        int
	originalTitle string
}

// New returns a Store bound to doc.
func New(doc Titler) *Store {
	return &Store{doc: doc}
}

// OriginalTitle returns the page title without any unread prefix. It is
// captured on first use.
func (s *Store) OriginalTitle() string {
	if s.originalTitle != "" {
		return s.originalTitle
	}
	t := s.doc.Title()
	stripped := strings.TrimSpace(prefix.ReplaceAllString(t, ""))
	if stripped == "" {
		stripped = t
	}
	s.originalTitle = stripped
	return s.originalTitle
}

// UpdateTitle writes "(n) <original>" or the bare original when n is 0.
func (s *Store) UpdateTitle(n int) {
	base := s.OriginalTitle()
	if n > 0 {
		s.doc.SetTitle("(" + strconv.Itoa(n) + ") " + base)
		return
	}
	s.doc.SetTitle(base)
}

// Unread returns the unread counter.
func (s *Store) Unread() int { return s.unread }

// SetUnread sets the counter and refreshes the title. Negative values clamp to 0.
func (s *Store) SetUnread(n int) {
	if n < 0 {
		n = 0
	}
	s.unread = n
	s.UpdateTitle(n)
}

// IncrementUnread adds one and refreshes the title.
func (s *Store) IncrementUnread() {
	s.unread++
	s.UpdateTitle(s.unread)
}
