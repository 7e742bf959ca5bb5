// Package entrydom builds, patches and inserts entry elements inside a
// liveblog container.
package entrydom

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/horosafe"
	"github.com/hazyhaar/liveblog/liveview/internal/markup"
	"github.com/hazyhaar/liveblog/liveview/internal/sanitize"
	"github.com/hazyhaar/liveblog/liveview/internal/sched"
	"github.com/hazyhaar/liveblog/page"
)

const (
	// EmbedEvent is dispatched after any patch so embed widgets can
	// process the new markup. The event target is the patched element.
	EmbedEvent = "liveblog:embeds"
	// EnterClass marks a freshly inserted entry until the animation ends.
	EnterClass = "liveblog-entry--enter"

	defaultEnterDuration = 300 * time.Millisecond
)

// Options tune a Builder.
type Options struct {
	// EnterDuration is how long EnterClass stays on an inserted entry.
	EnterDuration time.Duration
	// Location renders fallback header times. Default UTC.
	Location *time.Location
}

// Builder turns feed updates into page elements.
type Builder struct {
	doc   *page.Document
	san   sanitize.Sanitizer
	clock sched.Clock
	enter time.Duration
	loc   *time.Location
}

// New returns a Builder. san and clock must not be nil.
func New(doc *page.Document, san sanitize.Sanitizer, clock sched.Clock, opts Options) *Builder {
	if opts.EnterDuration <= 0 {
		opts.EnterDuration = defaultEnterDuration
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Builder{doc: doc, san: san, clock: clock, enter: opts.EnterDuration, loc: opts.Location}
}

// Find returns the entry with the given update id inside container.
func Find(container *html.Node, id string) *html.Node {
	if id == "" {
		return nil
	}
	return page.Query(container, markup.UpdateSelector(id))
}

// Build returns a detached element for u: the first element of its
// sanitized content, or a structural fallback when the content is empty or
// yields no element. It returns nil when neither is possible. Main thread only.
func (b *Builder) Build(u feed.Update) *html.Node {
	if strings.TrimSpace(u.Content) != "" {
		if el := markup.SafeParse(b.san, u.Content); el != nil {
			return el
		}
	}
	if u.ID == "" {
		return nil
	}
	return b.fallback(u)
}

func (b *Builder) fallback(u feed.Update) *html.Node {
	el := page.Element("div", "class", "liveblog-entry", "data-update-id", u.ID)
	if u.Timestamp != 0 {
		page.SetAttr(el, "data-timestamp", strconv.FormatInt(u.Timestamp, 10))
	}

	if u.Author != "" || len(u.Coauthors) > 0 {
		header := page.Element("div", "class", "liveblog-entry__header")
		tm := page.Element("time", "class", "liveblog-entry__time")
		page.SetText(tm, markup.FormatTimestamp(u.Timestamp, b.loc))

		authors := page.Element("span", "class", "liveblog-entry__authors")
		if len(u.Coauthors) > 0 {
			avatars := page.Element("span", "class", "liveblog-entry__author-avatars")
			names := make([]string, 0, len(u.Coauthors))
			for _, c := range u.Coauthors {
				if horosafe.SafeMediaURL(c.AvatarURL) {
					avatars.AppendChild(page.Element("img",
						"src", c.AvatarURL, "alt", "", "width", "24", "height", "24"))
				}
				names = append(names, c.DisplayName)
			}
			nameSpan := page.Element("span", "class", "liveblog-entry__author-names")
			page.SetText(nameSpan, strings.Join(names, ", "))

			authors.AppendChild(avatars)
			authors.AppendChild(page.TextNode(" "))
			authors.AppendChild(nameSpan)
		} else {
			page.SetText(authors, u.Author)
		}

		header.AppendChild(tm)
		header.AppendChild(page.TextNode(" "))
		header.AppendChild(authors)
		el.AppendChild(header)
	}

	body := page.Element("div", "class", "liveblog-entry__content")
	body.AppendChild(page.Element("p"))
	el.AppendChild(body)
	return el
}

// Apply replaces the existing entry for u with freshly parsed content. It
// is a no-op, returning false, when u has no id or no content, when the
// entry is not in container, or when the content yields no element.
// Main thread only.
func (b *Builder) Apply(container *html.Node, u feed.Update) bool {
	if u.ID == "" || strings.TrimSpace(u.Content) == "" {
		return false
	}
	existing := Find(container, u.ID)
	if existing == nil || existing.Parent == nil {
		return false
	}
	el := markup.SafeParse(b.san, u.Content)
	if el == nil {
		return false
	}
	page.Replace(existing, el)
	b.TriggerEmbeds(el)
	return true
}

// Insert puts el at the very top of container, newest first, and runs the
// enter animation. Main thread only.
func (b *Builder) Insert(container, el *html.Node) {
	if el == nil {
		return
	}
	page.AddClass(el, EnterClass)
	page.Prepend(container, el)
	b.TriggerEmbeds(el)
	b.clock.AfterFunc(b.enter, func() {
		b.doc.Do(func() { page.RemoveClass(el, EnterClass) })
	})
}

// TriggerEmbeds dispatches EmbedEvent for n. Main thread only.
func (b *Builder) TriggerEmbeds(n *html.Node) {
	b.doc.Dispatch(page.Event{Type: EmbedEvent, Target: n})
}
