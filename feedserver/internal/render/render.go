// Package render turns stored entries into the markup readers insert:
// a liveblog-entry wrapper, a header with time and authors, then the
// Markdown body rendered to HTML.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hazyhaar/liveblog/feedserver/internal/store"
)

// DefaultTimeFormat is the header clock layout.
const DefaultTimeFormat = "3:04 PM"

// Renderer renders entries. It is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	loc    *time.Location
	layout string
}

// New returns a Renderer formatting times in loc with layout. Raw HTML in
// bodies is dropped by goldmark.
func New(loc *time.Location, layout string) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	if layout == "" {
		layout = DefaultTimeFormat
	}
	return &Renderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		loc:    loc,
		layout: layout,
	}
}

// Body renders Markdown to HTML.
func (r *Renderer) Body(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return buf.String(), nil
}

// Entry renders the full entry markup.
func (r *Renderer) Entry(e *store.Entry) (string, error) {
	body, err := r.Body(e.Body)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`<div class="liveblog-entry"`)
	if e.UpdateID != "" {
		fmt.Fprintf(&b, ` data-update-id="%s"`, html.EscapeString(e.UpdateID))
	}
	if e.Timestamp > 0 {
		fmt.Fprintf(&b, ` data-timestamp="%d"`, e.Timestamp)
	}
	b.WriteString(`>`)
	r.header(&b, e)
	b.WriteString(`<div class="liveblog-entry__content">`)
	b.WriteString(body)
	b.WriteString(`</div></div>`)
	return b.String(), nil
}

func (r *Renderer) header(b *strings.Builder, e *store.Entry) {
	b.WriteString(`<div class="liveblog-entry__header">`)
	if e.Timestamp > 0 {
		t := time.Unix(e.Timestamp, 0).In(r.loc)
		fmt.Fprintf(b, `<time class="liveblog-entry__time" datetime="%s">%s</time>`,
			t.Format(time.RFC3339), html.EscapeString(t.Format(r.layout)))
	}
	names := authorNames(e)
	if len(names) > 0 {
		b.WriteString(`<span class="liveblog-entry__authors">`)
		for _, n := range names {
			b.WriteString(`<span class="liveblog-entry__author">`)
			b.WriteString(html.EscapeString(n))
			b.WriteString(`</span>`)
		}
		b.WriteString(`</span>`)
	}
	if e.Modified > 0 && e.Modified > e.Timestamp {
		b.WriteString(`<span class="liveblog-entry__edited" data-modified="`)
		b.WriteString(strconv.FormatInt(e.Modified, 10))
		b.WriteString(`">edited</span>`)
	}
	b.WriteString(`</div>`)
}

// authorNames lists coauthor names, else the single author.
func authorNames(e *store.Entry) []string {
	var names []string
	for _, c := range e.Coauthors {
		if c.DisplayName != "" {
			names = append(names, c.DisplayName)
		}
	}
	if len(names) == 0 && e.Author != "" {
		names = append(names, e.Author)
	}
	return names
}
