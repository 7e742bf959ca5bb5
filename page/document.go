// Package page models the browser tab a liveblog reader runs in: an HTML
// tree, the scroll position, tab visibility, the document title, click
// handlers on elements and page-wide custom events.
//
// All tree access happens on the "main thread", i.e. inside Document.Do.
// Methods documented as main-thread only must be called from within Do (or
// from an event listener, which Dispatch invokes inside Do). Scroll and
// visibility state are guarded separately and may be read from anywhere.
package page

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Event is a page-wide custom event.
type Event struct {
	Type   string
	Target *html.Node
	Detail any
}

// Document is one open page.
type Document struct {
	mu   sync.Mutex // main thread
	root *html.Node

	clicks map[*html.Node]func()

	viewMu  sync.Mutex
	scrollY int
	hidden  bool

	listenMu   sync.Mutex
	listeners  map[string][]func(Event)
	visibility []func(hidden bool)
}

// Parse reads an HTML page.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("page: parse: %w", err)
	}
	return newDocument(root), nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// New returns an empty page with a head, a title and a body.
func New(title string) *Document {
	d, _ := ParseString("<!DOCTYPE html><html><head><title></title></head><body></body></html>")
	d.setTitle(title)
	return d
}

func newDocument(root *html.Node) *Document {
	return &Document{
		root:      root,
		clicks:    make(map[*html.Node]func()),
		listeners: make(map[string][]func(Event)),
	}
}

// Do runs fn on the main thread. Calls do not interleave.
func (d *Document) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

// Root returns the document node. Main thread only.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element. Main thread only.
func (d *Document) Body() *html.Node {
	return findAtom(d.root, atom.Body)
}

// Title returns the text of the title element. Main thread only.
func (d *Document) Title() string {
	t := findAtom(d.root, atom.Title)
	if t == nil {
		return ""
	}
	return Text(t)
}

// SetTitle replaces the document title, creating the element if needed.
// Main thread only.
func (d *Document) SetTitle(s string) { d.setTitle(s) }

func (d *Document) setTitle(s string) {
	t := findAtom(d.root, atom.Title)
	if t == nil {
		head := findAtom(d.root, atom.Head)
		if head == nil {
			return
		}
		t = Element("title")
		head.AppendChild(t)
	}
	SetText(t, s)
}

// HTML serializes the whole page. It takes the main-thread lock itself, so
// it must not be called from inside Do.
func (d *Document) HTML() string {
	var out string
	d.Do(func() { out = OuterHTML(d.root) })
	return out
}

// Selection wraps n in a goquery selection. Main thread only.
func Selection(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

// OuterHTML renders n and its subtree.
func OuterHTML(n *html.Node) string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAtom(c, a); found != nil {
			return found
		}
	}
	return nil
}
