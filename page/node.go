package page

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element creates a detached element.
func Element(tag string, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// TextNode creates a detached text node.
func TextNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Query returns the first descendant of n matching sel, or nil when nothing
// matches or sel does not compile.
func Query(n *html.Node, sel string) *html.Node {
	s, err := cascadia.Compile(sel)
	if err != nil || n == nil {
		return nil
	}
	return s.MatchFirst(n)
}

// QueryAll returns every descendant of n matching sel, in document order.
func QueryAll(n *html.Node, sel string) []*html.Node {
	s, err := cascadia.Compile(sel)
	if err != nil || n == nil {
		return nil
	}
	return s.MatchAll(n)
}

// Attr returns the value of key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports whether n carries key.
func HasAttr(n *html.Node, key string) bool {
	_, ok := Attr(n, key)
	return ok
}

// SetAttr sets key on n.
func SetAttr(n *html.Node, key, val string) {
	Selection(n).SetAttr(key, val)
}

// RemoveAttr removes key from n.
func RemoveAttr(n *html.Node, key string) {
	Selection(n).RemoveAttr(key)
}

// HasClass reports whether n's class list contains class.
func HasClass(n *html.Node, class string) bool {
	return Selection(n).HasClass(class)
}

// AddClass adds class to n.
func AddClass(n *html.Node, class string) {
	Selection(n).AddClass(class)
}

// RemoveClass removes class from n.
func RemoveClass(n *html.Node, class string) {
	Selection(n).RemoveClass(class)
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	return Selection(n).Text()
}

// SetText replaces n's children with a single text node.
func SetText(n *html.Node, s string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if s != "" {
		n.AppendChild(TextNode(s))
	}
}

// FirstElementChild returns n's first element child.
func FirstElementChild(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Prepend inserts child as n's first child. A child attached elsewhere is moved.
func Prepend(n, child *html.Node) {
	Selection(n).PrependNodes(child)
}

// Append adds child as n's last child. A child attached elsewhere is moved.
func Append(n, child *html.Node) {
	Selection(n).AppendNodes(child)
}

// InsertBefore puts node immediately before ref.
func InsertBefore(ref, node *html.Node) {
	Selection(ref).BeforeNodes(node)
}

// Replace swaps old for repl in old's parent.
func Replace(old, repl *html.Node) {
	Selection(old).ReplaceWithNodes(repl)
}

// Detach removes n from its parent.
func Detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// ReplaceChildren empties n and appends children in order.
func ReplaceChildren(n *html.Node, children ...*html.Node) {
	SetText(n, "")
	for _, c := range children {
		Append(n, c)
	}
}

// ClassList splits n's class attribute.
func ClassList(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}
