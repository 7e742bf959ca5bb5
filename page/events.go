package page

import "golang.org/x/net/html"

// AddEventListener subscribes fn to page-wide events of the given type.
// Listeners run on the main thread and must not call Do.
func (d *Document) AddEventListener(typ string, fn func(Event)) {
	d.listenMu.Lock()
	d.listeners[typ] = append(d.listeners[typ], fn)
	d.listenMu.Unlock()
}

// Dispatch delivers ev to its listeners. Main thread only.
func (d *Document) Dispatch(ev Event) {
	d.listenMu.Lock()
	fns := append([]func(Event){}, d.listeners[ev.Type]...)
	d.listenMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// OnClick binds fn as the click handler of n, replacing any previous one.
// Main thread only. fn runs outside the lock and may call Do.
func (d *Document) OnClick(n *html.Node, fn func()) {
	d.clicks[n] = fn
}

// Click simulates a user click on n. Disabled elements and nodes no longer
// attached to the page ignore clicks. It reports whether a handler ran.
// Must not be called inside Do.
func (d *Document) Click(n *html.Node) bool {
	var fn func()
	d.Do(func() {
		if n == nil || HasAttr(n, "disabled") || !d.contains(n) {
			return
		}
		fn = d.clicks[n]
	})
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (d *Document) contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}
