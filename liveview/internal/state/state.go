// Package state holds the per-container polling state and the registry that
// maps a stable container id to it.
package state

import (
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/liveview/internal/sched"
)

// PageConfig is the host page's liveblog configuration for one container.
type PageConfig struct {
	PostID   int64
	RestURL  string
	Interval time.Duration
}

// Container is everything the reader knows about one liveblog container.
// All fields are owned by the main thread.
type Container struct {
	ID     string
	Node   *html.Node
	Config PageConfig
	Source feed.Source

	LastModified    int64
	Backoff         time.Duration
	Timer           sched.Timer
	QueuedNew       []feed.Update
	OldestTimestamp int64
	HasMore         bool
	LoadingMore     bool
	Initialized     bool

	// LoadMore is the pagination button, nil until first needed.
	LoadMore *html.Node

	// Sequence numbers of poll requests: the last one issued and the last
	// one whose result was applied.
	IssuedSeq  uint64
	AppliedSeq uint64
	// Polls counts completed poll cycles.
	Polls uint64
}

// IsQueued reports whether an update with id is waiting in QueuedNew.
func (c *Container) IsQueued(id string) bool {
	for _, u := range c.QueuedNew {
		if u.ID == id {
			return true
		}
	}
	return false
}

// Enqueue appends u unless an update with the same id is already queued.
func (c *Container) Enqueue(u feed.Update) bool {
	if c.IsQueued(u.ID) {
		return false
	}
	c.QueuedNew = append(c.QueuedNew, u)
	return true
}

// DrainQueue empties QueuedNew and returns what it held.
func (c *Container) DrainQueue() []feed.Update {
	q := c.QueuedNew
	c.QueuedNew = nil
	return q
}

// Registry is an insertion-ordered map of containers.
type Registry struct {
	order []string
	byID  map[string]*Container
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Container)}
}

// Add registers c, replacing any container with the same id.
func (r *Registry) Add(c *Container) {
	if _, ok := r.byID[c.ID]; !ok {
		r.order = append(r.order, c.ID)
	}
	r.byID[c.ID] = c
}

// Get returns the container registered under id.
func (r *Registry) Get(id string) (*Container, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Lookup returns the container whose element is n.
func (r *Registry) Lookup(n *html.Node) (*Container, bool) {
	for _, id := range r.order {
		if c := r.byID[id]; c.Node == n {
			return c, true
		}
	}
	return nil, false
}

// All returns containers in registration order.
func (r *Registry) All() []*Container {
	out := make([]*Container, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Remove forgets the container and stops its timer.
func (r *Registry) Remove(id string) {
	c, ok := r.byID[id]
	if !ok {
		return
	}
	if c.Timer != nil {
		c.Timer.Stop()
		c.Timer = nil
	}
	delete(r.byID, id)
	for i, x := range r.order {
		if x == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered containers.
func (r *Registry) Len() int { return len(r.order) }

// QueuedTotal sums QueuedNew across every container.
func (r *Registry) QueuedTotal() int {
	n := 0
	for _, c := range r.byID {
		n += len(c.QueuedNew)
	}
	return n
}
