package state

import (
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/liveview/internal/sched"
)

func TestContainer_EnqueueDedupes(t *testing.T) {
	c := &Container{ID: "c1"}
	if !c.Enqueue(feed.Update{ID: "u4"}) {
		t.Fatal("first enqueue rejected")
	}
	if c.Enqueue(feed.Update{ID: "u4"}) {
		t.Fatal("duplicate enqueue accepted")
	}
	c.Enqueue(feed.Update{ID: "u5"})
	if len(c.QueuedNew) != 2 {
		t.Fatalf("queued = %d, want 2", len(c.QueuedNew))
	}
	q := c.DrainQueue()
	if len(q) != 2 || len(c.QueuedNew) != 0 {
		t.Fatalf("drain: got %d, left %d", len(q), len(c.QueuedNew))
	}
}

func TestRegistry_OrderAndTotals(t *testing.T) {
	r := NewRegistry()
	n1 := &html.Node{Type: html.ElementNode, Data: "div"}
	n2 := &html.Node{Type: html.ElementNode, Data: "div"}
	r.Add(&Container{ID: "b", Node: n1, QueuedNew: []feed.Update{{ID: "x"}}})
	r.Add(&Container{ID: "a", Node: n2, QueuedNew: []feed.Update{{ID: "y"}, {ID: "z"}}})

	all := r.All()
	if len(all) != 2 || all[0].ID != "b" || all[1].ID != "a" {
		t.Fatalf("order = %v", all)
	}
	if r.QueuedTotal() != 3 {
		t.Fatalf("QueuedTotal = %d, want 3", r.QueuedTotal())
	}
	if c, ok := r.Lookup(n2); !ok || c.ID != "a" {
		t.Fatal("Lookup by node failed")
	}
}

func TestRegistry_RemoveStopsTimer(t *testing.T) {
	clk := sched.NewManual(time.Unix(0, 0))
	fired := false
	r := NewRegistry()
	r.Add(&Container{ID: "c", Timer: clk.AfterFunc(time.Second, func() { fired = true })})

	r.Remove("c")
	clk.Advance(time.Minute)
	if fired {
		t.Fatal("timer of removed container fired")
	}
	if _, ok := r.Get("c"); ok || r.Len() != 0 {
		t.Fatal("container still registered")
	}
}
