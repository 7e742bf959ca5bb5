package loadmore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/liveview/internal/entrydom"
	"github.com/hazyhaar/liveblog/liveview/internal/sanitize"
	"github.com/hazyhaar/liveblog/liveview/internal/sched"
	"github.com/hazyhaar/liveblog/liveview/internal/state"
	"github.com/hazyhaar/liveblog/page"
)

type pages struct {
	queries []feed.Query
	resps   []feed.UpdatesResponse
	errs    []error
}

func (p *pages) Updates(_ context.Context, q feed.Query) (feed.UpdatesResponse, error) {
	i := len(p.queries)
	p.queries = append(p.queries, q)
	if i < len(p.errs) && p.errs[i] != nil {
		return feed.UpdatesResponse{}, p.errs[i]
	}
	if i < len(p.resps) {
		return p.resps[i], nil
	}
	return feed.UpdatesResponse{}, nil
}

func entry(id string, ts int64) feed.Update {
	return feed.Update{ID: id, Timestamp: ts, ChangeType: feed.ChangeNew}
}

func setup(t *testing.T, src *pages) (*page.Document, *Controller, *state.Container) {
	t.Helper()
	doc, err := page.ParseString(`<html><head><title>t</title></head><body><div class="liveblog-container"><div class="liveblog-entry" data-update-id="u3">3</div></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	clk := sched.NewManual(time.Unix(0, 0))
	c := New(Config{Doc: doc, Builder: entrydom.New(doc, sanitize.Policy(), clk, entrydom.Options{})})
	ct := &state.Container{ID: "c1", Source: src, HasMore: true, OldestTimestamp: 300}
	doc.Do(func() {
		ct.Node = page.Query(doc.Root(), ".liveblog-container")
		page.Append(ct.Node, c.Button(ct))
	})
	return doc, c, ct
}

func ids(doc *page.Document, ct *state.Container) []string {
	var out []string
	doc.Do(func() {
		for _, n := range page.QueryAll(ct.Node, "[data-update-id]") {
			v, _ := page.Attr(n, "data-update-id")
			out = append(out, v)
		}
	})
	return out
}

func TestButton_CreatedOnce(t *testing.T) {
	doc, c, ct := setup(t, &pages{})
	doc.Do(func() {
		b1 := c.Button(ct)
		b2 := c.Button(ct)
		if b1 != b2 {
			t.Fatal("Button created twice")
		}
		if v, _ := page.Attr(b1, "type"); v != "button" || page.Text(b1) != "Load more" {
			t.Fatalf("button = %s", page.OuterHTML(b1))
		}
	})
}

// WHAT: a page lands above the button and moves the cursor to its minimum.
func TestLoad_InsertsAboveButton(t *testing.T) {
	src := &pages{resps: []feed.UpdatesResponse{{Updates: []feed.Update{entry("u2", 200), entry("u1", 100)}, HasMore: true}}}
	doc, c, ct := setup(t, src)

	if err := c.Load(context.Background(), ct); err != nil {
		t.Fatal(err)
	}
	if q := src.queries[0]; q.Before != 300 || q.PerPage != 5 || q.Since != 0 {
		t.Fatalf("query = %+v", q)
	}
	got := ids(doc, ct)
	if len(got) != 3 || got[1] != "u2" || got[2] != "u1" {
		t.Fatalf("order = %v", got)
	}
	doc.Do(func() {
		if ct.OldestTimestamp != 100 || !ct.HasMore || ct.LoadingMore {
			t.Fatalf("state = %+v", ct)
		}
		btn := ct.LoadMore
		if btn.Parent != ct.Node || page.FirstElementChild(ct.Node) == btn {
			t.Fatal("button must stay last")
		}
		if page.HasAttr(btn, "disabled") || page.Text(btn) != "Load more" {
			t.Fatal("button not reset after load")
		}
	})
}

// WHAT: repeated clicks stop once the feed reports no more entries.
// WHY: pagination must terminate and stop issuing requests.
func TestLoad_Terminates(t *testing.T) {
	src := &pages{resps: []feed.UpdatesResponse{
		{Updates: []feed.Update{entry("u2", 200)}, HasMore: true},
		{Updates: []feed.Update{entry("u1", 100)}, HasMore: false},
	}}
	doc, c, ct := setup(t, src)
	var btn = ct.LoadMore

	for i := 0; i < 5; i++ {
		doc.Click(btn)
	}
	if len(src.queries) != 2 {
		t.Fatalf("requests = %d, want 2", len(src.queries))
	}
	if src.queries[1].Before != 200 {
		t.Fatalf("second cursor = %d, want 200", src.queries[1].Before)
	}
	doc.Do(func() {
		if btn.Parent != nil || ct.HasMore {
			t.Fatal("button not removed after has_more=false")
		}
	})
	if err := c.Load(context.Background(), ct); err != nil || len(src.queries) != 2 {
		t.Fatal("Load issued a request past the end")
	}
}

func TestLoad_EmptyPageRemovesButton(t *testing.T) {
	src := &pages{resps: []feed.UpdatesResponse{{HasMore: true}}}
	doc, c, ct := setup(t, src)
	if err := c.Load(context.Background(), ct); err != nil {
		t.Fatal(err)
	}
	doc.Do(func() {
		if ct.HasMore || ct.LoadMore.Parent != nil {
			t.Fatal("empty page must end pagination")
		}
		if ct.OldestTimestamp != 300 {
			t.Fatalf("cursor moved to %d", ct.OldestTimestamp)
		}
	})
}

// WHAT: a failed page keeps the cursor and re-enables the button.
func TestLoad_FailureIsRetryable(t *testing.T) {
	src := &pages{
		errs:  []error{errors.New("offline")},
		resps: []feed.UpdatesResponse{{}, {Updates: []feed.Update{entry("u1", 100)}}},
	}
	doc, c, ct := setup(t, src)

	if err := c.Load(context.Background(), ct); err == nil {
		t.Fatal("expected error")
	}
	doc.Do(func() {
		if !ct.HasMore || ct.LoadingMore || ct.OldestTimestamp != 300 {
			t.Fatalf("state after failure = %+v", ct)
		}
		if page.HasAttr(ct.LoadMore, "disabled") || page.Text(ct.LoadMore) != "Load more" {
			t.Fatal("button not re-enabled")
		}
	})

	if err := c.Load(context.Background(), ct); err != nil {
		t.Fatal(err)
	}
	if got := ids(doc, ct); len(got) != 2 {
		t.Fatalf("retry did not insert: %v", got)
	}
}

func TestLoad_GuardedWhileInFlight(t *testing.T) {
	src := &pages{}
	_, c, ct := setup(t, src)
	ct.LoadingMore = true
	if err := c.Load(context.Background(), ct); err != nil {
		t.Fatal(err)
	}
	if len(src.queries) != 0 {
		t.Fatal("request issued while another load was in flight")
	}
}

func TestLoad_SkipsEntriesAlreadyPresent(t *testing.T) {
	src := &pages{resps: []feed.UpdatesResponse{{Updates: []feed.Update{entry("u3", 300), entry("u2", 200)}, HasMore: true}}}
	doc, c, ct := setup(t, src)
	if err := c.Load(context.Background(), ct); err != nil {
		t.Fatal(err)
	}
	if got := ids(doc, ct); len(got) != 2 {
		t.Fatalf("ids = %v, want [u3 u2]", got)
	}
}

// WHAT: every entry a page inserts gets an embed event.
// WHY: embed handlers and the CLI printer only see entries through it.
func TestLoad_TriggersEmbedsForInsertedEntries(t *testing.T) {
	src := &pages{resps: []feed.UpdatesResponse{{Updates: []feed.Update{entry("u3", 300), entry("u2", 200), entry("u1", 100)}, HasMore: true}}}
	doc, c, ct := setup(t, src)
	var got []string
	doc.AddEventListener(entrydom.EmbedEvent, func(ev page.Event) {
		v, _ := page.Attr(ev.Target, "data-update-id")
		got = append(got, v)
	})

	if err := c.Load(context.Background(), ct); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "u2" || got[1] != "u1" {
		t.Fatalf("embed targets = %v, want [u2 u1]", got)
	}
}
