package liveview

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/liveview/internal/sched"
	"github.com/hazyhaar/liveblog/page"
)

// fakeFeed answers polls in order; once exhausted it returns empty pages.
type fakeFeed struct {
	mu      sync.Mutex
	pages   []feed.UpdatesResponse
	queries []feed.Query
}

func (f *fakeFeed) Updates(_ context.Context, q feed.Query) (feed.UpdatesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.queries)
	f.queries = append(f.queries, q)
	if i < len(f.pages) {
		return f.pages[i], nil
	}
	return feed.UpdatesResponse{Updates: []feed.Update{}}, nil
}

func (f *fakeFeed) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func entry(id string, ts int64, ct feed.ChangeType) feed.Update {
	return feed.Update{ID: id, Timestamp: ts, ChangeType: ct, Coauthors: []feed.Coauthor{}}
}

type fixture struct {
	reader  *Reader
	doc     *page.Document
	clock   *sched.Manual
	feeds   map[string]*fakeFeed
	configs []PageConfig
}

func newFixture(t *testing.T, markup string, feeds map[string]*fakeFeed) *fixture {
	t.Helper()
	doc, err := page.ParseString(markup)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{doc: doc, clock: sched.NewManual(time.Unix(1700000000, 0)), feeds: feeds}
	r, err := New(Options{
		Doc:   doc,
		Clock: f.clock,
		NewSource: func(pc PageConfig) (feed.Source, error) {
			f.configs = append(f.configs, pc)
			src, ok := f.feeds[pc.RestURL]
			if !ok {
				return nil, errors.New("no feed for " + pc.RestURL)
			}
			return src, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.reader = r
	t.Cleanup(r.Stop)
	return f
}

const twoContainers = `<html><head><title>Election night</title>
<script id="liveblog-data" type="application/json">{"postId":"42","restUrl":"https://news.example/wp-json/liveblog/v1/posts/42/updates","interval":30000}</script>
</head><body class="single postid-42">
<div class="liveblog-container" id="main"><p>Loading…</p></div>
<div class="liveblog-container" data-rest-url="https://other.example/wp-json" data-post-id="7"></div>
</body></html>`

func TestReadPageConfig(t *testing.T) {
	doc, err := page.ParseString(twoContainers)
	if err != nil {
		t.Fatal(err)
	}
	var (
		pc PageConfig
		ok bool
	)
	doc.Do(func() { pc, ok, err = ReadPageConfig(doc) })
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if pc.PostID != 42 || pc.Interval != 30*time.Second || !strings.HasSuffix(pc.RestURL, "/posts/42/updates") {
		t.Fatalf("page config = %+v", pc)
	}
}

func TestReadPageConfig_BadInterval(t *testing.T) {
	for _, raw := range []string{`0`, `-5`, `"soon"`, `null`} {
		doc, err := page.ParseString(`<html><head><script id="liveblog-data">{"postId":1,"restUrl":"/u","interval":` + raw + `}</script></head><body></body></html>`)
		if err != nil {
			t.Fatal(err)
		}
		var pc PageConfig
		doc.Do(func() { pc, _, err = ReadPageConfig(doc) })
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if pc.Interval != 0 {
			t.Errorf("interval %s parsed as %v, want default", raw, pc.Interval)
		}
	}
}

func TestContainerConfig_Overrides(t *testing.T) {
	doc, err := page.ParseString(twoContainers)
	if err != nil {
		t.Fatal(err)
	}
	base := PageConfig{PostID: 42, RestURL: "https://news.example/wp-json/liveblog/v1/posts/42/updates"}
	doc.Do(func() {
		nodes := page.QueryAll(doc.Root(), ContainerSelector)
		first := containerConfig(doc, nodes[0], base)
		if first != base {
			t.Errorf("first = %+v, want page config", first)
		}
		second := containerConfig(doc, nodes[1], base)
		if second.PostID != 7 || second.RestURL != "https://other.example/wp-json/liveblog/v1/posts/7/updates" {
			t.Errorf("second = %+v", second)
		}
	})
}

func TestContainerConfig_BodyClassPostID(t *testing.T) {
	doc, err := page.ParseString(`<html><body class="page page-id-99"><div class="liveblog-container"></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	doc.Do(func() {
		cfg := containerConfig(doc, page.Query(doc.Root(), ContainerSelector), PageConfig{})
		if cfg.PostID != 99 {
			t.Errorf("post id = %d, want 99", cfg.PostID)
		}
	})
}

// WHAT: Start polls every container with a rest url and arms one timer each.
func TestStart_DiscoversContainers(t *testing.T) {
	main := &fakeFeed{pages: []feed.UpdatesResponse{{
		Updates:      []feed.Update{entry("u3", 300, feed.ChangeNew), entry("u2", 200, feed.ChangeNew), entry("u1", 100, feed.ChangeNew)},
		LastModified: 300,
		HasMore:      true,
	}}}
	other := &fakeFeed{}
	f := newFixture(t, twoContainers, map[string]*fakeFeed{
		"https://news.example/wp-json/liveblog/v1/posts/42/updates": main,
		"https://other.example/wp-json/liveblog/v1/posts/7/updates": other,
	})

	n, err := f.reader.Start(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("started %d, err %v", n, err)
	}
	ids := f.reader.Containers()
	if len(ids) != 2 || ids[0] != "main" {
		t.Fatalf("containers = %v", ids)
	}
	if main.calls() != 1 || other.calls() != 1 {
		t.Fatalf("polls main=%d other=%d", main.calls(), other.calls())
	}

	s, ok := f.reader.Snapshot("main")
	if !ok {
		t.Fatal("no snapshot for main")
	}
	if strings.Join(s.Entries, ",") != "u3,u2,u1" || s.OldestTimestamp != 100 || !s.HasMore || !s.Scheduled {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Config.Interval != 30*time.Second {
		t.Fatalf("interval = %v", s.Config.Interval)
	}
	if f.clock.Pending() != 2 {
		t.Fatalf("pending timers = %d, want 2", f.clock.Pending())
	}
	f.doc.Do(func() {
		second := page.QueryAll(f.doc.Root(), ContainerSelector)[1]
		if v, _ := page.Attr(second, ContainerIDAttr); v == "" || !strings.HasPrefix(v, "lbc-") {
			t.Errorf("generated id = %q", v)
		}
		if v, _ := page.Attr(second, "data-post-id"); v != "7" {
			t.Errorf("data-post-id = %q", v)
		}
	})
}

func TestStart_SkipsContainerWithoutRestURL(t *testing.T) {
	f := newFixture(t, `<html><body><div class="liveblog-container"></div></body></html>`, nil)
	n, err := f.reader.Start(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("started %d, err %v", n, err)
	}
	if len(f.configs) != 0 {
		t.Fatalf("source built for %v", f.configs)
	}
	// Only the frame retry is pending.
	if d, ok := f.clock.NextDelay(); !ok || d != frameDelay {
		t.Fatalf("next delay = %v %v", d, ok)
	}
}

// WHAT: a container rendered after Start is picked up by the frame retry.
func TestStart_FrameRetry(t *testing.T) {
	src := &fakeFeed{}
	f := newFixture(t, `<html><head><title>t</title></head><body></body></html>`, map[string]*fakeFeed{"https://x.example/u": src})
	if n, _ := f.reader.Start(context.Background()); n != 0 {
		t.Fatalf("started %d", n)
	}
	f.doc.Do(func() {
		page.Append(f.doc.Body(), page.Element("div", "class", "liveblog-container", "data-rest-url", "https://x.example/u"))
	})
	f.clock.Advance(frameDelay)
	if got := len(f.reader.Containers()); got != 1 {
		t.Fatalf("containers after retry = %d", got)
	}
	if src.calls() != 1 {
		t.Fatalf("polls = %d", src.calls())
	}
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t, `<html><body></body></html>`, nil)
	if _, err := f.reader.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reader.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

// WHAT: hiding the tab re-arms pending timers with the inactive interval.
func TestVisibilityRearm(t *testing.T) {
	src := &fakeFeed{}
	f := newFixture(t, twoContainers, map[string]*fakeFeed{
		"https://news.example/wp-json/liveblog/v1/posts/42/updates": src,
		"https://other.example/wp-json/liveblog/v1/posts/7/updates": {},
	})
	if _, err := f.reader.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d, _ := f.clock.NextDelay(); d != 30*time.Second {
		t.Fatalf("visible delay = %v, want 30s", d)
	}
	f.doc.SetHidden(true)
	if got := f.clock.Pending(); got != 2 {
		t.Fatalf("pending after rearm = %d, want 2", got)
	}
	for _, d := range f.clock.Delays() {
		if d != 10*time.Second {
			t.Fatalf("hidden delays = %v", f.clock.Delays())
		}
	}
	f.doc.SetHidden(false)
	if d, _ := f.clock.NextDelay(); d != 30*time.Second {
		t.Fatalf("visible again delay = %v", d)
	}
}

// WHAT: scrolled-away updates queue behind the banner until ShowUpdates.
func TestReader_QueueAndShowUpdates(t *testing.T) {
	src := &fakeFeed{pages: []feed.UpdatesResponse{
		{Updates: []feed.Update{entry("u1", 100, feed.ChangeNew)}, LastModified: 100},
		{Updates: []feed.Update{entry("u2", 200, feed.ChangeNew)}, LastModified: 200},
	}}
	f := newFixture(t, `<html><head><title>Match</title></head><body><div class="liveblog-container" id="c" data-rest-url="https://x.example/u"></div></body></html>`,
		map[string]*fakeFeed{"https://x.example/u": src})
	if _, err := f.reader.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.doc.ScrollTo(500)
	f.clock.Advance(10 * time.Second)

	s, _ := f.reader.Snapshot("c")
	if strings.Join(s.Queued, ",") != "u2" || strings.Join(s.Entries, ",") != "u1" {
		t.Fatalf("snapshot = %+v", s)
	}
	if f.reader.Unread() != 1 {
		t.Fatalf("unread = %d", f.reader.Unread())
	}
	if visible, text := f.reader.Banner(); !visible || text != "1 new update available" {
		t.Fatalf("banner = %v %q", visible, text)
	}
	var title string
	f.doc.Do(func() { title = f.doc.Title() })
	if title != "(1) Match" {
		t.Fatalf("title = %q", title)
	}

	f.reader.ShowUpdates()
	s, _ = f.reader.Snapshot("c")
	if len(s.Queued) != 0 || strings.Join(s.Entries, ",") != "u2,u1" {
		t.Fatalf("after show = %+v", s)
	}
	if f.reader.Unread() != 0 || f.doc.ScrollY() != 0 {
		t.Fatalf("unread=%d scroll=%d", f.reader.Unread(), f.doc.ScrollY())
	}
	if visible, _ := f.reader.Banner(); visible {
		t.Fatal("banner still visible")
	}
}

func TestReader_DismissKeepsQueue(t *testing.T) {
	src := &fakeFeed{pages: []feed.UpdatesResponse{
		{Updates: []feed.Update{entry("u1", 100, feed.ChangeNew)}, LastModified: 100},
		{Updates: []feed.Update{entry("u2", 200, feed.ChangeNew)}, LastModified: 200},
	}}
	f := newFixture(t, `<html><body><div class="liveblog-container" id="c" data-rest-url="https://x.example/u"></div></body></html>`,
		map[string]*fakeFeed{"https://x.example/u": src})
	f.reader.Start(context.Background())
	f.doc.ScrollTo(500)
	f.clock.Advance(10 * time.Second)

	f.reader.DismissBanner()
	if visible, _ := f.reader.Banner(); visible {
		t.Fatal("banner visible after dismiss")
	}
	if s, _ := f.reader.Snapshot("c"); len(s.Queued) != 1 {
		t.Fatalf("queue = %v", s.Queued)
	}
}

func TestReader_LoadMore(t *testing.T) {
	src := &fakeFeed{pages: []feed.UpdatesResponse{
		{Updates: []feed.Update{entry("u3", 300, feed.ChangeNew)}, LastModified: 300, HasMore: true},
		{Updates: []feed.Update{entry("u2", 200, feed.ChangeNew), entry("u1", 100, feed.ChangeNew)}, HasMore: false},
	}}
	f := newFixture(t, `<html><body><div class="liveblog-container" id="c" data-rest-url="https://x.example/u"></div></body></html>`,
		map[string]*fakeFeed{"https://x.example/u": src})
	f.reader.Start(context.Background())

	if err := f.reader.LoadMore(context.Background(), "nope"); !errors.Is(err, ErrUnknownContainer) {
		t.Fatalf("unknown id err = %v", err)
	}
	if err := f.reader.LoadMore(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	if q := src.queries[1]; q.Before != 300 || q.PerPage != 5 {
		t.Fatalf("load-more query = %+v", q)
	}
	s, _ := f.reader.Snapshot("c")
	if strings.Join(s.Entries, ",") != "u3,u2,u1" || s.HasMore || s.OldestTimestamp != 100 {
		t.Fatalf("snapshot = %+v", s)
	}
	// Exhausted: no further request.
	if err := f.reader.LoadMore(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	if src.calls() != 2 {
		t.Fatalf("calls = %d", src.calls())
	}
}

func TestReader_Stop(t *testing.T) {
	src := &fakeFeed{}
	f := newFixture(t, `<html><body><div class="liveblog-container" data-rest-url="https://x.example/u"></div></body></html>`,
		map[string]*fakeFeed{"https://x.example/u": src})
	f.reader.Start(context.Background())
	f.reader.Stop()
	if f.clock.Pending() != 0 {
		t.Fatalf("pending after stop = %d", f.clock.Pending())
	}
	f.clock.Advance(time.Minute)
	if src.calls() != 1 {
		t.Fatalf("polls after stop = %d", src.calls())
	}
}

func TestNew_HostSanitizer(t *testing.T) {
	doc, _ := page.ParseString(`<html><body><div class="liveblog-container" id="c" data-rest-url="https://x.example/u"></div></body></html>`)
	src := &fakeFeed{pages: []feed.UpdatesResponse{{
		Updates:      []feed.Update{{ID: "u1", Timestamp: 1, ChangeType: feed.ChangeNew, Content: `<div class="liveblog-entry" data-update-id="u1">raw</div>`}},
		LastModified: 1,
	}}}
	called := 0
	r, err := New(Options{
		Doc:       doc,
		Clock:     sched.NewManual(time.Unix(0, 0)),
		Sanitizer: func(s string) string { called++; return strings.Replace(s, "raw", "clean", 1) },
		NewSource: func(PageConfig) (feed.Source, error) { return src, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	r.Start(context.Background())
	if called != 1 {
		t.Fatalf("host sanitizer calls = %d", called)
	}
	doc.Do(func() {
		if txt := page.Text(page.Query(doc.Root(), "#c")); !strings.Contains(txt, "clean") {
			t.Fatalf("content = %q", txt)
		}
	})
}

func TestNew_BadTimezone(t *testing.T) {
	doc := page.New("t")
	if _, err := New(Options{Doc: doc, Config: Config{Timezone: "Nowhere/Atlantis"}}); err == nil {
		t.Fatal("expected timezone error")
	}
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected nil document error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reader.yaml")
	data := "default_interval: 15s\nmax_backoff: 1m\npage_size: 20\ntimezone: Europe/Paris\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultInterval != 15*time.Second || cfg.MaxBackoff != time.Minute || cfg.PageSize != 20 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MinBackoff != 5*time.Second || cfg.ScrollThreshold != 200 || cfg.LoadMorePageSize != 5 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
