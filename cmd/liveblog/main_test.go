package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/liveblog/feedserver"
	"github.com/hazyhaar/liveblog/page"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newFeedServer(t *testing.T, editor bool) *feedserver.Server {
	t.Helper()
	s, err := feedserver.New(&feedserver.Config{DBPath: ":memory:", Editor: editor}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const livePage = `<!DOCTYPE html><html><head><title>Cup final</title></head>
<body class="single postid-%d">
<div class="liveblog-container" data-rest-url="/wp-json/liveblog/v1/posts/%d/updates"></div>
</body></html>`

func TestFollowOnce(t *testing.T) {
	s := newFeedServer(t, false)
	ctx := context.Background()
	p, err := s.CreatePost(ctx, "Cup final")
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range []feedserver.EntryInput{
		{Body: "Kick-off", Author: "Sam"},
		{Body: "**Goal!**", Author: "Sam"},
	} {
		if _, err := s.AppendEntry(ctx, p.ID, in); err != nil {
			t.Fatal(err)
		}
	}

	r := chi.NewRouter()
	r.Route("/wp-json", s.Routes)
	r.Get("/match", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, livePage, p.ID, p.ID)
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	out, err := run(t, "follow", "--once", ts.URL+"/match")
	if err != nil {
		t.Fatalf("follow: %v\n%s", err, out)
	}
	kick, goal := strings.Index(out, "Kick-off"), strings.Index(out, "**Goal!**")
	if kick < 0 || goal < 0 || kick > goal {
		t.Fatalf("want both entries oldest first, got:\n%s", out)
	}
	if !strings.Contains(out, "Sam") {
		t.Errorf("author missing:\n%s", out)
	}
}

func TestFollow_NoContainer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body><p>nothing live here</p></body></html>")
	}))
	defer ts.Close()

	if _, err := run(t, "follow", "--once", ts.URL); err == nil {
		t.Fatal("expected an error for a page without containers")
	}
}

func TestPrinter_EditedEntry(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, "https://news.example")
	doc, err := page.ParseString(`<div class="liveblog-entry" data-update-id="a" data-timestamp="1772399100">
<div class="liveblog-entry__header"><span class="liveblog-entry__authors"><span class="liveblog-entry__author">Ada</span><span class="liveblog-entry__author">Lin</span></span></div>
<div class="liveblog-entry__content"><p>See <a href="/scores">scores</a></p></div></div>`)
	if err != nil {
		t.Fatal(err)
	}
	entry := page.Query(doc.Root(), "[data-update-id]")
	p.handle(entry)
	p.handle(entry)

	out := buf.String()
	if !strings.Contains(out, "Ada, Lin") {
		t.Errorf("authors missing:\n%s", out)
	}
	if !strings.Contains(out, "[scores](https://news.example/scores)") {
		t.Errorf("link not resolved:\n%s", out)
	}
	if strings.Count(out, "edited") != 1 {
		t.Errorf("second print should be marked edited once:\n%s", out)
	}
}

func TestRouter(t *testing.T) {
	s := newFeedServer(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newRouter(ctx, s, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/wp-json/liveblog/v1/posts/9/updates", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "rest_post_invalid_id") {
		t.Fatalf("unknown post = %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Content-Type-Options") == "" {
		t.Error("shield headers missing")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/wp-json/liveblog/v1/posts", strings.NewReader(`{"title":"Final"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create post = %d %s", rec.Code, rec.Body)
	}
}

func TestAppend_Local(t *testing.T) {
	out, err := run(t, "append", "--db", ":memory:", "--new-post", "Final", "--author", "Sam", "Teams", "are", "out")
	if err != nil {
		t.Fatalf("append: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"body": "Teams are out"`) {
		t.Errorf("output:\n%s", out)
	}
}

func TestAppend_HTTP(t *testing.T) {
	s := newFeedServer(t, true)
	p, err := s.CreatePost(context.Background(), "Final")
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Route("/wp-json", func(r chi.Router) {
		s.Routes(r)
		s.EditorRoutes(r)
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	out, err := run(t, "append", "--server", ts.URL, "--post", fmt.Sprint(p.ID), "--id", "e-1", "Half time")
	if err != nil {
		t.Fatalf("append: %v\n%s", err, out)
	}
	var e feedserver.Entry
	if err := json.Unmarshal([]byte(out), &e); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if e.UpdateID != "e-1" || e.PostID != p.ID {
		t.Errorf("entry = %+v", e)
	}

	if _, err := run(t, "append", "--server", ts.URL, "--post", "999", "x"); err == nil {
		t.Error("expected error for unknown post")
	}
}
