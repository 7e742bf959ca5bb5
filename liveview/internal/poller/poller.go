// Package poller runs the per-container update loop: fetch the increment
// since the container's cursor, reconcile it into the page, then schedule
// the next poll with an interval that adapts to failures and tab visibility.
//
// Every container has at most one armed timer. A poll reads and writes
// state on the main thread and fetches outside it; completions older than
// the last applied one are dropped, and the cursor never moves backward.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/liveview/internal/banner"
	"github.com/hazyhaar/liveblog/liveview/internal/entrydom"
	"github.com/hazyhaar/liveblog/liveview/internal/loadmore"
	"github.com/hazyhaar/liveblog/liveview/internal/markup"
	"github.com/hazyhaar/liveblog/liveview/internal/sched"
	"github.com/hazyhaar/liveblog/liveview/internal/state"
	"github.com/hazyhaar/liveblog/liveview/internal/viewstate"
	"github.com/hazyhaar/liveblog/page"
)

// Defaults for Config zero values.
const (
	DefaultInterval        = 10 * time.Second
	DefaultInactive        = 10 * time.Second
	DefaultMinBackoff      = 5 * time.Second
	DefaultMaxBackoff      = 20 * time.Second
	DefaultScrollThreshold = 200
	DefaultInitialPageSize = 5
	DefaultPageSize        = 50
)

// Config wires an Engine.
type Config struct {
	Doc      *page.Document
	View     *viewstate.Store
	Banner   *banner.Banner
	Builder  *entrydom.Builder
	LoadMore *loadmore.Controller
	Clock    sched.Clock

	DefaultInterval  time.Duration
	InactiveInterval time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	ScrollThreshold  int
	InitialPageSize  int
	PageSize         int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = DefaultInterval
	}
	if c.InactiveInterval <= 0 {
		c.InactiveInterval = DefaultInactive
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	if c.ScrollThreshold <= 0 {
		c.ScrollThreshold = DefaultScrollThreshold
	}
	if c.InitialPageSize <= 0 {
		c.InitialPageSize = DefaultInitialPageSize
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine polls containers.
type Engine struct {
	cfg Config
}

// New returns an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// NextBackoff returns the delay after one more consecutive failure: min on
// the first failure, then doubling, capped at max.
func NextBackoff(cur, min, max time.Duration) time.Duration {
	if cur <= 0 {
		return min
	}
	if next := cur * 2; next < max {
		return next
	}
	return max
}

// Poll fetches one increment for ct, applies it and schedules the next
// poll. Failures only grow the backoff. Must not be called inside Do.
func (e *Engine) Poll(ctx context.Context, ct *state.Container) {
	doc := e.cfg.Doc
	var (
		q           feed.Query
		seq         uint64
		initialSync bool
	)
	doc.Do(func() {
		initialSync = ct.LastModified == 0
		perPage := e.cfg.PageSize
		if initialSync {
			perPage = e.cfg.InitialPageSize
		}
		q = feed.Query{Since: ct.LastModified, PerPage: perPage}
		ct.IssuedSeq++
		seq = ct.IssuedSeq
	})

	var (
		resp feed.UpdatesResponse
		err  error
	)
	if ct.Source == nil {
		err = errNoSource
	} else {
		resp, err = ct.Source.Updates(ctx, q)
	}

	doc.Do(func() {
		ct.Polls++
		if seq <= ct.AppliedSeq {
			e.cfg.Logger.Debug("poller: stale completion dropped", "container", ct.ID, "seq", seq, "applied", ct.AppliedSeq)
			if ct.Timer == nil {
				e.ScheduleNext(ctx, ct)
			}
			return
		}
		defer e.ScheduleNext(ctx, ct)

		if err != nil {
			ct.Backoff = NextBackoff(ct.Backoff, e.cfg.MinBackoff, e.cfg.MaxBackoff)
			e.cfg.Logger.Warn("poller: fetch failed", "container", ct.ID, "since", q.Since, "backoff", ct.Backoff, "error", err)
			return
		}
		ct.AppliedSeq = seq
		e.apply(ct, resp, initialSync)
	})
}

var errNoSource = errors.New("poller: container has no source")

func (e *Engine) apply(ct *state.Container, resp feed.UpdatesResponse, initialSync bool) {
	ct.Backoff = 0
	if resp.LastModified > ct.LastModified {
		ct.LastModified = resp.LastModified
	}

	switch {
	case initialSync && len(resp.Updates) > 0:
		e.populate(ct, resp)
	case initialSync:
		ct.Initialized = true
	case len(resp.Updates) > 0:
		for _, u := range resp.Updates {
			e.reconcile(ct, u)
		}
	}
}

// populate replaces the container content with the first page.
func (e *Engine) populate(ct *state.Container, resp feed.UpdatesResponse) {
	var (
		built = make([]*html.Node, 0, len(resp.Updates))
		seen  = make(map[string]bool, len(resp.Updates))
		minTS int64
	)
	for _, u := range resp.Updates {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		el := e.cfg.Builder.Build(u)
		if el == nil {
			continue
		}
		built = append(built, el)
		if u.Timestamp > 0 && (minTS == 0 || u.Timestamp < minTS) {
			minTS = u.Timestamp
		}
	}

	page.ReplaceChildren(ct.Node, built...)
	ct.Initialized = true
	ct.OldestTimestamp = minTS
	ct.HasMore = resp.HasMore
	if ct.HasMore && e.cfg.LoadMore != nil {
		page.Append(ct.Node, e.cfg.LoadMore.Button(ct))
	}
	e.cfg.Builder.TriggerEmbeds(ct.Node)
	e.cfg.Logger.Debug("poller: initial sync", "container", ct.ID, "entries", len(built), "oldest", minTS, "has_more", ct.HasMore)
}

// reconcile routes one incremental update.
func (e *Engine) reconcile(ct *state.Container, u feed.Update) {
	switch u.ChangeType {
	case feed.ChangeModified:
		if u.ID != "" {
			e.cfg.Builder.Apply(ct.Node, u)
		}
	case feed.ChangeNew:
		if entrydom.Find(ct.Node, u.ID) != nil {
			return
		}
		doc := e.cfg.Doc
		if markup.IsAtTop(doc, e.cfg.ScrollThreshold) {
			e.cfg.Builder.Insert(ct.Node, e.cfg.Builder.Build(u))
			if markup.IsTabVisible(doc) {
				e.cfg.View.SetUnread(0)
			} else {
				e.cfg.View.IncrementUnread()
			}
			return
		}
		if !ct.Enqueue(u) {
			return
		}
		e.cfg.View.IncrementUnread()
		e.cfg.Banner.Update()
	}
}

// Interval is the delay before ct's next poll. Main thread only.
func (e *Engine) Interval(ct *state.Container) time.Duration {
	switch {
	case ct.Backoff > 0:
		return ct.Backoff
	case e.cfg.Doc.Hidden():
		return e.cfg.InactiveInterval
	case ct.Config.Interval > 0:
		return ct.Config.Interval
	}
	return e.cfg.DefaultInterval
}

// ScheduleNext cancels ct's pending timer and arms a new one. Nothing is
// armed once ctx is done. Main thread only.
func (e *Engine) ScheduleNext(ctx context.Context, ct *state.Container) {
	if ct.Timer != nil {
		ct.Timer.Stop()
		ct.Timer = nil
	}
	if ctx.Err() != nil {
		return
	}
	delay := e.Interval(ct)
	var t sched.Timer
	t = e.cfg.Clock.AfterFunc(delay, func() {
		run := false
		e.cfg.Doc.Do(func() {
			if ct.Timer == t {
				ct.Timer = nil
				run = true
			}
		})
		if run {
			e.Poll(ctx, ct)
		}
	})
	ct.Timer = t
	e.cfg.Logger.Debug("poller: next poll scheduled", "container", ct.ID, "delay", delay)
}

// Rearm reschedules ct with a freshly computed interval if it has a pending
// timer. Main thread only.
func (e *Engine) Rearm(ctx context.Context, ct *state.Container) {
	if ct.Timer == nil {
		return
	}
	e.ScheduleNext(ctx, ct)
}
