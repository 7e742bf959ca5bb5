// Package liveview keeps a liveblog page current. A Reader discovers the
// page's liveblog containers, polls each one's update feed and patches new
// and edited entries into the document, holding back new entries behind a
// notification banner while the reader is scrolled away from the top.
package liveview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/idgen"
	"github.com/hazyhaar/liveblog/liveview/internal/banner"
	"github.com/hazyhaar/liveblog/liveview/internal/entrydom"
	"github.com/hazyhaar/liveblog/liveview/internal/loadmore"
	"github.com/hazyhaar/liveblog/liveview/internal/poller"
	"github.com/hazyhaar/liveblog/liveview/internal/sanitize"
	"github.com/hazyhaar/liveblog/liveview/internal/sched"
	"github.com/hazyhaar/liveblog/liveview/internal/state"
	"github.com/hazyhaar/liveblog/liveview/internal/viewstate"
	"github.com/hazyhaar/liveblog/page"
)

const (
	// ContainerSelector finds the elements a Reader drives.
	ContainerSelector = ".liveblog-container"
	// ContainerIDAttr carries the stable container id.
	ContainerIDAttr = "data-liveblog-container"
	// EmbedEvent is dispatched with the patched node after every insert or
	// replace so embed handlers can process the new markup.
	EmbedEvent = entrydom.EmbedEvent

	frameDelay = 16 * time.Millisecond
)

// ErrUnknownContainer is returned for ids the Reader never started.
var ErrUnknownContainer = errors.New("liveview: unknown container")

// Options wires a Reader. Only Doc is required.
type Options struct {
	Doc    *page.Document
	Config Config
	// Page is the fallback page configuration, used where neither the data
	// script nor the container attributes say otherwise.
	Page PageConfig
	// BaseURL resolves relative rest URLs for the default source.
	BaseURL string

	// Sanitizer, when set, replaces the bundled bluemonday policy.
	Sanitizer     func(string) string
	SanitizerName string

	// NewSource builds a container's feed. Default: a feed.Client on the
	// container's rest URL.
	NewSource func(PageConfig) (feed.Source, error)

	Clock  sched.Clock
	Logger *slog.Logger
	// IDs names containers that carry no id of their own.
	IDs idgen.Generator
}

// Reader is the per-page context: it owns the container registry, the view
// state and the banner, and drives one poll loop per container.
type Reader struct {
	opts   Options
	doc    *page.Document
	logger *slog.Logger
	clock  sched.Clock

	registry *state.Registry
	view     *viewstate.Store
	builder  *entrydom.Builder
	banner   *banner.Banner
	loadMore *loadmore.Controller
	engine   *poller.Engine

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New wires a Reader over opts.Doc. Nothing is polled until Start.
func New(opts Options) (*Reader, error) {
	if opts.Doc == nil {
		return nil, errors.New("liveview: nil document")
	}
	opts.Config.defaults()
	loc, err := opts.Config.location()
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = sched.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Prefixed("lbc-", idgen.NanoID(8))
	}

	var host sanitize.Sanitizer
	if opts.Sanitizer != nil {
		name := opts.SanitizerName
		if name == "" {
			name = "host"
		}
		host = sanitize.Host(name, opts.Sanitizer)
	}
	san := sanitize.Select(host)

	r := &Reader{
		opts:     opts,
		doc:      opts.Doc,
		logger:   opts.Logger,
		clock:    opts.Clock,
		registry: state.NewRegistry(),
		view:     viewstate.New(opts.Doc),
	}
	if r.opts.NewSource == nil {
		r.opts.NewSource = r.httpSource
	}
	cfg := opts.Config
	r.builder = entrydom.New(r.doc, san, r.clock, entrydom.Options{
		EnterDuration: cfg.EnterAnimation,
		Location:      loc,
	})
	r.banner = banner.New(banner.Config{
		Doc:         r.doc,
		Registry:    r.registry,
		View:        r.view,
		Builder:     r.builder,
		Clock:       r.clock,
		AutoDismiss: cfg.BannerAutoDismiss,
		Logger:      r.logger,
	})
	r.loadMore = loadmore.New(loadmore.Config{
		Doc:      r.doc,
		Builder:  r.builder,
		PageSize: cfg.LoadMorePageSize,
		Logger:   r.logger,
	})
	r.engine = poller.New(poller.Config{
		Doc:              r.doc,
		View:             r.view,
		Banner:           r.banner,
		Builder:          r.builder,
		LoadMore:         r.loadMore,
		Clock:            r.clock,
		DefaultInterval:  cfg.DefaultInterval,
		InactiveInterval: cfg.InactiveInterval,
		MinBackoff:       cfg.MinBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		ScrollThreshold:  cfg.ScrollThreshold,
		InitialPageSize:  cfg.InitialPageSize,
		PageSize:         cfg.PageSize,
		Logger:           r.logger,
	})
	r.logger.Debug("liveview: reader ready", "sanitizer", san.Name())
	return r, nil
}

func (r *Reader) httpSource(pc PageConfig) (feed.Source, error) {
	endpoint := pc.RestURL
	if r.opts.BaseURL != "" {
		base, err := url.Parse(r.opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("liveview: base url: %w", err)
		}
		ref, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("liveview: rest url: %w", err)
		}
		endpoint = base.ResolveReference(ref).String()
	}
	return feed.NewClient(feed.ClientConfig{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: r.opts.Config.HTTPTimeout},
	})
}

// Start discovers the page's containers and runs their first poll, which
// also arms each poll loop. It returns once every first poll completed.
// When no container could be started it tries once more a frame later.
func (r *Reader) Start(ctx context.Context) (int, error) {
	if r.started {
		return 0, errors.New("liveview: reader already started")
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.loadMore.Bind(r.ctx)
	r.doc.OnVisibilityChange(r.onVisibility)

	n := r.startContainers()
	if n == 0 {
		r.logger.Debug("liveview: no container started, retrying next frame")
		r.clock.AfterFunc(frameDelay, func() {
			if r.ctx.Err() == nil {
				r.startContainers()
			}
		})
	}
	return n, nil
}

// startContainers registers every unregistered container with a rest URL
// and waits for their first polls.
func (r *Reader) startContainers() int {
	var fresh []*state.Container
	r.doc.Do(func() {
		base := r.opts.Page
		if pc, ok, err := ReadPageConfig(r.doc); err != nil {
			r.logger.Warn("liveview: ignoring page config", "error", err)
		} else if ok {
			base = mergePageConfig(base, pc)
		}
		for _, n := range page.QueryAll(r.doc.Root(), ContainerSelector) {
			if _, known := r.registry.Lookup(n); known {
				continue
			}
			if ct := r.register(n, base); ct != nil {
				fresh = append(fresh, ct)
			}
		}
	})

	var g errgroup.Group
	for _, ct := range fresh {
		g.Go(func() error {
			r.engine.Poll(r.ctx, ct)
			return nil
		})
	}
	_ = g.Wait()
	if len(fresh) > 0 {
		r.logger.Info("liveview: containers started", "count", len(fresh))
	}
	return len(fresh)
}

// register builds and records the state for container n. Main thread only.
func (r *Reader) register(n *html.Node, base PageConfig) *state.Container {
	cfg := containerConfig(r.doc, n, base)
	if cfg.RestURL == "" {
		r.logger.Debug("liveview: container without rest url skipped")
		return nil
	}
	src, err := r.opts.NewSource(cfg)
	if err != nil {
		r.logger.Warn("liveview: container skipped", "rest_url", cfg.RestURL, "error", err)
		return nil
	}

	id := r.containerID(n)
	page.SetAttr(n, ContainerIDAttr, id)
	if cfg.PostID > 0 {
		page.SetAttr(n, "data-post-id", fmt.Sprint(cfg.PostID))
	}
	page.SetAttr(n, "data-rest-url", cfg.RestURL)

	ct := &state.Container{ID: id, Node: n, Config: cfg, Source: src}
	r.registry.Add(ct)
	return ct
}

func (r *Reader) containerID(n *html.Node) string {
	for _, key := range []string{ContainerIDAttr, "id"} {
		if v, ok := page.Attr(n, key); ok && v != "" {
			if _, taken := r.registry.Get(v); !taken {
				return v
			}
		}
	}
	for {
		id := r.opts.IDs()
		if _, taken := r.registry.Get(id); !taken {
			return id
		}
	}
}

func mergePageConfig(base, over PageConfig) PageConfig {
	if over.PostID > 0 {
		base.PostID = over.PostID
	}
	if over.RestURL != "" {
		base.RestURL = over.RestURL
	}
	if over.Interval > 0 {
		base.Interval = over.Interval
	}
	return base
}

func (r *Reader) onVisibility(hidden bool) {
	if r.ctx == nil || r.ctx.Err() != nil {
		return
	}
	r.doc.Do(func() {
		for _, ct := range r.registry.All() {
			r.engine.Rearm(r.ctx, ct)
		}
	})
	r.logger.Debug("liveview: visibility changed", "hidden", hidden)
}

// Stop ends every poll loop. In-flight fetches finish but schedule nothing.
func (r *Reader) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.doc.Do(func() {
		for _, ct := range r.registry.All() {
			if ct.Timer != nil {
				ct.Timer.Stop()
				ct.Timer = nil
			}
		}
		r.banner.Hide()
	})
}

// Document returns the page the Reader patches.
func (r *Reader) Document() *page.Document { return r.doc }

// ShowUpdates flushes every queued entry into the page, as the banner's
// "Show Updates" button does.
func (r *Reader) ShowUpdates() { r.doc.Do(r.banner.ShowUpdates) }

// DismissBanner hides the banner and keeps the queue.
func (r *Reader) DismissBanner() { r.doc.Do(r.banner.Dismiss) }

// Banner reports whether the banner is visible and its message.
func (r *Reader) Banner() (visible bool, text string) {
	r.doc.Do(func() {
		visible = r.banner.Visible()
		text = r.banner.Text()
	})
	return visible, text
}

// LoadMore fetches the next older page for container id.
func (r *Reader) LoadMore(ctx context.Context, id string) error {
	var (
		ct *state.Container
		ok bool
	)
	r.doc.Do(func() { ct, ok = r.registry.Get(id) })
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownContainer, id)
	}
	return r.loadMore.Load(ctx, ct)
}

// Unread returns the unread counter.
func (r *Reader) Unread() (n int) {
	r.doc.Do(func() { n = r.view.Unread() })
	return n
}

// Containers returns the started container ids in discovery order.
func (r *Reader) Containers() (ids []string) {
	r.doc.Do(func() {
		for _, ct := range r.registry.All() {
			ids = append(ids, ct.ID)
		}
	})
	return ids
}

// Snapshot is a copy of one container's state.
type Snapshot struct {
	ID              string
	Config          PageConfig
	LastModified    int64
	Backoff         time.Duration
	Queued          []string
	OldestTimestamp int64
	HasMore         bool
	LoadingMore     bool
	Initialized     bool
	Scheduled       bool
	Polls           uint64
	// Entries lists data-update-id values top to bottom.
	Entries []string
}

// Snapshot copies container id's state.
func (r *Reader) Snapshot(id string) (s Snapshot, ok bool) {
	r.doc.Do(func() {
		var ct *state.Container
		if ct, ok = r.registry.Get(id); !ok {
			return
		}
		s = Snapshot{
			ID:              ct.ID,
			Config:          ct.Config,
			LastModified:    ct.LastModified,
			Backoff:         ct.Backoff,
			OldestTimestamp: ct.OldestTimestamp,
			HasMore:         ct.HasMore,
			LoadingMore:     ct.LoadingMore,
			Initialized:     ct.Initialized,
			Scheduled:       ct.Timer != nil,
			Polls:           ct.Polls,
		}
		for _, u := range ct.QueuedNew {
			s.Queued = append(s.Queued, u.ID)
		}
		for c := ct.Node.FirstChild; c != nil; c = c.NextSibling {
			if v, has := page.Attr(c, "data-update-id"); has {
				s.Entries = append(s.Entries, v)
			}
		}
	})
	return s, ok
}
