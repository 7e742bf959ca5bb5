// Package loadmore paginates older entries into a container through a
// lazily created "Load more" button.
package loadmore

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/liveview/internal/entrydom"
	"github.com/hazyhaar/liveblog/liveview/internal/state"
	"github.com/hazyhaar/liveblog/page"
)

const (
	ButtonClass = "liveblog-load-more"

	labelIdle    = "Load more"
	labelLoading = "Loading…"

	defaultPageSize = 5
)

// Config wires a Controller.
type Config struct {
	Doc      *page.Document
	Builder  *entrydom.Builder
	PageSize int
	Logger   *slog.Logger
}

// Controller owns the load-more flow of every container.
type Controller struct {
	cfg Config
	ctx context.Context
}

// New returns a Controller. Clicks use context.Background until Bind.
func New(cfg Config) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{cfg: cfg, ctx: context.Background()}
}

// Bind sets the context used by button clicks.
func (c *Controller) Bind(ctx context.Context) { c.ctx = ctx }

// Button returns the container's load-more button, creating it (or adopting
// one already in the markup) on first call. The caller attaches it.
// Main thread only.
func (c *Controller) Button(ct *state.Container) *html.Node {
	if ct.LoadMore != nil {
		return ct.LoadMore
	}
	btn := page.Query(ct.Node, "."+ButtonClass)
	if btn == nil {
		btn = page.Element("button", "type", "button", "class", ButtonClass)
		page.SetText(btn, labelIdle)
	}
	ct.LoadMore = btn
	c.cfg.Doc.OnClick(btn, func() {
		if err := c.Load(c.ctx, ct); err != nil {
			c.cfg.Logger.Warn("loadmore: page failed", "container", ct.ID, "error", err)
		}
	})
	return btn
}

// Load fetches the page of entries older than ct.OldestTimestamp and puts
// them above the button. It returns nil without fetching while another
// load is in flight or when nothing more exists. A fetch failure leaves the
// button enabled for a retry. Must not be called inside Do.
func (c *Controller) Load(ctx context.Context, ct *state.Container) error {
	doc := c.cfg.Doc
	var (
		btn     *html.Node
		q       feed.Query
		proceed bool
	)
	doc.Do(func() {
		if ct.LoadingMore || !ct.HasMore || ct.Source == nil {
			return
		}
		btn = c.Button(ct)
		ct.LoadingMore = true
		page.SetAttr(btn, "disabled", "")
		page.SetText(btn, labelLoading)
		q = feed.Query{Before: ct.OldestTimestamp, PerPage: c.cfg.PageSize}
		proceed = true
	})
	if !proceed {
		return nil
	}

	resp, err := ct.Source.Updates(ctx, q)

	doc.Do(func() {
		defer func() {
			ct.LoadingMore = false
			if btn.Parent != nil {
				page.SetText(btn, labelIdle)
				page.RemoveAttr(btn, "disabled")
			}
		}()
		if err != nil {
			ct.HasMore = true
			return
		}
		c.apply(ct, btn, resp)
	})
	if err != nil {
		return fmt.Errorf("loadmore: fetch before %d: %w", q.Before, err)
	}
	return nil
}

func (c *Controller) apply(ct *state.Container, btn *html.Node, resp feed.UpdatesResponse) {
	if len(resp.Updates) == 0 {
		ct.HasMore = false
		page.Detach(btn)
		return
	}

	minTS := ct.OldestTimestamp
	for _, u := range resp.Updates {
		if u.Timestamp > 0 && (minTS == 0 || u.Timestamp < minTS) {
			minTS = u.Timestamp
		}
		if entrydom.Find(ct.Node, u.ID) != nil {
			continue
		}
		el := c.cfg.Builder.Build(u)
		if el == nil {
			continue
		}
		if btn.Parent != nil {
			page.InsertBefore(btn, el)
		} else {
			page.Append(ct.Node, el)
		}
		c.cfg.Builder.TriggerEmbeds(el)
	}
	if minTS > 0 {
		ct.OldestTimestamp = minTS
	}
	ct.HasMore = resp.HasMore
	if !ct.HasMore {
		page.Detach(btn)
	}
	c.cfg.Logger.Debug("loadmore: page applied", "container", ct.ID,
		"count", len(resp.Updates), "oldest", ct.OldestTimestamp, "has_more", ct.HasMore)
}
