// Package banner is the page-wide notification that reports queued updates
// to a reader scrolled away from the top, with "show" and "dismiss" actions.
package banner

import (
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveblog/liveview/internal/entrydom"
	"github.com/hazyhaar/liveblog/liveview/internal/sched"
	"github.com/hazyhaar/liveblog/liveview/internal/state"
	"github.com/hazyhaar/liveblog/liveview/internal/viewstate"
	"github.com/hazyhaar/liveblog/page"
)

const (
	VisibleClass = "liveblog-notification--visible"

	defaultAutoDismiss = 30 * time.Second
)

// Config wires a Banner.
type Config struct {
	Doc         *page.Document
	Registry    *state.Registry
	View        *viewstate.Store
	Builder     *entrydom.Builder
	Clock       sched.Clock
	AutoDismiss time.Duration
	Logger      *slog.Logger
}

// Banner is the singleton notification. Its element is created on first
// need and reused afterwards. Methods are main-thread only.
type Banner struct {
	cfg Config

	el      *html.Node
	text    *html.Node
	showBtn *html.Node
	dismiss *html.Node

	timer sched.Timer
	gen   uint64
}

// New returns a Banner; nothing is added to the page yet.
func New(cfg Config) *Banner {
	if cfg.AutoDismiss <= 0 {
		cfg.AutoDismiss = defaultAutoDismiss
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Banner{cfg: cfg}
}

func (b *Banner) ensure() {
	if b.el != nil {
		return
	}
	doc := b.cfg.Doc
	b.el = page.Element("div", "class", "liveblog-notification", "aria-live", "polite", "role", "status")
	b.text = page.Element("span", "class", "liveblog-notification__text")
	b.showBtn = page.Element("button", "type", "button", "class", "liveblog-notification__show-btn")
	page.SetText(b.showBtn, "Show Updates")
	b.dismiss = page.Element("button", "type", "button", "class", "liveblog-notification__dismiss-btn", "aria-label", "Dismiss")
	page.SetText(b.dismiss, "×")

	b.el.AppendChild(b.text)
	b.el.AppendChild(page.TextNode(" "))
	b.el.AppendChild(b.showBtn)
	b.el.AppendChild(page.TextNode(" "))
	b.el.AppendChild(b.dismiss)

	doc.OnClick(b.showBtn, func() { doc.Do(b.ShowUpdates) })
	doc.OnClick(b.dismiss, func() { doc.Do(b.Dismiss) })

	if body := doc.Body(); body != nil {
		page.Append(body, b.el)
	} else {
		page.Append(doc.Root(), b.el)
	}
}

// Element returns the banner element, nil before first use.
func (b *Banner) Element() *html.Node { return b.el }

// ShowButton returns the "Show Updates" button, nil before first use.
func (b *Banner) ShowButton() *html.Node { return b.showBtn }

// DismissButton returns the dismiss button, nil before first use.
func (b *Banner) DismissButton() *html.Node { return b.dismiss }

// Visible reports whether the banner is shown.
func (b *Banner) Visible() bool {
	return b.el != nil && page.HasClass(b.el, VisibleClass)
}

// Text returns the current message.
func (b *Banner) Text() string {
	if b.text == nil {
		return ""
	}
	return page.Text(b.text)
}

// Message formats the banner text for n queued updates.
func Message(n int) string {
	if n == 1 {
		return "1 new update available"
	}
	return strconv.Itoa(n) + " new updates available"
}

// Show displays the banner for n queued updates and re-arms auto-dismiss.
func (b *Banner) Show(n int) {
	b.ensure()
	page.SetText(b.text, Message(n))
	page.AddClass(b.el, VisibleClass)

	b.stopTimer()
	b.gen++
	gen := b.gen
	b.timer = b.cfg.Clock.AfterFunc(b.cfg.AutoDismiss, func() {
		b.cfg.Doc.Do(func() {
			if gen == b.gen {
				b.timer = nil
				b.Hide()
			}
		})
	})
}

// Hide removes visibility and cancels auto-dismiss.
func (b *Banner) Hide() {
	if b.el != nil {
		page.RemoveClass(b.el, VisibleClass)
	}
	b.stopTimer()
}

func (b *Banner) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}

// Update refreshes the title from the unread counter, then shows the
// global queued count or hides the banner when nothing is queued.
func (b *Banner) Update() {
	queued := b.cfg.Registry.QueuedTotal()
	b.cfg.View.UpdateTitle(b.cfg.View.Unread())
	if queued == 0 {
		b.Hide()
		return
	}
	b.Show(queued)
}

// ShowUpdates scrolls to the top, flushes every container's queue into the
// page, resets the unread counter and hides the banner.
func (b *Banner) ShowUpdates() {
	b.cfg.Doc.ScrollTo(0)
	flushed := 0
	for _, ct := range b.cfg.Registry.All() {
		for _, u := range ct.DrainQueue() {
			if entrydom.Find(ct.Node, u.ID) != nil {
				continue
			}
			if el := b.cfg.Builder.Build(u); el != nil {
				b.cfg.Builder.Insert(ct.Node, el)
				flushed++
			}
		}
	}
	b.cfg.View.SetUnread(0)
	b.Hide()
	b.cfg.Logger.Debug("banner: flushed queued updates", "count", flushed)
}

// Dismiss hides the banner. Queued updates stay queued.
func (b *Banner) Dismiss() {
	b.Hide()
}
