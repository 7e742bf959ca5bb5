package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/hazyhaar/liveblog/horosafe"
	"github.com/hazyhaar/liveblog/liveview"
	"github.com/hazyhaar/liveblog/page"
)

func newFollowCommand(root *rootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "follow <page-url>",
		Short: "Follow a liveblog page and print entries as Markdown",
		Long: `Fetch a page carrying liveblog containers, start a reader on it and print
each entry as it is inserted or edited. Runs until interrupted, or prints
the current entries and exits with --once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			doc, err := fetchPage(ctx, args[0], cfg.Reader.HTTPTimeout)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), args[0])
			doc.AddEventListener(liveview.EmbedEvent, func(ev page.Event) { p.handle(ev.Target) })

			r, err := liveview.New(liveview.Options{
				Doc:     doc,
				Config:  cfg.Reader,
				BaseURL: args[0],
				Logger:  root.logger(),
			})
			if err != nil {
				return err
			}
			n, err := r.Start(ctx)
			defer r.Stop()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("no liveblog container with a feed url on %s", args[0])
			}
			if once {
				return nil
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "print the current entries and exit")
	return cmd
}

func fetchPage(ctx context.Context, rawURL string, timeout time.Duration) (*page.Document, error) {
	if err := horosafe.ValidateEndpoint(rawURL); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}
	data, err := horosafe.LimitedReadAll(resp.Body, 8*horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return page.Parse(bytes.NewReader(data))
}

// printer writes entries as Markdown. It runs on the document's main
// thread, from the embed event listener.
type printer struct {
	w      io.Writer
	domain string
	md     *converter.Converter
	now    func() time.Time
	seen   map[string]bool
}

func newPrinter(w io.Writer, domain string) *printer {
	return &printer{
		w:      w,
		domain: domain,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		now:  time.Now,
		seen: make(map[string]bool),
	}
}

// handle prints the entry n, or every entry of n when n is a container
// that was just synced, oldest first.
func (p *printer) handle(n *html.Node) {
	if n == nil {
		return
	}
	if page.HasAttr(n, "data-update-id") {
		p.print(n)
		return
	}
	var entries []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && page.HasAttr(c, "data-update-id") {
			entries = append(entries, c)
		}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		p.print(entries[i])
	}
}

func (p *printer) print(n *html.Node) {
	id, _ := page.Attr(n, "data-update-id")
	edited := p.seen[id]
	p.seen[id] = true

	var head []string
	if ts, ok := page.Attr(n, "data-timestamp"); ok {
		if sec, err := strconv.ParseInt(ts, 10, 64); err == nil && sec > 0 {
			t := time.Unix(sec, 0)
			head = append(head, fmt.Sprintf("%s (%s)", t.Local().Format("15:04"), humanize.RelTime(t, p.now(), "ago", "from now")))
		}
	}
	if names := authors(n); names != "" {
		head = append(head, names)
	}
	if edited {
		head = append(head, "edited")
	}

	content := page.Query(n, ".liveblog-entry__content")
	if content == nil {
		content = n
	}
	body, err := p.md.ConvertString(page.OuterHTML(content), converter.WithDomain(p.domain))
	if err != nil {
		body = strings.TrimSpace(page.Text(content))
	}
	fmt.Fprintf(p.w, "## %s\n\n%s\n\n", strings.Join(head, " · "), strings.TrimSpace(body))
}

// authors reads the names from server-rendered or fallback entry headers.
func authors(n *html.Node) string {
	var names []string
	for _, a := range page.QueryAll(n, ".liveblog-entry__author") {
		if s := strings.TrimSpace(page.Text(a)); s != "" {
			names = append(names, s)
		}
	}
	if len(names) > 0 {
		return strings.Join(names, ", ")
	}
	for _, sel := range []string{".liveblog-entry__author-names", ".liveblog-entry__authors"} {
		if a := page.Query(n, sel); a != nil {
			return strings.TrimSpace(page.Text(a))
		}
	}
	return ""
}
