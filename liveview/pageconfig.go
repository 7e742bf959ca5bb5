package liveview

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/liveblog/liveview/internal/state"
	"github.com/hazyhaar/liveblog/page"
)

// PageConfig is the liveblog configuration a host page injects: the post,
// its updates endpoint and the poll interval.
type PageConfig = state.PageConfig

// DataScriptSelector finds the JSON block holding the page configuration.
const DataScriptSelector = "script#liveblog-data"

type pageData struct {
	PostID   json.RawMessage `json:"postId"`
	RestURL  string          `json:"restUrl"`
	Interval json.RawMessage `json:"interval"`
}

// ReadPageConfig extracts the page configuration from the data script.
// ok is false when the page has no such script. Main thread only.
func ReadPageConfig(doc *page.Document) (cfg PageConfig, ok bool, err error) {
	script := page.Query(doc.Root(), DataScriptSelector)
	if script == nil {
		return PageConfig{}, false, nil
	}
	raw := strings.TrimSpace(page.Text(script))
	if raw == "" {
		return PageConfig{}, true, nil
	}
	var d pageData
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return PageConfig{}, true, fmt.Errorf("liveview: page config: %w", err)
	}
	cfg.PostID = parsePostID(d.PostID)
	cfg.RestURL = strings.TrimRight(strings.TrimSpace(d.RestURL), "/")
	cfg.Interval = parseInterval(d.Interval)
	return cfg, true, nil
}

// parsePostID accepts a JSON number or numeric string.
func parsePostID(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// parseInterval reads milliseconds; anything non-numeric or non-positive
// yields 0, which the poller treats as "use the default".
func parseInterval(raw json.RawMessage) time.Duration {
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

var bodyPostID = regexp.MustCompile(`\b(?:page-id-|postid-)(\d+)\b`)

// containerConfig overlays the container's data-post-id and data-rest-url
// on base. A data-rest-url that is an API root rather than an updates
// endpoint is expanded to <root>/liveblog/v1/posts/<id>/updates.
func containerConfig(doc *page.Document, n *html.Node, base PageConfig) PageConfig {
	cfg := base
	if v, ok := page.Attr(n, "data-post-id"); ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && id > 0 {
			cfg.PostID = id
		}
	}
	if cfg.PostID == 0 {
		if body := doc.Body(); body != nil {
			class, _ := page.Attr(body, "class")
			if m := bodyPostID.FindStringSubmatch(class); m != nil {
				cfg.PostID, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}
	}
	if v, ok := page.Attr(n, "data-rest-url"); ok {
		if v = strings.TrimRight(strings.TrimSpace(v), "/"); v != "" {
			cfg.RestURL = v
			if !strings.HasSuffix(v, "/updates") && cfg.PostID > 0 {
				cfg.RestURL = v + "/liveblog/v1/posts/" + strconv.FormatInt(cfg.PostID, 10) + "/updates"
			}
		}
	}
	return cfg
}
