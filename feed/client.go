package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/liveblog/horosafe"
)

// APIError is a non-2xx response from the feed endpoint.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("feed: %s (%d): %s", e.Code, e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("feed: %s (%d)", e.Code, e.Status)
	case e.Message != "":
		return fmt.Sprintf("feed: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("feed: HTTP %d", e.Status)
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Endpoint is the full updates URL, e.g.
	// https://news.example/wp-json/liveblog/v1/posts/42/updates.
	Endpoint string
	// HTTPClient defaults to a client with a 20s timeout.
	HTTPClient *http.Client
	// MaxBody caps response reads. Default horosafe.MaxResponseBody.
	MaxBody int64
	// Now supplies the cache-buster. Default time.Now.
	Now func() time.Time
}

func (c *ClientConfig) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if c.MaxBody <= 0 {
		c.MaxBody = horosafe.MaxResponseBody
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Client reads a liveblog feed over HTTP.
type Client struct {
	cfg      ClientConfig
	endpoint *url.URL
}

// NewClient validates the endpoint and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if err := horosafe.ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("feed: endpoint: %w", err)
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("feed: endpoint: %w", err)
	}
	cfg.defaults()
	return &Client{cfg: cfg, endpoint: u}, nil
}

// Endpoint returns the updates URL.
func (c *Client) Endpoint() string { return c.endpoint.String() }

// Updates fetches one page. Every returned update is normalized.
func (c *Client) Updates(ctx context.Context, q Query) (UpdatesResponse, error) {
	v := url.Values{}
	if q.Before > 0 {
		v.Set("before", strconv.FormatInt(q.Before, 10))
	} else {
		v.Set("since", strconv.FormatInt(q.Since, 10))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}

	var resp UpdatesResponse
	if err := c.getJSON(ctx, c.endpoint, v, &resp); err != nil {
		return UpdatesResponse{}, err
	}
	for i := range resp.Updates {
		resp.Updates[i].Normalize()
	}
	return resp, nil
}

// Count fetches the number of entries created or edited after since.
func (c *Client) Count(ctx context.Context, since int64) (CountResponse, error) {
	u := *c.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/count"
	u.RawPath = ""
	v := url.Values{}
	v.Set("since", strconv.FormatInt(since, 10))

	var resp CountResponse
	if err := c.getJSON(ctx, &u, v, &resp); err != nil {
		return CountResponse{}, err
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, base *url.URL, v url.Values, out any) error {
	v.Set("_", strconv.FormatInt(c.cfg.Now().UnixMilli(), 10))
	u := *base
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("feed: fetch: %w", err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, c.cfg.MaxBody)
	if err != nil {
		return fmt.Errorf("feed: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			apiErr.Code = payload.Error
			if apiErr.Code == "" {
				apiErr.Code = payload.Code
			}
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("feed: decode: %w", err)
	}
	return nil
}
