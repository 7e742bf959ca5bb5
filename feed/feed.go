// Package feed defines the liveblog update feed: the JSON wire format shared
// by the reader and the feed server, the Source abstraction the reader
// polls, and an HTTP client implementing it.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ChangeType classifies an update relative to the requesting cursor.
type ChangeType string

const (
	ChangeNew      ChangeType = "new"
	ChangeModified ChangeType = "modified"
)

// CoauthorID is a coauthor identifier. The wire carries it as a number or a
// string depending on the producer; it is kept as text.
type CoauthorID string

func (id *CoauthorID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = CoauthorID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("feed: coauthor id: %w", err)
	}
	*id = CoauthorID(n.String())
	return nil
}

func (id CoauthorID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// Coauthor is a credited author of an update.
type Coauthor struct {
	ID          CoauthorID `json:"id"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// Update is one liveblog entry as delivered by the feed.
type Update struct {
	ID         string     `json:"id"`
	Timestamp  int64      `json:"timestamp"`
	Modified   int64      `json:"modified"`
	Author     string     `json:"author"`
	Coauthors  []Coauthor `json:"coauthors"`
	Content    string     `json:"content"`
	Status     string     `json:"status"`
	ChangeType ChangeType `json:"change_type"`
	IsPinned   bool       `json:"is_pinned"`
}

// Normalize fills defaults for fields a producer may omit: a missing id
// becomes "update-<timestamp>" and missing coauthors an empty list.
func (u *Update) Normalize() {
	if u.ID == "" {
		u.ID = "update-" + strconv.FormatInt(u.Timestamp, 10)
	}
	if u.Coauthors == nil {
		u.Coauthors = []Coauthor{}
	}
}

// UpdatesResponse is the body of GET .../updates.
type UpdatesResponse struct {
	Updates      []Update `json:"updates"`
	LastModified int64    `json:"last_modified"`
	HasMore      bool     `json:"has_more"`
}

// CountResponse is the body of GET .../updates/count.
type CountResponse struct {
	Count         int `json:"count"`
	NewCount      int `json:"new_count"`
	ModifiedCount int `json:"modified_count"`
}

// Query selects a page of updates. Since and Before are independent axes:
// Before > 0 asks for entries strictly older than Before and ignores Since.
type Query struct {
	Since   int64
	Before  int64
	PerPage int
}

// Source delivers update pages. The reader polls one Source per container.
type Source interface {
	Updates(ctx context.Context, q Query) (UpdatesResponse, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) (UpdatesResponse, error)

func (f SourceFunc) Updates(ctx context.Context, q Query) (UpdatesResponse, error) {
	return f(ctx, q)
}
