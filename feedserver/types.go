package feedserver

import (
	"errors"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/feedserver/internal/store"
)

// Re-exported store types.
type (
	Post  = store.Post
	Entry = store.Entry
)

var (
	ErrPostNotFound  = errors.New("feedserver: post not found")
	ErrEntryNotFound = errors.New("feedserver: entry not found")
	ErrInvalidInput  = errors.New("feedserver: invalid input")
)

// UpdatesParams are the parsed query parameters of an updates request.
type UpdatesParams struct {
	Since           int64
	Before          int64
	PerPage         int
	IncludeModified bool
}

// EntryInput is the editable content of an entry.
type EntryInput struct {
	// ID is optional on append; one is generated when empty.
	ID        string          `json:"id,omitempty"`
	Body      string          `json:"body"`
	Author    string          `json:"author,omitempty"`
	AuthorID  int64           `json:"author_id,omitempty"`
	Coauthors []feed.Coauthor `json:"coauthors,omitempty"`
	Status    string          `json:"status,omitempty"`
	IsPinned  bool            `json:"is_pinned,omitempty"`
}
