// Package query decides which entries an updates request returns and how
// each is classified.
//
// With since > 0 the boundary is exclusive: an entry is new when it was
// created after since (or carries no times at all), modified when it
// existed at since and was edited after it. since == 0 is a full sync and
// returns every entry as new. before > 0 pages backwards through entries
// strictly older than before and ignores since.
package query

import "github.com/hazyhaar/liveblog/feed"

const (
	DefaultPerPage = 50
	MaxPerPage     = 100
)

// Item is the part of an entry the selection looks at.
type Item struct {
	Timestamp int64
	Modified  int64
}

// Params are the request parameters, already parsed as absolute integers.
type Params struct {
	Since           int64
	Before          int64
	PerPage         int
	IncludeModified bool
}

// ClampPerPage maps a requested page size into [1, MaxPerPage]; zero
// means DefaultPerPage.
func ClampPerPage(n int) int {
	switch {
	case n <= 0:
		return DefaultPerPage
	case n > MaxPerPage:
		return MaxPerPage
	}
	return n
}

// Classify returns the change type of an entry relative to since, and
// false when the entry is not part of the increment.
func Classify(since int64, it Item) (feed.ChangeType, bool) {
	if since <= 0 {
		return feed.ChangeNew, true
	}
	switch {
	case it.Timestamp > since || (it.Timestamp == 0 && it.Modified == 0):
		return feed.ChangeNew, true
	case it.Modified > since:
		return feed.ChangeModified, true
	}
	return "", false
}

// Pick is one selected entry.
type Pick struct {
	Index      int
	ChangeType feed.ChangeType
}

// Select walks items (newest first) and returns the page to send, plus
// whether matching entries remain beyond it.
func Select(items []Item, p Params) (picks []Pick, hasMore bool) {
	perPage := ClampPerPage(p.PerPage)
	for i, it := range items {
		ct, ok := match(it, p)
		if !ok {
			continue
		}
		if len(picks) == perPage {
			return picks, true
		}
		picks = append(picks, Pick{Index: i, ChangeType: ct})
	}
	return picks, false
}

func match(it Item, p Params) (feed.ChangeType, bool) {
	if p.Before > 0 {
		return feed.ChangeNew, it.Timestamp > 0 && it.Timestamp < p.Before
	}
	ct, ok := Classify(p.Since, it)
	if ok && ct == feed.ChangeModified && !p.IncludeModified {
		return "", false
	}
	return ct, ok
}

// LastModified is the feed cursor: the largest timestamp or modified time
// of any entry.
func LastModified(items []Item) int64 {
	var max int64
	for _, it := range items {
		if it.Timestamp > max {
			max = it.Timestamp
		}
		if it.Modified > max {
			max = it.Modified
		}
	}
	return max
}

// Count tallies the increment since since.
func Count(items []Item, since int64) feed.CountResponse {
	var c feed.CountResponse
	for _, it := range items {
		switch ct, ok := Classify(since, it); {
		case !ok:
		case ct == feed.ChangeModified:
			c.ModifiedCount++
		default:
			c.NewCount++
		}
	}
	c.Count = c.NewCount + c.ModifiedCount
	return c
}
