package feedserver

import (
	"sync"
	"time"

	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/feedserver/internal/query"
)

// rendered is a post's entries ready to serve, newest first.
type rendered struct {
	version int64
	expires time.Time
	updates []feed.Update
	items   []query.Item
}

// Cache keeps the rendered entries of each post at one version. A lookup
// at any other version misses, so a bumped post is never served stale.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	posts  map[int64]*rendered
	hits   int64
	misses int64
}

// NewCache returns a cache whose entries live for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now, posts: make(map[int64]*rendered)}
}

func (c *Cache) get(postID, version int64) (*rendered, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.posts[postID]
	if !ok || r.version != version || c.now().After(r.expires) {
		c.misses++
		return nil, false
	}
	c.hits++
	return r, true
}

func (c *Cache) put(postID int64, r *rendered) {
	r.expires = c.now().Add(c.ttl)
	c.mu.Lock()
	c.posts[postID] = r
	c.mu.Unlock()
}

// Invalidate drops one post.
func (c *Cache) Invalidate(postID int64) {
	c.mu.Lock()
	delete(c.posts, postID)
	c.mu.Unlock()
}

// Purge drops everything and returns how many posts were cached.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.posts)
	c.posts = make(map[int64]*rendered)
	return n
}

// CacheStats are point-in-time counters.
type CacheStats struct {
	Posts  int   `json:"posts"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats returns the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Posts: len(c.posts), Hits: c.hits, Misses: c.misses}
}
