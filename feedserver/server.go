// Package feedserver serves the liveblog update feed that readers poll,
// plus a thin editor API and MCP tools over the same operations.
//
// Entries are stored as Markdown in SQLite, rendered once per post
// version and cached. Every write bumps the post version, so cached feeds
// are keyed by it and never go stale; a watcher purges the cache when
// another process writes to the database.
//
//	s, err := feedserver.New(cfg, logger)
//	defer s.Close()
//	r.Route("/wp-json", s.Routes)
//	s.RegisterMCP(mcpServer)
package feedserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/liveblog/audit"
	"github.com/hazyhaar/liveblog/dbopen"
	"github.com/hazyhaar/liveblog/feed"
	"github.com/hazyhaar/liveblog/feedserver/internal/query"
	"github.com/hazyhaar/liveblog/feedserver/internal/render"
	"github.com/hazyhaar/liveblog/feedserver/internal/store"
	"github.com/hazyhaar/liveblog/horosafe"
	"github.com/hazyhaar/liveblog/idgen"
	"github.com/hazyhaar/liveblog/watch"
)

const maxBody = 64 << 10

// Server owns the store, renderer and cache.
type Server struct {
	cfg      *Config
	store    *store.Store
	renderer *render.Renderer
	cache    *Cache
	audit    *audit.Logger
	logger   *slog.Logger
	newID    idgen.Generator
	now      func() time.Time
}

// New opens the database at cfg.DBPath and returns a Server.
func New(cfg *Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		renderer: render.New(loc, cfg.TimeFormat),
		cache:    NewCache(cfg.CacheTTL),
		logger:   logger,
		now:      time.Now,
	}
	switch cfg.EntryIDs {
	case "uuid":
		s.newID = idgen.Default
	case "legacy":
		s.newID = idgen.Legacy(func() time.Time { return s.now() })
	default:
		return nil, fmt.Errorf("%w: entry_ids %q", ErrInvalidInput, cfg.EntryIDs)
	}
	st, err := store.Open(cfg.DBPath, dbopen.WithSchema(audit.Schema))
	if err != nil {
		return nil, err
	}
	s.store = st
	s.audit = audit.New(st.DB, audit.Options{Logger: logger})
	return s, nil
}

// Close flushes the audit log and closes the database.
func (s *Server) Close() error {
	s.audit.Close()
	return s.store.Close()
}

// Config returns the effective configuration.
func (s *Server) Config() *Config { return s.cfg }

// Cache returns the rendered-feed cache.
func (s *Server) Cache() *Cache { return s.cache }

// Watch purges the cache whenever a post version changes in the
// database, including writes from other processes. It blocks until ctx is
// done.
func (s *Server) Watch(ctx context.Context) {
	w := watch.New(s.store.DB, watch.Options{
		Interval: s.cfg.WatchInterval,
		Detector: watch.MaxColumnDetector("posts", "last_modified"),
		Logger:   s.logger,
	})
	w.Run(ctx, func(_ context.Context, version int64) error {
		n := s.cache.Purge()
		s.logger.Debug("feedserver: cache purged", "posts", n, "version", version)
		return nil
	})
}

// load returns the rendered entries of a post at its current version.
func (s *Server) load(ctx context.Context, postID int64) (*rendered, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, fmt.Errorf("%w: %d", ErrPostNotFound, postID)
	}
	if r, ok := s.cache.get(postID, post.LastModified); ok {
		return r, nil
	}

	entries, err := s.store.ListEntries(ctx, postID)
	if err != nil {
		return nil, err
	}
	r := &rendered{
		version: post.LastModified,
		updates: make([]feed.Update, 0, len(entries)),
		items:   make([]query.Item, 0, len(entries)),
	}
	for _, e := range entries {
		u, err := s.toUpdate(e)
		if err != nil {
			return nil, err
		}
		r.updates = append(r.updates, u)
		r.items = append(r.items, query.Item{Timestamp: e.Timestamp, Modified: e.Modified})
	}
	s.cache.put(postID, r)
	return r, nil
}

func (s *Server) toUpdate(e *store.Entry) (feed.Update, error) {
	content, err := s.renderer.Entry(e)
	if err != nil {
		return feed.Update{}, err
	}
	u := feed.Update{
		ID:        e.UpdateID,
		Timestamp: e.Timestamp,
		Modified:  e.Modified,
		Author:    e.Author,
		Coauthors: e.Coauthors,
		Content:   content,
		Status:    e.Status,
		IsPinned:  e.IsPinned,
	}
	if u.Author == "" && len(u.Coauthors) > 0 {
		u.Author = u.Coauthors[0].DisplayName
	}
	if u.Status == "" {
		u.Status = "published"
	}
	u.Normalize()
	return u, nil
}

// Updates returns the page of updates p selects.
func (s *Server) Updates(ctx context.Context, postID int64, p UpdatesParams) (*feed.UpdatesResponse, error) {
	r, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	picks, hasMore := query.Select(r.items, query.Params{
		Since:           p.Since,
		Before:          p.Before,
		PerPage:         p.PerPage,
		IncludeModified: p.IncludeModified,
	})
	resp := &feed.UpdatesResponse{
		Updates:      make([]feed.Update, 0, len(picks)),
		LastModified: query.LastModified(r.items),
		HasMore:      hasMore,
	}
	for _, pk := range picks {
		u := r.updates[pk.Index]
		u.ChangeType = pk.ChangeType
		resp.Updates = append(resp.Updates, u)
	}
	return resp, nil
}

// Count tallies new and modified entries since since.
func (s *Server) Count(ctx context.Context, postID, since int64) (*feed.CountResponse, error) {
	r, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	c := query.Count(r.items, since)
	return &c, nil
}

// Source adapts one post to feed.Source, for in-process readers.
func (s *Server) Source(postID int64) feed.Source {
	return feed.SourceFunc(func(ctx context.Context, q feed.Query) (feed.UpdatesResponse, error) {
		resp, err := s.Updates(ctx, postID, UpdatesParams{
			Since: q.Since, Before: q.Before, PerPage: q.PerPage, IncludeModified: true,
		})
		if err != nil {
			return feed.UpdatesResponse{}, err
		}
		return *resp, nil
	})
}

// CreatePost creates an empty liveblog post.
func (s *Server) CreatePost(ctx context.Context, title string) (p *Post, err error) {
	start := time.Now()
	defer func() {
		var id int64
		if p != nil {
			id = p.ID
		}
		s.record(ctx, audit.ActionCreatePost, id, "", start, err)
	}()
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	p, err = s.store.CreatePost(ctx, title, s.now().Unix())
	if err != nil {
		return nil, err
	}
	s.logger.Info("feedserver: post created", "post_id", p.ID)
	return p, nil
}

// GetPost returns a post.
func (s *Server) GetPost(ctx context.Context, postID int64) (*Post, error) {
	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrPostNotFound, postID)
	}
	return p, nil
}

// AppendEntry adds an entry stamped now, or one second past the post's
// latest entry time when that is not earlier, so a reader that polled in the
// same second still sees it as new.
func (s *Server) AppendEntry(ctx context.Context, postID int64, in EntryInput) (_ *Entry, err error) {
	start := time.Now()
	defer func() { s.record(ctx, audit.ActionAppendEntry, postID, in.ID, start, err) }()
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = s.newID()
	} else if err := horosafe.ValidateIdentifier(in.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if existing, err := s.store.GetEntry(ctx, postID, in.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: entry %s already exists", ErrInvalidInput, in.ID)
	}

	e := &store.Entry{
		PostID:    postID,
		UpdateID:  in.ID,
		AuthorID:  in.AuthorID,
		Author:    in.Author,
		Coauthors: in.Coauthors,
		Body:      in.Body,
		Status:    in.Status,
		IsPinned:  in.IsPinned,
	}
	if err := s.store.AppendEntry(ctx, e, s.now().Unix()); err != nil {
		return nil, err
	}
	s.cache.Invalidate(postID)
	s.logger.Info("feedserver: entry appended", "post_id", postID, "update_id", e.UpdateID)
	return e, nil
}

// EditEntry replaces an entry's content. Its creation time is kept and its
// modified time is stamped like a new entry's, never earlier than the
// creation time.
func (s *Server) EditEntry(ctx context.Context, postID int64, updateID string, in EntryInput) (_ *Entry, err error) {
	start := time.Now()
	defer func() { s.record(ctx, audit.ActionEditEntry, postID, updateID, start, err) }()
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	e, err := s.store.GetEntry(ctx, postID, updateID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, updateID)
	}

	e.Body = in.Body
	e.Author = in.Author
	e.AuthorID = in.AuthorID
	e.Coauthors = in.Coauthors
	e.Status = in.Status
	e.IsPinned = in.IsPinned
	found, err := s.store.ReviseEntry(ctx, e, s.now().Unix())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, updateID)
	}
	s.cache.Invalidate(postID)
	s.logger.Info("feedserver: entry edited", "post_id", postID, "update_id", updateID)
	return e, nil
}

// AuditLog returns the recorded writes to a post, newest first.
func (s *Server) AuditLog(ctx context.Context, postID int64, limit int) ([]audit.Record, error) {
	if err := s.audit.Flush(ctx); err != nil {
		return nil, err
	}
	return s.audit.Query(ctx, audit.Filter{PostID: postID, Limit: limit})
}

func (s *Server) record(ctx context.Context, action string, postID int64, updateID string, start time.Time, err error) {
	s.audit.Write(ctx, audit.Record{
		At:         s.now(),
		Action:     action,
		PostID:     postID,
		UpdateID:   updateID,
		DurationMs: time.Since(start).Milliseconds(),
	}, err)
}

func validateInput(in *EntryInput) error {
	in.Body = strings.TrimSpace(in.Body)
	switch {
	case in.Body == "":
		return fmt.Errorf("%w: body required", ErrInvalidInput)
	case len(in.Body) > maxBody:
		return fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidInput, maxBody)
	}
	for _, c := range in.Coauthors {
		if c.AvatarURL != "" && !horosafe.SafeMediaURL(c.AvatarURL) {
			return fmt.Errorf("%w: avatar url %q", ErrInvalidInput, c.AvatarURL)
		}
	}
	switch in.Status {
	case "", "published", "draft":
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidInput, in.Status)
	}
	return nil
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrPostNotFound), errors.Is(err, ErrEntryNotFound):
		return 404
	case errors.Is(err, ErrInvalidInput):
		return 400
	}
	return 500
}
