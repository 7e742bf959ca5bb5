// Package store is the SQLite persistence layer for liveblog posts and
// entries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/liveblog/dbopen"
	"github.com/hazyhaar/liveblog/feed"
)

// Store is the feed database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

// Post is a liveblog post.
type Post struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	LastModified int64  `json:"last_modified"`
	CreatedAt    int64  `json:"created_at"`
}

// Entry is one stored liveblog entry.
type Entry struct {
	PostID    int64           `json:"post_id"`
	UpdateID  string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Modified  int64           `json:"modified"`
	AuthorID  int64           `json:"author_id"`
	Author    string          `json:"author"`
	Coauthors []feed.Coauthor `json:"coauthors"`
	Body      string          `json:"body"`
	Status    string          `json:"status"`
	IsPinned  bool            `json:"is_pinned"`
}

// CreatePost inserts a post created at now (unix seconds).
func (s *Store) CreatePost(ctx context.Context, title string, now int64) (*Post, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO posts (title, last_modified, created_at) VALUES (?, ?, ?)`,
		title, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: create post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create post: %w", err)
	}
	return &Post{ID: id, Title: title, LastModified: now, CreatedAt: now}, nil
}

// GetPost returns the post, or nil when it does not exist.
func (s *Store) GetPost(ctx context.Context, id int64) (*Post, error) {
	p := &Post{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, title, last_modified, created_at FROM posts WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.LastModified, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get post %d: %w", id, err)
	}
	return p, nil
}

const entryColumns = `post_id, update_id, timestamp, modified, author_id, author, coauthors, body, status, is_pinned`

type scanner interface{ Scan(dest ...any) error }

func scanEntry(row scanner) (*Entry, error) {
	e := &Entry{}
	var coauthors string
	if err := row.Scan(&e.PostID, &e.UpdateID, &e.Timestamp, &e.Modified, &e.AuthorID,
		&e.Author, &coauthors, &e.Body, &e.Status, &e.IsPinned); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(coauthors), &e.Coauthors); err != nil {
		return nil, fmt.Errorf("coauthors of %s: %w", e.UpdateID, err)
	}
	if e.Coauthors == nil {
		e.Coauthors = []feed.Coauthor{}
	}
	return e, nil
}

// ListEntries returns every entry of a post, newest first.
func (s *Store) ListEntries(ctx context.Context, postID int64) ([]*Entry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE post_id = ? ORDER BY timestamp DESC, pk DESC`, postID)
	if err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list entries: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEntry returns one entry, or nil when it does not exist.
func (s *Store) GetEntry(ctx context.Context, postID int64, updateID string) (*Entry, error) {
	e, err := scanEntry(s.DB.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE post_id = ? AND update_id = ?`, postID, updateID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get entry %s: %w", updateID, err)
	}
	return e, nil
}

// InsertEntry stores e as given and bumps its post version to at least now.
func (s *Store) InsertEntry(ctx context.Context, e *Entry, now int64) error {
	return s.insert(ctx, e, now, false)
}

// AppendEntry stores e stamped with the post's next entry time: now, or one
// second past the latest entry time of the post when now would not be later.
// Entry times of a post therefore strictly increase, and a reader whose
// cursor is the previous latest time sees e as new.
func (s *Store) AppendEntry(ctx context.Context, e *Entry, now int64) error {
	return s.insert(ctx, e, now, true)
}

func (s *Store) insert(ctx context.Context, e *Entry, now int64, stamp bool) error {
	coauthors, err := marshalCoauthors(e.Coauthors)
	if err != nil {
		return err
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		ts := e.Timestamp
		if stamp {
			if ts, err = nextStamp(ctx, tx, e.PostID, now); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (`+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			e.PostID, e.UpdateID, ts, e.Modified, e.AuthorID, e.Author,
			coauthors, e.Body, e.Status, e.IsPinned,
		); err != nil {
			return fmt.Errorf("store: insert entry: %w", err)
		}
		e.Timestamp = ts
		return bumpPost(ctx, tx, e.PostID, now)
	})
}

// UpdateEntry rewrites e's mutable fields, e.Modified included, and bumps
// its post version. It reports false when no such entry exists.
func (s *Store) UpdateEntry(ctx context.Context, e *Entry, now int64) (bool, error) {
	return s.update(ctx, e, now, false)
}

// ReviseEntry is UpdateEntry with e.Modified stamped like AppendEntry, and
// never earlier than e.Timestamp.
func (s *Store) ReviseEntry(ctx context.Context, e *Entry, now int64) (bool, error) {
	return s.update(ctx, e, now, true)
}

func (s *Store) update(ctx context.Context, e *Entry, now int64, stamp bool) (bool, error) {
	coauthors, err := marshalCoauthors(e.Coauthors)
	if err != nil {
		return false, err
	}
	found := false
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		modified := e.Modified
		if stamp {
			next, err := nextStamp(ctx, tx, e.PostID, now)
			if err != nil {
				return err
			}
			modified = max(next, e.Timestamp)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE entries SET modified = ?, author_id = ?, author = ?, coauthors = ?,
			       body = ?, status = ?, is_pinned = ?
			WHERE post_id = ? AND update_id = ?`,
			modified, e.AuthorID, e.Author, coauthors, e.Body, e.Status, e.IsPinned,
			e.PostID, e.UpdateID)
		if err != nil {
			return fmt.Errorf("store: update entry: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if found = n > 0; !found {
			return nil
		}
		e.Modified = modified
		return bumpPost(ctx, tx, e.PostID, now)
	})
	return found, err
}

// nextStamp returns max(now, latest entry time of the post + 1), where an
// entry's time is the later of its creation and modification times.
func nextStamp(ctx context.Context, tx *sql.Tx, postID, now int64) (int64, error) {
	var latest sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(MAX(timestamp, modified)) FROM entries WHERE post_id = ?`, postID,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("store: latest stamp of post %d: %w", postID, err)
	}
	if latest.Valid && latest.Int64 >= now {
		return latest.Int64 + 1, nil
	}
	return now, nil
}

// bumpPost moves the post version forward, by at least one.
func bumpPost(ctx context.Context, tx *sql.Tx, postID, now int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE posts SET last_modified = MAX(last_modified + 1, ?) WHERE id = ?`, now, postID)
	if err != nil {
		return fmt.Errorf("store: bump post %d: %w", postID, err)
	}
	return nil
}

func marshalCoauthors(c []feed.Coauthor) (string, error) {
	if c == nil {
		c = []feed.Coauthor{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("store: coauthors: %w", err)
	}
	return string(b), nil
}
