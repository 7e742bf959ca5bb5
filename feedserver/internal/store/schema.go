package store

// Schema is the DDL for posts and their entries.
const Schema = `
-- Liveblog posts. last_modified is the post version: bumped on every entry
-- write, it keys the feed cache and drives the change watcher.
CREATE TABLE IF NOT EXISTS posts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    title           TEXT NOT NULL DEFAULT '',
    last_modified   INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_modified ON posts(last_modified);

-- Entries of a post. body is Markdown; coauthors is a JSON array.
CREATE TABLE IF NOT EXISTS entries (
    pk              INTEGER PRIMARY KEY AUTOINCREMENT,
    post_id         INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    update_id       TEXT NOT NULL,
    timestamp       INTEGER NOT NULL DEFAULT 0,
    modified        INTEGER NOT NULL DEFAULT 0,
    author_id       INTEGER NOT NULL DEFAULT 0,
    author          TEXT NOT NULL DEFAULT '',
    coauthors       TEXT NOT NULL DEFAULT '[]',
    body            TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'published',
    is_pinned       INTEGER NOT NULL DEFAULT 0,
    UNIQUE (post_id, update_id)
);
CREATE INDEX IF NOT EXISTS idx_entries_post_ts ON entries(post_id, timestamp DESC);
`
