// Package audit records editor writes (post creation, entry appends and
// edits) in SQLite. Records are queued and flushed in batches; Close drains
// the queue.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/liveblog/dbopen"
	"github.com/hazyhaar/liveblog/idgen"
	"github.com/hazyhaar/liveblog/kit"
)

// Schema creates the audit table. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    record_id   TEXT PRIMARY KEY,
    at          INTEGER NOT NULL,
    action      TEXT NOT NULL,
    post_id     INTEGER NOT NULL DEFAULT 0,
    update_id   TEXT NOT NULL DEFAULT '',
    transport   TEXT NOT NULL DEFAULT '',
    trace_id    TEXT NOT NULL DEFAULT '',
    remote_addr TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_post ON audit_log(post_id, at DESC);
`

const maxBatch = 64

// Actions.
const (
	ActionCreatePost  = "post.create"
	ActionAppendEntry = "entry.append"
	ActionEditEntry   = "entry.edit"
)

// Record is one audited write.
type Record struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Action     string    `json:"action"`
	PostID     int64     `json:"post_id"`
	UpdateID   string    `json:"update_id,omitempty"`
	Transport  string    `json:"transport,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	PostID int64
	Action string
	// Limit defaults to 100.
	Limit int
}

// Options tune a Logger.
type Options struct {
	// Buffer is the queue length. Default 256.
	Buffer int
	// FlushInterval bounds how long a queued record waits. Default 2s.
	FlushInterval time.Duration
	IDs           idgen.Generator
	Logger        *slog.Logger
}

// Logger persists records asynchronously.
type Logger struct {
	db     *sql.DB
	ids    idgen.Generator
	logger *slog.Logger
	ch     chan *Record
	flush  chan chan error
	stop   chan struct{}
	done   chan struct{}
}

// New starts a Logger writing to db. The schema must already be applied.
func New(db *sql.DB, opts Options) *Logger {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Prefixed("audit_", idgen.Default)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l := &Logger{
		db:     db,
		ids:    opts.IDs,
		logger: opts.Logger,
		ch:     make(chan *Record, opts.Buffer),
		flush:  make(chan chan error),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.flushLoop(opts.FlushInterval)
	return l
}

// Write queues r, filling its id and the transport, trace id and remote
// address carried by ctx. A non-nil err marks the record failed. When the
// queue is full the record is written synchronously.
func (l *Logger) Write(ctx context.Context, r Record, err error) {
	r.ID = l.ids()
	if r.At.IsZero() {
		r.At = time.Now()
	}
	r.Transport = kit.GetTransport(ctx)
	r.TraceID = kit.GetTraceID(ctx)
	r.RemoteAddr = kit.GetRemoteAddr(ctx)
	r.Status = "ok"
	if err != nil {
		r.Status = "error"
		r.Error = err.Error()
	}
	select {
	case l.ch <- &r:
	default:
		l.logger.Warn("audit: queue full, writing synchronously", "action", r.Action)
		if err := insert(context.Background(), l.db, []*Record{&r}); err != nil {
			l.logger.Error("audit: write", "error", err)
		}
	}
}

// Query returns matching records, newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Record, error) {
	q := `SELECT record_id, at, action, post_id, update_id, transport, trace_id,
		remote_addr, status, error, duration_ms FROM audit_log WHERE 1=1`
	var args []any
	if f.PostID > 0 {
		q += " AND post_id = ?"
		args = append(args, f.PostID)
	}
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		var at int64
		if err := rows.Scan(&r.ID, &at, &r.Action, &r.PostID, &r.UpdateID, &r.Transport,
			&r.TraceID, &r.RemoteAddr, &r.Status, &r.Error, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		r.At = time.Unix(at, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Flush writes everything queued so far and returns once it is stored.
func (l *Logger) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case l.flush <- reply:
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the flush loop.
func (l *Logger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func (l *Logger) flushLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	batch := make([]*Record, 0, maxBatch)

	drain := func() {
		for {
			select {
			case r := <-l.ch:
				batch = append(batch, r)
			default:
				return
			}
		}
	}
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := insert(ctx, l.db, batch)
		if err != nil {
			l.logger.Error("audit: flush", "error", err, "records", len(batch))
		}
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-l.stop:
			drain()
			flush()
			return
		case reply := <-l.flush:
			drain()
			reply <- flush()
		case r := <-l.ch:
			batch = append(batch, r)
			if len(batch) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func insert(ctx context.Context, db *sql.DB, batch []*Record) error {
	if len(batch) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_log
			(record_id, at, action, post_id, update_id, transport, trace_id,
			 remote_addr, status, error, duration_ms)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range batch {
			if _, err := stmt.ExecContext(ctx, r.ID, r.At.Unix(), r.Action, r.PostID, r.UpdateID,
				r.Transport, r.TraceID, r.RemoteAddr, r.Status, r.Error, r.DurationMs); err != nil {
				return fmt.Errorf("audit: insert %s: %w", r.ID, err)
			}
		}
		return nil
	})
}
