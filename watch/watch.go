// Package watch polls a SQLite version token and runs an action when it
// moves. The feed server uses it to purge its rendered-feed cache when
// another process writes posts.
//
//	w := watch.New(db, watch.Options{Detector: watch.MaxColumnDetector("posts", "last_modified")})
//	go w.Run(ctx, func(ctx context.Context, v int64) error { cache.Purge(); return nil })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Different values mean a change.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Action reacts to a new version. An error leaves the version unapplied,
// so the action runs again on the next check.
type Action func(ctx context.Context, version int64) error

// Options tunes a Watcher.
type Options struct {
	// Interval between checks. Default 1s.
	Interval time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher tracks the last applied version. Safe for concurrent use.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	seeded  atomic.Bool

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
}

// New returns a Watcher. Nothing runs until Run or Check.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Stats returns the counters.
func (w *Watcher) Stats() Stats {
	return Stats{Checks: w.checks.Load(), Changes: w.changes.Load(), Errors: w.errors.Load()}
}

// Version returns the last applied version.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Check reads the version once. The first successful read only seeds the
// watcher; later reads that differ run action. It reports whether action
// ran and succeeded.
func (w *Watcher) Check(ctx context.Context, action Action) bool {
	w.checks.Add(1)
	cur, err := w.opts.Detector(ctx, w.db)
	if err != nil {
		w.errors.Add(1)
		w.opts.Logger.Warn("watch: version check failed", "error", err)
		return false
	}
	if !w.seeded.Load() {
		w.version.Store(cur)
		w.seeded.Store(true)
		return false
	}
	prev := w.version.Load()
	if cur == prev {
		return false
	}
	w.changes.Add(1)
	if err := action(ctx, cur); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: action failed", "version", cur, "error", err)
		return false
	}
	w.version.Store(cur)
	w.opts.Logger.Debug("watch: change applied", "old_version", prev, "new_version", cur)
	return true
}

// Run checks every Interval until ctx is done.
func (w *Watcher) Run(ctx context.Context, action Action) {
	log := w.opts.Logger
	w.Check(ctx, action)

	t := time.NewTicker(w.opts.Interval)
	defer t.Stop()
	log.Info("watch: started", "interval", w.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return
		case <-t.C:
			w.Check(ctx, action)
		}
	}
}

// PragmaDataVersion changes whenever another connection commits to the
// database file.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxColumnDetector reads MAX(column) of table, 0 when empty.
func MaxColumnDetector(table, column string) Detector {
	q := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, q).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
