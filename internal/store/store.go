// Package store is the durable relational backing for the leaderboard:
// schema, pragmas and transaction plumbing. It owns no domain logic —
// IngestionEngine and QueryEngine are the only callers that know what
// the tables mean.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// MaxOpenConns bounds the connection pool shared by readers and the one
// writer. Exported so callers outside this package (the HTTP layer's
// cache-miss rate limiter) can size their own concurrency limits against
// the same ceiling instead of picking an unrelated number.
const MaxOpenConns = 16

// Store wraps the single sqlite database file backing one environment.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database file at path, applies the
// crash-safe-but-relaxed pragmas spec.md calls for (WAL journaling,
// synchronous=NORMAL, foreign keys on) and ensures the schema exists.
//
// Modeled on the teacher pack's sqlite adapter
// (virgilhawkins00-ForgePlatform/internal/adapters/storage/sqlite.go):
// DSN-encoded pragmas, a single *sql.DB shared across readers and the
// one writer, schema created with CREATE TABLE IF NOT EXISTS.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer at a time is the concurrency model (spec §5); the
	// sqlite3 driver serializes writers internally, but capping the pool
	// avoids pile-ups of writers all waiting on SQLITE_BUSY.
	db.SetMaxOpenConns(MaxOpenConns)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages that run their own
// parameterized queries (IngestionEngine, QueryEngine). Store itself
// stays domain-agnostic per spec.md §4.1.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Grounded on the teacher's
// repository.SaveBatch pattern (begin, defer rollback, commit at the
// end), adapted from pgx's pool/tx API to database/sql's.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS repo (
	id              INTEGER PRIMARY KEY,
	name_with_owner TEXT NOT NULL UNIQUE,
	description     TEXT,
	homepage_url    TEXT,
	created_at      INTEGER
);

CREATE TABLE IF NOT EXISTS language (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS topic (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS fetch_run (
	id         INTEGER PRIMARY KEY,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS repo_latest (
	repo_id              INTEGER PRIMARY KEY,
	run_id               INTEGER NOT NULL,
	history_start_run_id INTEGER NOT NULL,

	stars      INTEGER NOT NULL,
	forks      INTEGER NOT NULL,
	watchers   INTEGER NOT NULL,
	disk_usage INTEGER,

	updated_at  INTEGER,
	pushed_at   INTEGER,
	is_archived INTEGER NOT NULL,

	primary_language_id INTEGER,

	FOREIGN KEY(repo_id) REFERENCES repo(id) ON DELETE CASCADE,
	FOREIGN KEY(run_id) REFERENCES fetch_run(id) ON DELETE CASCADE,
	FOREIGN KEY(history_start_run_id) REFERENCES fetch_run(id) ON DELETE CASCADE,
	FOREIGN KEY(primary_language_id) REFERENCES language(id)
);

CREATE TABLE IF NOT EXISTS repo_metrics_hist (
	repo_id      INTEGER NOT NULL,
	start_run_id INTEGER NOT NULL,
	end_run_id   INTEGER NOT NULL,

	stars      INTEGER NOT NULL,
	forks      INTEGER NOT NULL,
	watchers   INTEGER NOT NULL,
	disk_usage INTEGER,

	PRIMARY KEY (repo_id, start_run_id),
	FOREIGN KEY(repo_id) REFERENCES repo(id) ON DELETE CASCADE,
	FOREIGN KEY(start_run_id) REFERENCES fetch_run(id) ON DELETE CASCADE,
	FOREIGN KEY(end_run_id) REFERENCES fetch_run(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS repo_topic_latest (
	repo_id  INTEGER NOT NULL,
	topic_id INTEGER NOT NULL,
	PRIMARY KEY (repo_id, topic_id),
	FOREIGN KEY(repo_id) REFERENCES repo(id) ON DELETE CASCADE,
	FOREIGN KEY(topic_id) REFERENCES topic(id) ON DELETE CASCADE
);

-- CrawlDriver-side checkpoint, not part of the core data model (SPEC_FULL §3).
CREATE TABLE IF NOT EXISTS crawl_checkpoint (
	driver_name     TEXT PRIMARY KEY,
	min_stars       INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_repo_name ON repo(name_with_owner);

CREATE INDEX IF NOT EXISTS idx_repo_latest_stars    ON repo_latest(stars DESC);
CREATE INDEX IF NOT EXISTS idx_repo_latest_forks    ON repo_latest(forks DESC);
CREATE INDEX IF NOT EXISTS idx_repo_latest_watchers ON repo_latest(watchers DESC);
CREATE INDEX IF NOT EXISTS idx_repo_latest_disk     ON repo_latest(disk_usage DESC);

CREATE INDEX IF NOT EXISTS idx_hist_repo_end ON repo_metrics_hist(repo_id, end_run_id);

CREATE INDEX IF NOT EXISTS idx_topic_name       ON topic(name);
CREATE INDEX IF NOT EXISTS idx_repo_topic_topic ON repo_topic_latest(topic_id);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}
