package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05"

// DB is the durable SQLite-backed store. It holds both the summary cache and
// the per-digest inclusion history, and survives process restarts.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (if needed) and migrates the cache database inside dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	path := filepath.Join(dir, "summary_cache.db")
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	conn.SetMaxOpenConns(2)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS summaries (
			fingerprint TEXT PRIMARY KEY,
			summary     TEXT NOT NULL,
			model       TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS digest_history (
			digest_id    TEXT NOT NULL,
			url          TEXT NOT NULL,
			title        TEXT NOT NULL,
			summary      TEXT NOT NULL,
			published_at TEXT NOT NULL,
			source_label TEXT NOT NULL DEFAULT '',
			source_url   TEXT NOT NULL DEFAULT '',
			image_url    TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (digest_id, url)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// Lookup returns the cached summary for a fingerprint, if present.
func (db *DB) Lookup(ctx context.Context, fingerprint string) (SummaryRecord, bool, error) {
	var rec SummaryRecord
	var createdAt string

	err := db.conn.QueryRowContext(ctx,
		`SELECT summary, model, created_at FROM summaries WHERE fingerprint = ?`,
		fingerprint).Scan(&rec.Summary, &rec.Model, &createdAt)
	if err == sql.ErrNoRows {
		return SummaryRecord{}, false, nil
	}
	if err != nil {
		return SummaryRecord{}, false, fmt.Errorf("cache lookup: %w", err)
	}

	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return rec, true, nil
}

// Store writes a summary record. Concurrent stores to the same fingerprint
// are last-write-wins.
func (db *DB) Store(ctx context.Context, fingerprint string, rec SummaryRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO summaries (fingerprint, summary, model, created_at) VALUES (?, ?, ?, ?)`,
		fingerprint, rec.Summary, rec.Model, createdAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Cleanup removes summary records older than the given age.
func (db *DB) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	res, err := db.conn.ExecContext(ctx, `DELETE FROM summaries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Included returns every article URL this digest has emitted before, mapped
// to the entry recorded at the time.
func (db *DB) Included(ctx context.Context, digestID string) (map[string]HistoryEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT url, title, summary, published_at, source_label, source_url, image_url
		 FROM digest_history WHERE digest_id = ?`, digestID)
	if err != nil {
		return nil, fmt.Errorf("load digest history: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]HistoryEntry)
	for rows.Next() {
		var e HistoryEntry
		var publishedAt string
		if err := rows.Scan(&e.URL, &e.Title, &e.Summary, &publishedAt, &e.SourceLabel, &e.SourceURL, &e.ImageURL); err != nil {
			return nil, fmt.Errorf("scan digest history: %w", err)
		}
		e.PublishedAt, _ = time.Parse(timeLayout, publishedAt)
		e.PublishedAt = e.PublishedAt.UTC()
		entries[e.URL] = e
	}
	return entries, rows.Err()
}

// Record stores newly included articles for a digest. Re-recording an URL
// already present keeps the original entry.
func (db *DB) Record(ctx context.Context, digestID string, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record digest history: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO digest_history
		 (digest_id, url, title, summary, published_at, source_label, source_url, image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("record digest history: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, digestID, e.URL, e.Title, e.Summary,
			e.PublishedAt.UTC().Format(timeLayout), e.SourceLabel, e.SourceURL, e.ImageURL); err != nil {
			return fmt.Errorf("record digest history: %w", err)
		}
	}
	return tx.Commit()
}
