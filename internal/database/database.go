package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/bryan-buckman/pulse/internal/model"
)

// upsertBatch bounds the rows per INSERT statement so the bound parameter
// count stays under both backends' limits.
const upsertBatch = 500

// DB is the squirrel-built store shared by the SQLite and PostgreSQL
// backends. Only the placeholder format and schema differ.
type DB struct {
	conn   *sql.DB
	sb     sq.StatementBuilderType
	dbType string
	unique func(error) bool
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Writes are serialized through one connection.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{
		conn:   conn,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		dbType: "SQLite",
		unique: isSQLiteUnique,
	}
	if err := db.migrate(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		published TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_source_id ON items(source_id);
	CREATE INDEX IF NOT EXISTS idx_items_published ON items(published DESC);
	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL,
		thumbs TEXT NOT NULL,
		diff TEXT NOT NULL DEFAULT '{}'
	);
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		run_date TEXT NOT NULL,
		status TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT ''
	);
	`

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return db.dbType
}

func (db *DB) migrate(schema string) error {
	_, err := db.conn.Exec(schema)
	return err
}

// --- Source Methods ---

var sourceColumns = []string{"id", "name", "url", "type"}

// ListSources returns all sources ordered by name.
func (db *DB) ListSources(ctx context.Context) ([]model.Source, error) {
	query, args, err := db.sb.Select(sourceColumns...).From("sources").OrderBy("name", "id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	sources := []model.Source{}
	for rows.Next() {
		var s model.Source
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.Kind); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// GetSourceByURL returns the source registered for url.
func (db *DB) GetSourceByURL(ctx context.Context, url string) (*model.Source, error) {
	query, args, err := db.sb.Select(sourceColumns...).From("sources").Where(sq.Eq{"url": url}).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	var s model.Source
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&s.ID, &s.Name, &s.URL, &s.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &s, nil
}

// CreateSource adds a source. An existing url yields ErrDuplicate.
func (db *DB) CreateSource(ctx context.Context, name, url string, kind model.SourceKind) (*model.Source, error) {
	if _, err := db.GetSourceByURL(ctx, url); err == nil {
		return nil, ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	query, args, err := db.sb.Insert("sources").
		Columns("name", "url", "type").
		Values(name, url, string(kind)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}
	s := model.Source{Name: name, URL: url, Kind: kind}
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&s.ID); err != nil {
		if db.unique(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create source: %w", err)
	}
	return &s, nil
}

// DeleteSource removes the source with url and reports how many rows went.
func (db *DB) DeleteSource(ctx context.Context, url string) (int64, error) {
	query, args, err := db.sb.Delete("sources").Where(sq.Eq{"url": url}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete source: %w", err)
	}
	return res.RowsAffected()
}

// --- Item Methods ---

// ItemURLs returns the set of item urls stored for a source.
func (db *DB) ItemURLs(ctx context.Context, sourceID int64) (map[string]bool, error) {
	query, args, err := db.sb.Select("url").From("items").Where(sq.Eq{"source_id": sourceID}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query item urls: %w", err)
	}
	defer rows.Close()
	urls := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		if u != "" {
			urls[u] = true
		}
	}
	return urls, rows.Err()
}

// UpsertItems inserts items in one transaction, skipping urls that already
// exist. It returns the number of rows written, or len(items) when the
// driver cannot report affected rows.
func (db *DB) UpsertItems(ctx context.Context, items []model.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	inserted := 0
	for start := 0; start < len(items); start += upsertBatch {
		end := min(start+upsertBatch, len(items))
		q := db.sb.Insert("items").Columns("source_id", "title", "url", "content", "summary", "published")
		for _, it := range items[start:end] {
			q = q.Values(it.SourceID, it.Title, it.URL, it.Content, it.Summary, it.Published)
		}
		query, args, err := q.Suffix("ON CONFLICT (url) DO NOTHING").ToSql()
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upsert items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(end - start)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// LatestItems returns up to limit items, newest first.
func (db *DB) LatestItems(ctx context.Context, limit int) ([]model.Item, error) {
	q := db.sb.Select("id", "source_id", "title", "url", "content", "summary", "published").
		From("items").
		OrderBy("published DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latest items: %w", err)
	}
	defer rows.Close()
	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.SourceID, &it.Title, &it.URL, &it.Content, &it.Summary, &it.Published); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateItemStory rewrites the title and summary of the item with url.
func (db *DB) UpdateItemStory(ctx context.Context, url, title, summary string) error {
	query, args, err := db.sb.Update("items").
		Set("title", title).
		Set("summary", summary).
		Where(sq.Eq{"url": url}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Feedback and History Methods ---

// AddFeedback stores an editorial rating and returns the created row.
func (db *DB) AddFeedback(ctx context.Context, fb model.Feedback) (*model.Feedback, error) {
	if fb.Diff == nil {
		fb.Diff = map[string]any{}
	}
	diff, err := json.Marshal(fb.Diff)
	if err != nil {
		return nil, fmt.Errorf("encode diff: %w", err)
	}
	query, args, err := db.sb.Insert("feedback").
		Columns("item_id", "thumbs", "diff").
		Values(fb.ItemID, fb.Thumbs, string(diff)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&fb.ID); err != nil {
		return nil, fmt.Errorf("add feedback: %w", err)
	}
	return &fb, nil
}

// RecordRun appends a send attempt to the history.
func (db *DB) RecordRun(ctx context.Context, run model.Run) error {
	query, args, err := db.sb.Insert("runs").
		Columns("id", "run_date", "status", "subject").
		Values(run.ID, run.RunDate.UTC().Format(time.RFC3339), run.Status, run.Subject).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, most recent first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	q := db.sb.Select("id", "run_date", "status", "subject").From("runs").OrderBy("run_date DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	runs := []model.Run{}
	for rows.Next() {
		var r model.Run
		var date string
		if err := rows.Scan(&r.ID, &date, &r.Status, &r.Subject); err != nil {
			return nil, err
		}
		r.RunDate, err = time.Parse(time.RFC3339, date)
		if err != nil {
			return nil, fmt.Errorf("list runs: run %s has bad run_date %q: %w", r.ID, date, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
