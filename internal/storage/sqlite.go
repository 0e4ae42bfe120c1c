// Package storage provides the crawl queues and the persistence of job
// results and the page inventory.
// It implements an in-memory queue, SQLite and PostgreSQL backed queues and a
// lazy queue that layers memory over a durable one.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/masahif/sitecrawler/internal/crawler"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteQueue implements crawler.Queue and crawler.ResultStore on SQLite
type SQLiteQueue struct {
	db *sql.DB
}

// NewSQLiteQueue opens (or creates) the database at dbPath
func NewSQLiteQueue(dbPath string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	q := &SQLiteQueue{db: db}

	if err := q.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return q, nil
}

// InitSchema creates the database schema
func (q *SQLiteQueue) InitSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := q.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := q.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// CreateJob implements crawler.Queue
func (q *SQLiteQueue) CreateJob(ctx context.Context, baseURIs *crawler.BaseURICollection) (string, error) {
	encoded, err := json.Marshal(baseURIs.All())
	if err != nil {
		return "", fmt.Errorf("failed to marshal base URIs: %w", err)
	}

	jobID := uuid.NewString()
	if _, err := q.db.ExecContext(ctx,
		"INSERT INTO crawl_jobs (job_id, base_uris, created_at) VALUES (?, ?, ?)",
		jobID, string(encoded), time.Now(),
	); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	return jobID, nil
}

// IsJobIDValid implements crawler.Queue
func (q *SQLiteQueue) IsJobIDValid(ctx context.Context, jobID string) (bool, error) {
	var count int
	if err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM crawl_jobs WHERE job_id = ?", jobID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to look up job: %w", err)
	}
	return count > 0, nil
}

// GetBaseURIs implements crawler.Queue
func (q *SQLiteQueue) GetBaseURIs(ctx context.Context, jobID string) (*crawler.BaseURICollection, error) {
	var encoded string
	err := q.db.QueryRowContext(ctx,
		"SELECT base_uris FROM crawl_jobs WHERE job_id = ?", jobID,
	).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &crawler.UnknownJobError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load base URIs: %w", err)
	}
	return decodeBaseURIs([]byte(encoded))
}

// DeleteJob implements crawler.Queue
func (q *SQLiteQueue) DeleteJob(ctx context.Context, jobID string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM pages WHERE job_id = ?",
		"DELETE FROM crawl_queue WHERE job_id = ?",
		"DELETE FROM crawl_jobs WHERE job_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, jobID); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
	}
	return tx.Commit()
}

// Add implements crawler.Queue. INSERT OR IGNORE keeps the first record of a URI.
func (q *SQLiteQueue) Add(ctx context.Context, jobID string, uri *crawler.CrawlURI) (bool, error) {
	tags, err := encodeTags(uri.Tags)
	if err != nil {
		return false, err
	}

	result, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO crawl_queue (job_id, uri, found_on, level, processed, tags, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, jobID, uri.URI, uri.FoundOn, uri.Level, uri.Processed, tags, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to insert URI %s: %w", uri.URI, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// Get implements crawler.Queue
func (q *SQLiteQueue) Get(ctx context.Context, jobID, uri string) (*crawler.CrawlURI, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT uri, found_on, level, processed, tags
		FROM crawl_queue
		WHERE job_id = ? AND uri = ?
	`, jobID, uri)

	item, err := scanCrawlURI(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get URI %s: %w", uri, err)
	}
	return item, nil
}

// Next implements crawler.Queue
func (q *SQLiteQueue) Next(ctx context.Context, jobID string, skip int) (*crawler.CrawlURI, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT uri, found_on, level, processed, tags
		FROM crawl_queue
		WHERE job_id = ? AND processed = 0
		ORDER BY id ASC
		LIMIT 1 OFFSET ?
	`, jobID, skip)

	item, err := scanCrawlURI(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No items in queue
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next from queue: %w", err)
	}
	return item, nil
}

// MarkProcessed implements crawler.Queue
func (q *SQLiteQueue) MarkProcessed(ctx context.Context, jobID string, uri *crawler.CrawlURI) error {
	tags, err := encodeTags(uri.Tags)
	if err != nil {
		return err
	}

	result, err := q.db.ExecContext(ctx, `
		UPDATE crawl_queue SET processed = 1, tags = ?, processed_at = ?
		WHERE job_id = ? AND uri = ?
	`, tags, time.Now(), jobID, uri.URI)
	if err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", uri.URI, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotQueued, uri.URI)
	}
	return nil
}

// Count implements crawler.Queue
func (q *SQLiteQueue) Count(ctx context.Context, jobID string) (total int, pending int, err error) {
	err = q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN processed = 0 THEN 1 ELSE 0 END), 0)
		FROM crawl_queue
		WHERE job_id = ?
	`, jobID).Scan(&total, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return total, pending, nil
}

// URIs returns every URI of the job in insertion order
func (q *SQLiteQueue) URIs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT uri FROM crawl_queue WHERE job_id = ? ORDER BY id ASC", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query URIs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("failed to scan URI: %w", err)
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}

// SaveResults implements crawler.ResultStore
func (q *SQLiteQueue) SaveResults(ctx context.Context, jobID string, results map[string]*crawler.SubscriberResult) error {
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	result, err := q.db.ExecContext(ctx,
		"UPDATE crawl_jobs SET results = ?, updated_at = ? WHERE job_id = ?",
		string(encoded), time.Now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return &crawler.UnknownJobError{JobID: jobID}
	}
	return nil
}

// LoadResults implements crawler.ResultStore. A job without results yields an empty map.
func (q *SQLiteQueue) LoadResults(ctx context.Context, jobID string) (map[string]*crawler.SubscriberResult, error) {
	var encoded sql.NullString
	err := q.db.QueryRowContext(ctx,
		"SELECT results FROM crawl_jobs WHERE job_id = ?", jobID,
	).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &crawler.UnknownJobError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	return decodeResults([]byte(encoded.String))
}

// SavePage stores the inventory record of a page, replacing an earlier one
func (q *SQLiteQueue) SavePage(ctx context.Context, jobID string, page *crawler.PageData) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pages (
			job_id, uri, found_on, level, status_code, content_type, title,
			meta_description, meta_robots, canonical_url, content_hash,
			ttfb_ms, response_size_bytes, crawled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		jobID,
		page.URI,
		page.FoundOn,
		page.Level,
		page.StatusCode,
		page.ContentType,
		page.Title,
		page.MetaDesc,
		page.MetaRobots,
		page.CanonicalURL,
		page.ContentHash,
		page.TTFB.Milliseconds(),
		page.ResponseSize,
		page.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save page %s: %w", page.URI, err)
	}
	return nil
}

// Pages returns the inventory of a job in crawl order
func (q *SQLiteQueue) Pages(ctx context.Context, jobID string) ([]*crawler.PageData, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT uri, found_on, level, status_code, content_type, title,
			meta_description, meta_robots, canonical_url, content_hash,
			ttfb_ms, response_size_bytes, crawled_at
		FROM pages
		WHERE job_id = ?
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pages []*crawler.PageData
	for rows.Next() {
		var (
			page   crawler.PageData
			ttfbMS int64
		)
		if err := rows.Scan(
			&page.URI,
			&page.FoundOn,
			&page.Level,
			&page.StatusCode,
			&page.ContentType,
			&page.Title,
			&page.MetaDesc,
			&page.MetaRobots,
			&page.CanonicalURL,
			&page.ContentHash,
			&ttfbMS,
			&page.ResponseSize,
			&page.CrawledAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		page.TTFB = time.Duration(ttfbMS) * time.Millisecond
		pages = append(pages, &page)
	}
	return pages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCrawlURI(row rowScanner) (*crawler.CrawlURI, error) {
	var (
		item crawler.CrawlURI
		tags string
	)
	if err := row.Scan(&item.URI, &item.FoundOn, &item.Level, &item.Processed, &tags); err != nil {
		return nil, err
	}
	decoded, err := decodeTags([]byte(tags))
	if err != nil {
		return nil, err
	}
	item.Tags = decoded
	return &item, nil
}
