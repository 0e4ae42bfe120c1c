package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/masahif/sitecrawler/internal/crawler"
)

// PostgresConfig controls the connection pool of a PostgresQueue
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresQueue implements crawler.Queue and crawler.ResultStore on PostgreSQL
type PostgresQueue struct {
	pool pgxPool
}

// NewPostgresQueue connects to the database and creates the schema
func NewPostgresQueue(ctx context.Context, cfg PostgresConfig) (*PostgresQueue, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("queue.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	q := &PostgresQueue{pool: pool}
	if err := q.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return q, nil
}

// NewPostgresQueueWithPool constructs a queue from an existing pool (primarily for testing)
func NewPostgresQueueWithPool(pool pgxPool) (*PostgresQueue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresQueue{pool: pool}, nil
}

// InitSchema creates the tables if needed
func (q *PostgresQueue) InitSchema(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the pool
func (q *PostgresQueue) Close() {
	if q == nil || q.pool == nil {
		return
	}
	q.pool.Close()
}

// CreateJob implements crawler.Queue
func (q *PostgresQueue) CreateJob(ctx context.Context, baseURIs *crawler.BaseURICollection) (string, error) {
	encoded, err := json.Marshal(baseURIs.All())
	if err != nil {
		return "", fmt.Errorf("marshal base URIs: %w", err)
	}

	jobID := uuid.NewString()
	if _, err := q.pool.Exec(ctx,
		`INSERT INTO crawl_jobs (job_id, base_uris) VALUES ($1, $2)`,
		jobID, encoded,
	); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return jobID, nil
}

// IsJobIDValid implements crawler.Queue
func (q *PostgresQueue) IsJobIDValid(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	if err := q.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM crawl_jobs WHERE job_id = $1)`, jobID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("look up job: %w", err)
	}
	return exists, nil
}

// GetBaseURIs implements crawler.Queue
func (q *PostgresQueue) GetBaseURIs(ctx context.Context, jobID string) (*crawler.BaseURICollection, error) {
	var encoded []byte
	err := q.pool.QueryRow(ctx,
		`SELECT base_uris FROM crawl_jobs WHERE job_id = $1`, jobID,
	).Scan(&encoded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &crawler.UnknownJobError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("load base URIs: %w", err)
	}
	return decodeBaseURIs(encoded)
}

// DeleteJob implements crawler.Queue. Queue rows go with the job through ON DELETE CASCADE.
func (q *PostgresQueue) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM crawl_jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// Add implements crawler.Queue
func (q *PostgresQueue) Add(ctx context.Context, jobID string, uri *crawler.CrawlURI) (bool, error) {
	tags, err := encodeTags(uri.Tags)
	if err != nil {
		return false, err
	}

	tag, err := q.pool.Exec(ctx, `
		INSERT INTO crawl_queue (job_id, uri, found_on, level, processed, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, uri) DO NOTHING`,
		jobID, uri.URI, uri.FoundOn, uri.Level, uri.Processed, []byte(tags),
	)
	if err != nil {
		return false, fmt.Errorf("insert URI %s: %w", uri.URI, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get implements crawler.Queue
func (q *PostgresQueue) Get(ctx context.Context, jobID, uri string) (*crawler.CrawlURI, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT uri, found_on, level, processed, tags
		FROM crawl_queue
		WHERE job_id = $1 AND uri = $2`,
		jobID, uri,
	)
	item, err := scanPgCrawlURI(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get URI %s: %w", uri, err)
	}
	return item, nil
}

// Next implements crawler.Queue
func (q *PostgresQueue) Next(ctx context.Context, jobID string, skip int) (*crawler.CrawlURI, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT uri, found_on, level, processed, tags
		FROM crawl_queue
		WHERE job_id = $1 AND NOT processed
		ORDER BY id ASC
		LIMIT 1 OFFSET $2`,
		jobID, skip,
	)
	item, err := scanPgCrawlURI(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next from queue: %w", err)
	}
	return item, nil
}

// MarkProcessed implements crawler.Queue
func (q *PostgresQueue) MarkProcessed(ctx context.Context, jobID string, uri *crawler.CrawlURI) error {
	tags, err := encodeTags(uri.Tags)
	if err != nil {
		return err
	}

	tag, err := q.pool.Exec(ctx, `
		UPDATE crawl_queue SET processed = TRUE, tags = $1, processed_at = now()
		WHERE job_id = $2 AND uri = $3`,
		[]byte(tags), jobID, uri.URI,
	)
	if err != nil {
		return fmt.Errorf("mark %s processed: %w", uri.URI, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotQueued, uri.URI)
	}
	return nil
}

// Count implements crawler.Queue
func (q *PostgresQueue) Count(ctx context.Context, jobID string) (int, int, error) {
	var total, pending int
	if err := q.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT processed)
		FROM crawl_queue
		WHERE job_id = $1`,
		jobID,
	).Scan(&total, &pending); err != nil {
		return 0, 0, fmt.Errorf("count queue: %w", err)
	}
	return total, pending, nil
}

// URIs returns every URI of the job in insertion order
func (q *PostgresQueue) URIs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT uri FROM crawl_queue WHERE job_id = $1 ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query URIs: %w", err)
	}
	uris, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect URIs: %w", err)
	}
	return uris, nil
}

// SaveResults implements crawler.ResultStore
func (q *PostgresQueue) SaveResults(ctx context.Context, jobID string, results map[string]*crawler.SubscriberResult) error {
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	tag, err := q.pool.Exec(ctx,
		`UPDATE crawl_jobs SET results = $1, updated_at = now() WHERE job_id = $2`,
		encoded, jobID,
	)
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &crawler.UnknownJobError{JobID: jobID}
	}
	return nil
}

// LoadResults implements crawler.ResultStore
func (q *PostgresQueue) LoadResults(ctx context.Context, jobID string) (map[string]*crawler.SubscriberResult, error) {
	var encoded []byte
	err := q.pool.QueryRow(ctx,
		`SELECT results FROM crawl_jobs WHERE job_id = $1`, jobID,
	).Scan(&encoded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &crawler.UnknownJobError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	return decodeResults(encoded)
}

// SavePage stores the inventory record of a page, replacing an earlier one
func (q *PostgresQueue) SavePage(ctx context.Context, jobID string, page *crawler.PageData) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO pages (
			job_id, uri, found_on, level, status_code, content_type, title,
			meta_description, meta_robots, canonical_url, content_hash,
			ttfb_ms, response_size_bytes, crawled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (job_id, uri) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			title = EXCLUDED.title,
			meta_description = EXCLUDED.meta_description,
			meta_robots = EXCLUDED.meta_robots,
			canonical_url = EXCLUDED.canonical_url,
			content_hash = EXCLUDED.content_hash,
			ttfb_ms = EXCLUDED.ttfb_ms,
			response_size_bytes = EXCLUDED.response_size_bytes,
			crawled_at = EXCLUDED.crawled_at`,
		jobID, page.URI, page.FoundOn, page.Level, page.StatusCode, page.ContentType, page.Title,
		page.MetaDesc, page.MetaRobots, page.CanonicalURL, page.ContentHash,
		page.TTFB.Milliseconds(), page.ResponseSize, page.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("save page %s: %w", page.URI, err)
	}
	return nil
}

func scanPgCrawlURI(row pgx.Row) (*crawler.CrawlURI, error) {
	var (
		item crawler.CrawlURI
		tags []byte
	)
	if err := row.Scan(&item.URI, &item.FoundOn, &item.Level, &item.Processed, &tags); err != nil {
		return nil, err
	}
	decoded, err := decodeTags(tags)
	if err != nil {
		return nil, err
	}
	item.Tags = decoded
	return &item, nil
}
