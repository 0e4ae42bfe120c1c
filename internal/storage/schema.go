package storage

const schemaSQL = `
-- One row per crawl job; base_uris and results are JSON documents
CREATE TABLE IF NOT EXISTS crawl_jobs (
    job_id TEXT PRIMARY KEY NOT NULL,
    base_uris TEXT NOT NULL,
    results TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME
);

-- Queue of crawl URIs; id preserves insertion order
CREATE TABLE IF NOT EXISTS crawl_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES crawl_jobs(job_id) ON DELETE CASCADE,
    uri TEXT NOT NULL,
    found_on TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    tags TEXT NOT NULL DEFAULT '[]',
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    processed_at DATETIME,
    UNIQUE(job_id, uri)
);

CREATE INDEX IF NOT EXISTS idx_crawl_queue_pending ON crawl_queue(job_id, processed, id);

-- Page inventory written by the page-inventory subscriber
CREATE TABLE IF NOT EXISTS pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES crawl_jobs(job_id) ON DELETE CASCADE,
    uri TEXT NOT NULL,
    found_on TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL DEFAULT 0,
    status_code INTEGER,
    content_type TEXT,
    title TEXT,
    meta_description TEXT,
    meta_robots TEXT,
    canonical_url TEXT,
    content_hash TEXT,
    ttfb_ms INTEGER,
    response_size_bytes INTEGER,
    crawled_at DATETIME,
    UNIQUE(job_id, uri)
);

CREATE INDEX IF NOT EXISTS idx_pages_content_hash ON pages(job_id, content_hash) WHERE content_hash IS NOT NULL;
`

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
    job_id UUID PRIMARY KEY,
    base_uris JSONB NOT NULL,
    results JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS crawl_queue (
    id BIGSERIAL PRIMARY KEY,
    job_id UUID NOT NULL REFERENCES crawl_jobs(job_id) ON DELETE CASCADE,
    uri TEXT NOT NULL,
    found_on TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL DEFAULT 0,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    tags JSONB NOT NULL DEFAULT '[]',
    added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    processed_at TIMESTAMPTZ,
    UNIQUE(job_id, uri)
);

CREATE INDEX IF NOT EXISTS idx_crawl_queue_pending ON crawl_queue(job_id, processed, id);

CREATE TABLE IF NOT EXISTS pages (
    id BIGSERIAL PRIMARY KEY,
    job_id UUID NOT NULL REFERENCES crawl_jobs(job_id) ON DELETE CASCADE,
    uri TEXT NOT NULL,
    found_on TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL DEFAULT 0,
    status_code INTEGER,
    content_type TEXT,
    title TEXT,
    meta_description TEXT,
    meta_robots TEXT,
    canonical_url TEXT,
    content_hash TEXT,
    ttfb_ms BIGINT,
    response_size_bytes BIGINT,
    crawled_at TIMESTAMPTZ,
    UNIQUE(job_id, uri)
);
`
