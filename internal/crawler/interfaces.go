package crawler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Subscriber is the capability set every analyzer implements.
// The engine calls subscribers from a single goroutine.
type Subscriber interface {
	// Name is the stable identifier used for selection and logging
	Name() string
	// ShouldRequest votes on fetching the URI
	ShouldRequest(uri *CrawlURI) Decision
	// NeedsContent is asked once headers are available and again for every
	// chunk while it keeps answering Positive
	NeedsContent(uri *CrawlURI, resp *Response, chunk *Chunk) Decision
	// OnLastChunk fires once per URI for subscribers that were Positive at least once
	OnLastChunk(uri *CrawlURI, resp *Response, chunk *Chunk)
	// Result reports the run outcome, merging previous (may be nil) when resuming
	Result(previous *SubscriberResult) *SubscriberResult
}

// ExceptionAware subscribers are told about per-URI failures.
// resp and chunk are nil when the failure happened before they existed.
type ExceptionAware interface {
	OnException(uri *CrawlURI, err error, resp *Response, chunk *Chunk)
}

// CrawlAware subscribers receive the running crawl before it starts
type CrawlAware interface {
	SetCrawl(c Crawl)
}

// Crawl is the view of a running crawl offered to subscribers
type Crawl interface {
	JobID() string
	BaseURIs() *BaseURICollection
	// Context is cancelled when the run stops
	Context() context.Context
	// GetCrawlURI resolves a normalized URI, e.g. a FoundOn reference
	GetCrawlURI(ctx context.Context, uri string) (*CrawlURI, error)
	// AddURI enqueues a discovered URI; it reports false when it was already known
	AddURI(ctx context.Context, uri *CrawlURI) (bool, error)
	Transport() Transport
	Logger() *slog.Logger
}

// Queue stores the crawl URIs of jobs.
// A URI appears at most once per job; Add of a known URI is a no-op.
type Queue interface {
	// CreateJob allocates a new job ID for the given base URIs
	CreateJob(ctx context.Context, baseURIs *BaseURICollection) (string, error)
	// IsJobIDValid reports whether the job exists
	IsJobIDValid(ctx context.Context, jobID string) (bool, error)
	// GetBaseURIs returns the collection the job was created with
	GetBaseURIs(ctx context.Context, jobID string) (*BaseURICollection, error)
	// DeleteJob removes the job and its URIs
	DeleteJob(ctx context.Context, jobID string) error
	// Add inserts uri unless its normalized URI is already present
	Add(ctx context.Context, jobID string, uri *CrawlURI) (bool, error)
	// Get returns the URI or nil when it is unknown
	Get(ctx context.Context, jobID, uri string) (*CrawlURI, error)
	// Next returns the skip-th earliest-inserted unprocessed URI, or nil
	Next(ctx context.Context, jobID string, skip int) (*CrawlURI, error)
	// MarkProcessed flags the URI processed and persists its tags
	MarkProcessed(ctx context.Context, jobID string, uri *CrawlURI) error
	// Count returns the total and the unprocessed number of URIs
	Count(ctx context.Context, jobID string) (total int, pending int, err error)
}

// ResultStore persists run results so resumed runs can merge them
type ResultStore interface {
	SaveResults(ctx context.Context, jobID string, results map[string]*SubscriberResult) error
	LoadResults(ctx context.Context, jobID string) (map[string]*SubscriberResult, error)
}

// Transport performs the network I/O for the engine
type Transport interface {
	// Fetch issues the request and returns once response metadata is available
	Fetch(ctx context.Context, uri string) (Stream, error)
}

// Stream yields the body of one response in chunks
type Stream interface {
	// Response returns the metadata; it is valid before the first Next call
	Response() *Response
	// Next returns the next chunk. The final chunk has Last set.
	// A non-nil chunk together with an *HTTPStatusError is not terminal.
	Next(ctx context.Context) (*Chunk, error)
	// Close releases the underlying connection
	Close() error
}

// Chunk is a piece of a response body
type Chunk struct {
	Data  []byte
	First bool
	Last  bool
}

// Response is the metadata of a fetched URI plus the content buffered by the engine
type Response struct {
	URL        string // final URL after redirects
	StatusCode int
	Header     http.Header
	TTFB       time.Duration

	content   bytes.Buffer
	truncated bool
}

// ContentType returns the Content-Type header
func (r *Response) ContentType() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// Content returns the body buffered so far
func (r *Response) Content() []byte {
	return r.content.Bytes()
}

// Truncated reports whether the buffered content hit the body size limit
func (r *Response) Truncated() bool {
	return r.truncated
}

func (r *Response) buffer(data []byte, limit int64) {
	if limit > 0 {
		room := limit - int64(r.content.Len())
		if room <= 0 {
			r.truncated = r.truncated || len(data) > 0
			return
		}
		if int64(len(data)) > room {
			data = data[:room]
			r.truncated = true
		}
	}
	r.content.Write(data)
}

// MetricsRecorder receives crawl progress observations
type MetricsRecorder interface {
	ObserveURI(outcome string)
	ObserveResponse(host string, statusCode int, bytes int)
	SetPending(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveURI(string)                {}
func (nopRecorder) ObserveResponse(string, int, int) {}
func (nopRecorder) SetPending(int)                   {}
