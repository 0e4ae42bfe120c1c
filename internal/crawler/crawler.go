// Package crawler provides the core of the resumable site crawler.
// A Crawler drains the URIs of one job from a Queue, lets subscribers vote on
// fetching each URI, streams responses through the injected Transport to the
// subscribers that asked for content and aggregates their results.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// URI outcomes reported to the MetricsRecorder
const (
	OutcomeFetched = "fetched"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	// ErrStopped is returned by Crawl when it ended before the queue was exhausted.
	// Unprocessed URIs stay queued for a later Resume.
	ErrStopped = errors.New("crawl stopped before the queue was exhausted")
	// ErrNoSubscribers is returned by Crawl when no subscriber was added
	ErrNoSubscribers = errors.New("no subscribers registered")
)

// Option configures a Crawler
type Option func(*Crawler)

// WithLogger sets the logger used by the engine and handed to subscribers
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConcurrency sets how many requests may be in flight at once
func WithConcurrency(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxDepth skips URIs whose level exceeds n (0 = unlimited)
func WithMaxDepth(n int) Option {
	return func(c *Crawler) { c.maxDepth = n }
}

// WithMaxRequests stops the run after n requests (0 = unlimited)
func WithMaxRequests(n int) Option {
	return func(c *Crawler) { c.maxRequests = n }
}

// WithMaxBodySize caps the content buffered per response (0 = unlimited)
func WithMaxBodySize(n int64) Option {
	return func(c *Crawler) { c.maxBodySize = n }
}

// WithMetrics sets the recorder for progress metrics
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Crawler) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Crawler is the crawl engine of one job
type Crawler struct {
	jobID       string
	baseURIs    *BaseURICollection
	queue       Queue
	transport   Transport
	subscribers []Subscriber
	logger      *slog.Logger
	metrics     MetricsRecorder

	concurrency int
	maxDepth    int
	maxRequests int
	maxBodySize int64

	runCtx   context.Context
	requests int
	stopped  atomic.Bool
}

// New creates a job for baseURIs in queue and seeds it
func New(ctx context.Context, baseURIs *BaseURICollection, queue Queue, transport Transport, opts ...Option) (*Crawler, error) {
	if baseURIs == nil || baseURIs.Len() == 0 {
		return nil, ErrEmptyBaseURIs
	}

	jobID, err := queue.CreateJob(ctx, baseURIs)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	c := newCrawler(jobID, baseURIs, queue, transport, opts)
	for _, seed := range baseURIs.All() {
		if _, err := queue.Add(ctx, jobID, &CrawlURI{URI: seed}); err != nil {
			return nil, fmt.Errorf("failed to add seed %s: %w", seed, err)
		}
	}

	c.logger.Info("Created crawl job", "job_id", jobID, "base_uris", baseURIs.All())
	return c, nil
}

// Resume continues the job jobID from its first unprocessed URI
func Resume(ctx context.Context, jobID string, queue Queue, transport Transport, opts ...Option) (*Crawler, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, &InvalidJobIDError{JobID: jobID, Err: err}
	}

	valid, err := queue.IsJobIDValid(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job %s: %w", jobID, err)
	}
	if !valid {
		return nil, &UnknownJobError{JobID: jobID}
	}

	baseURIs, err := queue.GetBaseURIs(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load base URIs of job %s: %w", jobID, err)
	}

	c := newCrawler(jobID, baseURIs, queue, transport, opts)
	c.logger.Info("Resuming crawl job", "job_id", jobID)
	return c, nil
}

func newCrawler(jobID string, baseURIs *BaseURICollection, queue Queue, transport Transport, opts []Option) *Crawler {
	c := &Crawler{
		jobID:       jobID,
		baseURIs:    baseURIs,
		queue:       queue,
		transport:   transport,
		logger:      slog.Default(),
		metrics:     nopRecorder{},
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("job_id", jobID)
	return c
}

// AddSubscriber registers s. Subscribers are consulted in registration order.
func (c *Crawler) AddSubscriber(s Subscriber) {
	if aware, ok := s.(CrawlAware); ok {
		aware.SetCrawl(c)
	}
	c.subscribers = append(c.subscribers, s)
}

// Subscribers returns the registered subscribers
func (c *Crawler) Subscribers() []Subscriber {
	return append([]Subscriber(nil), c.subscribers...)
}

// JobID implements Crawl
func (c *Crawler) JobID() string { return c.jobID }

// BaseURIs implements Crawl
func (c *Crawler) BaseURIs() *BaseURICollection { return c.baseURIs }

// Context implements Crawl
func (c *Crawler) Context() context.Context {
	if c.runCtx == nil {
		return context.Background()
	}
	return c.runCtx
}

// Transport implements Crawl
func (c *Crawler) Transport() Transport { return c.transport }

// Logger implements Crawl
func (c *Crawler) Logger() *slog.Logger { return c.logger }

// GetCrawlURI implements Crawl
func (c *Crawler) GetCrawlURI(ctx context.Context, uri string) (*CrawlURI, error) {
	normalized, err := NormalizeURI(uri)
	if err != nil {
		return nil, err
	}
	return c.queue.Get(ctx, c.jobID, normalized)
}

// AddURI implements Crawl
func (c *Crawler) AddURI(ctx context.Context, uri *CrawlURI) (bool, error) {
	return c.queue.Add(ctx, c.jobID, uri)
}

// Stop makes Crawl return after the URI currently being processed
func (c *Crawler) Stop() {
	c.stopped.Store(true)
}

// Requests returns the number of requests issued by this run
func (c *Crawler) Requests() int {
	return c.requests
}

// Crawl drains the queue. It returns nil once every URI is processed and an
// error wrapping ErrStopped when cancelled, stopped or the request limit hit.
// Per-URI failures never end the run; queue failures do.
func (c *Crawler) Crawl(ctx context.Context) error {
	if len(c.subscribers) == 0 {
		return ErrNoSubscribers
	}
	c.runCtx = ctx
	defer func() { c.runCtx = nil }()

	c.logger.Info("Starting crawl", "subscribers", c.subscriberNames(), "concurrency", c.concurrency)

	for {
		if err := c.stopCause(ctx); err != nil {
			return err
		}

		batch, exhausted, err := c.claimBatch(ctx)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			if exhausted {
				break
			}
			// nothing claimable without exceeding the limits
			if err := c.stopCause(ctx); err != nil {
				return err
			}
			continue
		}

		if err := c.processBatch(ctx, batch); err != nil {
			return err
		}
		c.reportPending(ctx)
	}

	c.logger.Info("Crawl finished", "requests", c.requests)
	return nil
}

func (c *Crawler) stopCause(ctx context.Context) error {
	switch {
	case ctx.Err() != nil:
		c.logger.Info("Crawl cancelled", "requests", c.requests)
		return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
	case c.stopped.Load():
		c.logger.Info("Crawl stopped", "requests", c.requests)
		return ErrStopped
	case c.maxRequests > 0 && c.requests >= c.maxRequests:
		c.logger.Info("Request limit reached", "limit", c.maxRequests)
		return fmt.Errorf("%w: limit of %d requests reached", ErrStopped, c.maxRequests)
	}
	return nil
}

// claimBatch evaluates unprocessed URIs in queue order until it holds up to
// concurrency URIs that are to be fetched. Skipped URIs are finalized here.
func (c *Crawler) claimBatch(ctx context.Context) ([]*CrawlURI, bool, error) {
	var batch []*CrawlURI
	for len(batch) < c.concurrency {
		if c.maxRequests > 0 && c.requests+len(batch) >= c.maxRequests {
			return batch, false, nil
		}
		if ctx.Err() != nil || c.stopped.Load() {
			return batch, false, nil
		}

		uri, err := c.queue.Next(ctx, c.jobID, len(batch))
		if err != nil {
			return nil, false, fmt.Errorf("failed to get next URI: %w", err)
		}
		if uri == nil {
			return batch, true, nil
		}

		if c.shouldRequest(uri) {
			batch = append(batch, uri)
			continue
		}

		c.metrics.ObserveURI(OutcomeSkipped)
		if err := c.markProcessed(ctx, uri); err != nil {
			return nil, false, err
		}
	}
	return batch, false, nil
}

func (c *Crawler) shouldRequest(uri *CrawlURI) bool {
	if c.maxDepth > 0 && uri.Level > c.maxDepth {
		c.logger.Debug("Skipped URI, maximum depth reached", append(uri.LogAttrs(), "max_depth", c.maxDepth)...)
		return false
	}

	// every subscriber votes, votes may tag the URI for later ones
	positive := false
	for _, s := range c.subscribers {
		if s.ShouldRequest(uri) == Positive {
			positive = true
		}
	}

	if !positive {
		c.logger.Debug("Skipped URI, no subscriber requested it", uri.LogAttrs()...)
	}
	return positive
}

type fetched struct {
	stream Stream
	err    error
}

func (c *Crawler) processBatch(ctx context.Context, batch []*CrawlURI) error {
	results := make([]fetched, len(batch))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, uri := range batch {
		g.Go(func() error {
			stream, err := c.transport.Fetch(ctx, uri.URI)
			results[i] = fetched{stream: stream, err: err}
			return nil
		})
	}
	_ = g.Wait()
	c.requests += len(batch)

	for i, uri := range batch {
		if ctx.Err() != nil || c.stopped.Load() {
			closeStreams(results[i:])
			return nil
		}

		if !c.process(ctx, uri, results[i]) {
			closeStreams(results[i+1:])
			return nil
		}
		if err := c.markProcessed(ctx, uri); err != nil {
			closeStreams(results[i+1:])
			return err
		}
	}
	return nil
}

func closeStreams(results []fetched) {
	for _, r := range results {
		if r.stream != nil {
			_ = r.stream.Close()
		}
	}
}

// process delivers one response to the subscribers. It returns false when the
// run was cancelled before the URI could be finalized.
func (c *Crawler) process(ctx context.Context, uri *CrawlURI, f fetched) bool {
	if f.err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.logger.Debug("Request failed", append(uri.LogAttrs(), "error", f.err)...)
		c.metrics.ObserveURI(OutcomeFailed)
		c.notifyException(uri, f.err, nil, nil)
		return true
	}
	defer func() { _ = f.stream.Close() }()

	resp := f.stream.Response()
	c.metrics.ObserveResponse(uri.Host(), resp.StatusCode, 0)

	active := make([]int, len(c.subscribers))
	for i := range active {
		active[i] = i
	}
	everPositive := make([]bool, len(c.subscribers))
	anyPositive := false

	for {
		chunk, err := f.stream.Next(ctx)
		var statusErr *HTTPStatusError
		statusChunk := err != nil && chunk != nil && errors.As(err, &statusErr)
		if err != nil && !statusChunk {
			if ctx.Err() != nil {
				return false
			}
			c.logger.Debug("Response stream failed", append(uri.LogAttrs(), "error", err)...)
			c.metrics.ObserveURI(OutcomeFailed)
			c.notifyException(uri, err, resp, chunk)
			return true
		}

		c.metrics.ObserveResponse(uri.Host(), 0, len(chunk.Data))

		next := active[:0]
		for _, idx := range active {
			if c.subscribers[idx].NeedsContent(uri, resp, chunk) == Positive {
				everPositive[idx] = true
				anyPositive = true
				next = append(next, idx)
			}
		}
		active = next

		if anyPositive {
			resp.buffer(chunk.Data, c.maxBodySize)
		}

		// status errors accompany every chunk, so the stream is read to its end
		if statusChunk {
			c.notifyException(uri, err, resp, chunk)
		}

		if chunk.Last {
			c.lastChunk(uri, resp, chunk, everPositive)
			c.metrics.ObserveURI(OutcomeFetched)
			return true
		}

		if !anyPositive && !statusChunk {
			c.logger.Debug("No subscriber needs the content", append(uri.LogAttrs(), "status_code", resp.StatusCode)...)
			c.metrics.ObserveURI(OutcomeFetched)
			return true
		}
	}
}

func (c *Crawler) lastChunk(uri *CrawlURI, resp *Response, chunk *Chunk, everPositive []bool) {
	for idx, s := range c.subscribers {
		if everPositive[idx] {
			s.OnLastChunk(uri, resp, chunk)
		}
	}
}

func (c *Crawler) notifyException(uri *CrawlURI, err error, resp *Response, chunk *Chunk) {
	for _, s := range c.subscribers {
		if aware, ok := s.(ExceptionAware); ok {
			aware.OnException(uri, err, resp, chunk)
		}
	}
}

// markProcessed finalizes uri even when ctx was cancelled after its subscribers ran
func (c *Crawler) markProcessed(ctx context.Context, uri *CrawlURI) error {
	uri.Processed = true
	if err := c.queue.MarkProcessed(context.WithoutCancel(ctx), c.jobID, uri); err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", uri.URI, err)
	}
	return nil
}

func (c *Crawler) reportPending(ctx context.Context) {
	_, pending, err := c.queue.Count(ctx, c.jobID)
	if err != nil {
		c.logger.Warn("Failed to count pending URIs", "error", err)
		return
	}
	c.metrics.SetPending(pending)
}

// Results asks every subscriber for its result. previous holds the results of
// an earlier run of the job keyed by subscriber name; it is passed through
// unmodified and merging is up to each subscriber.
func (c *Crawler) Results(previous map[string]*SubscriberResult) *RunResult {
	run := &RunResult{
		JobID:   c.jobID,
		Results: make(map[string]*SubscriberResult, len(c.subscribers)),
	}
	for _, s := range c.subscribers {
		name := s.Name()
		run.Results[name] = s.Result(previous[name])
		run.Order = append(run.Order, name)
	}
	return run
}

func (c *Crawler) subscriberNames() []string {
	names := make([]string, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		names = append(names, s.Name())
	}
	return names
}
