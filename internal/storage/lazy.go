package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/masahif/sitecrawler/internal/crawler"
)

// DurableQueue is a queue that survives the process and can list its URIs
type DurableQueue interface {
	crawler.Queue
	URIs(ctx context.Context, jobID string) ([]string, error)
}

// LazyQueue layers a MemoryQueue over a durable queue.
//
// Every write goes through to the durable queue. Jobs created by this process
// are fully mirrored in memory and served from it. Jobs resumed from the
// durable queue are read from the durable queue, with memory acting as a
// cache and a bloom filter of the known URIs short-circuiting lookups of URIs
// that are certainly new.
type LazyQueue struct {
	memory  *MemoryQueue
	durable DurableQueue

	mu          sync.Mutex
	local       map[string]bool
	filters     map[string]*bloom.BloomFilter
	expectedURI uint
	falsePos    float64
}

// LazyOption configures a LazyQueue
type LazyOption func(*LazyQueue)

// WithBloomEstimates sizes the per-job bloom filter
func WithBloomEstimates(expectedURIs uint, falsePositiveRate float64) LazyOption {
	return func(q *LazyQueue) {
		if expectedURIs > 0 {
			q.expectedURI = expectedURIs
		}
		if falsePositiveRate > 0 && falsePositiveRate < 1 {
			q.falsePos = falsePositiveRate
		}
	}
}

// NewLazyQueue creates a lazy queue over durable
func NewLazyQueue(durable DurableQueue, opts ...LazyOption) *LazyQueue {
	q := &LazyQueue{
		memory:      NewMemoryQueue(),
		durable:     durable,
		local:       make(map[string]bool),
		filters:     make(map[string]*bloom.BloomFilter),
		expectedURI: 1000000,
		falsePos:    0.0001,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Durable returns the underlying durable queue
func (q *LazyQueue) Durable() DurableQueue {
	return q.durable
}

// CreateJob implements crawler.Queue
func (q *LazyQueue) CreateJob(ctx context.Context, baseURIs *crawler.BaseURICollection) (string, error) {
	jobID, err := q.durable.CreateJob(ctx, baseURIs)
	if err != nil {
		return "", err
	}
	q.memory.createJob(jobID, baseURIs)

	q.mu.Lock()
	q.local[jobID] = true
	q.filters[jobID] = bloom.NewWithEstimates(q.expectedURI, q.falsePos)
	q.mu.Unlock()

	return jobID, nil
}

// IsJobIDValid implements crawler.Queue
func (q *LazyQueue) IsJobIDValid(ctx context.Context, jobID string) (bool, error) {
	if q.isLocal(jobID) {
		return true, nil
	}
	return q.durable.IsJobIDValid(ctx, jobID)
}

// GetBaseURIs implements crawler.Queue
func (q *LazyQueue) GetBaseURIs(ctx context.Context, jobID string) (*crawler.BaseURICollection, error) {
	if q.isLocal(jobID) {
		return q.memory.GetBaseURIs(ctx, jobID)
	}
	return q.durable.GetBaseURIs(ctx, jobID)
}

// DeleteJob implements crawler.Queue
func (q *LazyQueue) DeleteJob(ctx context.Context, jobID string) error {
	if err := q.durable.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	_ = q.memory.DeleteJob(ctx, jobID)

	q.mu.Lock()
	delete(q.local, jobID)
	delete(q.filters, jobID)
	q.mu.Unlock()
	return nil
}

// Add implements crawler.Queue
func (q *LazyQueue) Add(ctx context.Context, jobID string, uri *crawler.CrawlURI) (bool, error) {
	filter, err := q.filter(ctx, jobID)
	if err != nil {
		return false, err
	}

	q.mu.Lock()
	maybeKnown := filter.TestString(uri.URI)
	q.mu.Unlock()

	// a cache miss is settled by the durable insert
	if maybeKnown {
		if cached, err := q.cached(ctx, jobID, uri.URI); err != nil || cached != nil {
			return false, err
		}
	}

	return q.insert(ctx, jobID, uri, filter)
}

func (q *LazyQueue) insert(ctx context.Context, jobID string, uri *crawler.CrawlURI, filter *bloom.BloomFilter) (bool, error) {
	added, err := q.durable.Add(ctx, jobID, uri)
	if err != nil || !added {
		return false, err
	}

	q.mu.Lock()
	filter.AddString(uri.URI)
	q.mu.Unlock()

	if err := q.ensureMemoryJob(ctx, jobID); err != nil {
		return false, err
	}
	if _, err := q.memory.Add(ctx, jobID, uri); err != nil {
		return false, err
	}
	return true, nil
}

// Get implements crawler.Queue
func (q *LazyQueue) Get(ctx context.Context, jobID, uri string) (*crawler.CrawlURI, error) {
	filter, err := q.filter(ctx, jobID)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	maybeKnown := filter.TestString(uri)
	q.mu.Unlock()
	if !maybeKnown {
		return nil, nil
	}

	cached, err := q.cached(ctx, jobID, uri)
	if err != nil || cached != nil || q.isLocal(jobID) {
		return cached, err
	}
	return q.durable.Get(ctx, jobID, uri)
}

// Next implements crawler.Queue
func (q *LazyQueue) Next(ctx context.Context, jobID string, skip int) (*crawler.CrawlURI, error) {
	if q.isLocal(jobID) {
		return q.memory.Next(ctx, jobID, skip)
	}
	return q.durable.Next(ctx, jobID, skip)
}

// MarkProcessed implements crawler.Queue
func (q *LazyQueue) MarkProcessed(ctx context.Context, jobID string, uri *crawler.CrawlURI) error {
	if err := q.durable.MarkProcessed(ctx, jobID, uri); err != nil {
		return err
	}
	err := q.memory.MarkProcessed(ctx, jobID, uri)
	var unknown *crawler.UnknownJobError
	if err != nil && !errors.Is(err, ErrNotQueued) && !errors.As(err, &unknown) {
		return err
	}
	return nil
}

// Count implements crawler.Queue
func (q *LazyQueue) Count(ctx context.Context, jobID string) (int, int, error) {
	if q.isLocal(jobID) {
		return q.memory.Count(ctx, jobID)
	}
	return q.durable.Count(ctx, jobID)
}

func (q *LazyQueue) isLocal(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.local[jobID]
}

func (q *LazyQueue) cached(ctx context.Context, jobID, uri string) (*crawler.CrawlURI, error) {
	item, err := q.memory.Get(ctx, jobID, uri)
	var unknown *crawler.UnknownJobError
	if errors.As(err, &unknown) {
		return nil, nil
	}
	return item, err
}

func (q *LazyQueue) ensureMemoryJob(ctx context.Context, jobID string) error {
	if ok, _ := q.memory.IsJobIDValid(ctx, jobID); ok {
		return nil
	}
	baseURIs, err := q.durable.GetBaseURIs(ctx, jobID)
	if err != nil {
		return err
	}
	q.memory.createJob(jobID, baseURIs)
	return nil
}

// filter returns the bloom filter of the job, loading the URIs of a resumed job on first use
func (q *LazyQueue) filter(ctx context.Context, jobID string) (*bloom.BloomFilter, error) {
	q.mu.Lock()
	filter, ok := q.filters[jobID]
	q.mu.Unlock()
	if ok {
		return filter, nil
	}

	uris, err := q.durable.URIs(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load URIs of job %s: %w", jobID, err)
	}

	estimate := q.expectedURI
	if n := uint(len(uris)) * 2; n > estimate {
		estimate = n
	}
	filter = bloom.NewWithEstimates(estimate, q.falsePos)
	for _, uri := range uris {
		filter.AddString(uri)
	}

	q.mu.Lock()
	q.filters[jobID] = filter
	q.mu.Unlock()
	return filter, nil
}
