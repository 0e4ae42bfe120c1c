package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/masahif/sitecrawler/internal/crawler"
)

// MemoryQueue is a non-persistent crawler.Queue and crawler.ResultStore.
// Records are copied on the way in and out, like a durable store would.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
}

type memoryJob struct {
	baseURIs *crawler.BaseURICollection
	items    []*crawler.CrawlURI
	index    map[string]int
	// items before cursor are all processed
	cursor  int
	results map[string]*crawler.SubscriberResult
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]*memoryJob)}
}

// CreateJob implements crawler.Queue
func (q *MemoryQueue) CreateJob(_ context.Context, baseURIs *crawler.BaseURICollection) (string, error) {
	jobID := uuid.NewString()
	q.createJob(jobID, baseURIs)
	return jobID, nil
}

func (q *MemoryQueue) createJob(jobID string, baseURIs *crawler.BaseURICollection) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[jobID] = &memoryJob{
		baseURIs: baseURIs,
		index:    make(map[string]int),
	}
}

// IsJobIDValid implements crawler.Queue
func (q *MemoryQueue) IsJobIDValid(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[jobID]
	return ok, nil
}

// GetBaseURIs implements crawler.Queue
func (q *MemoryQueue) GetBaseURIs(_ context.Context, jobID string) (*crawler.BaseURICollection, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, &crawler.UnknownJobError{JobID: jobID}
	}
	return job.baseURIs, nil
}

// DeleteJob implements crawler.Queue
func (q *MemoryQueue) DeleteJob(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, jobID)
	return nil
}

// Add implements crawler.Queue
func (q *MemoryQueue) Add(_ context.Context, jobID string, uri *crawler.CrawlURI) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.job(jobID)
	if err != nil {
		return false, err
	}
	if _, exists := job.index[uri.URI]; exists {
		return false, nil
	}
	job.index[uri.URI] = len(job.items)
	job.items = append(job.items, uri.Clone())
	return true, nil
}

// Get implements crawler.Queue
func (q *MemoryQueue) Get(_ context.Context, jobID, uri string) (*crawler.CrawlURI, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.job(jobID)
	if err != nil {
		return nil, err
	}
	i, ok := job.index[uri]
	if !ok {
		return nil, nil
	}
	return job.items[i].Clone(), nil
}

// Next implements crawler.Queue
func (q *MemoryQueue) Next(_ context.Context, jobID string, skip int) (*crawler.CrawlURI, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.job(jobID)
	if err != nil {
		return nil, err
	}

	for job.cursor < len(job.items) && job.items[job.cursor].Processed {
		job.cursor++
	}
	for _, item := range job.items[job.cursor:] {
		if item.Processed {
			continue
		}
		if skip == 0 {
			return item.Clone(), nil
		}
		skip--
	}
	return nil, nil
}

// MarkProcessed implements crawler.Queue
func (q *MemoryQueue) MarkProcessed(_ context.Context, jobID string, uri *crawler.CrawlURI) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.job(jobID)
	if err != nil {
		return err
	}
	i, ok := job.index[uri.URI]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotQueued, uri.URI)
	}
	stored := uri.Clone()
	stored.Processed = true
	job.items[i] = stored
	return nil
}

// Count implements crawler.Queue
func (q *MemoryQueue) Count(_ context.Context, jobID string) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.job(jobID)
	if err != nil {
		return 0, 0, err
	}
	pending := 0
	for _, item := range job.items[job.cursor:] {
		if !item.Processed {
			pending++
		}
	}
	return len(job.items), pending, nil
}

// URIs returns every URI of the job in insertion order
func (q *MemoryQueue) URIs(_ context.Context, jobID string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.job(jobID)
	if err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(job.items))
	for _, item := range job.items {
		uris = append(uris, item.URI)
	}
	return uris, nil
}

// SaveResults implements crawler.ResultStore
func (q *MemoryQueue) SaveResults(_ context.Context, jobID string, results map[string]*crawler.SubscriberResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.job(jobID)
	if err != nil {
		return err
	}
	job.results = make(map[string]*crawler.SubscriberResult, len(results))
	for name, r := range results {
		job.results[name] = r
	}
	return nil
}

// LoadResults implements crawler.ResultStore
func (q *MemoryQueue) LoadResults(_ context.Context, jobID string) (map[string]*crawler.SubscriberResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.job(jobID)
	if err != nil {
		return nil, err
	}
	results := make(map[string]*crawler.SubscriberResult, len(job.results))
	for name, r := range job.results {
		results[name] = r
	}
	return results, nil
}

func (q *MemoryQueue) job(jobID string) (*memoryJob, error) {
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, &crawler.UnknownJobError{JobID: jobID}
	}
	return job, nil
}
