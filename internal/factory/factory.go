// Package factory composes crawl engines: it owns the registry of selectable
// subscribers, validates a selection and wires the default subscribers ahead
// of the selected ones.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/masahif/sitecrawler/internal/crawler"
	"github.com/masahif/sitecrawler/internal/storage"
	"github.com/masahif/sitecrawler/internal/subscriber"
)

// Options configure the subscribers and engines a Factory builds
type Options struct {
	UserAgent     string
	RespectRobots bool
	// PageSink receives page-inventory records, nil to only count pages
	PageSink subscriber.PageSink
	// Engine options applied to every created engine
	Engine []crawler.Option
	Logger *slog.Logger
}

// Constructor creates a fresh subscriber instance
type Constructor func(opts Options) crawler.Subscriber

// Factory builds engines for new and resumed jobs
type Factory struct {
	opts       Options
	names      []string
	registry   map[string]Constructor
	additional *crawler.BaseURICollection
}

// New creates a factory with the built-in selectable subscribers registered
func New(opts Options) *Factory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	f := &Factory{opts: opts, registry: make(map[string]Constructor)}
	f.AddSubscriber(subscriber.NameBrokenLinkChecker, func(Options) crawler.Subscriber {
		return subscriber.NewBrokenLinkChecker()
	})
	f.AddSubscriber(subscriber.NamePageInventory, func(o Options) crawler.Subscriber {
		return subscriber.NewPageInventory(o.PageSink)
	})
	return f
}

// AddSubscriber registers a selectable subscriber, replacing one of the same name
func (f *Factory) AddSubscriber(name string, ctor Constructor) {
	if _, exists := f.registry[name]; !exists {
		f.names = append(f.names, name)
	}
	f.registry[name] = ctor
}

// SubscriberNames returns the selectable names in registration order
func (f *Factory) SubscriberNames() []string {
	return slices.Clone(f.names)
}

// Subscribers instantiates the selected subscribers. Unknown names are
// skipped, but at least one name has to match.
func (f *Factory) Subscribers(selected []string) ([]crawler.Subscriber, error) {
	var subs []crawler.Subscriber
	seen := make(map[string]bool)
	for _, name := range selected {
		ctor, ok := f.registry[name]
		if !ok {
			f.opts.Logger.Warn("Ignoring unknown subscriber", "name", name, "valid", f.names)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		subs = append(subs, ctor(f.opts))
	}

	if len(subs) == 0 {
		return nil, &crawler.InvalidSubscriberSelectionError{Selected: selected, Valid: f.SubscriberNames()}
	}
	return subs, nil
}

// SetAdditionalURIs sets URIs merged into every base URI collection built by
// BaseURICollection, e.g. further hosts of the same site
func (f *Factory) SetAdditionalURIs(rawURLs ...string) error {
	additional, err := crawler.NewBaseURICollection(rawURLs...)
	if err != nil {
		return fmt.Errorf("invalid additional URI: %w", err)
	}
	f.additional = additional
	return nil
}

// BaseURICollection builds the crawl boundary from rawURLs and the additional URIs
func (f *Factory) BaseURICollection(rawURLs ...string) (*crawler.BaseURICollection, error) {
	base, err := crawler.NewBaseURICollection(rawURLs...)
	if err != nil {
		return nil, err
	}
	base = base.MergeWith(f.additional)
	if base.Len() == 0 {
		return nil, crawler.ErrEmptyBaseURIs
	}
	return base, nil
}

// CreateLazyQueue wraps durable in a LazyQueue
func CreateLazyQueue(durable storage.DurableQueue, opts ...storage.LazyOption) *storage.LazyQueue {
	return storage.NewLazyQueue(durable, opts...)
}

// Create starts a new job for baseURIs
func (f *Factory) Create(ctx context.Context, baseURIs *crawler.BaseURICollection, queue crawler.Queue, transport crawler.Transport, selected []string) (*crawler.Crawler, error) {
	subs, err := f.Subscribers(selected)
	if err != nil {
		return nil, err
	}

	c, err := crawler.New(ctx, baseURIs, queue, transport, f.engineOptions()...)
	if err != nil {
		return nil, err
	}
	f.wire(c, subs)
	return c, nil
}

// CreateFromJobID resumes the job jobID
func (f *Factory) CreateFromJobID(ctx context.Context, jobID string, queue crawler.Queue, transport crawler.Transport, selected []string) (*crawler.Crawler, error) {
	subs, err := f.Subscribers(selected)
	if err != nil {
		return nil, err
	}

	c, err := crawler.Resume(ctx, jobID, queue, transport, f.engineOptions()...)
	if err != nil {
		return nil, err
	}
	f.wire(c, subs)
	return c, nil
}

func (f *Factory) engineOptions() []crawler.Option {
	return append([]crawler.Option{crawler.WithLogger(f.opts.Logger)}, f.opts.Engine...)
}

// wire registers the default subscribers first
func (f *Factory) wire(c *crawler.Crawler, selected []crawler.Subscriber) {
	c.AddSubscriber(subscriber.NewRobots(f.opts.UserAgent, f.opts.RespectRobots))
	c.AddSubscriber(subscriber.NewHTMLCrawler())
	for _, s := range selected {
		c.AddSubscriber(s)
	}
}
