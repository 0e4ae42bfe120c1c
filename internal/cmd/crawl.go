package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/sitecrawler/internal/config"
	"github.com/masahif/sitecrawler/internal/crawler"
	"github.com/masahif/sitecrawler/internal/factory"
	"github.com/masahif/sitecrawler/internal/logging"
	"github.com/masahif/sitecrawler/internal/metrics"
	"github.com/masahif/sitecrawler/internal/storage"
	"github.com/masahif/sitecrawler/internal/subscriber"
	"github.com/masahif/sitecrawler/internal/transport"
)

var errNoBaseURIs = errors.New("no base URIs specified. Provide URLs as arguments or in the config file")

func newCrawlCmd() *cobra.Command {
	crawl := &cobra.Command{
		Use:   "crawl [URLs...]",
		Short: "Start a new crawl job",
		Example: `  sitecrawler crawl https://example.com
  sitecrawler crawl https://example.com -s broken-link-checker,page-inventory
  sitecrawler crawl --config sitecrawler.yml --limit 500`,
		RunE: runCrawl,
	}
	crawl.Flags().Bool("show-config", false, "Show current configuration in YAML format and exit")
	return crawl
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Continue a stopped crawl job",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
}

func newSubscribersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribers",
		Short: "List the selectable subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			f := factory.New(factory.Options{})
			for _, name := range f.SubscriberNames() {
				fmt.Fprintln(out, name)
			}
			fmt.Fprintf(out, "\nAlways active: %s, %s\n", subscriber.NameRobots, subscriber.NameHTMLCrawler)
			return nil
		},
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.BaseURIs = args
	}

	if show, _ := cmd.Flags().GetBool("show-config"); show {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	if len(cfg.BaseURIs) == 0 {
		return errNoBaseURIs
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	base, err := rt.factory.BaseURICollection(cfg.BaseURIs...)
	if err != nil {
		return err
	}
	c, err := rt.factory.Create(ctx, base, rt.queue, rt.transport, cfg.Subscribers)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created job %s\n", c.JobID())
	return rt.run(ctx, c, cmd.OutOrStdout())
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	c, err := rt.factory.CreateFromJobID(ctx, args[0], rt.queue, rt.transport, cfg.Subscribers)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Resuming job %s\n", c.JobID())
	return rt.run(ctx, c, cmd.OutOrStdout())
}

// runtime holds everything a crawl command needs and releases it on Close
type runtime struct {
	logger    *slog.Logger
	queue     crawler.Queue
	results   crawler.ResultStore
	transport *transport.HTTPTransport
	factory   *factory.Factory
	closers   []func() error
}

func newRuntime(ctx context.Context, cfg *config.CrawlConfig, stderr io.Writer) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.NewLogger(logging.Config{
		Level:      level,
		Format:     cfg.Log.Format,
		FilePath:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	rt.logger = logger
	rt.closers = append(rt.closers, logCloser.Close)

	sink, err := rt.openQueue(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}

	engineOpts := []crawler.Option{
		crawler.WithConcurrency(cfg.Concurrency),
		crawler.WithMaxDepth(cfg.MaxDepth),
		crawler.WithMaxRequests(cfg.Limit),
		crawler.WithMaxBodySize(cfg.MaxBodySize),
	}
	if cfg.MetricsAddr != "" {
		recorder, err := rt.serveMetrics(cfg.MetricsAddr)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, crawler.WithMetrics(recorder))
	}

	headers, err := cfg.ParseHeaders()
	if err != nil {
		return nil, err
	}
	username, password := cfg.GetBasicAuthCredentials()
	rt.transport = transport.NewHTTPTransport(transport.Config{
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		RequestDelay:   cfg.Delay(),
		Headers:        headers,
		Username:       username,
		Password:       password,
		FailOnStatus:   cfg.FailOnStatus,
	})
	rt.closers = append(rt.closers, func() error {
		rt.transport.Close()
		return nil
	})

	rt.factory = factory.New(factory.Options{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		PageSink:      sink,
		Engine:        engineOpts,
		Logger:        logger,
	})
	if len(cfg.AdditionalURIs) > 0 {
		if err := rt.factory.SetAdditionalURIs(cfg.AdditionalURIs...); err != nil {
			return nil, err
		}
	}

	return rt, nil
}

// openQueue connects the configured backend and returns the page sink it offers, if any
func (rt *runtime) openQueue(ctx context.Context, qc config.QueueConfig) (subscriber.PageSink, error) {
	switch qc.Driver {
	case config.DriverPostgres:
		pg, err := storage.NewPostgresQueue(ctx, storage.PostgresConfig{DSN: qc.DSN, MaxConns: qc.MaxConns})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error {
			pg.Close()
			return nil
		})
		rt.queue = factory.CreateLazyQueue(pg)
		rt.results = pg
		return pg, nil

	case config.DriverMemory:
		mem := storage.NewMemoryQueue()
		rt.queue = mem
		rt.results = mem
		return nil, nil

	default:
		if dir := filepath.Dir(qc.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err := storage.NewSQLiteQueue(qc.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		rt.queue = factory.CreateLazyQueue(db)
		rt.results = db
		return db, nil
	}
}

func (rt *runtime) serveMetrics(addr string) (*metrics.Recorder, error) {
	recorder, err := metrics.NewRecorder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	rt.logger.Info("Serving metrics", "addr", addr)

	rt.closers = append(rt.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	})
	return recorder, nil
}

// run crawls c, merges the results of earlier runs and persists them
func (rt *runtime) run(ctx context.Context, c *crawler.Crawler, out io.Writer) error {
	start := time.Now()
	crawlErr := c.Crawl(ctx)
	stopped := errors.Is(crawlErr, crawler.ErrStopped)
	if crawlErr != nil && !stopped {
		return crawlErr
	}

	// results are saved even when the crawl was interrupted
	saveCtx := context.WithoutCancel(ctx)
	previous, err := rt.results.LoadResults(saveCtx, c.JobID())
	if err != nil {
		return fmt.Errorf("failed to load previous results: %w", err)
	}
	result := c.Results(previous)
	if err := rt.results.SaveResults(saveCtx, c.JobID(), result.Results); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	rt.logger.Info("Crawl run finished",
		"job_id", c.JobID(),
		"requests", c.Requests(),
		"stopped", stopped,
		"duration", time.Since(start).String())

	printResults(out, result)
	if stopped {
		fmt.Fprintf(out, "\nCrawl stopped before the queue was drained. Continue with:\n  sitecrawler resume %s\n", c.JobID())
	}

	if !result.OK() {
		return ErrResultNotOK
	}
	return nil
}

func printResults(out io.Writer, result *crawler.RunResult) {
	fmt.Fprintf(out, "\nResults for job %s\n", result.JobID)
	for _, name := range result.Order {
		res, ok := result.Results[name]
		if !ok {
			continue
		}
		status := "ok"
		if !res.OK {
			status = "FAILED"
		}
		fmt.Fprintf(out, "  [%s] %s: %s\n", status, name, res.Summary)
	}
}

// Close releases resources in reverse order of acquisition
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.logger != nil {
			rt.logger.Warn("Failed to release resource", "error", err)
		}
	}
	rt.closers = nil
}
