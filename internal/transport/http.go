// Package transport implements the network capability of the crawler.
// HTTPTransport issues GET requests with net/http, paces them per host and
// hands the body to the engine as a stream of chunks.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/masahif/sitecrawler/internal/crawler"
)

// DefaultChunkSize is the maximum size of a chunk handed to subscribers
const DefaultChunkSize = 32 * 1024

// Config configures an HTTPTransport
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	RequestDelay   time.Duration     // minimum delay between requests to the same host
	Headers        map[string]string // sent with every request
	Username       string            // Basic auth username
	Password       string            // Basic auth password
	// FailOnStatus surfaces 4xx/5xx responses as *crawler.HTTPStatusError on every chunk
	FailOnStatus bool
	ChunkSize    int
	MaxRedirects int
}

// HTTPTransport implements crawler.Transport over net/http
type HTTPTransport struct {
	client  *http.Client
	limiter *RateLimiter
	cfg     Config
}

// NewHTTPTransport creates a transport from cfg
func NewHTTPTransport(cfg Config) *HTTPTransport {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &HTTPTransport{
		client:  client,
		limiter: NewRateLimiter(cfg.RequestDelay),
		cfg:     cfg,
	}
}

// SetHostDelay slows down requests to host
func (h *HTTPTransport) SetHostDelay(host string, delay time.Duration) {
	h.limiter.SetHostDelay(host, delay)
}

// Fetch implements crawler.Transport. It returns once the response headers
// arrived; the body is read through the returned stream.
func (h *HTTPTransport) Fetch(ctx context.Context, uri string) (crawler.Stream, error) {
	if err := h.limiter.Wait(ctx, uri); err != nil {
		return nil, &crawler.TransportError{URI: uri, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &crawler.TransportError{URI: uri, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if h.cfg.Username != "" && h.cfg.Password != "" {
		req.SetBasicAuth(h.cfg.Username, h.cfg.Password)
	}
	for name, value := range h.cfg.Headers {
		req.Header.Set(name, value)
	}

	var firstByteTime time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			firstByteTime = time.Now()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	startTime := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &crawler.TransportError{URI: uri, Err: err}
	}

	meta := &crawler.Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	if !firstByteTime.IsZero() {
		meta.TTFB = firstByteTime.Sub(startTime)
	}

	return &httpStream{
		uri:          uri,
		body:         resp.Body,
		meta:         meta,
		chunkSize:    h.cfg.ChunkSize,
		failOnStatus: h.cfg.FailOnStatus,
	}, nil
}

// Close releases idle connections
func (h *HTTPTransport) Close() {
	h.client.CloseIdleConnections()
}

type httpStream struct {
	uri          string
	body         io.ReadCloser
	meta         *crawler.Response
	chunkSize    int
	failOnStatus bool

	started bool
	done    bool
	closed  bool
}

func (s *httpStream) Response() *crawler.Response {
	return s.meta
}

// Next reads up to chunkSize bytes. A body whose length is a multiple of the
// chunk size ends with an empty last chunk.
func (s *httpStream) Next(ctx context.Context) (*crawler.Chunk, error) {
	if s.closed {
		return nil, &crawler.MalformedResponseError{URI: s.uri, Reason: "stream already closed"}
	}
	if s.done {
		return nil, &crawler.MalformedResponseError{URI: s.uri, Reason: "read past the last chunk"}
	}
	if err := ctx.Err(); err != nil {
		s.finish()
		return nil, &crawler.TransportError{URI: s.uri, Err: err}
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.body, buf)

	chunk := &crawler.Chunk{Data: buf[:n], First: !s.started}
	s.started = true

	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		chunk.Last = true
		s.finish()
	default:
		s.finish()
		return nil, &crawler.TransportError{URI: s.uri, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if s.failOnStatus && s.meta.StatusCode >= 400 {
		return chunk, &crawler.HTTPStatusError{URI: s.uri, StatusCode: s.meta.StatusCode}
	}
	return chunk, nil
}

func (s *httpStream) finish() {
	s.done = true
	_ = s.body.Close()
}

func (s *httpStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}
