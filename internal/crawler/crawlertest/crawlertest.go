// Package crawlertest provides an in-memory Transport and log capture for
// testing the engine and its subscribers without a network.
package crawlertest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/masahif/sitecrawler/internal/crawler"
)

// Page is a canned response
type Page struct {
	Status int
	Header http.Header
	Body   string
	// Err makes Fetch fail with a *crawler.TransportError
	Err error
}

// Transport serves canned pages. Unknown URIs answer 404 with an empty body.
type Transport struct {
	// ChunkSize splits bodies into chunks of this size (0 = one chunk)
	ChunkSize int
	// FailOnStatus reports *crawler.HTTPStatusError with every chunk of 4xx/5xx responses
	FailOnStatus bool

	mu       sync.Mutex
	pages    map[string]Page
	requests []string
}

// NewTransport creates an empty transport
func NewTransport() *Transport {
	return &Transport{pages: make(map[string]Page)}
}

// Handle registers a response for uri
func (t *Transport) Handle(uri string, status int, contentType, body string) {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	t.HandlePage(uri, Page{Status: status, Header: header, Body: body})
}

// HandlePage registers p for uri
func (t *Transport) HandlePage(uri string, p Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages[uri] = p
}

// Fail makes requests to uri fail at the transport level
func (t *Transport) Fail(uri string, err error) {
	t.HandlePage(uri, Page{Err: err})
}

// Requests returns the fetched URIs in order
func (t *Transport) Requests() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.requests...)
}

// Fetch implements crawler.Transport
func (t *Transport) Fetch(ctx context.Context, uri string) (crawler.Stream, error) {
	t.mu.Lock()
	t.requests = append(t.requests, uri)
	page, ok := t.pages[uri]
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &crawler.TransportError{URI: uri, Err: err}
	}
	if !ok {
		page = Page{Status: http.StatusNotFound}
	}
	if page.Err != nil {
		return nil, &crawler.TransportError{URI: uri, Err: page.Err}
	}
	if page.Header == nil {
		page.Header = http.Header{}
	}

	return &stream{
		uri:          uri,
		resp:         &crawler.Response{URL: uri, StatusCode: page.Status, Header: page.Header},
		chunks:       split([]byte(page.Body), t.ChunkSize),
		failOnStatus: t.FailOnStatus,
	}, nil
}

func split(body []byte, size int) [][]byte {
	if size <= 0 || len(body) <= size {
		return [][]byte{body}
	}
	var chunks [][]byte
	for len(body) > 0 {
		n := min(size, len(body))
		chunks = append(chunks, body[:n])
		body = body[n:]
	}
	return chunks
}

type stream struct {
	uri          string
	resp         *crawler.Response
	chunks       [][]byte
	next         int
	failOnStatus bool
	closed       bool
}

func (s *stream) Response() *crawler.Response { return s.resp }

func (s *stream) Next(ctx context.Context) (*crawler.Chunk, error) {
	if s.closed || s.next >= len(s.chunks) {
		return nil, &crawler.MalformedResponseError{URI: s.uri, Reason: "no more chunks"}
	}
	if err := ctx.Err(); err != nil {
		return nil, &crawler.TransportError{URI: s.uri, Err: err}
	}

	chunk := &crawler.Chunk{
		Data:  s.chunks[s.next],
		First: s.next == 0,
		Last:  s.next == len(s.chunks)-1,
	}
	s.next++

	if s.failOnStatus && s.resp.StatusCode >= 400 {
		return chunk, &crawler.HTTPStatusError{URI: s.uri, StatusCode: s.resp.StatusCode}
	}
	return chunk, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

// LogBuffer captures JSON log records
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Records returns the decoded log records
func (b *LogBuffer) Records() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	var records []map[string]any
	for _, line := range strings.Split(b.buf.String(), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err == nil {
			records = append(records, record)
		}
	}
	return records
}

// Count returns how many records at level have a message containing msg
func (b *LogBuffer) Count(level slog.Level, msg string) int {
	n := 0
	for _, r := range b.Records() {
		if r[slog.LevelKey] == level.String() && strings.Contains(r[slog.MessageKey].(string), msg) {
			n++
		}
	}
	return n
}

// NewLogger returns a debug level JSON logger writing into a LogBuffer
func NewLogger() (*slog.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
