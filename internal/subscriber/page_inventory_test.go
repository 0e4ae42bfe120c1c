package subscriber

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/sitecrawler/internal/crawler"
	"github.com/masahif/sitecrawler/internal/crawler/crawlertest"
)

type memorySink struct {
	pages map[string]*crawler.PageData
}

func (m *memorySink) SavePage(_ context.Context, _ string, page *crawler.PageData) error {
	m.pages[page.URI] = page
	return nil
}

func TestPageInventoryCrawl(t *testing.T) {
	home := `<html><head><title>Home</title><meta name="description" content="Welcome">` +
		`<link rel="canonical" href="/"></head><body>` +
		`<a href="/copy">copy</a><a href="/logo.png">logo</a><a href="/gone">gone</a>` +
		`</body></html>`

	transport := crawlertest.NewTransport()
	transport.Handle("https://example.com/", http.StatusOK, "text/html", home)
	transport.Handle("https://example.com/copy", http.StatusOK, "text/html", home)
	transport.Handle("https://example.com/logo.png", http.StatusOK, "image/png", "\x89PNG")
	transport.Handle("https://example.com/gone", http.StatusNotFound, "text/html", "gone")

	c, _, _ := newTestCrawler(t, transport, "https://example.com")
	sink := &memorySink{pages: make(map[string]*crawler.PageData)}
	inventory := NewPageInventory(sink)
	c.AddSubscriber(NewHTMLCrawler())
	c.AddSubscriber(inventory)

	require.NoError(t, c.Crawl(context.Background()))

	require.Len(t, sink.pages, 4)

	page := sink.pages["https://example.com/"]
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "Home", page.Title)
	assert.Equal(t, "Welcome", page.MetaDesc)
	assert.Equal(t, "https://example.com/", page.CanonicalURL)
	assert.Equal(t, len(home), page.ResponseSize)
	assert.NotEmpty(t, page.ContentHash)
	assert.Equal(t, 0, page.Level)

	logo := sink.pages["https://example.com/logo.png"]
	assert.Equal(t, "image/png", logo.ContentType)
	assert.Equal(t, "https://example.com/", logo.FoundOn)
	assert.Empty(t, logo.ContentHash)

	assert.Equal(t, http.StatusNotFound, sink.pages["https://example.com/gone"].StatusCode)
	assert.Equal(t, page.ContentHash, sink.pages["https://example.com/copy"].ContentHash)

	result := inventory.Result(nil)
	assert.True(t, result.OK)
	assert.Equal(t, map[string]int{"html": 2, "other": 2, "duplicates": 1}, result.IntMapInfo("pages"))
}

func TestPageInventoryRecordsStatusErrors(t *testing.T) {
	transport := crawlertest.NewTransport()
	transport.ChunkSize = 4
	transport.FailOnStatus = true
	transport.Handle("https://example.com/", http.StatusOK, "text/html",
		`<html><body><a href="/gone">gone</a></body></html>`)
	transport.Handle("https://example.com/gone", http.StatusNotFound, "text/html", "nothing to see")

	c, _, logs := newTestCrawler(t, transport, "https://example.com")
	sink := &memorySink{pages: make(map[string]*crawler.PageData)}
	inventory := NewPageInventory(sink)
	checker := NewBrokenLinkChecker()
	c.AddSubscriber(NewHTMLCrawler())
	c.AddSubscriber(inventory)
	c.AddSubscriber(checker)

	require.NoError(t, c.Crawl(context.Background()))

	require.Contains(t, sink.pages, "https://example.com/gone")
	assert.Equal(t, http.StatusNotFound, sink.pages["https://example.com/gone"].StatusCode)
	assert.Equal(t, map[string]int{"html": 1, "other": 1, "duplicates": 0}, inventory.Result(nil).IntMapInfo("pages"))

	assert.Equal(t, map[string]int{"ok": 1, "error": 1}, checker.Result(nil).IntMapInfo("stats"))
	assert.Equal(t, 1, logs.Count(slog.LevelError, "Broken link!"))
}

func TestPageInventoryWithoutSink(t *testing.T) {
	transport := crawlertest.NewTransport()
	transport.Handle("https://example.com/", http.StatusOK, "text/html", "<html><title>x</title></html>")

	c, _, _ := newTestCrawler(t, transport, "https://example.com")
	inventory := NewPageInventory(nil)
	c.AddSubscriber(inventory)

	require.NoError(t, c.Crawl(context.Background()))

	previous := crawler.NewSubscriberResult(true, "")
	previous.AddInfo("pages", map[string]any{"html": float64(2), "other": float64(1), "duplicates": float64(0)})

	result := inventory.Result(previous)
	assert.Equal(t, map[string]int{"html": 3, "other": 1, "duplicates": 0}, result.IntMapInfo("pages"))
	assert.Equal(t, "Recorded 4 page(s), 3 of them HTML with 0 duplicate(s).", result.Summary)
}

func TestPageInventoryIgnoresExternalHosts(t *testing.T) {
	c, _, _ := newTestCrawler(t, crawlertest.NewTransport(), "https://example.com")
	inventory := NewPageInventory(nil)
	c.AddSubscriber(inventory)

	external := mustURI(t, "https://other.com/", nil)
	assert.Equal(t, crawler.Abstain, inventory.ShouldRequest(external))

	header := http.Header{}
	header.Set("Content-Type", "text/html")
	resp := &crawler.Response{URL: external.URI, StatusCode: http.StatusOK, Header: header}
	assert.Equal(t, crawler.Negative, inventory.NeedsContent(external, resp, &crawler.Chunk{First: true}))
	assert.Equal(t, 0, inventory.Result(nil).IntMapInfo("pages")["other"])
}
