package subscriber

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/masahif/sitecrawler/internal/crawler"
	"github.com/masahif/sitecrawler/internal/crawler/crawlertest"
	"github.com/masahif/sitecrawler/internal/storage"
)

func newTestCrawler(t *testing.T, transport crawler.Transport, seeds ...string) (*crawler.Crawler, *storage.MemoryQueue, *crawlertest.LogBuffer) {
	t.Helper()

	base, err := crawler.NewBaseURICollection(seeds...)
	require.NoError(t, err)

	logger, logs := crawlertest.NewLogger()
	queue := storage.NewMemoryQueue()
	c, err := crawler.New(context.Background(), base, queue, transport, crawler.WithLogger(logger))
	require.NoError(t, err)
	return c, queue, logs
}

func mustURI(t *testing.T, raw string, foundOn *crawler.CrawlURI) *crawler.CrawlURI {
	t.Helper()
	uri, err := crawler.NewCrawlURI(raw, foundOn)
	require.NoError(t, err)
	return uri
}

func mustGet(t *testing.T, queue crawler.Queue, jobID, uri string) *crawler.CrawlURI {
	t.Helper()
	found, err := queue.Get(context.Background(), jobID, uri)
	require.NoError(t, err)
	require.NotNil(t, found, "%s not queued", uri)
	return found
}
