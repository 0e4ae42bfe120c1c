package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/sitecrawler/internal/crawler"
)

func TestSQLiteQueue(t *testing.T) {
	ctx := context.Background()
	dbFile := filepath.Join(t.TempDir(), "test_crawler.db")

	queue, err := NewSQLiteQueue(dbFile)
	require.NoError(t, err)
	defer queue.Close()

	base, err := crawler.NewBaseURICollection("https://example.com")
	require.NoError(t, err)
	jobID, err := queue.CreateJob(ctx, base)
	require.NoError(t, err)

	t.Run("SaveAndListPages", func(t *testing.T) {
		page := &crawler.PageData{
			URI:          "https://example.com/",
			StatusCode:   200,
			ContentType:  "text/html",
			Title:        "Example Page",
			MetaDesc:     "Example description",
			MetaRobots:   "index,follow",
			CanonicalURL: "https://example.com/",
			ContentHash:  "abc123",
			TTFB:         100 * time.Millisecond,
			ResponseSize: 1024,
			CrawledAt:    time.Now(),
		}
		require.NoError(t, queue.SavePage(ctx, jobID, page))

		// saving again replaces the record
		page.Title = "Example Page (updated)"
		require.NoError(t, queue.SavePage(ctx, jobID, page))

		pages, err := queue.Pages(ctx, jobID)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, "Example Page (updated)", pages[0].Title)
		assert.Equal(t, 100*time.Millisecond, pages[0].TTFB)
		assert.Equal(t, 1024, pages[0].ResponseSize)
	})

	t.Run("URIsInInsertionOrder", func(t *testing.T) {
		seed := mustURI(t, "https://example.com", nil)
		for _, uri := range []*crawler.CrawlURI{
			seed,
			mustURI(t, "https://example.com/b", seed),
			mustURI(t, "https://example.com/a", seed),
		} {
			_, err := queue.Add(ctx, jobID, uri)
			require.NoError(t, err)
		}

		uris, err := queue.URIs(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://example.com/",
			"https://example.com/b",
			"https://example.com/a",
		}, uris)
	})

	t.Run("DeleteJobRemovesPages", func(t *testing.T) {
		other, err := queue.CreateJob(ctx, base)
		require.NoError(t, err)
		require.NoError(t, queue.SavePage(ctx, other, &crawler.PageData{URI: "https://example.com/", CrawledAt: time.Now()}))

		require.NoError(t, queue.DeleteJob(ctx, other))

		pages, err := queue.Pages(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, pages)
	})
}

func TestSQLiteQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbFile := filepath.Join(t.TempDir(), "resume.db")

	first, err := NewSQLiteQueue(dbFile)
	require.NoError(t, err)

	base, err := crawler.NewBaseURICollection("https://example.com")
	require.NoError(t, err)
	jobID, err := first.CreateJob(ctx, base)
	require.NoError(t, err)

	seed := mustURI(t, "https://example.com", nil)
	_, err = first.Add(ctx, jobID, seed)
	require.NoError(t, err)
	_, err = first.Add(ctx, jobID, mustURI(t, "https://example.com/next", seed))
	require.NoError(t, err)

	seed.AddTag(crawler.TagRobotsDisallowed)
	require.NoError(t, first.MarkProcessed(ctx, jobID, seed))
	require.NoError(t, first.Close())

	reopened, err := NewSQLiteQueue(dbFile)
	require.NoError(t, err)
	defer reopened.Close()

	valid, err := reopened.IsJobIDValid(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, valid)

	next, err := reopened.Next(ctx, jobID, 0)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "https://example.com/next", next.URI)
	assert.Equal(t, "https://example.com/", next.FoundOn)
	assert.Equal(t, 1, next.Level)

	stored, err := reopened.Get(ctx, jobID, "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.HasTag(crawler.TagRobotsDisallowed))
}
