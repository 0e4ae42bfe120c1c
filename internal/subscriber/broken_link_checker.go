package subscriber

import (
	"errors"
	"fmt"

	"github.com/masahif/sitecrawler/internal/crawler"
)

// BrokenLinkChecker requests every URI of the base hosts and every URI linked
// from them, and reports responses outside 2xx/3xx and failed requests.
type BrokenLinkChecker struct {
	crawlAware
	ok     int
	broken int
	// URI whose status code NeedsContent already counted
	classified string
}

// NewBrokenLinkChecker creates the broken-link-checker subscriber
func NewBrokenLinkChecker() *BrokenLinkChecker {
	return &BrokenLinkChecker{}
}

// Name implements crawler.Subscriber
func (b *BrokenLinkChecker) Name() string { return NameBrokenLinkChecker }

// SetCrawl implements crawler.CrawlAware
func (b *BrokenLinkChecker) SetCrawl(c crawler.Crawl) {
	b.setCrawl(c, NameBrokenLinkChecker)
}

// ShouldRequest votes for URIs on the base hosts and URIs found on them
func (b *BrokenLinkChecker) ShouldRequest(uri *crawler.CrawlURI) crawler.Decision {
	if uri.HasTag(crawler.TagRobotsDisallowed) {
		b.log().Debug("Did not check because robots.txt disallows it", uri.LogAttrs()...)
		return crawler.Negative
	}

	// Only check URIs that are part of our base collection or were found on one
	baseURIs := b.crawl.BaseURIs()
	if baseURIs.ContainsHost(uri.Host()) {
		return crawler.Positive
	}

	if !uri.IsSeed() {
		foundOn, err := b.crawl.GetCrawlURI(b.crawl.Context(), uri.FoundOn)
		if err != nil {
			b.log().Warn("Failed to look up referring URI", append(uri.LogAttrs(), "error", err)...)
		}
		if foundOn != nil && baseURIs.ContainsHost(foundOn.Host()) {
			return crawler.Positive
		}
	}

	b.log().Debug("Did not check because it is not part of the base URI collection or was not found on one of that is",
		uri.LogAttrs()...)
	return crawler.Negative
}

// NeedsContent classifies the response from its status code. The body is never needed.
func (b *BrokenLinkChecker) NeedsContent(uri *crawler.CrawlURI, resp *crawler.Response, _ *crawler.Chunk) crawler.Decision {
	b.classified = uri.URI
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		b.logError(uri, fmt.Sprintf("HTTP Status Code: %d", resp.StatusCode))
	} else {
		b.ok++
	}
	return crawler.Negative
}

// OnLastChunk is a no-op, the checker never asks for content
func (b *BrokenLinkChecker) OnLastChunk(*crawler.CrawlURI, *crawler.Response, *crawler.Chunk) {}

// OnException implements crawler.ExceptionAware. HTTP status errors arrive
// with every chunk and are only counted on the last one, unless NeedsContent
// already counted the status.
func (b *BrokenLinkChecker) OnException(uri *crawler.CrawlURI, err error, resp *crawler.Response, chunk *crawler.Chunk) {
	var statusErr *crawler.HTTPStatusError
	if !errors.As(err, &statusErr) {
		b.logError(uri, "Could not request properly: "+err.Error())
		return
	}

	if (chunk != nil && !chunk.Last) || b.classified == uri.URI {
		return
	}

	statusCode := statusErr.StatusCode
	if resp != nil {
		statusCode = resp.StatusCode
	}
	b.logError(uri, fmt.Sprintf("HTTP Status Code: %d", statusCode))
}

func (b *BrokenLinkChecker) logError(uri *crawler.CrawlURI, message string) {
	b.broken++
	b.log().Error(fmt.Sprintf("Broken link! %s.", message), uri.LogAttrs()...)
}

// Result adds the counters of previous, if any
func (b *BrokenLinkChecker) Result(previous *crawler.SubscriberResult) *crawler.SubscriberResult {
	stats := mergeCounts(map[string]int{"ok": b.ok, "error": b.broken}, previous, "stats")

	result := crawler.NewSubscriberResult(
		stats["error"] == 0,
		fmt.Sprintf("Checked %d link(s) successfully. %d were broken!", stats["ok"], stats["error"]),
	)
	result.AddInfo("stats", stats)
	return result
}
