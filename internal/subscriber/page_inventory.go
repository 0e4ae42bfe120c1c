package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/masahif/sitecrawler/internal/crawler"
	"github.com/masahif/sitecrawler/internal/parser"
)

// PageSink stores inventory records
type PageSink interface {
	SavePage(ctx context.Context, jobID string, page *crawler.PageData) error
}

// PageInventory records status, metadata and timing of every page on the base hosts
type PageInventory struct {
	crawlAware
	sink   PageSink
	hashes map[string]string

	html       int
	other      int
	duplicates int
}

// NewPageInventory creates the page-inventory subscriber. sink may be nil,
// in which case pages are only counted.
func NewPageInventory(sink PageSink) *PageInventory {
	return &PageInventory{sink: sink, hashes: make(map[string]string)}
}

// Name implements crawler.Subscriber
func (p *PageInventory) Name() string { return NamePageInventory }

// SetCrawl implements crawler.CrawlAware
func (p *PageInventory) SetCrawl(c crawler.Crawl) {
	p.setCrawl(c, NamePageInventory)
}

// ShouldRequest votes for pages on the base hosts
func (p *PageInventory) ShouldRequest(uri *crawler.CrawlURI) crawler.Decision {
	if uri.HasTag(crawler.TagRobotsDisallowed) || uri.HasTag(crawler.TagSitemap) {
		return crawler.Abstain
	}
	if p.crawl.BaseURIs().ContainsHost(uri.Host()) {
		return crawler.Positive
	}
	return crawler.Abstain
}

// NeedsContent records non-HTML and unsuccessful responses right away
func (p *PageInventory) NeedsContent(uri *crawler.CrawlURI, resp *crawler.Response, _ *crawler.Chunk) crawler.Decision {
	if !p.crawl.BaseURIs().ContainsHost(uri.Host()) || uri.HasTag(crawler.TagSitemap) {
		return crawler.Negative
	}
	if isSuccess(resp) && isHTML(resp) {
		return crawler.Positive
	}

	p.other++
	p.save(uri, p.record(uri, resp))
	return crawler.Negative
}

// OnLastChunk records an HTML page with its metadata and content hash
func (p *PageInventory) OnLastChunk(uri *crawler.CrawlURI, resp *crawler.Response, _ *crawler.Chunk) {
	page := p.record(uri, resp)
	page.ResponseSize = len(resp.Content())

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = uri.URI
	}
	if htmlParser, err := parser.NewHTMLParser(pageURL); err == nil {
		if doc, err := htmlParser.Parse(resp.Content()); err == nil {
			page.Title = doc.Title
			page.MetaDesc = doc.MetaDesc
			page.MetaRobots = doc.MetaRobots
			page.CanonicalURL = doc.CanonicalURL
			page.ContentHash = doc.ContentHash
		}
	}

	if page.ContentHash != "" {
		if first, seen := p.hashes[page.ContentHash]; seen {
			p.duplicates++
			p.log().Info("Duplicate content", append(uri.LogAttrs(), "duplicate_of", first)...)
		} else {
			p.hashes[page.ContentHash] = uri.URI
		}
	}

	p.html++
	p.save(uri, page)
}

func (p *PageInventory) record(uri *crawler.CrawlURI, resp *crawler.Response) *crawler.PageData {
	return &crawler.PageData{
		URI:         uri.URI,
		FoundOn:     uri.FoundOn,
		Level:       uri.Level,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType(),
		TTFB:        resp.TTFB,
		CrawledAt:   time.Now().UTC(),
	}
}

func (p *PageInventory) save(uri *crawler.CrawlURI, page *crawler.PageData) {
	if p.sink == nil {
		return
	}
	if err := p.sink.SavePage(p.crawl.Context(), p.crawl.JobID(), page); err != nil {
		p.log().Warn("Failed to save page", append(uri.LogAttrs(), "error", err)...)
	}
}

// Result adds the counters of previous, if any
func (p *PageInventory) Result(previous *crawler.SubscriberResult) *crawler.SubscriberResult {
	pages := mergeCounts(map[string]int{
		"html":       p.html,
		"other":      p.other,
		"duplicates": p.duplicates,
	}, previous, "pages")

	result := crawler.NewSubscriberResult(true, fmt.Sprintf(
		"Recorded %d page(s), %d of them HTML with %d duplicate(s).",
		pages["html"]+pages["other"], pages["html"], pages["duplicates"],
	))
	result.AddInfo("pages", pages)
	return result
}
