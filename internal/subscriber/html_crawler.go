package subscriber

import (
	"fmt"

	"github.com/masahif/sitecrawler/internal/crawler"
	"github.com/masahif/sitecrawler/internal/parser"
)

// HTMLCrawler discovers URIs by following the links of HTML pages on the base hosts
type HTMLCrawler struct {
	crawlAware
	pages      int
	discovered int
}

// NewHTMLCrawler creates the html-crawler subscriber
func NewHTMLCrawler() *HTMLCrawler {
	return &HTMLCrawler{}
}

// Name implements crawler.Subscriber
func (h *HTMLCrawler) Name() string { return NameHTMLCrawler }

// SetCrawl implements crawler.CrawlAware
func (h *HTMLCrawler) SetCrawl(c crawler.Crawl) {
	h.setCrawl(c, NameHTMLCrawler)
}

// ShouldRequest votes for every URI on the base hosts
func (h *HTMLCrawler) ShouldRequest(uri *crawler.CrawlURI) crawler.Decision {
	if uri.HasTag(crawler.TagRobotsDisallowed) || uri.HasTag(crawler.TagSitemap) {
		return crawler.Abstain
	}
	if !h.crawl.BaseURIs().ContainsHost(uri.Host()) {
		return crawler.Abstain
	}
	return crawler.Positive
}

// NeedsContent wants successful HTML responses that did not redirect off the base hosts
func (h *HTMLCrawler) NeedsContent(uri *crawler.CrawlURI, resp *crawler.Response, _ *crawler.Chunk) crawler.Decision {
	if !isSuccess(resp) || !isHTML(resp) {
		return crawler.Negative
	}
	if resp.URL != "" && !h.crawl.BaseURIs().ContainsHost(hostOf(resp.URL)) {
		h.log().Debug("Not following links, redirected off the base hosts", append(uri.LogAttrs(), "final_url", resp.URL)...)
		return crawler.Negative
	}
	return crawler.Positive
}

// OnLastChunk parses the page and queues its links
func (h *HTMLCrawler) OnLastChunk(uri *crawler.CrawlURI, resp *crawler.Response, _ *crawler.Chunk) {
	h.pages++
	if uri.HasTag(crawler.TagNoFollow) {
		h.log().Debug("Not following links, page is tagged nofollow", uri.LogAttrs()...)
		return
	}

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = uri.URI
	}
	p, err := parser.NewHTMLParser(pageURL)
	if err != nil {
		h.log().Warn("Failed to create parser", append(uri.LogAttrs(), "error", err)...)
		return
	}
	doc, err := p.Parse(resp.Content())
	if err != nil {
		h.log().Warn("Failed to parse HTML", append(uri.LogAttrs(), "error", err)...)
		return
	}

	if doc.NoIndex() {
		uri.AddTag(crawler.TagNoIndex)
	}
	if doc.NoFollow() {
		uri.AddTag(crawler.TagNoFollow)
		h.log().Debug("Not following links, meta robots nofollow", uri.LogAttrs()...)
		return
	}

	ctx := h.crawl.Context()
	added := 0
	for _, link := range doc.Links {
		if link.NoFollow() {
			continue
		}
		found, err := crawler.NewCrawlURI(link.URL, uri)
		if err != nil {
			continue
		}
		ok, err := h.crawl.AddURI(ctx, found)
		if err != nil {
			h.log().Warn("Failed to enqueue URI", append(found.LogAttrs(), "error", err)...)
			continue
		}
		if ok {
			added++
		}
	}

	h.discovered += added
	h.log().Debug("Extracted links", append(uri.LogAttrs(), "links", len(doc.Links), "new", added)...)
}

// Result adds the counters of previous, if any
func (h *HTMLCrawler) Result(previous *crawler.SubscriberResult) *crawler.SubscriberResult {
	stats := mergeCounts(map[string]int{"pages": h.pages, "discovered": h.discovered}, previous, "stats")

	result := crawler.NewSubscriberResult(true, fmt.Sprintf(
		"Parsed %d HTML page(s) and discovered %d URI(s).", stats["pages"], stats["discovered"],
	))
	result.AddInfo("stats", stats)
	return result
}
