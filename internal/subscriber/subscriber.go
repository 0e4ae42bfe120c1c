// Package subscriber contains the analyzers plugged into the crawl engine.
//
// robots and html-crawler are registered for every crawl and drive
// discovery. broken-link-checker and page-inventory are selected by name.
package subscriber

import (
	"log/slog"
	"mime"
	"net/url"

	"github.com/masahif/sitecrawler/internal/crawler"
)

// Subscriber names
const (
	NameRobots            = "robots"
	NameHTMLCrawler       = "html-crawler"
	NameBrokenLinkChecker = "broken-link-checker"
	NamePageInventory     = "page-inventory"
)

// crawlAware holds the running crawl for subscribers implementing crawler.CrawlAware
type crawlAware struct {
	crawl  crawler.Crawl
	logger *slog.Logger
}

func (a *crawlAware) setCrawl(c crawler.Crawl, source string) {
	a.crawl = c
	a.logger = c.Logger().With("source", source)
}

func (a *crawlAware) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

func isHTML(resp *crawler.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.ContentType())
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func isSuccess(resp *crawler.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// hostOf returns the normalized host of an absolute URL
func hostOf(rawURL string) string {
	normalized, err := crawler.NormalizeURI(rawURL)
	if err != nil {
		return ""
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return u.Host
}

// mergeCounts adds the counters stored under key in previous to current
func mergeCounts(current map[string]int, previous *crawler.SubscriberResult, key string) map[string]int {
	merged := make(map[string]int, len(current))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range previous.IntMapInfo(key) {
		merged[k] += v
	}
	return merged
}
