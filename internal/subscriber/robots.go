package subscriber

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/masahif/sitecrawler/internal/crawler"
	"github.com/masahif/sitecrawler/internal/parser"
)

const maxRobotsSize = 512 * 1024

// hostDelayer is implemented by transports that pace requests per host
type hostDelayer interface {
	SetHostDelay(host string, delay time.Duration)
}

// Robots applies robots.txt and X-Robots-Tag directives. It tags URIs instead
// of voting them down, so subscribers decide themselves whether to honour
// the rules. Sitemaps announced for base hosts are crawled for more URIs.
type Robots struct {
	crawlAware
	userAgent string
	respect   bool
	cache     map[string]*robotstxt.RobotsData

	disallowed int
	sitemaps   int
	discovered int
}

// NewRobots creates the robots subscriber. With respect false no URI is
// tagged disallowed and no crawl delay applied, but sitemaps are still used.
func NewRobots(userAgent string, respect bool) *Robots {
	return &Robots{
		userAgent: userAgent,
		respect:   respect,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Name implements crawler.Subscriber
func (r *Robots) Name() string { return NameRobots }

// SetCrawl implements crawler.CrawlAware
func (r *Robots) SetCrawl(c crawler.Crawl) {
	r.setCrawl(c, NameRobots)
}

// ShouldRequest tags URIs disallowed by robots.txt and votes for sitemaps.
// robots.txt is only consulted for base hosts.
func (r *Robots) ShouldRequest(uri *crawler.CrawlURI) crawler.Decision {
	u, err := url.Parse(uri.URI)
	if err != nil || !r.crawl.BaseURIs().ContainsHost(u.Host) {
		return crawler.Abstain
	}

	data := r.load(u)
	if r.respect && !uri.HasTag(crawler.TagRobotsDisallowed) {
		target := u.EscapedPath()
		if u.RawQuery != "" {
			target += "?" + u.RawQuery
		}
		if group := data.FindGroup(r.userAgent); group != nil && !group.Test(target) {
			uri.AddTag(crawler.TagRobotsDisallowed)
			r.disallowed++
			r.log().Debug("URI is disallowed by robots.txt", uri.LogAttrs()...)
		}
	}

	if uri.HasTag(crawler.TagSitemap) && !uri.HasTag(crawler.TagRobotsDisallowed) {
		return crawler.Positive
	}
	return crawler.Abstain
}

// NeedsContent applies X-Robots-Tag headers and asks for sitemap bodies
func (r *Robots) NeedsContent(uri *crawler.CrawlURI, resp *crawler.Response, chunk *crawler.Chunk) crawler.Decision {
	if chunk.First {
		for _, value := range resp.Header.Values("X-Robots-Tag") {
			r.applyRobotsTag(uri, value)
		}
	}

	if uri.HasTag(crawler.TagSitemap) && isSuccess(resp) {
		return crawler.Positive
	}
	return crawler.Negative
}

// applyRobotsTag handles "nofollow, noindex" as well as "agent: nofollow" values
func (r *Robots) applyRobotsTag(uri *crawler.CrawlURI, value string) {
	if agent, directives, ok := strings.Cut(value, ":"); ok && !strings.Contains(agent, ",") {
		agent = strings.TrimSpace(agent)
		if !strings.EqualFold(agent, r.userAgent) && agent != "*" {
			return
		}
		value = directives
	}

	for _, directive := range strings.Split(value, ",") {
		switch strings.ToLower(strings.TrimSpace(directive)) {
		case "nofollow":
			uri.AddTag(crawler.TagNoFollow)
		case "noindex":
			uri.AddTag(crawler.TagNoIndex)
		case "none":
			uri.AddTag(crawler.TagNoFollow)
			uri.AddTag(crawler.TagNoIndex)
		}
	}
}

// OnLastChunk enqueues the entries of a sitemap
func (r *Robots) OnLastChunk(uri *crawler.CrawlURI, resp *crawler.Response, _ *crawler.Chunk) {
	sm, err := parser.ParseSitemap(resp.Content())
	if err != nil {
		r.log().Warn("Failed to parse sitemap", append(uri.LogAttrs(), "error", err)...)
		return
	}

	for _, loc := range sm.Sitemaps {
		r.enqueue(loc, uri, true)
	}
	for _, loc := range sm.URLs {
		r.enqueue(loc, uri, false)
	}
}

func (r *Robots) enqueue(rawURL string, foundOn *crawler.CrawlURI, sitemap bool) {
	uri, err := crawler.NewCrawlURI(rawURL, foundOn)
	if err != nil {
		r.log().Debug("Ignored invalid sitemap entry", "entry", rawURL, "error", err)
		return
	}
	if !r.crawl.BaseURIs().ContainsHost(uri.Host()) {
		return
	}
	if sitemap {
		uri.AddTag(crawler.TagSitemap)
	}

	added, err := r.crawl.AddURI(r.crawl.Context(), uri)
	if err != nil {
		r.log().Warn("Failed to enqueue URI", append(uri.LogAttrs(), "error", err)...)
		return
	}
	if added {
		r.discovered++
	}
}

// load returns the cached robots.txt of the URI's origin, fetching it on first use
func (r *Robots) load(u *url.URL) *robotstxt.RobotsData {
	origin := u.Scheme + "://" + u.Host
	if data, ok := r.cache[origin]; ok {
		return data
	}

	robotsURL := origin + "/robots.txt"
	resp, body, err := crawler.FetchAll(r.crawl.Context(), r.crawl.Transport(), robotsURL, maxRobotsSize)

	var data *robotstxt.RobotsData
	if err != nil {
		r.log().Warn("robots.txt fetch failed; allowing access", "uri", robotsURL, "error", err)
		data, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	} else if data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, body); err != nil {
		r.log().Warn("robots.txt parse failed; allowing access", "uri", robotsURL, "error", err)
		data, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	}
	r.cache[origin] = data

	r.applyDirectives(u.Host, data)
	return data
}

func (r *Robots) applyDirectives(host string, data *robotstxt.RobotsData) {
	if r.respect {
		if group := data.FindGroup(r.userAgent); group != nil && group.CrawlDelay > 0 {
			if d, ok := r.crawl.Transport().(hostDelayer); ok {
				d.SetHostDelay(host, group.CrawlDelay)
				r.log().Info("Applied robots.txt crawl delay", "host", host, "delay", group.CrawlDelay)
			}
		}
	}

	if !r.crawl.BaseURIs().ContainsHost(host) {
		return
	}
	for _, sitemap := range data.Sitemaps {
		uri, err := crawler.NewCrawlURI(sitemap, nil)
		if err != nil || !r.crawl.BaseURIs().ContainsHost(uri.Host()) {
			continue
		}
		uri.AddTag(crawler.TagSitemap)
		added, err := r.crawl.AddURI(r.crawl.Context(), uri)
		if err != nil {
			r.log().Warn("Failed to enqueue sitemap", append(uri.LogAttrs(), "error", err)...)
			continue
		}
		if added {
			r.sitemaps++
		}
	}
}

// Result adds the counters of previous, if any
func (r *Robots) Result(previous *crawler.SubscriberResult) *crawler.SubscriberResult {
	stats := mergeCounts(map[string]int{
		"disallowed": r.disallowed,
		"sitemaps":   r.sitemaps,
		"discovered": r.discovered,
	}, previous, "stats")

	result := crawler.NewSubscriberResult(true, fmt.Sprintf(
		"%d URI(s) disallowed by robots.txt, %d sitemap(s) found listing %d new URI(s).",
		stats["disallowed"], stats["sitemaps"], stats["discovered"],
	))
	result.AddInfo("stats", stats)
	return result
}
