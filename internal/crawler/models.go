package crawler

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"
)

// Tags set on crawl URIs by the default subscribers
const (
	TagRobotsDisallowed = "robots-disallowed" // robots.txt forbids fetching the URI
	TagNoFollow         = "nofollow"          // links on (or to) this URI must not be followed
	TagNoIndex          = "noindex"           // X-Robots-Tag / meta robots noindex
	TagSitemap          = "sitemap"           // URI is a sitemap announced in robots.txt
)

// Decision is the vote a subscriber casts for an engine action
type Decision int

const (
	// Abstain defers to the other subscribers
	Abstain Decision = iota
	// Positive authorizes the action
	Positive
	// Negative declines the action for this subscriber only; it never vetoes a Positive
	Negative
)

func (d Decision) String() string {
	switch d {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "abstain"
	}
}

// CrawlURI is one discovered URI of a job.
// FoundOn references the normalized URI of the referring CrawlURI ("" for seeds)
// instead of holding a pointer, so records persist without cycles.
type CrawlURI struct {
	URI       string   // normalized absolute URL, unique per job
	FoundOn   string   // normalized URL of the referrer, empty for seeds
	Level     int      // distance from a seed, 0 for seeds
	Processed bool     // set once the engine finished evaluating the URI
	Tags      []string // opaque markers set by subscribers
}

// NewCrawlURI normalizes rawURL and builds a CrawlURI found on foundOn.
// A nil foundOn creates a seed.
func NewCrawlURI(rawURL string, foundOn *CrawlURI) (*CrawlURI, error) {
	normalized, err := NormalizeURI(rawURL)
	if err != nil {
		return nil, err
	}

	uri := &CrawlURI{URI: normalized}
	if foundOn != nil {
		uri.FoundOn = foundOn.URI
		uri.Level = foundOn.Level + 1
	}
	return uri, nil
}

// Host returns the normalized host of the URI, including a non-default port
func (u *CrawlURI) Host() string {
	parsed, err := url.Parse(u.URI)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// IsSeed reports whether the URI was part of the base collection
func (u *CrawlURI) IsSeed() bool {
	return u.FoundOn == ""
}

// AddTag adds tag once
func (u *CrawlURI) AddTag(tag string) {
	if !u.HasTag(tag) {
		u.Tags = append(u.Tags, tag)
	}
}

// HasTag reports whether tag is set
func (u *CrawlURI) HasTag(tag string) bool {
	return slices.Contains(u.Tags, tag)
}

// Clone returns a copy that does not share the tag slice
func (u *CrawlURI) Clone() *CrawlURI {
	c := *u
	c.Tags = slices.Clone(u.Tags)
	return &c
}

// LogAttrs returns the slog attributes identifying the URI in log lines
func (u *CrawlURI) LogAttrs() []any {
	attrs := []any{"uri", u.URI, "depth", u.Level}
	if u.FoundOn != "" {
		attrs = append(attrs, "found_on", u.FoundOn)
	}
	return attrs
}

func (u *CrawlURI) String() string {
	return fmt.Sprintf("%s (level %d, found on %q, processed %t)", u.URI, u.Level, u.FoundOn, u.Processed)
}

// BaseURICollection is the set of seed URIs bounding a crawl.
// URIs are deduplicated by normalized host.
type BaseURICollection struct {
	uris  []string
	hosts map[string]struct{}
}

// NewBaseURICollection builds a collection from raw URLs
func NewBaseURICollection(rawURLs ...string) (*BaseURICollection, error) {
	c := &BaseURICollection{hosts: make(map[string]struct{})}
	for _, raw := range rawURLs {
		if err := c.add(raw); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *BaseURICollection) add(raw string) error {
	normalized, err := NormalizeURI(raw)
	if err != nil {
		return err
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return fmt.Errorf("invalid base URI %q: %w", raw, err)
	}

	host := parsed.Host
	if _, exists := c.hosts[host]; exists {
		return nil
	}
	c.hosts[host] = struct{}{}
	c.uris = append(c.uris, normalized)
	return nil
}

// ContainsHost reports whether a base URI has the given normalized host,
// including a non-default port. The comparison ignores case.
func (c *BaseURICollection) ContainsHost(host string) bool {
	_, ok := c.hosts[strings.ToLower(host)]
	return ok
}

// MergeWith returns the union of both collections
func (c *BaseURICollection) MergeWith(other *BaseURICollection) *BaseURICollection {
	merged := &BaseURICollection{hosts: make(map[string]struct{})}
	for _, src := range []*BaseURICollection{c, other} {
		if src == nil {
			continue
		}
		for _, u := range src.uris {
			// already normalized, cannot fail
			_ = merged.add(u)
		}
	}
	return merged
}

// All returns the normalized seed URIs in insertion order
func (c *BaseURICollection) All() []string {
	return slices.Clone(c.uris)
}

// Hosts returns the sorted set of hosts
func (c *BaseURICollection) Hosts() []string {
	hosts := make([]string, 0, len(c.hosts))
	for h := range c.hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Len returns the number of base URIs
func (c *BaseURICollection) Len() int {
	return len(c.uris)
}

// SubscriberResult is the outcome a subscriber reports at the end of a run
type SubscriberResult struct {
	OK      bool           `json:"ok"`
	Summary string         `json:"summary"`
	Info    map[string]any `json:"info,omitempty"`
}

// NewSubscriberResult creates a result with an empty info map
func NewSubscriberResult(ok bool, summary string) *SubscriberResult {
	return &SubscriberResult{OK: ok, Summary: summary, Info: make(map[string]any)}
}

// AddInfo stores a structured value under key
func (r *SubscriberResult) AddInfo(key string, value any) {
	if r.Info == nil {
		r.Info = make(map[string]any)
	}
	r.Info[key] = value
}

// IntInfo reads a numeric info value. Values decoded from JSON arrive as
// float64, values set in-process as int; both are accepted.
func (r *SubscriberResult) IntInfo(key string) int {
	if r == nil || r.Info == nil {
		return 0
	}
	return toInt(r.Info[key])
}

// IntMapInfo reads a map of counters stored under key
func (r *SubscriberResult) IntMapInfo(key string) map[string]int {
	out := make(map[string]int)
	if r == nil || r.Info == nil {
		return out
	}
	switch m := r.Info[key].(type) {
	case map[string]int:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			out[k] = toInt(v)
		}
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// RunResult aggregates every subscriber's result of one run
type RunResult struct {
	JobID   string                       `json:"job_id"`
	Results map[string]*SubscriberResult `json:"results"`
	Order   []string                     `json:"order"`
}

// OK is true when every subscriber reported ok
func (r *RunResult) OK() bool {
	for _, res := range r.Results {
		if !res.OK {
			return false
		}
	}
	return true
}

// PageData is the inventory record of one fetched page
type PageData struct {
	URI          string        `json:"uri"`
	FoundOn      string        `json:"found_on,omitempty"`
	Level        int           `json:"level"`
	StatusCode   int           `json:"status_code"`
	ContentType  string        `json:"content_type,omitempty"`
	Title        string        `json:"title,omitempty"`
	MetaDesc     string        `json:"meta_description,omitempty"`
	MetaRobots   string        `json:"meta_robots,omitempty"`
	CanonicalURL string        `json:"canonical_url,omitempty"`
	ContentHash  string        `json:"content_hash,omitempty"`
	TTFB         time.Duration `json:"ttfb"`
	ResponseSize int           `json:"response_size"`
	CrawledAt    time.Time     `json:"crawled_at"`
}
