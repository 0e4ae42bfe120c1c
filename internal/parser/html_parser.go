// Package parser extracts links and page metadata from HTML documents and
// URL entries from XML sitemaps.
package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Document is the result of parsing one HTML page
type Document struct {
	Title        string
	MetaDesc     string
	MetaRobots   string
	CanonicalURL string
	ContentHash  string
	Links        []Link
}

// Link is a followable reference found in a document
type Link struct {
	URL        string // absolute, fragment included as written
	AnchorText string
	Rel        string
}

// NoFollow reports whether the link carries rel="nofollow"
func (l Link) NoFollow() bool {
	return hasToken(l.Rel, "nofollow")
}

// NoFollow reports whether meta robots forbids following the links of the page
func (d *Document) NoFollow() bool {
	return hasToken(d.MetaRobots, "nofollow") || hasToken(d.MetaRobots, "none")
}

// NoIndex reports whether meta robots forbids indexing the page
func (d *Document) NoIndex() bool {
	return hasToken(d.MetaRobots, "noindex") || hasToken(d.MetaRobots, "none")
}

// HTMLParser parses documents fetched from one URL
type HTMLParser struct {
	baseURL *url.URL
}

// NewHTMLParser creates a parser resolving relative references against pageURL
func NewHTMLParser(pageURL string) (*HTMLParser, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &HTMLParser{baseURL: parsedURL}, nil
}

// Parse extracts title, meta description, meta robots, canonical URL and the
// http(s) links of content. A <base href> overrides the page URL for
// resolving references.
func (p *HTMLParser) Parse(content []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	w := &walker{base: p.baseURL, doc: &Document{}}
	w.walk(root)

	hash := sha256.Sum256(content)
	w.doc.ContentHash = hex.EncodeToString(hash[:])

	return w.doc, nil
}

type walker struct {
	base    *url.URL
	baseSet bool
	doc     *Document
}

func (w *walker) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "base":
			w.setBase(attr(n, "href"))
		case "title":
			if w.doc.Title == "" {
				w.doc.Title = strings.TrimSpace(text(n))
			}
		case "meta":
			w.meta(n)
		case "link":
			if hasToken(attr(n, "rel"), "canonical") {
				if abs, ok := w.resolve(attr(n, "href")); ok {
					w.doc.CanonicalURL = abs
				}
			}
		case "a", "area":
			w.anchor(n)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// only the first <base> counts
func (w *walker) setBase(href string) {
	if w.baseSet || href == "" {
		return
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return
	}
	w.base = w.base.ResolveReference(ref)
	w.baseSet = true
}

func (w *walker) meta(n *html.Node) {
	content := attr(n, "content")
	switch strings.ToLower(attr(n, "name")) {
	case "description":
		w.doc.MetaDesc = content
	case "robots":
		w.doc.MetaRobots = content
	}
}

func (w *walker) anchor(n *html.Node) {
	abs, ok := w.resolve(attr(n, "href"))
	if !ok {
		return
	}
	w.doc.Links = append(w.doc.Links, Link{
		URL:        abs,
		AnchorText: strings.TrimSpace(text(n)),
		Rel:        attr(n, "rel"),
	})
}

// resolve returns the absolute form of an http(s) reference
func (w *walker) resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := w.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}

	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := text(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// hasToken reports whether a comma or space separated list contains token
func hasToken(list, token string) bool {
	fields := strings.FieldsFunc(strings.ToLower(list), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return slices.Contains(fields, token)
}
