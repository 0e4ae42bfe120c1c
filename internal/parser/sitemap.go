package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Sitemap holds the entries of a <urlset> or <sitemapindex> document
type Sitemap struct {
	URLs     []string // page locations
	Sitemaps []string // nested sitemaps of an index
}

type sitemapDocument struct {
	XMLName  xml.Name     `xml:""`
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// ParseSitemap returns the <loc> entries of a sitemap or sitemap index
func ParseSitemap(content []byte) (*Sitemap, error) {
	var doc sitemapDocument
	if err := xml.NewDecoder(bytes.NewReader(content)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap: %w", err)
	}

	return &Sitemap{
		URLs:     locations(doc.URLs),
		Sitemaps: locations(doc.Sitemaps),
	}, nil
}

func locations(entries []sitemapLoc) []string {
	var locs []string
	for _, e := range entries {
		if loc := strings.TrimSpace(e.Loc); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs
}
