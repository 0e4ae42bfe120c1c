package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// NormalizeURI returns the form used to deduplicate crawl targets.
//
// Scheme and host are lower-cased, default ports dropped and the fragment
// discarded. An empty path becomes "/" since both request the same resource;
// any other path, including a trailing slash, and the query are kept as-is.
func NormalizeURI(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("could not parse URI %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URI %q is not absolute", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if defaultPorts[u.Scheme] == port {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]"
			}
		}
	}
	u.Host = host

	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}

	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}
