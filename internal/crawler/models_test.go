package crawler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURI(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"lower-cases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path", false},
		{"adds root path", "https://example.com", "https://example.com/", false},
		{"drops default http port", "http://example.com:80/a", "http://example.com/a", false},
		{"drops default https port", "https://example.com:443/a", "https://example.com/a", false},
		{"keeps other ports", "https://example.com:8443/a", "https://example.com:8443/a", false},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a", false},
		{"keeps trailing slash and query", "https://example.com/a/?b=1&a=2", "https://example.com/a/?b=1&a=2", false},
		{"trims whitespace", "  https://example.com/a  ", "https://example.com/a", false},
		{"relative", "/a/b", "", true},
		{"no host", "mailto:someone@example.com", "", true},
		{"unparsable", "https://exa mple.com:port/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURI(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewCrawlURI(t *testing.T) {
	seed, err := NewCrawlURI("https://Example.com", nil)
	require.NoError(t, err)
	assert.True(t, seed.IsSeed())
	assert.Equal(t, "example.com", seed.Host())

	child, err := NewCrawlURI("https://example.com:8080/child#x", seed)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8080/child", child.URI)
	assert.Equal(t, "https://example.com/", child.FoundOn)
	assert.Equal(t, 1, child.Level)
	assert.Equal(t, "example.com:8080", child.Host())
	assert.False(t, child.IsSeed())
}

func TestCrawlURITags(t *testing.T) {
	uri := &CrawlURI{URI: "https://example.com/"}
	uri.AddTag(TagNoFollow)
	uri.AddTag(TagNoFollow)
	assert.Equal(t, []string{TagNoFollow}, uri.Tags)

	clone := uri.Clone()
	clone.AddTag(TagNoIndex)
	assert.False(t, uri.HasTag(TagNoIndex))
	assert.True(t, clone.HasTag(TagNoFollow))
}

func TestCrawlURILogAttrsKeepSeverity(t *testing.T) {
	seed, err := NewCrawlURI("https://example.com/", nil)
	require.NoError(t, err)
	child, err := NewCrawlURI("https://example.com/gone", seed)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Error("Broken link!", child.LogAttrs()...)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record[slog.LevelKey])
	assert.Equal(t, float64(1), record["depth"])
	assert.Equal(t, "https://example.com/", record["found_on"])
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"level":`)))
}

func TestBaseURICollection(t *testing.T) {
	base, err := NewBaseURICollection(
		"https://example.com/start",
		"https://EXAMPLE.com/other",
		"http://localhost:8080",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/start", "http://localhost:8080/"}, base.All())
	assert.Equal(t, []string{"example.com", "localhost:8080"}, base.Hosts())

	assert.True(t, base.ContainsHost("example.com"))
	assert.True(t, base.ContainsHost("Example.COM"))
	assert.True(t, base.ContainsHost("localhost:8080"))
	assert.False(t, base.ContainsHost("localhost"))
	assert.False(t, base.ContainsHost("localhost:9090"))
	assert.False(t, base.ContainsHost("example.com:8443"))
	assert.False(t, base.ContainsHost("www.example.com"))

	_, err = NewBaseURICollection("not a url")
	assert.Error(t, err)
}

func TestBaseURICollectionMergeWith(t *testing.T) {
	a, err := NewBaseURICollection("https://example.com")
	require.NoError(t, err)
	b, err := NewBaseURICollection("https://example.com/again", "https://other.com")
	require.NoError(t, err)

	merged := a.MergeWith(b)
	assert.Equal(t, []string{"https://example.com/", "https://other.com/"}, merged.All())
	assert.Equal(t, 1, a.Len(), "inputs are not modified")
	assert.Equal(t, a.All(), a.MergeWith(nil).All())
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "abstain", Abstain.String())
	assert.Equal(t, "positive", Positive.String())
	assert.Equal(t, "negative", Negative.String())
	assert.Equal(t, Abstain, Decision(0))
}

func TestSubscriberResultInfo(t *testing.T) {
	var decoded SubscriberResult
	require.NoError(t, json.Unmarshal([]byte(`{"ok":true,"summary":"s","info":{"count":7,"stats":{"ok":2}}}`), &decoded))
	assert.Equal(t, 7, decoded.IntInfo("count"))
	assert.Equal(t, map[string]int{"ok": 2}, decoded.IntMapInfo("stats"))

	var missing *SubscriberResult
	assert.Equal(t, 0, missing.IntInfo("count"))
	assert.Empty(t, missing.IntMapInfo("stats"))

	run := &RunResult{Results: map[string]*SubscriberResult{
		"a": NewSubscriberResult(true, ""),
		"b": NewSubscriberResult(false, ""),
	}}
	assert.False(t, run.OK())
}

func TestResponseBuffer(t *testing.T) {
	resp := &Response{}
	resp.buffer([]byte("abc"), 5)
	resp.buffer([]byte("def"), 5)
	resp.buffer([]byte("ghi"), 5)
	assert.Equal(t, "abcde", string(resp.Content()))
	assert.True(t, resp.Truncated())

	unlimited := &Response{}
	unlimited.buffer([]byte("abc"), 0)
	unlimited.buffer([]byte("def"), 0)
	assert.Equal(t, "abcdef", string(unlimited.Content()))
	assert.False(t, unlimited.Truncated())
}
