package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/sitecrawler/internal/crawler"
)

func readAll(t *testing.T, stream crawler.Stream) ([]*crawler.Chunk, []error) {
	t.Helper()
	var (
		chunks []*crawler.Chunk
		errs   []error
	)
	for i := 0; i < 100; i++ {
		chunk, err := stream.Next(context.Background())
		if err != nil {
			errs = append(errs, err)
		}
		if chunk == nil {
			return chunks, errs
		}
		chunks = append(chunks, chunk)
		if chunk.Last {
			return chunks, errs
		}
	}
	t.Fatal("stream did not end")
	return nil, nil
}

func TestHTTPTransportStreamsChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Test-Crawler/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	tr := NewHTTPTransport(Config{
		UserAgent:      "Test-Crawler/1.0",
		RequestTimeout: 5 * time.Second,
		Headers:        map[string]string{"X-Custom": "yes"},
		ChunkSize:      4,
	})
	defer tr.Close()

	stream, err := tr.Fetch(context.Background(), server.URL+"/")
	require.NoError(t, err)
	defer stream.Close()

	resp := stream.Response()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType())

	chunks, errs := readAll(t, stream)
	require.Empty(t, errs)
	require.Len(t, chunks, 3)
	assert.True(t, chunks[0].First)
	assert.False(t, chunks[1].First)
	assert.True(t, chunks[2].Last)

	var body strings.Builder
	for _, c := range chunks {
		body.Write(c.Data)
	}
	assert.Equal(t, "0123456789", body.String())

	// reading past the last chunk violates the stream contract
	_, err = stream.Next(context.Background())
	var malformed *crawler.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.ErrorIs(t, err, crawler.ErrTransport)
}

func TestHTTPTransportEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tr := NewHTTPTransport(Config{RequestTimeout: 5 * time.Second})
	stream, err := tr.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	defer stream.Close()

	chunks, errs := readAll(t, stream)
	require.Empty(t, errs)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].First)
	assert.True(t, chunks[0].Last)
	assert.Empty(t, chunks[0].Data)
}

func TestHTTPTransportFailOnStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found page"))
	}))
	defer server.Close()

	t.Run("disabled", func(t *testing.T) {
		tr := NewHTTPTransport(Config{RequestTimeout: 5 * time.Second})
		stream, err := tr.Fetch(context.Background(), server.URL)
		require.NoError(t, err)
		defer stream.Close()

		assert.Equal(t, http.StatusNotFound, stream.Response().StatusCode)
		_, errs := readAll(t, stream)
		assert.Empty(t, errs)
	})

	t.Run("enabled", func(t *testing.T) {
		tr := NewHTTPTransport(Config{RequestTimeout: 5 * time.Second, FailOnStatus: true, ChunkSize: 4})
		stream, err := tr.Fetch(context.Background(), server.URL)
		require.NoError(t, err)
		defer stream.Close()

		chunks, errs := readAll(t, stream)
		require.Len(t, chunks, 4)
		require.Len(t, errs, 4)
		for _, err := range errs {
			var statusErr *crawler.HTTPStatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
			assert.False(t, errors.Is(err, crawler.ErrTransport))
		}
		assert.True(t, chunks[3].Last)
	})
}

func TestHTTPTransportConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tr := NewHTTPTransport(Config{RequestTimeout: time.Second})
	_, err := tr.Fetch(context.Background(), url)
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrTransport)
}

func TestHTTPTransportClosedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body"))
	}))
	defer server.Close()

	tr := NewHTTPTransport(Config{RequestTimeout: 5 * time.Second})
	stream, err := tr.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	_, err = stream.Next(context.Background())
	var malformed *crawler.MalformedResponseError
	assert.ErrorAs(t, err, &malformed)
}

func TestHTTPTransportBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "testuser" || pass != "testpass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := NewHTTPTransport(Config{RequestTimeout: 5 * time.Second, Username: "testuser", Password: "testpass"})
	stream, err := tr.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, http.StatusOK, stream.Response().StatusCode)
}
