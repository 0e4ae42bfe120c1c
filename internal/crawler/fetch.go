package crawler

import (
	"bytes"
	"context"
	"errors"
)

// FetchAll fetches uri outside the crawl queue and reads the whole body, up to
// limit bytes (0 = unlimited). HTTP status errors are not reported; callers
// inspect the returned status code instead.
func FetchAll(ctx context.Context, t Transport, uri string, limit int64) (*Response, []byte, error) {
	stream, err := t.Fetch(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = stream.Close() }()

	var body bytes.Buffer
	for {
		chunk, err := stream.Next(ctx)
		var statusErr *HTTPStatusError
		if err != nil && !(errors.As(err, &statusErr) && chunk != nil) {
			return stream.Response(), nil, err
		}

		data := chunk.Data
		if limit > 0 && int64(body.Len()+len(data)) > limit {
			data = data[:limit-int64(body.Len())]
			body.Write(data)
			return stream.Response(), body.Bytes(), nil
		}
		body.Write(data)

		if chunk.Last {
			return stream.Response(), body.Bytes(), nil
		}
	}
}
