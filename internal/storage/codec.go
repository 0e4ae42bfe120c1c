package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/masahif/sitecrawler/internal/crawler"
)

// ErrNotQueued is returned when a URI that was never added is marked processed
var ErrNotQueued = errors.New("URI is not queued")

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(encoded), nil
}

func decodeTags(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}

func decodeBaseURIs(data []byte) (*crawler.BaseURICollection, error) {
	var uris []string
	if err := json.Unmarshal(data, &uris); err != nil {
		return nil, fmt.Errorf("failed to unmarshal base URIs: %w", err)
	}
	return crawler.NewBaseURICollection(uris...)
}

func decodeResults(data []byte) (map[string]*crawler.SubscriberResult, error) {
	results := make(map[string]*crawler.SubscriberResult)
	if len(data) == 0 {
		return results, nil
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results: %w", err)
	}
	return results, nil
}
