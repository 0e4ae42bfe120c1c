package crawler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyBaseURIs is returned when a crawl is created without seeds
	ErrEmptyBaseURIs = errors.New("base URI collection is empty")
	// ErrTransport matches every per-URI transport failure, including malformed responses
	ErrTransport = errors.New("transport error")
)

// UnknownJobError is returned when a job ID is not present in the queue
type UnknownJobError struct {
	JobID string
}

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("unknown crawl job %q", e.JobID)
}

// InvalidJobIDError is returned when a job ID is not a valid UUID
type InvalidJobIDError struct {
	JobID string
	Err   error
}

func (e *InvalidJobIDError) Error() string {
	return fmt.Sprintf("invalid crawl job ID %q: %v", e.JobID, e.Err)
}

func (e *InvalidJobIDError) Unwrap() error { return e.Err }

// InvalidSubscriberSelectionError is returned when no selected subscriber name matches a registered one
type InvalidSubscriberSelectionError struct {
	Selected []string
	Valid    []string
}

func (e *InvalidSubscriberSelectionError) Error() string {
	return fmt.Sprintf("you have to specify at least one valid subscriber name, valid subscribers are: %s",
		strings.Join(e.Valid, ", "))
}

// TransportError wraps a network failure for one URI
type TransportError struct {
	URI string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("could not request %s: %v", e.URI, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// MalformedResponseError reports a response that violates the stream contract,
// e.g. a chunk after the stream was closed. It is handled like a TransportError.
type MalformedResponseError struct {
	URI    string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %s", e.URI, e.Reason)
}

// Is makes errors.Is(err, ErrTransport) hold
func (e *MalformedResponseError) Is(target error) bool { return target == ErrTransport }

// HTTPStatusError is surfaced by transports configured to fail on 4xx/5xx statuses.
// It is not fatal; the stream keeps delivering chunks after it.
type HTTPStatusError struct {
	URI        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP status %d returned for %s", e.StatusCode, e.URI)
}
