package config

import "errors"

var (
	// ErrInvalidConcurrency is returned when concurrency is not greater than 0
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrNegativeLimit is returned when max_depth, limit or max_body_size is negative
	ErrNegativeLimit = errors.New("max_depth, limit and max_body_size must not be negative")
	// ErrUnknownQueueDriver is returned for a queue.driver other than sqlite, postgres or memory
	ErrUnknownQueueDriver = errors.New("unknown queue driver")
	// ErrEmptyDatabasePath is returned when the sqlite driver has no database path
	ErrEmptyDatabasePath = errors.New("queue.database_path cannot be empty")
	// ErrEmptyDSN is returned when the postgres driver has no DSN
	ErrEmptyDSN = errors.New("queue.dsn cannot be empty")
	// ErrInvalidHeader is returned for a header not in "Name: Value" form
	ErrInvalidHeader = errors.New("header must be in 'Name: Value' format")
)
