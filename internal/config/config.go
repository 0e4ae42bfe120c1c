// Package config provides configuration management for the crawler.
// It defines the configuration structure, default values and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Queue drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// MinRequestDelay is the smallest delay between two requests to one host
const MinRequestDelay = 0.1

// BasicAuth contains HTTP Basic Authentication credentials
type BasicAuth struct {
	Username    string `mapstructure:"username" yaml:"username"`         // Username for basic auth
	Password    string `mapstructure:"password" yaml:"password"`         // Password for basic auth
	UsernameEnv string `mapstructure:"username_env" yaml:"username_env"` // Environment variable for username
	PasswordEnv string `mapstructure:"password_env" yaml:"password_env"` // Environment variable for password
}

// Auth contains authentication configuration
type Auth struct {
	Basic *BasicAuth `mapstructure:"basic" yaml:"basic"`
}

// QueueConfig selects and configures the queue backend
type QueueConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`               // sqlite, postgres or memory
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // SQLite database file
	DSN          string `mapstructure:"dsn" yaml:"dsn"`                     // PostgreSQL connection string
	MaxConns     int32  `mapstructure:"max_conns" yaml:"max_conns"`         // PostgreSQL pool size
}

// LogConfig configures logging
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn or error
	Format     string `mapstructure:"format" yaml:"format"` // json or text
	File       string `mapstructure:"file" yaml:"file"`     // optional log file
	MaxSizeMB  int64  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// CrawlConfig holds crawler configuration
type CrawlConfig struct {
	// Crawl boundary and analysis
	BaseURIs       []string `mapstructure:"base_uris" yaml:"base_uris"`             // Seed URIs, their hosts bound the crawl
	AdditionalURIs []string `mapstructure:"additional_uris" yaml:"additional_uris"` // Extra seeds merged into the base collection
	Subscribers    []string `mapstructure:"subscribers" yaml:"subscribers"`         // Selected subscriber names

	// Request parameters
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`         // Requests in flight
	RequestDelay   float64       `mapstructure:"request_delay" yaml:"request_delay"`     // Seconds between requests to one host
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // HTTP request timeout
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`           // HTTP User-Agent header
	Headers        []string      `mapstructure:"headers" yaml:"headers"`                 // "Name: Value" headers sent with every request
	FailOnStatus   bool          `mapstructure:"fail_on_status" yaml:"fail_on_status"`   // Report 4xx/5xx as transport errors
	RespectRobots  bool          `mapstructure:"respect_robots" yaml:"respect_robots"`   // Whether to respect robots.txt

	// Limits
	MaxDepth    int   `mapstructure:"max_depth" yaml:"max_depth"`         // Maximum link distance from a seed, 0 = unlimited
	Limit       int   `mapstructure:"limit" yaml:"limit"`                 // Requests per run, 0 = unlimited
	MaxBodySize int64 `mapstructure:"max_body_size" yaml:"max_body_size"` // Bytes buffered per response, 0 = unlimited

	Auth *Auth `mapstructure:"auth" yaml:"auth,omitempty"`

	Queue       QueueConfig `mapstructure:"queue" yaml:"queue"`
	Log         LogConfig   `mapstructure:"log" yaml:"log"`
	MetricsAddr string      `mapstructure:"metrics_addr" yaml:"metrics_addr"` // Serve /metrics on this address when set
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		Subscribers:    []string{"broken-link-checker"},
		Concurrency:    2,
		RequestDelay:   0.5,
		RequestTimeout: 30 * time.Second,
		UserAgent:      "sitecrawler/1.0",
		RespectRobots:  true,
		MaxBodySize:    10 * 1024 * 1024,
		Queue: QueueConfig{
			Driver:       DriverSQLite,
			DatabasePath: "./sitecrawler.db",
			MaxConns:     4,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// Validate checks if the configuration is valid. A request delay below
// MinRequestDelay is raised to it.
func (c *CrawlConfig) Validate() error {
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RequestDelay < MinRequestDelay {
		c.RequestDelay = MinRequestDelay
	}

	if c.MaxDepth < 0 || c.Limit < 0 || c.MaxBodySize < 0 {
		return ErrNegativeLimit
	}

	switch c.Queue.Driver {
	case DriverSQLite:
		if c.Queue.DatabasePath == "" {
			return ErrEmptyDatabasePath
		}
	case DriverPostgres:
		if c.Queue.DSN == "" {
			return ErrEmptyDSN
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQueueDriver, c.Queue.Driver)
	}

	if _, err := c.ParseHeaders(); err != nil {
		return err
	}

	return nil
}

// Delay returns RequestDelay as a duration
func (c *CrawlConfig) Delay() time.Duration {
	return time.Duration(c.RequestDelay * float64(time.Second))
}

// ParseHeaders converts the "Name: Value" entries of Headers into a map
func (c *CrawlConfig) ParseHeaders() (map[string]string, error) {
	headers := make(map[string]string, len(c.Headers))
	for _, h := range c.Headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// GetBasicAuthCredentials returns the basic auth username and password,
// resolving environment variables if specified
func (c *CrawlConfig) GetBasicAuthCredentials() (username, password string) {
	if c.Auth == nil || c.Auth.Basic == nil {
		return "", ""
	}

	basic := c.Auth.Basic

	if basic.UsernameEnv != "" {
		username = os.Getenv(basic.UsernameEnv)
	} else {
		username = basic.Username
	}

	if basic.PasswordEnv != "" {
		password = os.Getenv(basic.PasswordEnv)
	} else {
		password = basic.Password
	}

	return username, password
}
