// Package config provides process-wide configuration loaded from environment variables.
//
// The configuration is loaded once at startup and passed explicitly to the constructors,
// see client.NewFromConfig and dispatch.WithConfig. There is no global state.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/keboola/go-envelope-client/pkg/reachability"
)

// EnvPrefix of all environment variables, for example ENVELOPE_DEBUG.
const EnvPrefix = "ENVELOPE"

// Config holds the client configuration.
type Config struct {
	// Debug enables verbose tracing of each request and response.
	Debug bool `envconfig:"DEBUG" default:"false"`
	// CacheSize is the maximum size of a request body buffered in memory, in bytes.
	// Larger multipart bodies are streamed.
	CacheSize int64 `envconfig:"CACHE_SIZE" default:"10000000"`

	// Transport
	BaseURL         string        `envconfig:"BASE_URL"`
	UserAgent       string        `envconfig:"USER_AGENT" default:"keboola-go-envelope-client"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	MaxConnsPerHost int           `envconfig:"MAX_CONNS_PER_HOST" default:"32"`
	RetryCount      int           `envconfig:"RETRY_COUNT" default:"0"`
	// HTTP2 forces the HTTP2 protocol.
	HTTP2           bool          `envconfig:"HTTP2" default:"false"`

	// Batch
	BatchConcurrency int `envconfig:"BATCH_CONCURRENCY" default:"8"`

	// Reachability is one of "always", "never", "dial".
	Reachability        string        `envconfig:"REACHABILITY" default:"always"`
	ReachabilityTimeout time.Duration `envconfig:"REACHABILITY_TIMEOUT" default:"3s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Default returns the configuration with default values, environment is not read.
func Default() Config {
	return Config{
		CacheSize:           10_000_000,
		UserAgent:           "keboola-go-envelope-client",
		RequestTimeout:      10 * time.Second,
		MaxConnsPerHost:     32,
		BatchConcurrency:    8,
		Reachability:        "always",
		ReachabilityTimeout: reachability.DefaultDialTimeout,
		LogLevel:            "info",
	}
}

// Load loads and validates the configuration from environment variables.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, fmt.Errorf("cannot load config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	var errs []string
	if c.CacheSize <= 0 {
		errs = append(errs, "CACHE_SIZE must be positive")
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT must be positive")
	}
	if c.MaxConnsPerHost <= 0 {
		errs = append(errs, "MAX_CONNS_PER_HOST must be positive")
	}
	if c.RetryCount < 0 {
		errs = append(errs, "RETRY_COUNT must not be negative")
	}
	if c.BatchConcurrency <= 0 {
		errs = append(errs, "BATCH_CONCURRENCY must be positive")
	}
	if _, err := c.ReachabilityChecker(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, ", "))
	}
	return nil
}

// ReachabilityChecker returns the configured reachability checker.
func (c Config) ReachabilityChecker() (reachability.Checker, error) {
	return reachability.Parse(c.Reachability, c.ReachabilityTimeout)
}

// SlogLevel converts the LogLevel to the slog.Level, debug mode forces the debug level.
func (c Config) SlogLevel() (slog.Level, error) {
	if c.Debug {
		return slog.LevelDebug, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf(`log level "%s" is not valid`, c.LogLevel)
	}
	return level, nil
}
