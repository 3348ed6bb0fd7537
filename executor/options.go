package executor

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient      *http.Client
	timeout         time.Duration
	header          http.Header
	maxResponseSize int64
	logger          zerolog.Logger
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		timeout:         30 * time.Second,
		header:          make(http.Header),
		maxResponseSize: DefaultMaxResponseSize,
		logger:          zerolog.Nop(),
	}
}

// DefaultMaxResponseSize bounds the run call's response body (1 MB).
const DefaultMaxResponseSize int64 = 1 << 20

// WithHTTPClient sets the HTTP client used for run calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = c
	}
}

// WithTimeout bounds each run call. Zero disables the client-side timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.timeout = d
	}
}

// WithHeader adds a header sent with every run call.
func WithHeader(key, value string) Option {
	return func(cfg *clientConfig) {
		cfg.header.Add(key, value)
	}
}

// WithMaxResponseSize sets the maximum accepted response body size.
func WithMaxResponseSize(n int64) Option {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.maxResponseSize = n
		}
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = l
	}
}
