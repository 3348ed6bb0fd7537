package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrRequestFailed     = errors.New("execution request failed")
	ErrMalformedResponse = errors.New("malformed execution response")
)

// RequestFailedError reports a run call that produced no usable outcome.
// It matches ErrRequestFailed with errors.Is.
type RequestFailedError struct {
	Op  string
	Err error
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

func (e *RequestFailedError) Is(target error) bool {
	return target == ErrRequestFailed
}

// Client issues run calls against one backend for one language.
type Client struct {
	endpoint   string
	httpClient *http.Client
	header     http.Header
	cfg        clientConfig
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, lang Language, opts ...Option) (*Client, error) {
	if lang == nil {
		return nil, errors.New("language required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: host required", baseURL)
	}

	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		endpoint:   strings.TrimSuffix(u.String(), "/") + "/api/" + url.PathEscape(lang.Name()) + "/run",
		httpClient: httpClient,
		header:     cfg.header.Clone(),
		cfg:        cfg,
	}, nil
}

// Endpoint returns the URL run calls are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Start submits code for execution. It returns Streaming or Immediate on
// success and a *RequestFailedError otherwise.
func (c *Client) Start(ctx context.Context, code string) (Outcome, error) {
	if c.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.timeout)
		defer cancel()
	}

	body, err := json.Marshal(runRequest{Code: code})
	if err != nil {
		return nil, &RequestFailedError{Op: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &RequestFailedError{Op: "build request", Err: err}
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestFailedError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.maxResponseSize+1))
	if err != nil {
		return nil, &RequestFailedError{Op: "read", Err: err}
	}
	if int64(len(data)) > c.cfg.maxResponseSize {
		return nil, &RequestFailedError{Op: "read", Err: fmt.Errorf("response exceeds %d bytes", c.cfg.maxResponseSize)}
	}

	// Some backends report compile errors with a non-2xx status and a regular
	// {output, error} body, so the body is trusted whenever it decodes.
	outcome, decodeErr := decodeRunResponse(data)
	if decodeErr != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &RequestFailedError{Op: "status", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}
		return nil, &RequestFailedError{Op: "decode", Err: decodeErr}
	}

	log := c.cfg.logger.With().Str("endpoint", c.endpoint).Int("status", resp.StatusCode).Logger()
	switch o := outcome.(type) {
	case Streaming:
		log.Debug().Str("execution_id", o.ExecutionID).Msg("run accepted for streaming")
	case Immediate:
		log.Debug().Bool("has_error", o.Error != "").Msg("run answered immediately")
	}

	return outcome, nil
}
