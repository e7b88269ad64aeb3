// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/metrics"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRetries   = 5
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 30 * time.Second
	maxResponseBytes = 32 << 20
)

// Config controls a Client. Zero values fall back to DefaultConfig.
type Config struct {
	// Service labels logs and metrics, e.g. "realdebrid".
	Service   string
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	UserAgent string
	// Limiter is shared between clients that must respect one budget. Nil disables pacing.
	Limiter    Limiter
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// DefaultConfig returns sane defaults.
func DefaultConfig(service string) Config {
	return Config{
		Service:   service,
		Timeout:   defaultTimeout,
		Retries:   defaultRetries,
		BaseDelay: defaultBaseDelay,
		MaxDelay:  defaultMaxDelay,
	}
}

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Timeout overrides the client timeout for every attempt of this call.
	Timeout time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return errors.New("empty response body")
	}
	return errors.Wrap(json.Unmarshal(r.Body, v), "decode response")
}

// Client is the retrying, paced HTTP gateway shared by the service clients.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func NewClient(cfg Config) *Client {
	defaults := DefaultConfig(cfg.Service)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Service == "" {
		cfg.Service = "http"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: log.With().Str("module", "transport").Str("service", cfg.Service).Logger(),
	}
}

// Service returns the label this client reports under.
func (c *Client) Service() string {
	return c.cfg.Service
}

// Do executes the request, retrying server errors and connection failures with
// exponential backoff. Any response that is not a retryable server error is
// returned as-is, whatever its status.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		resp     *Response
		attempts int
	)

	err := retry.Do(
		func() error {
			attempts++
			r, err := c.attempt(ctx, method, req)
			if err != nil {
				return err
			}
			resp = r
			if isRetryableStatus(r.StatusCode) {
				return &statusError{code: r.StatusCode}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.Retries+1)),
		retry.Delay(c.cfg.BaseDelay),
		retry.MaxDelay(c.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && retry.IsRecoverable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Err(err).Str("method", method).Str("url", req.URL).Uint("attempt", n+1).Msg("retrying request")
		}),
	)
	if err == nil {
		return resp, nil
	}

	terr := &TransportError{
		Service:  c.cfg.Service,
		Method:   method,
		URL:      req.URL,
		Attempts: attempts,
		Err:      err,
	}
	var se *statusError
	if errors.As(err, &se) {
		terr.StatusCode = se.code
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		terr.Err = ctxErr
	}
	c.logger.Warn().Err(terr.Err).Str("method", method).Str("url", req.URL).Int("attempts", attempts).Int("status", terr.StatusCode).Msg("request failed")
	return nil, terr
}

func (c *Client) attempt(ctx context.Context, method string, req *Request) (*Response, error) {
	if c.cfg.Limiter != nil {
		start := time.Now()
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
		if waited := time.Since(start); waited > 10*time.Millisecond {
			c.cfg.Metrics.ObserveRateLimitWait(c.cfg.Service, waited)
			c.logger.Trace().Dur("waited", waited).Msg("rate limiter delayed request")
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return nil, retry.Unrecoverable(errors.Wrap(err, "build request"))
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.cfg.Metrics.ObserveHTTP(c.cfg.Service, 0)
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		c.cfg.Metrics.ObserveHTTP(c.cfg.Service, 0)
		return nil, errors.Wrap(err, "read response body")
	}
	c.cfg.Metrics.ObserveHTTP(c.cfg.Service, httpResp.StatusCode)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
