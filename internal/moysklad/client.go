package moysklad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultTimeout       = 60 * time.Second
	defaultBinaryTimeout = 300 * time.Second

	maxAttempts      = 5
	retryBackoffBase = 500 * time.Millisecond
)

// Config carries the documented Moysklad API limits plus credentials.
type Config struct {
	BaseURL  string
	Login    string
	Password string

	UserAgent string

	// Rate window: at most MaxRequestsPerWindow calls per Window.
	MaxRequestsPerWindow int
	Window               time.Duration

	// Parallelism caps: per-user and account-wide.
	MaxParallelUser    int
	MaxParallelAccount int

	// Payload ceilings checked before send.
	MaxRequestBodyBytes int
	MaxHeaderBytes      int

	// Identical-failure breaker threshold per minute.
	MaxIdenticalFailuresPerMinute int
}

// DefaultConfig returns the limits Moysklad documents for the remap 1.2 API.
func DefaultConfig() Config {
	return Config{
		BaseURL:                       "https://api.moysklad.ru/api/remap/1.2",
		UserAgent:                     "meridian-shop/1.0",
		MaxRequestsPerWindow:          45,
		Window:                        3 * time.Second,
		MaxParallelUser:               5,
		MaxParallelAccount:            20,
		MaxRequestBodyBytes:           20 * 1024 * 1024,
		MaxHeaderBytes:                8 * 1024,
		MaxIdenticalFailuresPerMinute: 100,
	}
}

// Metrics receives client-level observations. Implemented by
// observability.Metrics; a nil Metrics disables instrumentation.
type Metrics interface {
	ObserveUpstreamRequest(method string, status int, outcome string)
	ObserveUpstreamRetry()
	ObserveUpstreamCircuitOpen()
}

// Client is a Moysklad API client enforcing rate, concurrency and payload
// limits. It is safe for concurrent use and is meant to be constructed once
// per process and shared by every caller.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	metrics Metrics

	throttle    *slidingWindow
	userGate    *semaphore.Weighted
	accountGate *semaphore.Weighted
	failures    *failureTracker

	baseHeader http.Header

	// Backoff bases, overridable in tests.
	transportBackoffBase time.Duration
	statusBackoffBase    time.Duration
}

// NewClient constructs a Client. Zero limits in cfg fall back to defaults.
func NewClient(cfg Config, logger *slog.Logger, metrics Metrics) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxRequestsPerWindow <= 0 {
		cfg.MaxRequestsPerWindow = def.MaxRequestsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxParallelUser <= 0 {
		cfg.MaxParallelUser = def.MaxParallelUser
	}
	if cfg.MaxParallelAccount <= 0 {
		cfg.MaxParallelAccount = def.MaxParallelAccount
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = def.MaxRequestBodyBytes
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if cfg.MaxIdenticalFailuresPerMinute <= 0 {
		cfg.MaxIdenticalFailuresPerMinute = def.MaxIdenticalFailuresPerMinute
	}

	base := http.Header{}
	base.Set("Accept", "application/json")
	base.Set("Accept-Encoding", "gzip, deflate")
	base.Set("User-Agent", cfg.UserAgent)

	return &Client{
		cfg:                  cfg,
		http:                 &http.Client{},
		logger:               logger,
		metrics:              metrics,
		throttle:             newSlidingWindow(cfg.MaxRequestsPerWindow, cfg.Window),
		userGate:             semaphore.NewWeighted(int64(cfg.MaxParallelUser)),
		accountGate:          semaphore.NewWeighted(int64(cfg.MaxParallelAccount)),
		failures:             newFailureTracker(cfg.MaxIdenticalFailuresPerMinute, time.Minute),
		baseHeader:           base,
		transportBackoffBase: retryBackoffBase,
		statusBackoffBase:    time.Second,
	}
}

// BaseURL returns the configured API root without a trailing slash.
func (c *Client) BaseURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

// RequestOptions shapes a single call. Zero values mean defaults.
type RequestOptions struct {
	Query   url.Values
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is a fully-read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("moysklad: decode response: %w", err)
	}
	return nil
}

// GetJSON performs a GET and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, v any) error {
	resp, err := c.Do(ctx, http.MethodGet, rawURL, &RequestOptions{Query: query})
	if err != nil {
		return err
	}
	return resp.DecodeJSON(v)
}

// GetBinary performs a GET with the binary download timeout and returns the
// raw bytes.
func (c *Client) GetBinary(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Do(ctx, http.MethodGet, rawURL, &RequestOptions{Timeout: defaultBinaryTimeout})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Do performs one logical request with admission control, retries and the
// identical-failure circuit breaker.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	if err := c.checkLimits(opts); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrValidation, err)
	}
	if len(opts.Query) > 0 {
		q := parsed.Query()
		for k, vs := range opts.Query {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		parsed.RawQuery = q.Encode()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	routeKey := strings.ToUpper(method) + ":" + parsed.Path
	if c.failures.isOpen(routeKey) {
		c.observe(method, 0, "circuit_open")
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, routeKey)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && c.metrics != nil {
			c.metrics.ObserveUpstreamRetry()
		}

		resp, err := c.send(ctx, method, parsed, opts, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", ErrTransport, err)
			c.observe(method, 0, "transport_error")
			if err := c.sleep(ctx, backoff(c.transportBackoffBase, attempt, 5*time.Second)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("%w: received 429", ErrRateLimited)
			c.observe(method, resp.StatusCode, "rate_limited")
			if err := c.sleep(ctx, backoff(c.statusBackoffBase, attempt+1, 10*time.Second)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 500 {
			signature := failureSignature(method, parsed.Path, resp.StatusCode)
			if c.failures.register(signature, routeKey) {
				if c.metrics != nil {
					c.metrics.ObserveUpstreamCircuitOpen()
				}
				c.observe(method, resp.StatusCode, "circuit_open")
				return nil, fmt.Errorf("%w: repeating %s", ErrCircuitOpen, signature)
			}
			lastErr = fmt.Errorf("%w: status %d: %s", ErrServer, resp.StatusCode, snippet(resp.Body))
			c.observe(method, resp.StatusCode, "server_error")
			if err := c.sleep(ctx, backoff(c.statusBackoffBase, attempt+1, 10*time.Second)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			c.observe(method, resp.StatusCode, "client_error")
			return nil, fmt.Errorf("%w: status %d: %s", ErrClient, resp.StatusCode, snippet(resp.Body))
		}

		c.failures.resetRoute(routeKey)
		c.observe(method, resp.StatusCode, "ok")
		return resp, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: retries exhausted", ErrTransport)
	}
	return nil, lastErr
}

// send acquires the admission slots in fixed order (account gate outermost,
// then user gate, then throttle) and performs exactly one HTTP exchange.
func (c *Client) send(ctx context.Context, method string, u *url.URL, opts *RequestOptions, timeout time.Duration) (*Response, error) {
	if err := c.accountGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.accountGate.Release(1)

	if err := c.userGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.userGate.Release(1)

	if err := c.throttle.wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.baseHeader {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	req.SetBasicAuth(c.cfg.Login, c.cfg.Password)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// checkLimits rejects oversized headers or bodies before any slot is taken.
// This protects against malformed call sites, not upstream behaviour.
func (c *Client) checkLimits(opts *RequestOptions) error {
	headerSize := 0
	count := func(h http.Header) {
		for k, vs := range h {
			for _, v := range vs {
				headerSize += len(k) + len(v) + 4 // "k: v\r\n"
			}
		}
	}
	count(c.baseHeader)
	count(opts.Header)
	if headerSize > c.cfg.MaxHeaderBytes {
		return fmt.Errorf("%w: headers exceed %d bytes (got %d)", ErrValidation, c.cfg.MaxHeaderBytes, headerSize)
	}
	if len(opts.Body) > c.cfg.MaxRequestBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes (got %d)", ErrValidation, c.cfg.MaxRequestBodyBytes, len(opts.Body))
	}
	return nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) observe(method string, status int, outcome string) {
	if c.metrics != nil {
		c.metrics.ObserveUpstreamRequest(method, status, outcome)
	}
	if c.logger != nil && outcome != "ok" {
		c.logger.Warn("upstream request",
			slog.String("method", method),
			slog.Int("status", status),
			slog.String("outcome", outcome))
	}
}

func failureSignature(method, path string, status int) string {
	return strings.ToUpper(method) + ":" + path + ":" + strconv.Itoa(status)
}

// backoff computes base*2^(attempt-1) capped at max.
func backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}
