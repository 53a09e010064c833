package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// maxResponseBytes caps how much of a response body is read into memory.
const maxResponseBytes = 10 << 20

// HTTPClientConfig configures the throttled HTTP client.
type HTTPClientConfig struct {
	// Name identifies the remote service in errors and metrics.
	Name string

	// Timeout is the per-attempt request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxAttempts bounds the total number of attempts per request,
	// including the first one.
	MaxAttempts int

	// RetryDelay is the initial backoff interval. Each retry doubles it up
	// to MaxRetryDelay.
	RetryDelay time.Duration

	// MaxRetryDelay caps a single backoff interval.
	MaxRetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// OnAttempt, when set, is called after every attempt with the status
	// code (0 on transport errors) and whether a retry will follow.
	OnAttempt func(status int, retrying bool)
}

// HTTPClient performs rate-limited, retried HTTP calls. Every request made
// through it, whatever the endpoint, draws from the same limiter. It is safe
// for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a throttled client, applying defaults for any zero
// field.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 3
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-LiteratureSync/1.0"
	}

	return &HTTPClient{
		client:      &http.Client{Timeout: cfg.Timeout},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// RateLimiter exposes the shared limiter.
func (c *HTTPClient) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// Do executes req, waiting on the limiter before every attempt. Network
// errors, 429 and 5xx responses are retried with exponential backoff until
// MaxAttempts is reached; a Retry-After header longer than the computed
// backoff wins. Other responses are returned to the caller as-is.
//
// Requests with a body must set GetBody so it can be replayed.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	policy := c.newBackOff()
	ctx := req.Context()

	for attempt := 1; ; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		var (
			lastErr    error
			retryAfter time.Duration
			status     int
		)

		resp, err := c.client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%s request failed: %w", c.config.Name, err)
		case shouldRetry(resp.StatusCode):
			status = resp.StatusCode
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			drainAndClose(resp)
			lastErr = c.statusError(resp.StatusCode, retryAfter)
		default:
			c.observe(resp.StatusCode, false)
			return resp, nil
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			c.observe(status, false)
			return nil, &RetryExhaustedError{Attempts: attempt, Err: lastErr}
		}
		if retryAfter > delay {
			delay = retryAfter
		}
		c.observe(status, true)

		if err := waitForRetry(ctx, delay); err != nil {
			return nil, err
		}
		if err := resetRequestBody(req); err != nil {
			return nil, fmt.Errorf("cannot retry request: %w", err)
		}
	}
}

// Get performs a throttled GET of endpoint with the given query parameters
// and returns the response body. Non-2xx responses become
// domain.ExternalAPIError.
func (c *HTTPClient) Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.NewExternalAPIError(c.config.Name, resp.StatusCode, string(snippet), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.config.Name, err)
	}
	return body, nil
}

func (c *HTTPClient) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.config.RetryDelay
	exp.MaxInterval = c.config.MaxRetryDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.2
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := c.config.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(exp, uint64(retries))
}

func (c *HTTPClient) statusError(status int, retryAfter time.Duration) error {
	if status == http.StatusTooManyRequests {
		return domain.NewRateLimitError(c.config.Name, retryAfter)
	}
	return domain.NewExternalAPIError(c.config.Name, status, http.StatusText(status), nil)
}

func (c *HTTPClient) observe(status int, retrying bool) {
	if c.config.OnAttempt != nil {
		c.config.OnAttempt(status, retrying)
	}
}

// shouldRetry returns true for 429 and 5xx.
func shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return 0
}

func drainAndClose(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
}

func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

// RetryExhaustedError is returned when every attempt of a request failed
// with a retryable condition.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("max attempts (%d) exhausted: %v", e.Attempts, e.Err)
}

// Unwrap returns the error of the last attempt.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted reports whether err came from a request whose retries
// were all used up.
func IsRetryExhausted(err error) bool {
	var target *RetryExhaustedError
	return errors.As(err, &target)
}
