package papersources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// fastClient returns a client that does not throttle or back off noticeably.
func fastClient(attempts int) *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{
		Name:          "test",
		RateLimit:     1000,
		BurstSize:     100,
		MaxAttempts:   attempts,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
	})
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		require.NotNil(t, client)
		assert.Equal(t, 30*time.Second, client.client.Timeout)
		assert.Equal(t, "Helixir-LiteratureSync/1.0", client.config.UserAgent)
		assert.Equal(t, 3, client.config.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, client.config.RetryDelay)
		assert.Equal(t, float64(3), client.RateLimiter().Rate())
	})

	t.Run("keeps custom config", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{
			Name:        "pubmed",
			Timeout:     5 * time.Second,
			RateLimit:   10,
			MaxAttempts: 5,
			UserAgent:   "TestAgent/1.0",
		})

		assert.Equal(t, 5*time.Second, client.client.Timeout)
		assert.Equal(t, "pubmed", client.config.Name)
		assert.Equal(t, 5, client.config.MaxAttempts)
		assert.Equal(t, float64(10), client.RateLimiter().Rate())
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("sets User-Agent", func(t *testing.T) {
		var received string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received = r.Header.Get("User-Agent")
			w.Write([]byte("ok"))
		}))
		defer server.Close()

		client := fastClient(1)
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Helixir-LiteratureSync/1.0", received)
	})

	t.Run("returns non-retryable status without retrying", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		resp, err := fastClient(3).Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, int32(1), count.Load())
	})
}

func TestHTTPClient_DoRetries(t *testing.T) {
	t.Run("retries 503 and succeeds", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if count.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("done"))
		}))
		defer server.Close()

		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		resp, err := fastClient(3).Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "done", string(body))
		assert.Equal(t, int32(3), count.Load())
	})

	t.Run("bounded attempts on persistent 429", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		resp, err := fastClient(3).Do(req)
		require.Error(t, err)
		assert.Nil(t, resp)

		assert.Equal(t, int32(3), count.Load())
		assert.True(t, IsRetryExhausted(err))
		assert.ErrorIs(t, err, domain.ErrRateLimited)
		assert.Equal(t, domain.FailureTransient, domain.Classify(err))
	})

	t.Run("exhausted 5xx unwraps to service unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err := fastClient(2).Do(req)

		var exhausted *RetryExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, 2, exhausted.Attempts)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})

	t.Run("honors Retry-After longer than backoff", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if count.Add(1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		start := time.Now()
		resp, err := fastClient(3).Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	})

	t.Run("replays request body on retry", func(t *testing.T) {
		var bodies []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(b))
			if len(bodies) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader("payload"))
		resp, err := fastClient(3).Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, []string{"payload", "payload"}, bodies)
	})

	t.Run("observer sees every attempt", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		var retries, finals int
		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:   1000,
			BurstSize:   100,
			MaxAttempts: 3,
			RetryDelay:  time.Millisecond,
			OnAttempt: func(status int, retrying bool) {
				assert.Equal(t, http.StatusServiceUnavailable, status)
				if retrying {
					retries++
				} else {
					finals++
				}
			},
		})

		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err := client.Do(req)
		require.Error(t, err)
		assert.Equal(t, 2, retries)
		assert.Equal(t, 1, finals)
	})
}

func TestHTTPClient_DoContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := fastClient(3).Do(req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_Get(t *testing.T) {
	t.Run("encodes params and returns body", func(t *testing.T) {
		var query url.Values
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query()
			w.Write([]byte("<xml/>"))
		}))
		defer server.Close()

		body, err := fastClient(1).Get(context.Background(), server.URL, url.Values{"term": {"tp53 aml"}})
		require.NoError(t, err)
		assert.Equal(t, "<xml/>", string(body))
		assert.Equal(t, "tp53 aml", query.Get("term"))
	})

	t.Run("maps 401 to unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("API key invalid"))
		}))
		defer server.Close()

		_, err := fastClient(3).Get(context.Background(), server.URL, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.Equal(t, domain.FailureFatal, domain.Classify(err))
	})

	t.Run("maps 404 to permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := fastClient(3).Get(context.Background(), server.URL, nil)
		require.Error(t, err)
		assert.Equal(t, domain.FailurePermanent, domain.Classify(err))
	})
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("0"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 20*time.Second)
	assert.LessOrEqual(t, d, 30*time.Second)
}

func TestShouldRetry(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 599} {
		assert.True(t, shouldRetry(code), code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		assert.False(t, shouldRetry(code), code)
	}
}
