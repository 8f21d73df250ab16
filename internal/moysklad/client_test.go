package moysklad

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = baseURL
	cfg.Login = "login"
	cfg.Password = "password"
	c := NewClient(cfg, nil, nil)
	c.transportBackoffBase = time.Millisecond
	c.statusBackoffBase = time.Millisecond
	return c
}

func TestDoReturnsDecodedJSON(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "login", user)
		require.Equal(t, "password", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rows":[{"id":"abc"}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{})
	var out rowsEnvelope[ProductRecord]
	require.NoError(t, c.GetJSON(context.Background(), srv.URL+"/entity/product", nil, &out))
	require.Len(t, out.Rows, 1)
	require.Equal(t, "abc", out.Rows[0].ID)
	require.EqualValues(t, 1, hits.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no such entity", http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{})
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.ErrorIs(t, err, ErrClient)
	require.EqualValues(t, 1, hits.Load())
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{})
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, hits.Load())
}

func TestDoExhaustsRetriesOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{})
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.ErrorIs(t, err, ErrRateLimited)
	require.EqualValues(t, maxAttempts, hits.Load())
}

func TestCircuitOpensOnRepeatedIdenticalServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{MaxIdenticalFailuresPerMinute: 2})
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.EqualValues(t, 2, hits.Load())

	// The open circuit rejects the next call without touching the upstream.
	_, err = c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.EqualValues(t, 2, hits.Load())
}

func TestSuccessResetsFailureHistory(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail once, then succeed; a fresh 500 afterwards must start a
		// fresh count rather than tripping the breaker.
		n := hits.Add(1)
		if n == 1 || n == 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{MaxIdenticalFailuresPerMinute: 2})
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.NoError(t, err)
	require.EqualValues(t, 4, hits.Load())
}

func TestSuccessClearsEveryStatusBucketForRoute(t *testing.T) {
	var hits atomic.Int32
	statuses := []int{
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusOK,
		http.StatusInternalServerError,
		http.StatusOK,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := statuses[hits.Add(1)-1]
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{MaxIdenticalFailuresPerMinute: 2})
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.NoError(t, err)

	// The 500 before the success must not pair up with this one.
	_, err = c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.NoError(t, err)
	require.EqualValues(t, len(statuses), hits.Load())
}

func TestValidationRejectsOversizedBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{MaxRequestBodyBytes: 8})
	_, err := c.Do(context.Background(), http.MethodPost, srv.URL+"/entity/product",
		&RequestOptions{Body: []byte("well over eight bytes")})
	require.ErrorIs(t, err, ErrValidation)
	require.EqualValues(t, 0, hits.Load())
}

func TestValidationRejectsOversizedHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{MaxHeaderBytes: 32})
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/entity/product", nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestThrottleDelaysCallsOverBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	const window = 400 * time.Millisecond
	c := testClient(t, srv.URL, Config{MaxRequestsPerWindow: 3, Window: window})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Do(ctx, http.MethodGet, srv.URL+"/", nil)
		require.NoError(t, err)
	}
	withinBudget := time.Since(start)
	require.Less(t, withinBudget, window, "calls under the window budget must not block")

	_, err := c.Do(ctx, http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	overBudget := time.Since(start)
	require.GreaterOrEqual(t, overBudget, window-50*time.Millisecond,
		"the call over budget must wait for the oldest timestamp to leave the window")
}

func TestDoRetriesTransportFailures(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1", Config{})
	_, err := c.Do(context.Background(), http.MethodGet, "http://127.0.0.1:1/entity/product", nil)
	require.ErrorIs(t, err, ErrTransport)
}

func TestDoHonoursContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Config{})
	c.statusBackoffBase = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Do(ctx, http.MethodGet, srv.URL+"/entity/product", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
