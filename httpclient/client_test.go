package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/coursestore/contextx"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/retry"
	"golang.org/x/oauth2"
)

func newTestClient(cfg Config, opts ...Option) *Client {
	return NewClient(cfg, logging.NewLogger("test", "httpclient"), metrics.NewMetrics("test"), opts...)
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
}

func TestRetriesIdempotentOnUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := newTestClient(Config{ServiceName: "t", RetryConfig: fastRetry()})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestLastResponseReturnedWhenRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(Config{ServiceName: "t", RetryConfig: fastRetry()})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "down")
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(Config{ServiceName: "t", RetryConfig: fastRetry()})
	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("{}"))
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(1), calls.Load())
}

func TestInjectsRequestIDAndBearer(t *testing.T) {
	var gotID, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(contextx.HeaderRequestID)
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := newTestClient(Config{ServiceName: "t"},
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})))
	ctx := contextx.WithRequestID(context.Background(), "req-7")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(ctx, req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-7", gotID)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestTimeoutAppliesToBodyRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()

	c := newTestClient(Config{ServiceName: "t", Timeout: time.Second})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	require.NoError(t, resp.Body.Close())
}

type deadlineRecorder struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineRecorder) RoundTrip(r *http.Request) (*http.Response, error) {
	d.deadline, d.ok = r.Context().Deadline()
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
}

func TestTimeoutDefaultsAndNegativeDisables(t *testing.T) {
	cases := []struct {
		timeout      time.Duration
		wantDeadline bool
	}{
		{0, true},
		{time.Minute, true},
		{-1, false},
	}
	for _, tc := range cases {
		rec := &deadlineRecorder{}
		c := newTestClient(Config{ServiceName: "t", Timeout: tc.timeout}, WithTransport(rec))
		req, _ := http.NewRequest(http.MethodPut, "http://storage.local/b/k", strings.NewReader("body"))
		resp, err := c.Do(context.Background(), req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, tc.wantDeadline, rec.ok, "timeout %v", tc.timeout)
		if tc.timeout == 0 {
			assert.WithinDuration(t, time.Now().Add(defaultTimeout), rec.deadline, time.Second)
		}
	}
}

func TestRateLimitFailFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	c := newTestClient(Config{ServiceName: "t", RateLimit: 1, RateBurst: 1})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = c.Do(context.Background(), req.Clone(context.Background()))
	assert.ErrorIs(t, err, ErrRateLimit)
}
