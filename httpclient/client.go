// Package httpclient 提供具备治理能力的 HTTP 客户端：限流、并发控制、熔断、幂等重试、慢请求监控与链路头透传。
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/coursestore/breaker"
	"github.com/wyfcoding/coursestore/config"
	"github.com/wyfcoding/coursestore/contextx"
	"github.com/wyfcoding/coursestore/idgen"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/retry"
	"github.com/wyfcoding/coursestore/tracing"
	"golang.org/x/oauth2"
)

var (
	// ErrRateLimit 表示触发 HTTP 客户端限流。
	ErrRateLimit = errors.New("http client rate limit exceeded")
	// ErrConcurrencyLimit 表示触发 HTTP 客户端并发限制。
	ErrConcurrencyLimit = errors.New("http client concurrency limit exceeded")
	// ErrRequestBodyNotReplayable 表示请求体不可重复读取，无法重试。
	ErrRequestBodyNotReplayable = errors.New("request body is not replayable")
)

const defaultTimeout = 10 * time.Second

// Config 定义 HTTP 客户端的治理配置。
type Config struct {
	ServiceName string
	// Timeout 单次调用（含重试与读取响应体）的总时限，0 取默认值，负数表示不设时限。
	Timeout        time.Duration
	BreakerConfig  config.CircuitBreakerConfig
	RateLimit      int
	RateBurst      int
	MaxConcurrency int
	// WaitForToken 为 true 时限流阻塞等待令牌，否则直接返回 ErrRateLimit。
	WaitForToken  bool
	SlowThreshold time.Duration
	RetryConfig   retry.Config
	RetryStatus   []int
	RetryMethods  []string
}

// Option 定制底层传输。
type Option func(*Client)

// WithTransport 替换底层 RoundTripper，测试中常用 httptest 的 Transport。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithTokenSource 为每个请求附加 Bearer Token。
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// Client 封装标准 http.Client，提供治理能力。
type Client struct {
	client          *http.Client
	base            http.RoundTripper
	tokens          oauth2.TokenSource
	logger          *logging.Logger
	metricsInstance *metrics.Metrics
	policy          atomic.Pointer[clientPolicy]
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	slowRequests    *prometheus.CounterVec
}

// NewClient 创建一个带治理能力的 HTTP 客户端。
func NewClient(cfg Config, logger *logging.Logger, metricsInstance *metrics.Metrics, opts ...Option) *Client {
	if metricsInstance == nil {
		metricsInstance = metrics.NewMetrics(cfg.ServiceName)
	}
	if logger == nil {
		logger = logging.Default()
	}

	c := &Client{
		base:            http.DefaultTransport,
		logger:          logger,
		metricsInstance: metricsInstance,
		requestsTotal: metricsInstance.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "HTTP client request count",
		}, []string{"host", "method", "status"}),
		requestDuration: metricsInstance.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "HTTP client request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host", "method"}),
		slowRequests: metricsInstance.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "http_client",
			Name:      "slow_requests_total",
			Help:      "HTTP client slow request count",
		}, []string{"host", "method"}),
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := c.base
	if c.tokens != nil {
		transport = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, c.tokens), Base: c.base}
	}
	c.client = &http.Client{Transport: transport}
	c.UpdateConfig(cfg)
	return c
}

// NewFromConfig 基于统一配置构造 HTTP 客户端。
func NewFromConfig(cfg config.HTTPClientConfig, logger *logging.Logger, metricsInstance *metrics.Metrics, opts ...Option) *Client {
	serviceName := "httpclient"
	if logger != nil && logger.Service != "" {
		serviceName = logger.Service
	}
	return NewClient(Config{
		ServiceName:    serviceName,
		Timeout:        cfg.Timeout,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		MaxConcurrency: cfg.MaxConcurrency,
		WaitForToken:   true,
		SlowThreshold:  cfg.SlowThreshold,
		BreakerConfig:  cfg.Breaker,
		RetryConfig:    normalizeRetryConfig(cfg),
		RetryStatus:    cfg.RetryStatus,
	}, logger, metricsInstance, opts...)
}

// UpdateConfig 原子替换治理策略，配置热更新时调用。
func (c *Client) UpdateConfig(cfg Config) {
	if c == nil {
		return
	}
	c.policy.Store(buildPolicy(cfg, c.metricsInstance))
}

// Do 发起 HTTP 请求并返回响应。
// 幂等方法在传输错误或可重试状态码时按退避策略重试；最后一次的响应原样返回给调用方。
// 配置了超时时，超时 context 在响应体关闭时释放。
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	if ctx == nil {
		ctx = req.Context()
	}

	policy := c.policy.Load()
	if policy.timeout <= 0 {
		return c.do(ctx, req.WithContext(ctx), policy)
	}

	ctx, cancel := context.WithTimeout(ctx, policy.timeout)
	resp, err := c.do(ctx, req.WithContext(ctx), policy)
	if err != nil || resp == nil {
		cancel()
		return resp, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, policy *clientPolicy) (*http.Response, error) {
	injectHeaders(ctx, req)

	if err := policy.concurrency.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConcurrencyLimit, err)
	}
	defer policy.concurrency.Release()

	if policy.waitForToken {
		if err := policy.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRateLimit, err)
		}
	} else if allowed, _ := policy.limiter.Allow(ctx, hostKey(req)); !allowed {
		return nil, ErrRateLimit
	}

	if !policy.methodRetryAllowed(req.Method) || policy.retryConfig.MaxRetries <= 0 ||
		(req.Body != nil && req.Body != http.NoBody && req.GetBody == nil) {
		return c.doOnce(ctx, req, policy)
	}

	var lastResp *http.Response
	attempt := 0
	err := retry.If(ctx, func() error {
		attempt++
		current := req
		if attempt > 1 {
			if lastResp != nil {
				drainAndClose(lastResp.Body)
				lastResp = nil
			}
			clone, cloneErr := cloneRequest(ctx, req)
			if cloneErr != nil {
				return retry.Permanent(cloneErr)
			}
			current = clone
		}

		resp, callErr := c.doOnce(ctx, current, policy)
		if callErr != nil {
			return callErr
		}
		if policy.shouldRetryStatus(resp.StatusCode) && attempt <= policy.retryConfig.MaxRetries {
			lastResp = resp
			return retryableStatusError{code: resp.StatusCode}
		}
		lastResp = resp
		return nil
	}, shouldRetry, policy.retryConfig)

	var statusErr retryableStatusError
	if errors.As(err, &statusErr) && lastResp != nil {
		return lastResp, nil
	}
	if err != nil {
		if lastResp != nil {
			drainAndClose(lastResp.Body)
		}
		return nil, err
	}
	return lastResp, nil
}

func (c *Client) doOnce(ctx context.Context, req *http.Request, policy *clientPolicy) (*http.Response, error) {
	start := time.Now()

	resp, err := breaker.ExecuteTyped(policy.breaker, func() (*http.Response, error) {
		spanCtx, span := tracing.StartSpan(ctx, "HTTPClient."+strings.ToUpper(req.Method))
		defer span.End()

		tracing.AddTag(spanCtx, "http.method", req.Method)
		tracing.AddTag(spanCtx, "http.host", hostKey(req))
		tracing.InjectHeader(spanCtx, req.Header)

		response, callErr := c.client.Do(req.WithContext(spanCtx))
		if callErr != nil {
			tracing.SetError(spanCtx, callErr)
			return nil, callErr
		}
		tracing.AddTag(spanCtx, "http.status_code", response.StatusCode)
		if response.StatusCode >= http.StatusInternalServerError {
			return response, serverError{code: response.StatusCode}
		}
		return response, nil
	})

	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	duration := time.Since(start)
	c.record(req, status, duration)
	c.checkSlow(ctx, req, duration, policy)

	var srvErr serverError
	if errors.As(err, &srvErr) && resp != nil {
		return resp, nil
	}
	if err != nil && resp != nil {
		drainAndClose(resp.Body)
	}
	return resp, err
}

func (c *Client) record(req *http.Request, status string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(hostKey(req), req.Method, status).Inc()
	c.requestDuration.WithLabelValues(hostKey(req), req.Method).Observe(duration.Seconds())
}

func (c *Client) checkSlow(ctx context.Context, req *http.Request, duration time.Duration, policy *clientPolicy) {
	if policy.slowThreshold <= 0 || duration < policy.slowThreshold {
		return
	}
	c.slowRequests.WithLabelValues(hostKey(req), req.Method).Inc()
	c.logger.WarnContext(ctx, "http client slow request", "method", req.Method, "path", req.URL.Path, "duration", duration)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRequestBodyNotReplayable) || errors.Is(err, breaker.ErrServiceUnavailable) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func injectHeaders(ctx context.Context, req *http.Request) {
	setHeaderIfEmpty(req, contextx.HeaderRequestID, requestID(ctx))
	setHeaderIfEmpty(req, contextx.HeaderTraceID, tracing.GetTraceID(ctx))
	setHeaderIfEmpty(req, contextx.HeaderUserID, contextx.GetUserID(ctx))
	setHeaderIfEmpty(req, contextx.HeaderRole, contextx.GetRole(ctx))
}

func requestID(ctx context.Context) string {
	if val := contextx.GetRequestID(ctx); val != "" {
		return val
	}
	return idgen.GenIDString()
}

func setHeaderIfEmpty(req *http.Request, key, value string) {
	if value == "" || req.Header.Get(key) != "" {
		return
	}
	req.Header.Set(key, value)
}

func hostKey(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "unknown"
	}
	if req.Host != "" {
		return req.Host
	}
	return req.URL.Host
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, ErrRequestBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

type retryableStatusError struct {
	code int
}

func (e retryableStatusError) Error() string {
	return fmt.Sprintf("retryable status: %d", e.code)
}

type serverError struct {
	code int
}

func (e serverError) Error() string {
	return fmt.Sprintf("server error: %d", e.code)
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// cancelOnClose 在响应体关闭时释放超时 context。
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
