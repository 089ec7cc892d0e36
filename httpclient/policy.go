package httpclient

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wyfcoding/coursestore/breaker"
	"github.com/wyfcoding/coursestore/config"
	"github.com/wyfcoding/coursestore/limiter"
	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/retry"
	"golang.org/x/time/rate"
)

type clientPolicy struct {
	timeout       time.Duration
	limiter       limiter.Limiter
	waitForToken  bool
	concurrency   limiter.ConcurrencyLimiter
	breaker       *breaker.Breaker
	slowThreshold time.Duration
	retryConfig   retry.Config
	retryStatus   map[int]struct{}
	retryMethods  map[string]struct{}
}

func buildPolicy(cfg Config, metricsInstance *metrics.Metrics) *clientPolicy {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "httpclient"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = cfg.RateLimit
	}

	return &clientPolicy{
		timeout:      timeout,
		limiter:      limiter.NewLocalLimiter(rate.Limit(cfg.RateLimit), burst),
		waitForToken: cfg.WaitForToken,
		concurrency:  limiter.NewSemaphoreLimiter(cfg.MaxConcurrency),
		breaker: breaker.NewBreaker(breaker.Settings{
			Name:   fmt.Sprintf("http-client-%s", serviceName),
			Config: cfg.BreakerConfig,
		}, metricsInstance),
		slowThreshold: cfg.SlowThreshold,
		retryConfig:   cfg.RetryConfig,
		retryStatus:   normalizeRetryStatus(cfg.RetryStatus),
		retryMethods:  normalizeRetryMethods(cfg.RetryMethods),
	}
}

func normalizeRetryConfig(cfg config.HTTPClientConfig) retry.Config {
	if cfg.RetryMax == 0 && cfg.RetryInitial == 0 && cfg.RetryMaxBackoff == 0 && cfg.RetryMultiplier == 0 && cfg.RetryJitter == 0 {
		return retry.Config{}
	}

	base := retry.DefaultRetryConfig()
	if cfg.RetryMax != 0 {
		base.MaxRetries = cfg.RetryMax
	}
	if cfg.RetryInitial != 0 {
		base.InitialBackoff = cfg.RetryInitial
	}
	if cfg.RetryMaxBackoff != 0 {
		base.MaxBackoff = cfg.RetryMaxBackoff
	}
	if cfg.RetryMultiplier != 0 {
		base.Multiplier = cfg.RetryMultiplier
	}
	if cfg.RetryJitter != 0 {
		base.Jitter = cfg.RetryJitter
	}
	return base
}

func normalizeRetryStatus(codes []int) map[int]struct{} {
	if len(codes) == 0 {
		codes = []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	}
	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

// 默认只对幂等方法重试。POST 创建分片会话、上传分片不会被重放。
func normalizeRetryMethods(methods []string) map[string]struct{} {
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions}
	}
	set := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		set[strings.ToUpper(method)] = struct{}{}
	}
	return set
}

func (p *clientPolicy) shouldRetryStatus(code int) bool {
	_, ok := p.retryStatus[code]
	return ok
}

func (p *clientPolicy) methodRetryAllowed(method string) bool {
	_, ok := p.retryMethods[strings.ToUpper(method)]
	return ok
}
