// Package metrics 封装独立的 Prometheus 注册表以及对象访问层的预定义指标。
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 持有注册表与标准指标。
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec   // 服务端请求量 (method, path, status)
	HTTPRequestDuration *prometheus.HistogramVec // 服务端耗时 (method, path)

	CacheRequests  *prometheus.CounterVec // 缓存查询 (cache, result=hit|miss|stale)
	CacheEvictions *prometheus.CounterVec // LRU 淘汰 (cache)
	CacheEntries   *prometheus.GaugeVec   // 当前条目数 (cache)

	SigningDegraded *prometheus.CounterVec // 降级签名次数 (reason)
	UploadBytes     *prometheus.CounterVec // 上传字节数 (mode=simple|multipart)
	MultipartTotal  *prometheus.CounterVec // 分片会话结局 (outcome=completed|aborted|abort_failed)

	RedisOps           *prometheus.CounterVec   // Redis 命令 (command, status)
	RedisDuration      *prometheus.HistogramVec // Redis 命令耗时 (command)
	InvalidationEvents *prometheus.CounterVec   // 失效广播 (direction=out|in, kind)

	BuildInfo *prometheus.GaugeVec
}

// NewMetrics 初始化指标采集器，自动注册 Go 运行时与进程指标。
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "http_server_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	m.HTTPRequestDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_server_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.CacheRequests = m.NewCounterVec(prometheus.CounterOpts{
		Name: "object_cache_requests_total",
		Help: "Object access cache lookups by result",
	}, []string{"cache", "result"})

	m.CacheEvictions = m.NewCounterVec(prometheus.CounterOpts{
		Name: "object_cache_evictions_total",
		Help: "Entries evicted by the LRU policy",
	}, []string{"cache"})

	m.CacheEntries = m.NewGaugeVec(prometheus.GaugeOpts{
		Name: "object_cache_entries",
		Help: "Current number of cached entries",
	}, []string{"cache"})

	m.SigningDegraded = m.NewCounterVec(prometheus.CounterOpts{
		Name: "object_presign_degraded_total",
		Help: "Download URLs served unsigned because presigning failed",
	}, []string{"reason"})

	m.UploadBytes = m.NewCounterVec(prometheus.CounterOpts{
		Name: "object_upload_bytes_total",
		Help: "Bytes transferred by the upload orchestrator",
	}, []string{"mode"})

	m.MultipartTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "object_multipart_sessions_total",
		Help: "Multipart sessions by outcome",
	}, []string{"outcome"})

	m.RedisOps = m.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_ops_total",
		Help: "The total number of redis operations",
	}, []string{"command", "status"})

	m.RedisDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redis_duration_seconds",
		Help:    "The duration of redis operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	m.InvalidationEvents = m.NewCounterVec(prometheus.CounterOpts{
		Name: "object_cache_invalidation_events_total",
		Help: "Cache invalidation events exchanged with peer instances",
	}, []string{"direction", "kind"})

	slog.Info("unified metrics registry initialized", "service", serviceName)
	return m
}

// NewCounterVec 创建并注册一个新的计数器指标。同名指标已注册时返回已有实例。
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	return register(m.registry, prometheus.NewCounterVec(opts, labelNames))
}

// NewGaugeVec 创建并注册一个新的仪表盘指标。
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	return register(m.registry, prometheus.NewGaugeVec(opts, labelNames))
}

// NewHistogramVec 创建并注册一个新的直方图指标。
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	return register(m.registry, prometheus.NewHistogramVec(opts, labelNames))
}

// register 多个组件共享同一注册表时会重复声明同一指标，此时复用先注册的实例。
func register[T prometheus.Collector](reg *prometheus.Registry, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// RegisterBuildInfo 注册构建信息指标，重复调用无副作用。
func (m *Metrics) RegisterBuildInfo(serviceName, version string) {
	if m == nil || m.BuildInfo != nil {
		return
	}
	if version == "" {
		version = "unknown"
	}
	m.BuildInfo = m.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build information for the service",
	}, []string{"service", "version"})
	m.BuildInfo.WithLabelValues(serviceName, version).Set(1)
}

// Registry 返回底层注册表，测试中用于读取指标值。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回用于暴露指标的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExposeHTTP 在指定地址启动独立的指标服务器，返回关闭函数。
func (m *Metrics) ExposeHTTP(addr string) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown metrics server", "error", err)
		}
	}
}
