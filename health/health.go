// Package health 汇总依赖探测结果，提供存活与就绪两个检查端点。
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc/iter"
)

const defaultTimeout = 2 * time.Second

// Checker 定义健康检查函数原型。
type Checker func(ctx context.Context) error

// Pinger 可探测连通性的依赖，例如对象存储驱动。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Result 单项检查结果。
type Result struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Report 就绪检查汇总。任一项失败时 Status 为 DOWN。
type Report struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Timestamp int64    `json:"timestamp"`
	Checks    []Result `json:"checks"`
}

const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

type namedChecker struct {
	name  string
	check Checker
}

// Registry 按注册顺序保存检查项，并发执行，每项独立超时。
type Registry struct {
	service string
	timeout time.Duration

	mu       sync.RWMutex
	checkers []namedChecker
	clock    func() time.Time
}

// NewRegistry timeout 为单项检查超时，非正数时取 2 秒。
func NewRegistry(service string, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Registry{service: service, timeout: timeout, clock: time.Now}
}

// Register 同名检查项会被替换。
func (r *Registry) Register(name string, check Checker) {
	if check == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.checkers {
		if r.checkers[i].name == name {
			r.checkers[i].check = check
			return
		}
	}
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
}

// Check 执行全部检查项。
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checkers := append([]namedChecker(nil), r.checkers...)
	r.mu.RUnlock()

	results := iter.Map(checkers, func(nc *namedChecker) Result {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		start := time.Now()
		err := nc.check(cctx)
		res := Result{Name: nc.name, Status: StatusUp, Latency: time.Since(start).String()}
		if err != nil {
			res.Status, res.Error = StatusDown, err.Error()
		}
		return res
	})

	report := Report{Status: StatusUp, Service: r.service, Timestamp: r.clock().Unix(), Checks: results}
	for _, res := range results {
		if res.Status != StatusUp {
			report.Status = StatusDown
			break
		}
	}
	return report
}

// Live 存活检查，只说明进程可以处理请求。
func (r *Registry) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    StatusUp,
		"service":   r.service,
		"timestamp": r.clock().Unix(),
	})
}

// Ready 就绪检查，任一依赖失败时返回 503。
func (r *Registry) Ready(c *gin.Context) {
	report := r.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status != StatusUp {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Mount 挂载 /health 与 /ready。
func (r *Registry) Mount(g gin.IRouter) {
	g.GET("/health", r.Live)
	g.GET("/ready", r.Ready)
}

// RedisChecker 返回 Redis 健康检查函数。
func RedisChecker(client redis.UniversalClient) Checker {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		return client.Ping(ctx).Err()
	}
}

// PingChecker 适配实现了 Ping 的依赖。
func PingChecker(p Pinger) Checker {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("dependency is nil")
		}
		return p.Ping(ctx)
	}
}

// HTTPChecker 返回 HTTP 依赖健康检查函数，状态码不低于 400 视为失败。
func HTTPChecker(url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		if url == "" {
			return errors.New("health check url is empty")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("http health check status: %d", resp.StatusCode)
		}
		return nil
	}
}
