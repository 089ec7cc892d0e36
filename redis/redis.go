// Package redis 提供带指标钩子的 Redis 客户端，以及基于发布订阅的缓存失效广播。
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/coursestore/config"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
)

// Client 是 redis.UniversalClient 的别名，调用方无需导入原生包。
type Client = redis.UniversalClient

type metricsHook struct {
	metrics *metrics.Metrics
}

func (h *metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), err, time.Since(start))
		return err
	}
}

func (h *metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", err, time.Since(start))
		return err
	}
}

func (h *metricsHook) observe(command string, err error, d time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	h.metrics.RedisOps.WithLabelValues(command, status).Inc()
	h.metrics.RedisDuration.WithLabelValues(command).Observe(d.Seconds())
}

// NewClient 按配置创建客户端并 Ping 验证连通性。
// 配置了 MasterName 时走哨兵模式，多个地址时走集群模式。
func NewClient(cfg config.RedisConfig, logger *logging.Logger, m *metrics.Metrics) (Client, func(), error) {
	if logger == nil {
		logger = logging.Default()
	}
	if len(cfg.Addrs) == 0 {
		return nil, nil, errors.New("redis: no address configured")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	client.AddHook(&metricsHook{metrics: m})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("successfully connected to redis", "addrs", cfg.Addrs)

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}

	return client, cleanup, nil
}
