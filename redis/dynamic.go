package redis

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wyfcoding/coursestore/config"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
)

type dynamicState struct {
	client  Client
	cleanup func()
}

// DynamicClient 支持配置热更新的客户端包装器。
// 替换连接后旧连接被关闭，基于旧连接的订阅随之结束，由 Bus 在新连接上重新订阅。
type DynamicClient struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
	state   atomic.Pointer[dynamicState]
}

// NewDynamicClient 创建支持热更新的客户端。
func NewDynamicClient(cfg config.RedisConfig, logger *logging.Logger, m *metrics.Metrics) (*DynamicClient, error) {
	if logger == nil {
		logger = logging.Default()
	}
	client, cleanup, err := NewClient(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	d := &DynamicClient{logger: logger, metrics: m}
	d.state.Store(&dynamicState{client: client, cleanup: cleanup})
	return d, nil
}

// UpdateConfig 使用最新配置替换连接。新连接建立失败时保留旧连接。
func (d *DynamicClient) UpdateConfig(cfg config.RedisConfig) error {
	if d == nil {
		return errors.New("dynamic redis client is nil")
	}
	client, cleanup, err := NewClient(cfg, d.logger, d.metrics)
	if err != nil {
		return err
	}

	d.mu.Lock()
	old := d.state.Swap(&dynamicState{client: client, cleanup: cleanup})
	d.mu.Unlock()

	if old != nil && old.cleanup != nil {
		old.cleanup()
	}
	d.logger.Info("redis client updated", "addrs", cfg.Addrs)
	return nil
}

// Client 返回当前连接，已关闭时返回 nil。
func (d *DynamicClient) Client() Client {
	if d == nil {
		return nil
	}
	if s := d.state.Load(); s != nil {
		return s.client
	}
	return nil
}

// Close 关闭当前连接。
func (d *DynamicClient) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	old := d.state.Swap(nil)
	d.mu.Unlock()

	if old != nil && old.cleanup != nil {
		old.cleanup()
	}
	return nil
}
