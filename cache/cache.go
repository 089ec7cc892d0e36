// Package cache 提供对象访问层的三类专用缓存：预签名地址、对象元数据与目录列表。
// 每类缓存各自持有一个独立的有界 LRU，由上层在启动时创建一次并共享。
package cache

import (
	"time"

	"github.com/wyfcoding/coursestore/lru"
	"github.com/wyfcoding/coursestore/metrics"
)

// 缓存名称，用作指标标签。
const (
	NameURL      = "url"
	NameMetadata = "metadata"
	NameListing  = "listing"
)

// Stats 三类缓存的当前条目数。
type Stats struct {
	URLCache      int `json:"urlCache"`
	MetadataCache int `json:"metadataCache"`
	ListCache     int `json:"listCache"`
}

// Option 定制缓存。
type Option func(*options)

type options struct {
	clock   lru.Clock
	metrics *metrics.Metrics
}

// WithClock 注入时钟，测试中用于推进时间。
func WithClock(c lru.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics 记录命中率、淘汰与条目数。
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// store 在 lru.Bounded 之上附加指标记录。
type store[V any] struct {
	name    string
	entries *lru.Bounded[string, V]
	metrics *metrics.Metrics
}

func newStore[V any](name string, capacity int, o options) (*store[V], error) {
	s := &store[V]{name: name, metrics: o.metrics}
	entries, err := lru.New[string, V](capacity, lru.WithClock(o.clock), lru.WithEvictHook(s.evicted))
	if err != nil {
		return nil, err
	}
	s.entries = entries
	return s, nil
}

// lookup 返回 ttl 内的值，同时记录 hit / miss / stale。
func (s *store[V]) lookup(key string, ttl time.Duration) (V, bool) {
	var zero V
	e, ok := s.entries.Get(key)
	switch {
	case !ok:
		s.observe("miss")
		return zero, false
	case !e.Fresh(s.entries.Now(), ttl):
		s.observe("stale")
		return zero, false
	default:
		s.observe("hit")
		return e.Value, true
	}
}

func (s *store[V]) set(key string, v V) {
	s.entries.Set(key, v)
	s.gauge()
}

func (s *store[V]) delete(key string) {
	s.entries.Delete(key)
	s.gauge()
}

func (s *store[V]) clear() {
	s.entries.Clear()
	s.gauge()
}

func (s *store[V]) observe(result string) {
	if s.metrics != nil {
		s.metrics.CacheRequests.WithLabelValues(s.name, result).Inc()
	}
}

func (s *store[V]) evicted() {
	if s.metrics != nil {
		s.metrics.CacheEvictions.WithLabelValues(s.name).Inc()
	}
}

func (s *store[V]) gauge() {
	if s.metrics != nil {
		s.metrics.CacheEntries.WithLabelValues(s.name).Set(float64(s.entries.Len()))
	}
}
