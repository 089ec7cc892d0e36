// Package access 是对象访问缓存层的入口。
//
// Context 在应用启动时创建一次并注入各调用方，持有三类缓存、地址改写器与可信后端客户端。
// 下载地址走可用性优先策略：签名失败时返回降级的未签名地址而不是错误；
// 元数据、目录与上传走正确性优先策略：错误原样向上传播。
package access

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/cache"
	"github.com/wyfcoding/coursestore/config"
	"github.com/wyfcoding/coursestore/idgen"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/lru"
	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/rewrite"
)

// Backend 访问层依赖的可信后端能力，由 *backend.Client 实现。
type Backend interface {
	PresignDownload(ctx context.Context, key string, ttl time.Duration, contentType string) (string, error)
	Stat(ctx context.Context, key string) (backend.ObjectInfo, error)
	FolderContents(ctx context.Context, prefix string) (backend.Listing, error)
	Delete(ctx context.Context, key string) (bool, error)
	PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	InitiateMultipart(ctx context.Context, key, contentType string) (string, error)
	UploadPart(ctx context.Context, uploadID, key string, partNumber int, chunk io.Reader) (backend.Part, error)
	CompleteMultipart(ctx context.Context, uploadID, key string, parts []backend.Part, contentType string) (backend.Completion, error)
	AbortMultipart(ctx context.Context, uploadID, key string) error
	PutSigned(ctx context.Context, signedURL string, body io.Reader, size int64, contentType string) error
}

var _ Backend = (*backend.Client)(nil)

// Config 访问层参数。
type Config struct {
	StorageEndpoint string
	Bucket          string
	ProxyPrefix     string
	StorageHostHint string

	URLCapacity      int
	MetadataCapacity int
	ListingCapacity  int
	MetadataTTL      time.Duration
	ListingTTL       time.Duration
	SafetyMargin     time.Duration
	URLMaxAge        time.Duration

	ChunkSize          int64
	MultipartThreshold int64
	PresignExpiry      time.Duration
	DownloadTTL        time.Duration
	AbortTimeout       time.Duration
}

// DefaultConfig 与历史行为一致的默认参数。
func DefaultConfig() Config {
	return Config{
		ProxyPrefix:        "/api/storage",
		StorageHostHint:    "storage",
		URLCapacity:        100,
		MetadataCapacity:   200,
		ListingCapacity:    50,
		MetadataTTL:        10 * time.Minute,
		ListingTTL:         5 * time.Minute,
		SafetyMargin:       time.Hour,
		URLMaxAge:          6 * time.Hour,
		ChunkSize:          10 * 1024 * 1024,
		MultipartThreshold: 100 * 1024 * 1024,
		PresignExpiry:      15 * time.Minute,
		DownloadTTL:        7 * 24 * time.Hour,
		AbortTimeout:       30 * time.Second,
	}
}

// ConfigFrom 从应用配置构造访问层参数。
func ConfigFrom(c *config.Config) Config {
	return Config{
		StorageEndpoint:    c.Access.StorageEndpoint,
		Bucket:             c.Access.Bucket,
		ProxyPrefix:        c.Access.ProxyPrefix,
		StorageHostHint:    c.Access.StorageHostHint,
		URLCapacity:        c.Cache.URLCapacity,
		MetadataCapacity:   c.Cache.MetadataCapacity,
		ListingCapacity:    c.Cache.ListingCapacity,
		MetadataTTL:        c.Cache.MetadataTTL,
		ListingTTL:         c.Cache.ListingTTL,
		SafetyMargin:       c.Cache.SafetyMargin,
		URLMaxAge:          c.Cache.URLMaxAge,
		ChunkSize:          c.Upload.ChunkSize,
		MultipartThreshold: c.Upload.MultipartThreshold,
		PresignExpiry:      c.Upload.PresignExpiry,
		DownloadTTL:        c.Upload.DownloadTTL,
		AbortTimeout:       c.Upload.AbortTimeout,
	}
}

// Option 定制 Context。
type Option func(*Context)

func WithLogger(l *logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// WithClock 注入时钟，同时作用于三类缓存与上传键生成。
func WithClock(clock lru.Clock) Option {
	return func(c *Context) { c.clock = clock }
}

// WithBus 把本实例的失效事件广播给其他实例。
func WithBus(bus cache.Bus) Option {
	return func(c *Context) { c.bus = bus }
}

// Context 对象访问层。所有方法可并发调用。
type Context struct {
	cfg      Config
	backend  Backend
	rewriter *rewrite.Rewriter

	urls     *cache.URLCache
	meta     *cache.MetadataCache
	listings *cache.ListingCache

	// epoch 每次失效递增，飞行中的回源发现 epoch 变化时不回填缓存。
	epoch  atomic.Uint64
	flight singleflight.Group

	bus     cache.Bus
	origin  string
	logger  *logging.Logger
	metrics *metrics.Metrics
	clock   lru.Clock
}

// New 创建访问层。
func New(cfg Config, be Backend, opts ...Option) (*Context, error) {
	if be == nil {
		return nil, errors.New("access: backend is required")
	}
	c := &Context{
		cfg:     cfg,
		backend: be,
		bus:     cache.NopBus{},
		clock:   time.Now,
		origin:  idgen.GenIDString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	c.logger = c.logger.WithModule("access")

	rw, err := rewrite.New(cfg.StorageEndpoint, cfg.ProxyPrefix, cfg.StorageHostHint)
	if err != nil {
		return nil, err
	}
	c.rewriter = rw

	cacheOpts := []cache.Option{cache.WithClock(c.clock), cache.WithMetrics(c.metrics)}
	if c.urls, err = cache.NewURLCache(cfg.URLCapacity, cfg.SafetyMargin, cfg.URLMaxAge, cacheOpts...); err != nil {
		return nil, err
	}
	if c.meta, err = cache.NewMetadataCache(cfg.MetadataCapacity, cfg.MetadataTTL, cacheOpts...); err != nil {
		return nil, err
	}
	if c.listings, err = cache.NewListingCache(cfg.ListingCapacity, cfg.ListingTTL, cacheOpts...); err != nil {
		return nil, err
	}
	return c, nil
}

// Rewriter 返回地址改写器，代理使用同一实例保证前缀一致。
func (c *Context) Rewriter() *rewrite.Rewriter {
	return c.rewriter
}

// Config 返回生效参数。
func (c *Context) Config() Config {
	return c.cfg
}

// CacheStats 三类缓存的当前大小。
func (c *Context) CacheStats() cache.Stats {
	return cache.Stats{
		URLCache:      c.urls.Len(),
		MetadataCache: c.meta.Len(),
		ListCache:     c.listings.Len(),
	}
}

// shared 合并同一 key 的并发回源。回源在脱离调用方取消信号的 context 上执行，
// 单个调用方放弃等待不会让其他等待者失败。
func shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ch := g.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}
