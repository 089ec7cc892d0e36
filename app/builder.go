package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/wyfcoding/coursestore/access"
	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/config"
	"github.com/wyfcoding/coursestore/fileapi"
	"github.com/wyfcoding/coursestore/health"
	"github.com/wyfcoding/coursestore/httpclient"
	"github.com/wyfcoding/coursestore/idgen"
	"github.com/wyfcoding/coursestore/limiter"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/middleware"
	"github.com/wyfcoding/coursestore/proxy"
	"github.com/wyfcoding/coursestore/redis"
	"github.com/wyfcoding/coursestore/response"
	"github.com/wyfcoding/coursestore/scheduler"
	"github.com/wyfcoding/coursestore/server"
	"github.com/wyfcoding/coursestore/storage"
	"github.com/wyfcoding/coursestore/tracing"
)

const (
	defaultMetricsPath = "/metrics"
	janitorJobName     = "multipart-janitor"
	janitorTimeout     = 5 * time.Minute
)

// Builder 按配置组装文件服务：存储驱动、文件接口、访问层、存储代理与运维端点。
type Builder struct {
	serviceName string
	version     string
	configPath  string
	cfg         *config.Config
	opts        []Option
}

// NewBuilder 创建一个新的应用构建器.
func NewBuilder(serviceName string) *Builder {
	return &Builder{serviceName: serviceName, version: "dev"}
}

// WithConfigPath 从 toml 文件加载配置并开启热更新.
func (b *Builder) WithConfigPath(path string) *Builder {
	b.configPath = path
	return b
}

// WithConfig 使用已构造好的配置，不读文件也不热更新.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithVersion 写入 build_info 指标的版本号.
func (b *Builder) WithVersion(v string) *Builder {
	b.version = v
	return b
}

// Components 组装结果，Build 之后可用于测试或进一步注册路由.
type Components struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Engine  *gin.Engine
	Store   storage.Storage
	Access  *access.Context
	Health  *health.Registry
}

// Build 构建并组装完整的 App 实例.
func (b *Builder) Build() (*App, *Components, error) {
	cfg, err := b.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger := logging.NewFromConfig(cfg.Log.Logging(b.serviceName, "app"))
	logging.SetDefault(logger)

	if err := idgen.Init(cfg.Snowflake); err != nil {
		return nil, nil, fmt.Errorf("init id generator: %w", err)
	}

	if cfg.Tracing.Enabled {
		b.initTracing(cfg, logger)
	}

	m := metrics.NewMetrics(b.serviceName)
	m.RegisterBuildInfo(b.serviceName, b.version)

	comp := &Components{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Health:  health.NewRegistry(b.serviceName, 2*time.Second),
	}

	if err := b.initStorage(comp); err != nil {
		return nil, nil, err
	}

	engine, err := server.NewGinEngine(cfg.Server.Environment, cfg.Server.HTTP.TrustedProxies, b.middlewares(cfg, logger, m)...)
	if err != nil {
		return nil, nil, fmt.Errorf("create gin engine: %w", err)
	}
	comp.Engine = engine

	apiPrefix := cfg.Access.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api/files"
	}
	fileapi.NewHandler(comp.Store, fileapi.Config{
		MaxExpiry:    cfg.Upload.MaxPresignExpiry,
		UploadExpiry: cfg.Upload.PresignExpiry,
	}, fileapi.WithLogger(logger), fileapi.WithMetrics(m)).
		Register(engine.Group(apiPrefix), middleware.JWTAuth(cfg.JWT.Secret))

	if err := b.initAccess(comp, apiPrefix); err != nil {
		return nil, nil, err
	}

	if target := cfg.Access.StorageEndpoint; target != "" {
		p, err := proxy.New(comp.Access.Rewriter(), target, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage proxy: %w", err)
		}
		p.Register(engine)
	}

	b.registerAdminRoutes(comp)

	if cfg.Janitor.Enabled {
		if err := b.initJanitor(comp); err != nil {
			return nil, nil, err
		}
	}

	b.opts = append(b.opts, WithServer(server.NewGinServer(engine, cfg.Server, logger.Logger)))
	return New(b.serviceName, logger.Logger, b.opts...), comp, nil
}

func (b *Builder) loadConfig() (*config.Config, error) {
	if b.cfg != nil {
		return b.cfg, nil
	}
	if b.configPath == "" {
		b.configPath = fmt.Sprintf("./configs/%s/config.toml", b.serviceName)
	}
	cfg := &config.Config{}
	if err := config.Load(b.configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.PrintWithMask(cfg)
	return cfg, nil
}

func (b *Builder) initTracing(cfg *config.Config, logger *logging.Logger) {
	shutdown, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		return
	}
	b.opts = append(b.opts, WithCleanup(func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}))
}

func (b *Builder) middlewares(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) []gin.HandlerFunc {
	mws := []gin.HandlerFunc{
		middleware.Recovery(logger.Logger),
		middleware.RequestID(),
	}
	if cfg.Tracing.Enabled {
		mws = append(mws, middleware.Tracing(b.serviceName))
	}
	mws = append(mws,
		middleware.TraceIDHeader(),
		middleware.RequestContext(),
		middleware.Logger(logger.Logger, cfg.Log.SlowThreshold),
		middleware.CORS(),
		middleware.Metrics(m, metricsPath(cfg), "/sys/health", "/sys/ready"),
	)

	limit := middleware.NewSwappable(rateLimit(cfg.RateLimit))
	config.RegisterReloadHook(func(updated *config.Config) {
		limit.Update(rateLimit(updated.RateLimit))
		logger.Info("rate limit reloaded", "enabled", updated.RateLimit.Enabled, "rate", updated.RateLimit.Rate)
	})
	mws = append(mws, limit.Handler())

	if cfg.Server.HTTP.MaxBodyBytes > 0 {
		mws = append(mws, middleware.MaxBodyBytes(cfg.Server.HTTP.MaxBodyBytes))
	}
	return mws
}

func rateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.Rate <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Rate
	}
	return middleware.RateLimit(limiter.NewLocalLimiter(rate.Limit(cfg.Rate), burst))
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Path == "" {
		return defaultMetricsPath
	}
	return cfg.Metrics.Path
}

// initStorage memory 驱动同时在 Minio.Endpoint 上提供签名地址的读写服务，供开发与测试使用。
func (b *Builder) initStorage(comp *Components) error {
	cfg := comp.Config
	switch cfg.Minio.Driver {
	case "memory":
		endpoint := storageURL(cfg.Minio.Endpoint, cfg.Minio.UseSSL)
		mem := storage.NewMemory(endpoint, cfg.Minio.BucketName)
		srv, err := memoryServer(mem, cfg.Minio.Endpoint, comp.Logger)
		if err != nil {
			return err
		}
		b.opts = append(b.opts, WithServer(srv))
		comp.Store = mem
		comp.Health.Register("storage", health.PingChecker(mem))
	default:
		client, err := storage.NewMinIOClient(cfg.Minio)
		if err != nil {
			return fmt.Errorf("create minio client: %w", err)
		}
		storage.RegisterReloadHook(client)
		comp.Store = client
		comp.Health.Register("storage", health.PingChecker(client))
	}
	return nil
}

func storageURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func memoryServer(mem *storage.Memory, endpoint string, logger *logging.Logger) (*server.GinServer, error) {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, fmt.Errorf("memory storage endpoint %q: %w", endpoint, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("memory storage port %q: %w", port, err)
	}
	engine, err := server.NewGinEngine("", nil)
	if err != nil {
		return nil, err
	}
	engine.NoRoute(gin.WrapH(mem))
	var sc config.ServerConfig
	sc.HTTP.Addr, sc.HTTP.Port = host, p
	return server.NewGinServer(engine, sc, logger.WithModule("memory-storage").Logger), nil
}

// initAccess 访问层经 HTTP 调用文件接口；未配置 BackendURL 时指向本进程。
func (b *Builder) initAccess(comp *Components, apiPrefix string) error {
	cfg := comp.Config
	baseURL := cfg.Access.BackendURL
	if baseURL == "" {
		baseURL = "http://" + net.JoinHostPort(loopback(cfg.Server.HTTP.Addr), strconv.Itoa(cfg.Server.HTTP.Port)) + apiPrefix
	} else {
		comp.Health.Register("backend", health.HTTPChecker(strings.TrimRight(baseURL, "/")+"/presign?key=healthz", nil))
	}

	var apiOpts []httpclient.Option
	if ts := tokenSource(cfg.Access.Token, cfg.JWT.Secret, cfg.JWT.Issuer, b.serviceName, cfg.JWT.ExpireDuration); ts != nil {
		apiOpts = append(apiOpts, httpclient.WithTokenSource(ts))
	}
	api := httpclient.NewFromConfig(cfg.HTTPClient, comp.Logger, comp.Metrics, apiOpts...)
	// 字节传输不套用接口调用的时限，上传大文件可能远超 httpclient.timeout。
	transferCfg := httpclient.Config{
		ServiceName:    b.serviceName + "-transfer",
		Timeout:        transferTimeout(cfg.Upload.TransferTimeout),
		BreakerConfig:  cfg.HTTPClient.Breaker,
		MaxConcurrency: cfg.HTTPClient.MaxConcurrency,
		SlowThreshold:  cfg.HTTPClient.SlowThreshold,
	}
	transfer := httpclient.NewClient(transferCfg, comp.Logger, comp.Metrics)
	partsCfg := transferCfg
	partsCfg.ServiceName = b.serviceName + "-parts"
	parts := httpclient.NewClient(partsCfg, comp.Logger, comp.Metrics, apiOpts...)

	opts := []access.Option{access.WithLogger(comp.Logger), access.WithMetrics(comp.Metrics)}
	if cfg.Redis.Enabled {
		bus, err := b.initBus(comp)
		if err != nil {
			return err
		}
		opts = append(opts, access.WithBus(bus))
	}

	ac, err := access.New(access.ConfigFrom(cfg), backend.New(baseURL, api, transfer, backend.WithPartDoer(parts)), opts...)
	if err != nil {
		return fmt.Errorf("create access layer: %w", err)
	}
	comp.Access = ac

	if cfg.Redis.Enabled {
		b.opts = append(b.opts, WithServer(&funcServer{start: func(ctx context.Context) error {
			if err := ac.Listen(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("cache invalidation listener: %w", err)
			}
			return nil
		}}))
	}
	return nil
}

func loopback(addr string) string {
	if addr == "" || addr == "0.0.0.0" || addr == "::" {
		return "127.0.0.1"
	}
	return addr
}

func (b *Builder) initBus(comp *Components) (*redis.Bus, error) {
	cfg := comp.Config
	client, err := redis.NewDynamicClient(cfg.Redis, comp.Logger, comp.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	config.RegisterReloadHook(func(updated *config.Config) {
		if err := client.UpdateConfig(updated.Redis); err != nil {
			comp.Logger.Error("redis client reload failed", "error", err)
		}
	})
	comp.Health.Register("redis", func(ctx context.Context) error {
		return health.RedisChecker(client.Client())(ctx)
	})

	bus := redis.NewBus(client, cfg.Redis.Channel, comp.Logger, comp.Metrics)
	b.opts = append(b.opts, WithCleanup(func() {
		if err := errors.Join(bus.Close(), client.Close()); err != nil {
			comp.Logger.Error("close redis failed", "error", err)
		}
	}))
	return bus, nil
}

func (b *Builder) initJanitor(comp *Components) error {
	cfg := comp.Config.Janitor
	sched := scheduler.NewScheduler(comp.Logger, comp.Metrics)
	sweeper := storage.NewSweeper(comp.Store, cfg.MaxAge, comp.Logger)
	if err := sched.AddJob(scheduler.JobConfig{
		Name:     janitorJobName,
		Interval: cfg.Interval,
		Cron:     cfg.Cron,
		Jitter:   time.Minute,
		Timeout:  janitorTimeout,
	}, sweeper.Job); err != nil {
		return fmt.Errorf("register janitor: %w", err)
	}
	b.opts = append(b.opts, WithHook(Hook{
		Name: "scheduler",
		OnStart: func(ctx context.Context) error {
			sched.Start(ctx)
			return nil
		},
		OnStop: sched.Stop,
	}))
	return nil
}

// registerAdminRoutes 运维端点挂在 /sys 下；清空缓存需要 ADMIN 角色。
func (b *Builder) registerAdminRoutes(comp *Components) {
	cfg := comp.Config
	sys := comp.Engine.Group("/sys")
	comp.Health.Mount(sys)

	admin := sys.Group("/cache", middleware.JWTAuth(cfg.JWT.Secret), middleware.RequireRole("ADMIN"))
	admin.GET("", func(c *gin.Context) {
		response.Success(c, comp.Access.CacheStats())
	})
	admin.DELETE("", func(c *gin.Context) {
		comp.Access.ClearCache(c.Request.Context())
		comp.Logger.InfoContext(c.Request.Context(), "access cache cleared by admin")
		response.SuccessWithStatus(c, http.StatusOK, gin.H{"ok": true})
	})

	if cfg.Metrics.Enabled {
		comp.Engine.GET(metricsPath(cfg), gin.WrapH(comp.Metrics.Handler()))
	}
}

// transferTimeout 未配置时不设总时限，由调用方 context 控制。
func transferTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}
