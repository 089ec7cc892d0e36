// Package config 提供统一的配置加载与热更新能力（viper + validator + fsnotify）。
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/wyfcoding/coursestore/logging"
)

// Config 全局顶级配置结构.
type Config struct {
	Version        string               `mapstructure:"version"        toml:"version"`
	Server         ServerConfig         `mapstructure:"server"         toml:"server"`
	Log            LogConfig            `mapstructure:"log"            toml:"log"`
	Tracing        TracingConfig        `mapstructure:"tracing"        toml:"tracing"`
	Metrics        MetricsConfig        `mapstructure:"metrics"        toml:"metrics"`
	JWT            JWTConfig            `mapstructure:"jwt"            toml:"jwt"`
	Snowflake      SnowflakeConfig      `mapstructure:"snowflake"      toml:"snowflake"`
	Minio          MinioConfig          `mapstructure:"minio"          toml:"minio"`
	Access         AccessConfig         `mapstructure:"access"         toml:"access"`
	Cache          CacheConfig          `mapstructure:"cache"          toml:"cache"`
	Upload         UploadConfig         `mapstructure:"upload"         toml:"upload"`
	HTTPClient     HTTPClientConfig     `mapstructure:"httpclient"     toml:"httpclient"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitbreaker" toml:"circuitbreaker"`
	RateLimit      RateLimitConfig      `mapstructure:"ratelimit"      toml:"ratelimit"`
	Janitor        JanitorConfig        `mapstructure:"janitor"        toml:"janitor"`
	Redis          RedisConfig          `mapstructure:"redis"          toml:"redis"`
}

// ServerConfig HTTP 服务参数.
type ServerConfig struct {
	Name        string `mapstructure:"name"        toml:"name"        validate:"required"`
	Environment string `mapstructure:"environment" toml:"environment" validate:"oneof=dev test prod"`
	HTTP        struct {
		Addr              string        `mapstructure:"addr"                toml:"addr"`
		Port              int           `mapstructure:"port"                toml:"port"                validate:"required,min=1,max=65535"`
		ReadTimeout       time.Duration `mapstructure:"read_timeout"        toml:"read_timeout"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" toml:"read_header_timeout"`
		WriteTimeout      time.Duration `mapstructure:"write_timeout"       toml:"write_timeout"`
		IdleTimeout       time.Duration `mapstructure:"idle_timeout"        toml:"idle_timeout"`
		MaxBodyBytes      int64         `mapstructure:"max_body_bytes"      toml:"max_body_bytes"`
		TrustedProxies    []string      `mapstructure:"trusted_proxies"     toml:"trusted_proxies"`
	} `mapstructure:"http" toml:"http"`
}

// LogConfig 日志输出参数.
type LogConfig struct {
	Level         string        `mapstructure:"level"          toml:"level"`
	File          string        `mapstructure:"file"           toml:"file"`
	Stdout        bool          `mapstructure:"stdout"         toml:"stdout"`
	MaxSize       int           `mapstructure:"max_size"       toml:"max_size"`
	MaxBackups    int           `mapstructure:"max_backups"    toml:"max_backups"`
	MaxAge        int           `mapstructure:"max_age"        toml:"max_age"`
	Compress      bool          `mapstructure:"compress"       toml:"compress"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold" toml:"slow_threshold"` // HTTP 慢请求阈值。
}

// Logging 转换为 logging 包的配置。
func (c LogConfig) Logging(service, module string) logging.Config {
	return logging.Config{
		Service:    service,
		Module:     module,
		Level:      c.Level,
		File:       c.File,
		Stdout:     c.Stdout,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}

// JWTConfig 签发与校验 Bearer Token 的参数.
type JWTConfig struct {
	Secret         string        `mapstructure:"secret"          toml:"secret"`
	Issuer         string        `mapstructure:"issuer"          toml:"issuer"`
	ExpireDuration time.Duration `mapstructure:"expire_duration" toml:"expire_duration"`
}

// SnowflakeConfig 请求 ID 生成器参数.
type SnowflakeConfig struct {
	StartTime string `mapstructure:"start_time" toml:"start_time"`
	Type      string `mapstructure:"type"       toml:"type"`
	MachineID int64  `mapstructure:"machine_id" toml:"machine_id"`
}

// MinioConfig 定义 S3 兼容对象存储的连接参数.
type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"          toml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"     toml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" toml:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"       toml:"bucket_name"`
	Region          string `mapstructure:"region"            toml:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"           toml:"use_ssl"`
	// Driver 取值 minio 或 memory，memory 仅用于本地开发。
	Driver string `mapstructure:"driver" toml:"driver" validate:"omitempty,oneof=minio memory"`
}

// AccessConfig 访问层连接可信后端与改写 URL 所需的参数.
type AccessConfig struct {
	BackendURL      string `mapstructure:"backend_url"       toml:"backend_url"`
	APIPrefix       string `mapstructure:"api_prefix"        toml:"api_prefix"`
	StorageEndpoint string `mapstructure:"storage_endpoint"  toml:"storage_endpoint"`
	Bucket          string `mapstructure:"bucket"            toml:"bucket"`
	ProxyPrefix     string `mapstructure:"proxy_prefix"      toml:"proxy_prefix"`
	StorageHostHint string `mapstructure:"storage_host_hint" toml:"storage_host_hint"`
	Token           string `mapstructure:"token"             toml:"token"`
}

// CacheConfig 三类缓存的容量与有效期.
type CacheConfig struct {
	URLCapacity      int           `mapstructure:"url_capacity"      toml:"url_capacity"      validate:"min=1"`
	MetadataCapacity int           `mapstructure:"metadata_capacity" toml:"metadata_capacity" validate:"min=1"`
	ListingCapacity  int           `mapstructure:"listing_capacity"  toml:"listing_capacity"  validate:"min=1"`
	MetadataTTL      time.Duration `mapstructure:"metadata_ttl"      toml:"metadata_ttl"`
	ListingTTL       time.Duration `mapstructure:"listing_ttl"       toml:"listing_ttl"`
	SafetyMargin     time.Duration `mapstructure:"safety_margin"     toml:"safety_margin"`
	URLMaxAge        time.Duration `mapstructure:"url_max_age"       toml:"url_max_age"`
}

// UploadConfig 上传编排参数.
type UploadConfig struct {
	ChunkSize          int64         `mapstructure:"chunk_size"           toml:"chunk_size"           validate:"min=1"`
	MultipartThreshold int64         `mapstructure:"multipart_threshold"  toml:"multipart_threshold"`
	PresignExpiry      time.Duration `mapstructure:"presign_expiry"       toml:"presign_expiry"`
	DownloadTTL        time.Duration `mapstructure:"download_ttl"         toml:"download_ttl"`
	AbortTimeout       time.Duration `mapstructure:"abort_timeout"        toml:"abort_timeout"`
	MaxPresignExpiry   time.Duration `mapstructure:"max_presign_expiry"   toml:"max_presign_expiry"`
	// TransferTimeout 单次字节传输（签名 PUT、分片上传）的总时限，0 表示只受调用方 context 约束.
	TransferTimeout time.Duration `mapstructure:"transfer_timeout" toml:"transfer_timeout"`
}

// JanitorConfig 清理过期分片会话的定时任务.
type JanitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"  toml:"enabled"`
	Interval time.Duration `mapstructure:"interval" toml:"interval"`
	Cron     string        `mapstructure:"cron"     toml:"cron"`
	MaxAge   time.Duration `mapstructure:"max_age"  toml:"max_age"`
}

// RedisConfig 多实例之间广播缓存失效事件所用的 Redis 连接.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"        toml:"enabled"`
	MasterName   string        `mapstructure:"master_name"    toml:"master_name"`
	Password     string        `mapstructure:"password"       toml:"password"`
	Addrs        []string      `mapstructure:"addrs"          toml:"addrs"          validate:"required_if=Enabled true"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"   toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"  toml:"write_timeout"`
	DB           int           `mapstructure:"db"             toml:"db"`
	PoolSize     int           `mapstructure:"pool_size"      toml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" toml:"min_idle_conns"`
	Channel      string        `mapstructure:"channel"        toml:"channel"`
}

// TracingConfig 分布式链路追踪（OpenTelemetry）配置.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// RateLimitConfig 服务端令牌桶限流参数.
type RateLimitConfig struct {
	Rate    int  `mapstructure:"rate"    toml:"rate"`
	Burst   int  `mapstructure:"burst"   toml:"burst"`
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
}

// CircuitBreakerConfig 定义熔断器（gobreaker）的保护策略.
type CircuitBreakerConfig struct {
	Interval    time.Duration `mapstructure:"interval"     toml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"      toml:"timeout"`
	MaxRequests uint32        `mapstructure:"max_requests" toml:"max_requests"`
	Enabled     bool          `mapstructure:"enabled"      toml:"enabled"`
}

// HTTPClientConfig 访问可信后端的客户端治理参数.
type HTTPClientConfig struct {
	Timeout         time.Duration        `mapstructure:"timeout"           toml:"timeout"`
	RateLimit       int                  `mapstructure:"rate_limit"        toml:"rate_limit"`
	RateBurst       int                  `mapstructure:"rate_burst"        toml:"rate_burst"`
	MaxConcurrency  int                  `mapstructure:"max_concurrency"   toml:"max_concurrency"`
	SlowThreshold   time.Duration        `mapstructure:"slow_threshold"    toml:"slow_threshold"`
	RetryMax        int                  `mapstructure:"retry_max"         toml:"retry_max"`
	RetryInitial    time.Duration        `mapstructure:"retry_initial"     toml:"retry_initial"`
	RetryMaxBackoff time.Duration        `mapstructure:"retry_max_backoff" toml:"retry_max_backoff"`
	RetryMultiplier float64              `mapstructure:"retry_multiplier"  toml:"retry_multiplier"`
	RetryJitter     float64              `mapstructure:"retry_jitter"      toml:"retry_jitter"`
	RetryStatus     []int                `mapstructure:"retry_status"      toml:"retry_status"`
	Breaker         CircuitBreakerConfig `mapstructure:"breaker"           toml:"breaker"`
}

var (
	vInstance = viper.New()
	hooksMu   sync.Mutex
	onReload  []func(*Config)
)

// RegisterReloadHook 注册配置热更新回调，仅当 Load 的目标是 *Config 时触发.
func RegisterReloadHook(hook func(*Config)) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	onReload = append(onReload, hook)
}

// SetDefaults 写入与历史行为一致的默认值.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "coursestore")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("log.level", "info")

	v.SetDefault("access.api_prefix", "/api/files")
	v.SetDefault("access.proxy_prefix", "/api/storage")
	v.SetDefault("access.storage_host_hint", "storage")

	v.SetDefault("cache.url_capacity", 100)
	v.SetDefault("cache.metadata_capacity", 200)
	v.SetDefault("cache.listing_capacity", 50)
	v.SetDefault("cache.metadata_ttl", 10*time.Minute)
	v.SetDefault("cache.listing_ttl", 5*time.Minute)
	v.SetDefault("cache.safety_margin", time.Hour)
	v.SetDefault("cache.url_max_age", 6*time.Hour)

	v.SetDefault("upload.chunk_size", 10*1024*1024)
	v.SetDefault("upload.multipart_threshold", 100*1024*1024)
	v.SetDefault("upload.presign_expiry", 15*time.Minute)
	v.SetDefault("upload.download_ttl", 7*24*time.Hour)
	v.SetDefault("upload.max_presign_expiry", 7*24*time.Hour)
	v.SetDefault("upload.abort_timeout", 30*time.Second)

	v.SetDefault("janitor.interval", time.Hour)
	v.SetDefault("janitor.max_age", 24*time.Hour)

	v.SetDefault("redis.channel", "coursestore:cache-invalidation")
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("minio.driver", "minio")
}

// Load 读取 toml 配置文件，叠加 APP_ 前缀的环境变量，校验后开启热更新.
func Load(path string, conf any) error {
	SetDefaults(vInstance)
	vInstance.SetConfigFile(path)
	vInstance.SetConfigType("toml")

	vInstance.SetEnvPrefix("APP")
	vInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vInstance.AutomaticEnv()

	if err := vInstance.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := vInstance.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	vInstance.WatchConfig()
	vInstance.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		if err := vInstance.Unmarshal(conf); err != nil {
			slog.Error("reload config unmarshal failed", "error", err)
			return
		}
		if err := validate.Struct(conf); err != nil {
			slog.Error("reload config validation failed", "error", err)
			return
		}

		cfg, ok := conf.(*Config)
		if !ok {
			return
		}
		logging.SetLevel(cfg.Log.Level)
		slog.Info("config hot-reloaded and validated successfully")

		hooksMu.Lock()
		hooks := append([]func(*Config){}, onReload...)
		hooksMu.Unlock()
		for _, hook := range hooks {
			hook(cfg)
		}
	})

	return nil
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if err := json.Unmarshal(data, &configMap); err != nil {
		slog.Error("failed to unmarshal config for masking", "error", err)
		return
	}

	Mask(configMap)

	maskedJSON, err := json.MarshalIndent(configMap, "  ", "  ")
	if err != nil {
		slog.Error("failed to marshal masked config", "error", err)
		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

// Mask 递归替换敏感字段的值.
func Mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "key", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			Mask(subMap)
			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					Mask(itemMap)
				}
			}
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}

// GetViper 返回底层的 Viper 实例.
func GetViper() *viper.Viper {
	return vInstance
}
