// Package fileapi 是可信文件后端的 HTTP 接口：签发预签名地址、查询与删除对象、直传、流式读取与分片会话。
// 路由挂在 /api/files 下，除 presign 外都要求 Bearer Token。
package fileapi

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/objectkey"
	"github.com/wyfcoding/coursestore/storage"
)

const (
	defaultMaxExpiry    = 7 * 24 * time.Hour
	defaultUploadExpiry = 15 * time.Minute
	defaultListWorkers  = 8
)

// Config 接口参数，零值字段使用默认值。
type Config struct {
	// MaxExpiry 下载地址有效期上限，也是未指定时的默认值。
	MaxExpiry time.Duration
	// UploadExpiry 上传地址的默认有效期。
	UploadExpiry time.Duration
	// ListWorkers 列目录时并发签名的协程数。
	ListWorkers int
}

func (c Config) withDefaults() Config {
	if c.MaxExpiry <= 0 {
		c.MaxExpiry = defaultMaxExpiry
	}
	if c.UploadExpiry <= 0 {
		c.UploadExpiry = defaultUploadExpiry
	}
	if c.ListWorkers <= 0 {
		c.ListWorkers = defaultListWorkers
	}
	return c
}

// Handler 文件接口处理器。
type Handler struct {
	store   storage.Storage
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option 配置 Handler。
type Option func(*Handler)

// WithLogger 指定日志。
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics 指定指标，上传字节数计入 UploadBytes。
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler 创建处理器。
func NewHandler(store storage.Storage, cfg Config, opts ...Option) *Handler {
	h := &Handler{store: store, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.Default().WithModule("fileapi")
	}
	return h
}

// Register 注册路由。auth 作用于除 presign 以外的全部路由，公开页面需要匿名签发下载地址。
func (h *Handler) Register(r gin.IRouter, auth ...gin.HandlerFunc) {
	r.GET("/presign", h.Presign)

	g := r.Group("", auth...)
	g.GET("/exists", h.Exists)
	g.GET("/folder-contents", h.FolderContents)
	g.DELETE("/object", h.DeleteObject)
	g.POST("/presign-upload", h.PresignUpload)
	g.POST("/upload", h.DirectUpload)
	g.GET("/stream/*key", h.Stream)
	g.HEAD("/stream/*key", h.Stream)

	mp := g.Group("/multipart")
	mp.POST("/initiate", h.InitiateMultipart)
	mp.POST("/upload-part", h.UploadPart)
	mp.POST("/complete", h.CompleteMultipart)
	mp.POST("/abort", h.AbortMultipart)
}

// queryKey 读取并规范化 key 参数。
func queryKey(c *gin.Context) string {
	return objectkey.Normalize(strings.TrimSpace(c.Query("key")))
}
