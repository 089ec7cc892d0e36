package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wyfcoding/coursestore/cache"
	"github.com/wyfcoding/coursestore/objectkey"
	"github.com/wyfcoding/coursestore/tracing"
	"github.com/wyfcoding/coursestore/xerrors"
)

// DownloadURL 下载地址结果。Degraded 为 true 时 URL 是未签名的直连地址，Reason 记录签名失败原因。
type DownloadURL struct {
	URL      string
	Degraded bool
	Reason   error
}

func (d DownloadURL) String() string {
	return d.URL
}

var errEmptyKey = errors.New("empty object key")

// GetDownloadURL 返回对象的读取地址，优先使用缓存。
//
// 缓存条目的有效期为 min(ttl, URLMaxAge) - SafetyMargin，且命中时签名至少还剩 SafetyMargin。后端签名失败时记录告警并返回降级地址，
// 降级结果不进入缓存。contentType 与 byteRange 可为空。
func (c *Context) GetDownloadURL(ctx context.Context, key string, ttl time.Duration, contentType, byteRange string) DownloadURL {
	key = objectkey.Normalize(key)
	ctx, span := tracing.StartSpan(ctx, "access.GetDownloadURL")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	if key == "" {
		return c.degraded(ctx, key, xerrors.InvalidArg(errEmptyKey.Error()))
	}

	cacheKey := cache.URLKey(key, contentType, byteRange)
	if u, ok := c.urls.Get(cacheKey, ttl); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return DownloadURL{URL: u}
	}

	epoch := c.epoch.Load()
	u, err := shared(ctx, &c.flight, "url:"+cacheKey+":"+ttl.String(), func(ctx context.Context) (string, error) {
		signed, err := c.backend.PresignDownload(ctx, key, ttl, contentType)
		if err != nil {
			return "", err
		}
		u := c.rewriter.Rewrite(signed)
		if c.epoch.Load() == epoch {
			c.urls.Set(cacheKey, u, ttl)
		}
		return u, nil
	})
	if err != nil {
		return c.degraded(ctx, key, err)
	}
	return DownloadURL{URL: u}
}

func (c *Context) degraded(ctx context.Context, key string, cause error) DownloadURL {
	reason := xerrors.SigningDegraded(key, cause)
	c.logger.WarnContext(ctx, "presign failed, serving unsigned url", "key", key, "error", cause)
	tracing.SetError(ctx, reason)
	if c.metrics != nil {
		c.metrics.SigningDegraded.WithLabelValues(degradeReason(cause)).Inc()
	}
	return DownloadURL{URL: c.DirectURL(key), Degraded: true, Reason: reason}
}

func degradeReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case xerrors.Is(err, xerrors.ErrNetwork), xerrors.Is(err, xerrors.ErrUnavailable):
		return "network"
	case xerrors.Is(err, xerrors.ErrInvalidArg):
		return "invalid"
	default:
		return "backend"
	}
}

// PresignedDownloadURL 只返回地址字符串，降级与否由日志与指标体现。
func (c *Context) PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration, contentType string) string {
	return c.GetDownloadURL(ctx, key, ttl, contentType, "").URL
}

// RangeDownload 返回带字节范围的读取地址，以及调用方发起请求时应携带的 Range 头。
// end < 0 表示读到末尾。
func (c *Context) RangeDownload(ctx context.Context, key string, start, end int64, contentType string) (DownloadURL, string) {
	header := rangeHeader(start, end)
	return c.GetDownloadURL(ctx, key, c.cfg.URLMaxAge, contentType, header), header
}

func rangeHeader(start, end int64) string {
	if start < 0 {
		start = 0
	}
	if end < 0 {
		return fmt.Sprintf("bytes=%d-", start)
	}
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// DirectURL 不经签名的直连地址 endpoint/bucket/key，经过改写。仅在对象可公开读取时可用。
func (c *Context) DirectURL(key string) string {
	key = objectkey.Normalize(key)
	parts := make([]string, 0, 3)
	if ep := strings.TrimRight(c.cfg.StorageEndpoint, "/"); ep != "" {
		parts = append(parts, ep)
	}
	if c.cfg.Bucket != "" {
		parts = append(parts, c.cfg.Bucket)
	}
	parts = append(parts, key)
	return c.rewriter.Rewrite(strings.Join(parts, "/"))
}
