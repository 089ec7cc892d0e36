package cache

import (
	"strings"
	"time"
)

// URLKey 组合预签名地址的缓存键。同一对象不同内容类型或字节范围的签名地址不同，分别缓存。
func URLKey(key, contentType, byteRange string) string {
	if contentType == "" {
		contentType = "default"
	}
	if byteRange == "" {
		byteRange = "full"
	}
	return key + ":" + contentType + ":" + byteRange
}

// URLCache 缓存改写后的预签名下载地址。
//
// 条目记录签名到期时间。命中需同时满足：条目年龄小于 min(请求的 ttl, maxAge) - safetyMargin，
// 且签名剩余有效期大于 safetyMargin。safetyMargin 不小于有效期时每次都视为未命中。
type URLCache struct {
	store        *store[signedURL]
	safetyMargin time.Duration
	maxAge       time.Duration
}

type signedURL struct {
	url     string
	expires time.Time
}

// NewURLCache maxAge <= 0 表示不额外封顶。
func NewURLCache(capacity int, safetyMargin, maxAge time.Duration, opts ...Option) (*URLCache, error) {
	s, err := newStore[signedURL](NameURL, capacity, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &URLCache{store: s, safetyMargin: safetyMargin, maxAge: maxAge}, nil
}

// Validity 返回给定 ttl 下缓存条目的有效期。
func (c *URLCache) Validity(ttl time.Duration) time.Duration {
	if c.maxAge > 0 && ttl > c.maxAge {
		ttl = c.maxAge
	}
	return ttl - c.safetyMargin
}

// Get cacheKey 由 URLKey 生成。
func (c *URLCache) Get(cacheKey string, ttl time.Duration) (string, bool) {
	validity := c.Validity(ttl)
	if validity <= 0 {
		c.store.observe("bypass")
		return "", false
	}
	e, ok := c.store.entries.Get(cacheKey)
	if !ok {
		c.store.observe("miss")
		return "", false
	}
	now := c.store.entries.Now()
	if !e.Fresh(now, validity) || e.Value.expires.Sub(now) <= c.safetyMargin {
		c.store.observe("stale")
		return "", false
	}
	c.store.observe("hit")
	return e.Value.url, true
}

// Set 写入按 ttl 签发的地址。ttl 下有效期不为正的地址不会被任何调用命中，不写入。
func (c *URLCache) Set(cacheKey, url string, ttl time.Duration) {
	if c.Validity(ttl) <= 0 {
		return
	}
	c.store.set(cacheKey, signedURL{url: url, expires: c.store.entries.Now().Add(ttl)})
}

// InvalidateObject 删除一个对象的全部变体，返回删除数量。
func (c *URLCache) InvalidateObject(key string) int {
	n := c.store.entries.DeleteFunc(func(k string) bool { return objectOf(k) == key })
	c.store.gauge()
	return n
}

// objectOf 取出缓存键中的对象部分。对象键本身可能含冒号，从右侧切掉内容类型与范围。
func objectOf(cacheKey string) string {
	for range 2 {
		i := strings.LastIndexByte(cacheKey, ':')
		if i < 0 {
			return cacheKey
		}
		cacheKey = cacheKey[:i]
	}
	return cacheKey
}

// Clear 清空全部地址。
func (c *URLCache) Clear() {
	c.store.clear()
}

// Len 当前条目数。
func (c *URLCache) Len() int {
	return c.store.entries.Len()
}
