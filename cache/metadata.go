package cache

import (
	"time"

	"github.com/wyfcoding/coursestore/backend"
)

// MetadataCache 以对象键缓存元数据，固定有效期。不缓存"不存在"的结果。
type MetadataCache struct {
	store *store[backend.ObjectInfo]
	ttl   time.Duration
}

func NewMetadataCache(capacity int, ttl time.Duration, opts ...Option) (*MetadataCache, error) {
	s, err := newStore[backend.ObjectInfo](NameMetadata, capacity, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &MetadataCache{store: s, ttl: ttl}, nil
}

func (c *MetadataCache) Get(key string) (backend.ObjectInfo, bool) {
	return c.store.lookup(key, c.ttl)
}

func (c *MetadataCache) Set(key string, info backend.ObjectInfo) {
	c.store.set(key, info)
}

func (c *MetadataCache) Delete(key string) {
	c.store.delete(key)
}

func (c *MetadataCache) Clear() {
	c.store.clear()
}

func (c *MetadataCache) Len() int {
	return c.store.entries.Len()
}
