package cache

import (
	"time"

	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/objectkey"
)

// ListingCache 以规范化目录路径（根目录为空串）缓存目录内容。
// 任何成功的删除或上传都会整体清空它。
type ListingCache struct {
	store *store[backend.Listing]
	ttl   time.Duration
}

func NewListingCache(capacity int, ttl time.Duration, opts ...Option) (*ListingCache, error) {
	s, err := newStore[backend.Listing](NameListing, capacity, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &ListingCache{store: s, ttl: ttl}, nil
}

// Key 目录的缓存键。
func (c *ListingCache) Key(folder string) string {
	return objectkey.CleanFolder(folder)
}

func (c *ListingCache) Get(folder string) (backend.Listing, bool) {
	return c.store.lookup(c.Key(folder), c.ttl)
}

func (c *ListingCache) Set(folder string, listing backend.Listing) {
	c.store.set(c.Key(folder), listing)
}

func (c *ListingCache) Clear() {
	c.store.clear()
}

func (c *ListingCache) Len() int {
	return c.store.entries.Len()
}
