// Package lru 提供带写入时间戳的有界 LRU 容器，三类对象缓存都构建在它之上。
package lru

import (
	"errors"
	"time"

	hlru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidCapacity 容量必须不小于 1。
var ErrInvalidCapacity = errors.New("lru: capacity must be at least 1")

// Entry 缓存条目。写入后不可变，Set 总是整体替换。
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// Fresh 判断条目在 ttl 下是否仍然有效：now - Timestamp < ttl。
func (e Entry[V]) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) < ttl
}

// Clock 返回当前时间，测试中替换为可控时钟。
type Clock func() time.Time

// Option 定制 Bounded。
type Option func(*options)

type options struct {
	clock   Clock
	onEvict func()
}

// WithClock 注入时钟。
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithEvictHook 容量淘汰时回调，Delete 与 Clear 不触发。
func WithEvictHook(fn func()) Option {
	return func(o *options) { o.onEvict = fn }
}

// Bounded 容量为 N 的 LRU：Get 命中会提升为最近使用但不改变时间戳；
// 满容量时 Set 新键恰好淘汰一个最久未使用的条目。并发安全。
type Bounded[K comparable, V any] struct {
	cache    *hlru.Cache[K, Entry[V]]
	capacity int
	clock    Clock
	onEvict  func()
}

// New 创建容量为 capacity 的缓存。
func New[K comparable, V any](capacity int, opts ...Option) (*Bounded[K, V], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := hlru.New[K, Entry[V]](capacity)
	if err != nil {
		return nil, err
	}
	return &Bounded[K, V]{cache: c, capacity: capacity, clock: o.clock, onEvict: o.onEvict}, nil
}

// Get 返回条目并提升其位置。
func (b *Bounded[K, V]) Get(key K) (Entry[V], bool) {
	return b.cache.Get(key)
}

// GetFresh 仅返回在 ttl 内的条目。过期条目保留在缓存中，等待下一次 Set 覆盖。
func (b *Bounded[K, V]) GetFresh(key K, ttl time.Duration) (V, bool) {
	e, ok := b.cache.Get(key)
	if !ok || !e.Fresh(b.clock(), ttl) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Set 以当前时间写入条目，已存在则替换并提升。
func (b *Bounded[K, V]) Set(key K, value V) {
	if evicted := b.cache.Add(key, Entry[V]{Value: value, Timestamp: b.clock()}); evicted && b.onEvict != nil {
		b.onEvict()
	}
}

// Has 判断键是否存在，不提升位置也不检查有效期。
func (b *Bounded[K, V]) Has(key K) bool {
	return b.cache.Contains(key)
}

// Delete 删除键。
func (b *Bounded[K, V]) Delete(key K) {
	b.cache.Remove(key)
}

// DeleteFunc 删除所有满足条件的键，返回删除数量。
func (b *Bounded[K, V]) DeleteFunc(match func(K) bool) int {
	n := 0
	for _, k := range b.cache.Keys() {
		if match(k) && b.cache.Remove(k) {
			n++
		}
	}
	return n
}

// Clear 清空全部条目。
func (b *Bounded[K, V]) Clear() {
	b.cache.Purge()
}

// Len 当前条目数。
func (b *Bounded[K, V]) Len() int {
	return b.cache.Len()
}

// Cap 容量。
func (b *Bounded[K, V]) Cap() int {
	return b.capacity
}

// Now 返回缓存使用的时钟读数。
func (b *Bounded[K, V]) Now() time.Time {
	return b.clock()
}
