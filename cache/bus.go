package cache

import (
	"context"
	"sync"
)

// EventKind 失效事件类型。
type EventKind string

const (
	// EventObject 单个对象被修改：清除其地址、元数据以及全部目录列表。
	EventObject EventKind = "object"
	// EventAll 清空全部缓存。
	EventAll EventKind = "all"
)

// Event 多实例之间广播的缓存失效事件。Origin 为发布方实例标识，订阅方据此忽略自己发出的事件。
type Event struct {
	Kind   EventKind `json:"kind"`
	Key    string    `json:"key,omitempty"`
	Origin string    `json:"origin"`
}

// Bus 缓存失效广播通道。
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe 阻塞直到 ctx 结束，每收到一个事件调用一次 fn。
	Subscribe(ctx context.Context, fn func(Event)) error
	Close() error
}

// LocalBus 进程内广播，单实例部署与测试使用。
type LocalBus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]chan Event)}
}

func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// 订阅方积压时丢弃，缓存条目仍会按 TTL 过期。
		}
	}
	return ctx.Err()
}

func (b *LocalBus) Subscribe(ctx context.Context, fn func(Event)) error {
	ch := make(chan Event, 16)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			fn(ev)
		}
	}
}

// Subscribers 当前订阅数。
func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *LocalBus) Close() error { return nil }

// NopBus 丢弃所有事件。
type NopBus struct{}

func (NopBus) Publish(context.Context, Event) error { return nil }

func (NopBus) Subscribe(ctx context.Context, _ func(Event)) error {
	<-ctx.Done()
	return nil
}

func (NopBus) Close() error { return nil }
