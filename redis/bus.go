package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wyfcoding/coursestore/cache"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
)

// resubscribeDelay 订阅中断后重试前的等待时间。
const resubscribeDelay = time.Second

var errClosed = errors.New("redis: client closed")

// Bus 在 Redis 频道上广播缓存失效事件，实现 cache.Bus。
type Bus struct {
	client  *DynamicClient
	channel string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

var _ cache.Bus = (*Bus)(nil)

func NewBus(client *DynamicClient, channel string, logger *logging.Logger, m *metrics.Metrics) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{client: client, channel: channel, logger: logger.WithModule("invalidation"), metrics: m}
}

// Publish 发布一个事件。
func (b *Bus) Publish(ctx context.Context, ev cache.Event) error {
	c := b.client.Client()
	if c == nil {
		return errClosed
	}
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := c.Publish(ctx, b.channel, payload).Err(); err != nil {
		return err
	}
	b.count("out", ev.Kind)
	return nil
}

// Subscribe 持续订阅直到 ctx 结束。连接被替换或断开后在当前连接上重新订阅。
func (b *Bus) Subscribe(ctx context.Context, fn func(cache.Event)) error {
	for {
		err := b.subscribeOnce(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		b.logger.WarnContext(ctx, "invalidation subscription interrupted, retrying", "channel", b.channel, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

func (b *Bus) subscribeOnce(ctx context.Context, fn func(cache.Event)) error {
	c := b.client.Client()
	if c == nil {
		return errClosed
	}
	sub := c.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errClosed
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				b.logger.WarnContext(ctx, "dropping malformed invalidation event", "error", err)
				continue
			}
			b.count("in", ev.Kind)
			fn(ev)
		}
	}
}

func (b *Bus) Close() error {
	return b.client.Close()
}

func (b *Bus) count(direction string, kind cache.EventKind) {
	if b.metrics != nil {
		b.metrics.InvalidationEvents.WithLabelValues(direction, string(kind)).Inc()
	}
}

func encodeEvent(ev cache.Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeEvent(payload string) (cache.Event, error) {
	var ev cache.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, err
	}
	switch ev.Kind {
	case cache.EventObject:
		if ev.Key == "" {
			return ev, errors.New("object event without key")
		}
	case cache.EventAll:
	default:
		return ev, errors.New("unknown event kind " + string(ev.Kind))
	}
	return ev, nil
}
