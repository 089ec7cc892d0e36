// Package limiter 提供令牌桶限流与并发信号量，用于保护可信后端与服务端路由。
package limiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter 定义限流器的通用行为。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context) error
}

// LocalLimiter 基于令牌桶的进程内限流器，key 被忽略。
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter r 为每秒令牌数，b 为桶容量。r <= 0 表示不限流。
func NewLocalLimiter(r rate.Limit, b int) *LocalLimiter {
	if r <= 0 {
		return &LocalLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if b <= 0 {
		b = 1
	}
	return &LocalLimiter{limiter: rate.NewLimiter(r, b)}
}

// Allow 非阻塞地尝试获取一个令牌。
func (l *LocalLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return l.limiter.Allow(), nil
}

// Wait 阻塞直到获取令牌或 ctx 结束。
func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
