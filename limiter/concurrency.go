package limiter

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// ErrConcurrencyLimit 表示并发上限已触发。
var ErrConcurrencyLimit = errors.New("concurrency limit exceeded")

// ConcurrencyLimiter 定义并发控制的通用接口。
type ConcurrencyLimiter interface {
	Acquire(ctx context.Context) error
	TryAcquire() bool
	Release()
}

// SemaphoreLimiter 基于加权信号量的并发控制，nil 或 max <= 0 时不做限制。
type SemaphoreLimiter struct {
	sem *semaphore.Weighted
}

// NewSemaphoreLimiter 创建并发信号量限流器。
func NewSemaphoreLimiter(max int) *SemaphoreLimiter {
	if max <= 0 {
		return &SemaphoreLimiter{}
	}
	return &SemaphoreLimiter{sem: semaphore.NewWeighted(int64(max))}
}

// Acquire 获取一个并发令牌，支持 Context 取消。
func (l *SemaphoreLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.sem == nil {
		return nil
	}
	return l.sem.Acquire(ctx, 1)
}

// TryAcquire 非阻塞获取，失败返回 false。
func (l *SemaphoreLimiter) TryAcquire() bool {
	if l == nil || l.sem == nil {
		return true
	}
	return l.sem.TryAcquire(1)
}

// Release 归还令牌。
func (l *SemaphoreLimiter) Release() {
	if l == nil || l.sem == nil {
		return
	}
	l.sem.Release(1)
}
