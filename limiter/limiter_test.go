package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterBurst(t *testing.T) {
	l := NewLocalLimiter(1, 2)
	ctx := context.Background()
	ok1, _ := l.Allow(ctx, "")
	ok2, _ := l.Allow(ctx, "")
	ok3, _ := l.Allow(ctx, "")
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}

func TestLocalLimiterUnlimited(t *testing.T) {
	l := NewLocalLimiter(0, 0)
	for range 100 {
		require.NoError(t, l.Wait(context.Background()))
	}
}

func TestSemaphoreLimiter(t *testing.T) {
	s := NewSemaphoreLimiter(1)
	require.NoError(t, s.Acquire(context.Background()))
	assert.False(t, s.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Acquire(ctx))

	s.Release()
	assert.True(t, s.TryAcquire())
	s.Release()
}

func TestDisabledSemaphore(t *testing.T) {
	var s *SemaphoreLimiter
	assert.True(t, s.TryAcquire())
	assert.NoError(t, s.Acquire(context.Background()))
	s.Release()
}
