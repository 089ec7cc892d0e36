package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/retry"
)

func noop(context.Context) error { return nil }

func TestAddJobValidation(t *testing.T) {
	s := NewScheduler(nil, nil)

	assert.ErrorIs(t, s.AddJob(JobConfig{Interval: time.Second}, noop), ErrJobNameEmpty)
	assert.ErrorIs(t, s.AddJob(JobConfig{Name: "a"}, noop), ErrJobIntervalInvalid)
	assert.ErrorIs(t, s.AddJob(JobConfig{Name: "a", Interval: time.Second}, nil), ErrJobHandlerNil)
	assert.Error(t, s.AddJob(JobConfig{Name: "a", Cron: "not a cron"}, noop))

	require.NoError(t, s.AddJob(JobConfig{Name: "a", Cron: "@hourly"}, noop))
	assert.ErrorIs(t, s.AddJob(JobConfig{Name: "a", Interval: time.Second}, noop), ErrJobAlreadyExists)
}

func TestCronScheduleNext(t *testing.T) {
	s := NewScheduler(nil, nil)
	require.NoError(t, s.AddJob(JobConfig{Name: "sweep", Cron: "30 3 * * *"}, noop))

	now := time.Date(2024, 3, 1, 4, 0, 0, 0, time.Local)
	next := s.jobs["sweep"].next(now)
	assert.Equal(t, time.Date(2024, 3, 2, 3, 30, 0, 0, time.Local), next)
}

func TestIntervalJobRuns(t *testing.T) {
	m := metrics.NewMetrics("scheduler-test")
	s := NewScheduler(nil, m)

	var runs atomic.Int32
	require.NoError(t, s.AddJob(JobConfig{Name: "tick", Interval: 10 * time.Millisecond, RunOnStart: true}, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	require.NoError(t, s.Stop(stopCtx))

	assert.GreaterOrEqual(t, testutil.ToFloat64(s.metrics.jobRuns.WithLabelValues("tick", "success")), 3.0)
}

func TestRunNowRetriesAndReportsFailure(t *testing.T) {
	s := NewScheduler(nil, nil)
	var calls atomic.Int32
	boom := errors.New("boom")
	require.NoError(t, s.AddJob(JobConfig{
		Name:        "flaky",
		Interval:    time.Hour,
		RetryConfig: retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	}, func(context.Context) error {
		calls.Add(1)
		return boom
	}))

	err := s.RunNow(context.Background(), "flaky")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), calls.Load())

	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestConcurrentRunSkipped(t *testing.T) {
	s := NewScheduler(nil, nil)
	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, s.AddJob(JobConfig{Name: "slow", Interval: time.Hour}, func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.NoError(t, s.RunNow(context.Background(), "slow"))
	assert.Equal(t, int32(1), calls.Load())
	close(release)
	assert.NoError(t, <-done)
}
