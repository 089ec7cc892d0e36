// Package scheduler 运行进程内定时任务，支持固定间隔与 cron 表达式两种触发方式。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/retry"
)

var (
	// ErrJobNameEmpty 任务名称为空。
	ErrJobNameEmpty = errors.New("job name is empty")
	// ErrJobIntervalInvalid 既没有合法间隔也没有 cron 表达式。
	ErrJobIntervalInvalid = errors.New("job interval is invalid")
	// ErrJobAlreadyExists 任务名称重复。
	ErrJobAlreadyExists = errors.New("job already exists")
	// ErrJobHandlerNil 任务处理函数为空。
	ErrJobHandlerNil = errors.New("job handler is nil")
)

// Job 定时任务函数原型。
type Job func(ctx context.Context) error

// JobConfig 任务调度参数。Cron 非空时优先于 Interval。
type JobConfig struct {
	Name            string        // 任务名称（唯一）。
	Interval        time.Duration // 调度间隔。
	Cron            string        // 标准五段 cron 表达式，支持 @every、@hourly 等描述符。
	Jitter          time.Duration // 抖动时间，用于打散同一时刻的任务触发。
	Timeout         time.Duration // 单次执行超时。
	RetryConfig     retry.Config  // 重试策略配置。
	RunOnStart      bool          // 是否在启动时立即执行一次。
	AllowConcurrent bool          // 是否允许任务并发执行。
	Disabled        bool
}

// Scheduler 任务的统一调度与生命周期管理。
type Scheduler struct {
	logger   *slog.Logger
	mu       sync.Mutex
	jobs     map[string]*jobRunner
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	metrics  *schedulerMetrics
}

type jobRunner struct {
	cfg      JobConfig
	schedule cron.Schedule
	handler  Job
	running  atomic.Bool
}

// next 返回下一次触发时间。
func (r *jobRunner) next(now time.Time) time.Time {
	if r.schedule != nil {
		return r.schedule.Next(now)
	}
	return now.Add(r.cfg.Interval)
}

type schedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobRunning  *prometheus.GaugeVec
}

// NewScheduler 创建任务调度器，m 为 nil 时不采集指标。
func NewScheduler(logger *logging.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}

	var sm *schedulerMetrics
	if m != nil {
		sm = &schedulerMetrics{
			jobRuns: m.NewCounterVec(prometheus.CounterOpts{
				Subsystem: "scheduler",
				Name:      "job_runs_total",
				Help:      "Total number of scheduled job runs",
			}, []string{"job", "status"}),
			jobDuration: m.NewHistogramVec(prometheus.HistogramOpts{
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Scheduled job execution duration",
				Buckets:   prometheus.DefBuckets,
			}, []string{"job", "status"}),
			jobRunning: m.NewGaugeVec(prometheus.GaugeOpts{
				Subsystem: "scheduler",
				Name:      "job_running",
				Help:      "Current running jobs",
			}, []string{"job"}),
		}
	}

	return &Scheduler{
		logger:  logger.WithModule("scheduler").Logger,
		jobs:    make(map[string]*jobRunner),
		stop:    make(chan struct{}),
		metrics: sm,
	}
}

// AddJob 注册一个新的调度任务。
func (s *Scheduler) AddJob(cfg JobConfig, handler Job) error {
	if cfg.Name == "" {
		return ErrJobNameEmpty
	}
	if handler == nil {
		return ErrJobHandlerNil
	}

	runner := &jobRunner{cfg: cfg, handler: handler}
	if cfg.Cron != "" {
		sched, err := cron.ParseStandard(cfg.Cron)
		if err != nil {
			return fmt.Errorf("job %s: parse cron %q: %w", cfg.Name, cfg.Cron, err)
		}
		runner.schedule = sched
	} else if cfg.Interval <= 0 {
		return ErrJobIntervalInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.Name]; exists {
		return ErrJobAlreadyExists
	}
	s.jobs[cfg.Name] = runner
	return nil
}

// Start 启动调度器并异步运行所有任务。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, runner := range s.jobs {
		if runner.cfg.Disabled {
			continue
		}
		s.wg.Add(1)
		go s.runJob(ctx, runner)
	}
}

// Stop 关闭调度器并等待所有任务退出，可重复调用。
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// RunNow 立即同步执行一次指定任务。
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	runner, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.execute(ctx, runner)
}

func (s *Scheduler) runJob(ctx context.Context, runner *jobRunner) {
	defer s.wg.Done()

	if runner.cfg.RunOnStart {
		_ = s.execute(ctx, runner)
	}

	for {
		wait := time.Until(runner.next(time.Now()))
		if runner.cfg.Jitter > 0 {
			wait += randomJitter(runner.cfg.Jitter)
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			_ = s.execute(ctx, runner)
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, runner *jobRunner) error {
	name := runner.cfg.Name
	if !runner.cfg.AllowConcurrent {
		if !runner.running.CompareAndSwap(false, true) {
			s.logger.Warn("scheduler job skipped (already running)", "job", name)
			if s.metrics != nil {
				s.metrics.jobRuns.WithLabelValues(name, "skipped").Inc()
			}
			return nil
		}
		defer runner.running.Store(false)
	}

	execCtx := ctx
	if runner.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, runner.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	if s.metrics != nil {
		s.metrics.jobRunning.WithLabelValues(name).Inc()
	}
	err := retry.If(execCtx, func() error {
		return runner.handler(execCtx)
	}, func(err error) bool {
		return err != nil
	}, runner.cfg.RetryConfig)
	if s.metrics != nil {
		s.metrics.jobRunning.WithLabelValues(name).Dec()
	}

	status := "success"
	if err != nil {
		status = "failed"
		s.logger.Error("scheduler job failed", "job", name, "error", err)
	} else {
		s.logger.Debug("scheduler job succeeded", "job", name, "duration", time.Since(start))
	}
	if s.metrics != nil {
		s.metrics.jobRuns.WithLabelValues(name, status).Inc()
		s.metrics.jobDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
	}
	return err
}

func randomJitter(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return rand.N(maxJitter)
}
