// Package app 管理服务进程的生命周期：组装依赖、启动服务器、响应信号并优雅关闭。
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/wyfcoding/coursestore/server"
)

const defaultShutdownTimeout = 10 * time.Second

// App 是应用程序的核心容器。
type App struct {
	name      string
	logger    *slog.Logger
	opts      options
	lifecycle *Lifecycle
}

// New 创建一个新的应用程序实例。
func New(name string, logger *slog.Logger, opts ...Option) *App {
	o := options{shutdownTimeout: defaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	lc := NewLifecycle(logger)
	for _, h := range o.hooks {
		lc.Append(h)
	}
	return &App{name: name, logger: logger, opts: o, lifecycle: lc}
}

// Run 阻塞运行直到收到 SIGINT 或 SIGTERM。
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext 启动钩子与服务器，ctx 结束或任一服务器异常退出时开始关闭。
func (a *App) RunContext(ctx context.Context) error {
	a.logger.Info("application starting", "name", a.name, "pid", os.Getpid())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.lifecycle.Start(runCtx); err != nil {
		a.shutdown()
		return err
	}

	var (
		wg      conc.WaitGroup
		errChan = make(chan error, len(a.opts.servers))
	)
	for _, srv := range a.opts.servers {
		wg.Go(func() {
			if err := srv.Start(runCtx); err != nil {
				a.logger.Error("server exited with error", "error", err)
				errChan <- err
				cancel()
			}
		})
	}

	<-runCtx.Done()
	a.logger.Info("shutting down application", "name", a.name)

	stopErr := a.stopServers()
	wg.Wait()
	a.shutdown()

	close(errChan)
	var runErr error
	for err := range errChan {
		runErr = errors.Join(runErr, err)
	}
	if err := errors.Join(runErr, stopErr); err != nil {
		return err
	}
	a.logger.Info("application shut down gracefully")
	return nil
}

func (a *App) stopServers() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.shutdownTimeout)
	defer cancel()

	var errs error
	for _, srv := range a.opts.servers {
		if err := srv.Stop(ctx); err != nil {
			a.logger.Error("server failed to stop", "error", err)
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// shutdown 逆序停止钩子，再执行清理函数。
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.shutdownTimeout)
	defer cancel()
	if err := a.lifecycle.Stop(ctx); err != nil {
		a.logger.Error("lifecycle stop failed", "error", err)
	}
	for _, cleanup := range a.opts.cleanups {
		cleanup()
	}
}

var _ server.Server = (*funcServer)(nil)

// funcServer 把一对启停函数适配成 server.Server。
type funcServer struct {
	start func(context.Context) error
	stop  func(context.Context) error
}

func (s *funcServer) Start(ctx context.Context) error { return s.start(ctx) }

func (s *funcServer) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	return s.stop(ctx)
}
