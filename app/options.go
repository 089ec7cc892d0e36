package app

import (
	"time"

	"github.com/wyfcoding/coursestore/server"
)

// Option 配置 App。
type Option func(*options)

type options struct {
	servers         []server.Server
	hooks           []Hook
	cleanups        []func()
	shutdownTimeout time.Duration
}

// WithServer 添加随 App 启停的服务器。
func WithServer(servers ...server.Server) Option {
	return func(o *options) {
		o.servers = append(o.servers, servers...)
	}
}

// WithHook 添加生命周期钩子，启动时按添加顺序执行，停止时逆序执行。
func WithHook(hooks ...Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithCleanup 添加关闭时执行的清理函数，在服务器与钩子都停止之后按添加顺序执行。
func WithCleanup(cleanup func()) Option {
	return func(o *options) {
		if cleanup != nil {
			o.cleanups = append(o.cleanups, cleanup)
		}
	}
}

// WithShutdownTimeout 关闭阶段的总超时，默认 10 秒。
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}
