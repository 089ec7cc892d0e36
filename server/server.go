package server

import "context"

// Server 由 app 统一管理生命周期的服务。
type Server interface {
	// Start 阻塞运行，直到 ctx 取消或发生错误。
	Start(ctx context.Context) error
	// Stop 释放资源，等待进行中的请求完成。
	Stop(ctx context.Context) error
}
