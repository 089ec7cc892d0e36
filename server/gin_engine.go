package server

import (
	"github.com/gin-gonic/gin"
)

// NewGinEngine 创建不带默认中间件的引擎，中间件顺序由调用方决定。mode 为空时保持当前 gin 模式。
// trustedProxies 为空时不信任任何代理头，客户端 IP 取自连接地址。
func NewGinEngine(mode string, trustedProxies []string, middlewares ...gin.HandlerFunc) (*gin.Engine, error) {
	switch mode {
	case "prod":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	case "dev":
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}
	engine.ContextWithFallback = true
	engine.Use(middlewares...)
	return engine, nil
}
