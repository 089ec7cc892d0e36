package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Swappable 包装一个可在运行时替换的中间件，配置热更新时用来切换限流参数。
// 未设置实现时直接放行。
type Swappable struct {
	h atomic.Pointer[gin.HandlerFunc]
}

// NewSwappable initial 可以为 nil。
func NewSwappable(initial gin.HandlerFunc) *Swappable {
	s := &Swappable{}
	s.Update(initial)
	return s
}

// Update 替换当前实现，传入 nil 等同于关闭。
func (s *Swappable) Update(h gin.HandlerFunc) {
	if h == nil {
		s.h.Store(nil)
		return
	}
	s.h.Store(&h)
}

// Handler 返回注册到路由上的固定入口。
func (s *Swappable) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h := s.h.Load(); h != nil {
			(*h)(c)
			return
		}
		c.Next()
	}
}
