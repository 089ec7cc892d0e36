// Package contextx 在 context.Context 中携带请求级字段（请求 ID、用户、角色、客户端信息），
// 并定义服务间透传这些字段所用的 HTTP 头。
package contextx

import (
	"context"
)

// 请求链路上透传的头部名称。
const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
	HeaderUserID    = "X-User-ID"
	HeaderRole      = "X-Role"
)

type key int

const (
	requestIDKey key = iota
	userIDKey
	roleKey
	ipKey
	uaKey
)

// logFields 写入日志的字段及顺序，user_agent 体积大且访问日志已记录，不在其中。
var logFields = []struct {
	key  key
	name string
}{
	{requestIDKey, "request_id"},
	{userIDKey, "user_id"},
	{roleKey, "user_role"},
	{ipKey, "client_ip"},
}

func with(ctx context.Context, k key, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

func get(ctx context.Context, k key, def string) string {
	if v, ok := ctx.Value(k).(string); ok && v != "" {
		return v
	}
	return def
}

// LogAttrs 返回 ctx 中已存在字段的日志键值对。
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	for _, f := range logFields {
		if v := get(ctx, f.key, ""); v != "" {
			attrs = append(attrs, f.name, v)
		}
	}
	return attrs
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string { return get(ctx, requestIDKey, "") }

func WithUserID(ctx context.Context, id string) context.Context { return with(ctx, userIDKey, id) }

func GetUserID(ctx context.Context) string { return get(ctx, userIDKey, "") }

// WithRole 记录主角色。
func WithRole(ctx context.Context, role string) context.Context { return with(ctx, roleKey, role) }

func GetRole(ctx context.Context) string { return get(ctx, roleKey, "") }

func WithIP(ctx context.Context, ip string) context.Context { return with(ctx, ipKey, ip) }

// GetIP 未知时返回 0.0.0.0。
func GetIP(ctx context.Context) string { return get(ctx, ipKey, "0.0.0.0") }

func WithUserAgent(ctx context.Context, ua string) context.Context { return with(ctx, uaKey, ua) }

// GetUserAgent 未知时返回 Unknown。
func GetUserAgent(ctx context.Context) string { return get(ctx, uaKey, "Unknown") }
