// Package rewrite 把对象存储的绝对地址改写为同源代理路径。
//
// 路径与查询串原样保留，预签名地址中的签名因此仍然有效；代理负责以原 Host 转发。
package rewrite

import (
	"net/url"
	"strings"
)

// DefaultStoragePort 对象存储的常用端口，命中即视为存储地址。
const DefaultStoragePort = "9000"

// Rewriter 存储地址改写器，创建后只读，可并发使用。
type Rewriter struct {
	endpointHost string
	prefix       string
	hostHint     string
}

// New endpoint 为对象存储的基础地址（可为空），prefix 为代理挂载路径，hostHint 为主机名包含即匹配的片段。
func New(endpoint, prefix, hostHint string) (*Rewriter, error) {
	r := &Rewriter{
		prefix:   strings.TrimRight(prefix, "/"),
		hostHint: hostHint,
	}
	if endpoint != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		r.endpointHost = u.Host
	}
	return r, nil
}

// Prefix 代理挂载路径。
func (r *Rewriter) Prefix() string {
	return r.prefix
}

// Matches 判断地址是否指向对象存储。
func (r *Rewriter) Matches(u *url.URL) bool {
	if u == nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	if r.endpointHost != "" && strings.EqualFold(u.Host, r.endpointHost) {
		return true
	}
	if u.Port() == DefaultStoragePort {
		return true
	}
	return r.hostHint != "" && strings.Contains(strings.ToLower(u.Hostname()), strings.ToLower(r.hostHint))
}

// Rewrite 改写匹配的地址；相对地址、无法解析或不匹配的地址原样返回，因此重复调用结果不变。
func (r *Rewriter) Rewrite(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || !r.Matches(u) {
		return raw
	}
	out := r.prefix + u.EscapedPath()
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// Strip 去掉代理前缀，返回转发到存储端的路径；不带前缀时 ok 为 false。
func (r *Rewriter) Strip(path string) (string, bool) {
	if r.prefix == "" {
		return path, true
	}
	rest, ok := strings.CutPrefix(path, r.prefix)
	if !ok || (rest != "" && rest[0] != '/') {
		return "", false
	}
	if rest == "" {
		rest = "/"
	}
	return rest, true
}
