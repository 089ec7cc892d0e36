// Package proxy 把改写后的同源路径转发到对象存储。
//
// 路径与查询串逐字转发，Host 头设为存储端点的主机，使预签名签名保持有效。
package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/rewrite"
)

// hopHeaders 不应转发给存储端的请求头。签名只覆盖 host，多余的凭据会让存储拒绝请求。
var hopHeaders = []string{"Authorization", "Cookie"}

// Proxy 存储反向代理。
type Proxy struct {
	rewriter *rewrite.Rewriter
	target   *url.URL
	rp       *httputil.ReverseProxy
	logger   *logging.Logger
}

// New target 为对象存储端点，例如 http://minio:9000。
func New(rw *rewrite.Rewriter, target string, logger *logging.Logger) (*Proxy, error) {
	if rw == nil {
		return nil, errors.New("proxy: rewriter is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("proxy: target must be an absolute url")
	}
	if logger == nil {
		logger = logging.Default()
	}

	p := &Proxy{rewriter: rw, target: u, logger: logger.WithModule("proxy")}
	p.rp = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		ErrorHandler: p.errorHandler,
	}
	return p, nil
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	rest, _ := p.rewriter.Strip(pr.In.URL.Path)
	rawRest, ok := p.rewriter.Strip(pr.In.URL.EscapedPath())
	if !ok {
		rawRest = ""
	}

	out := pr.Out.URL
	out.Scheme = p.target.Scheme
	out.Host = p.target.Host
	out.Path = strings.TrimRight(p.target.Path, "/") + rest
	out.RawPath = ""
	if rawRest != "" && rawRest != rest {
		out.RawPath = strings.TrimRight(p.target.EscapedPath(), "/") + rawRest
	}
	out.RawQuery = pr.In.URL.RawQuery

	pr.Out.Host = p.target.Host
	for _, h := range hopHeaders {
		pr.Out.Header.Del(h)
	}
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.ErrorContext(r.Context(), "storage proxy failed", "path", r.URL.Path, "error", err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"error":"Storage unavailable"}`))
}

// ServeHTTP 不带代理前缀的请求返回 404。
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := p.rewriter.Strip(r.URL.Path); !ok {
		http.NotFound(w, r)
		return
	}
	p.rp.ServeHTTP(w, r)
}

// Register 把代理挂到 gin 路由的改写前缀下。前缀为空时不注册，避免接管全部路由。
func (p *Proxy) Register(r gin.IRouter) {
	prefix := p.rewriter.Prefix()
	if prefix == "" {
		return
	}
	h := gin.WrapH(p)
	r.GET(prefix+"/*path", h)
	r.HEAD(prefix+"/*path", h)
	r.PUT(prefix+"/*path", h)
}
