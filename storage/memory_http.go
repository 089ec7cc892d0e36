package storage

import (
	"bytes"
	"crypto/hmac"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ServeHTTP 模拟存储端点，只接受本驱动签发且未过期的 GET / HEAD / PUT 地址。
// 路径为 /<bucket>/<key>，response-content-type 与 response-content-disposition 覆盖响应头。
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutPrefix(strings.TrimPrefix(r.URL.Path, "/"), m.bucket+"/")
	if !ok || key == "" {
		http.Error(w, "NoSuchBucket", http.StatusNotFound)
		return
	}

	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}
	if !m.verify(method, key, r.URL.Query()) {
		http.Error(w, "SignatureDoesNotMatch", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPut:
		if err := m.Put(r.Context(), key, r.Body, r.ContentLength, r.Header.Get("Content-Type")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.RLock()
		etag := m.objects[key].etag
		m.mu.RUnlock()
		w.Header().Set("ETag", `"`+etag+`"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		m.mu.RLock()
		o, found := m.objects[key]
		m.mu.RUnlock()
		if !found {
			http.Error(w, "NoSuchKey", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		ct := o.contentType
		if v := q.Get("response-content-type"); v != "" {
			ct = v
		}
		if ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		if v := q.Get("response-content-disposition"); v != "" {
			w.Header().Set("Content-Disposition", v)
		}
		w.Header().Set("ETag", `"`+o.etag+`"`)
		http.ServeContent(w, r, "", o.modified, bytes.NewReader(o.data))
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT")
		http.Error(w, "MethodNotAllowed", http.StatusMethodNotAllowed)
	}
}

// verify 重新计算签名并检查有效期。
func (m *Memory) verify(method, key string, q url.Values) bool {
	sig := q.Get("X-Amz-Signature")
	if sig == "" {
		return false
	}
	unsigned := url.Values{}
	for k, v := range q {
		if k != "X-Amz-Signature" {
			unsigned[k] = v
		}
	}
	if !hmac.Equal([]byte(m.signature(method, key, unsigned.Encode())), []byte(sig)) {
		return false
	}

	issued, err := time.Parse("20060102T150405Z", q.Get("X-Amz-Date"))
	if err != nil {
		return false
	}
	secs, err := strconv.ParseInt(q.Get("X-Amz-Expires"), 10, 64)
	if err != nil {
		return false
	}
	m.mu.RLock()
	now := m.now()
	m.mu.RUnlock()
	return now.Before(issued.Add(time.Duration(secs) * time.Second))
}
