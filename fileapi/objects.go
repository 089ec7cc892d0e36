package fileapi

import (
	"net/http"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc/iter"
	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/objectkey"
	"github.com/wyfcoding/coursestore/response"
	"github.com/wyfcoding/coursestore/storage"
	"github.com/wyfcoding/coursestore/xerrors"
)

const missingKey = "Missing key"

// Presign GET /presign?key&expiresIn&contentType
func (h *Handler) Presign(c *gin.Context) {
	key := queryKey(c)
	if key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, missingKey)
		return
	}

	expiry, ok := h.expiry(c, c.Query("expiresIn"), h.cfg.MaxExpiry)
	if !ok {
		return
	}

	var opts storage.PresignOptions
	if ct := strings.TrimSpace(c.Query("contentType")); ct != "" {
		opts.ContentType = ct
		if objectkey.Inline(ct) {
			opts.ContentDisposition = "inline"
		}
	}

	url, err := h.store.PresignGet(c.Request.Context(), key, expiry, opts)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "presign download failed", "key", key, "error", err)
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"url": url})
}

// expiry 解析秒数，空值取 def，超过上限时截断。非法值直接写出 400。
func (h *Handler) expiry(c *gin.Context, raw string, def time.Duration) (time.Duration, bool) {
	if raw == "" {
		return min(def, h.cfg.MaxExpiry), true
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Invalid parameter: expiresIn")
		return 0, false
	}
	if secs > int64(h.cfg.MaxExpiry/time.Second) {
		return h.cfg.MaxExpiry, true
	}
	return time.Duration(secs) * time.Second, true
}

// Exists GET /exists?key 对象不存在时返回 404 {"exists": false}。
func (h *Handler) Exists(c *gin.Context) {
	key := queryKey(c)
	if key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, missingKey)
		return
	}

	info, err := h.store.Stat(c.Request.Context(), key)
	if err != nil {
		if xerrors.IsNotFound(err) {
			response.SuccessWithStatus(c, http.StatusNotFound, gin.H{"exists": false})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "stat object failed", "key", key, "error", err)
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"exists":       true,
		"key":          key,
		"size":         info.Size,
		"lastModified": info.LastModified,
		"contentType":  info.ContentType,
		"etag":         info.ETag,
	})
}

// FolderContents GET /folder-contents?prefix 列出直接子目录与文件，文件地址并发签名且保持顺序。
func (h *Handler) FolderContents(c *gin.Context) {
	ctx := c.Request.Context()
	clean := objectkey.CleanFolder(c.Query("prefix"))
	prefix := ""
	if clean != "" {
		prefix = clean + "/"
	}

	l, err := h.store.List(ctx, prefix)
	if err != nil {
		h.logger.ErrorContext(ctx, "list folder failed", "prefix", prefix, "error", err)
		response.Error(c, err)
		return
	}

	folders := make([]backend.Folder, 0, len(l.Prefixes))
	for _, p := range l.Prefixes {
		p = strings.TrimRight(p, "/")
		name := path.Base(p)
		if p == "" || name == "" {
			continue
		}
		folders = append(folders, backend.Folder{Name: name, Path: p})
	}

	objects := make([]storage.ObjectInfo, 0, len(l.Objects))
	for _, o := range l.Objects {
		if o.Key == "" || strings.HasSuffix(o.Key, "/") {
			continue
		}
		objects = append(objects, o)
	}

	mapper := iter.Mapper[storage.ObjectInfo, backend.FileDescriptor]{MaxGoroutines: h.cfg.ListWorkers}
	files, err := mapper.MapErr(objects, func(o *storage.ObjectInfo) (backend.FileDescriptor, error) {
		name := objectkey.Base(o.Key)
		ct := objectkey.Resolve(name, "")
		if ct == objectkey.OctetStream && o.ContentType != "" {
			ct = o.ContentType
		}
		url, err := h.store.PresignGet(ctx, o.Key, h.cfg.MaxExpiry, storage.PresignOptions{ContentType: ct})
		if err != nil {
			return backend.FileDescriptor{}, err
		}
		return backend.FileDescriptor{
			ObjectKey:     o.Key,
			FileName:      name,
			OriginalName:  objectkey.OriginalName(name),
			Size:          o.Size,
			SizeFormatted: objectkey.FormatSize(o.Size),
			MimeType:      ct,
			URL:           url,
			LastModified:  o.LastModified,
		}, nil
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "presign folder files failed", "prefix", prefix, "error", err)
		response.Error(c, err)
		return
	}

	response.Success(c, backend.Listing{Folders: folders, Files: files})
}

// DeleteObject DELETE /object?key 幂等删除。
func (h *Handler) DeleteObject(c *gin.Context) {
	key := queryKey(c)
	if key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, missingKey)
		return
	}

	existed, err := h.store.Delete(c.Request.Context(), key)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "delete object failed", "key", key, "error", err)
		response.Error(c, err)
		return
	}
	h.logger.InfoContext(c.Request.Context(), "object deleted", "key", key, "existed", existed)
	response.Success(c, gin.H{"ok": true, "deleted": existed})
}

type presignUploadRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// PresignUpload POST /presign-upload {key, contentType, expiresIn}
func (h *Handler) PresignUpload(c *gin.Context) {
	var req presignUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	key := objectkey.Normalize(strings.TrimSpace(req.Key))
	if key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, missingKey)
		return
	}

	raw := ""
	if req.ExpiresIn != 0 {
		raw = strconv.FormatInt(req.ExpiresIn, 10)
	}
	expiry, ok := h.expiry(c, raw, h.cfg.UploadExpiry)
	if !ok {
		return
	}

	url, err := h.store.PresignPut(c.Request.Context(), key, expiry)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "presign upload failed", "key", key, "error", err)
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"url": url})
}

// DirectUpload POST /upload，表单字段 key、file、contentType，由后端代为写入存储。
func (h *Handler) DirectUpload(c *gin.Context) {
	key := objectkey.Normalize(strings.TrimSpace(c.PostForm("key")))
	if key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, missingKey)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Missing file")
		return
	}

	ct := strings.TrimSpace(c.PostForm("contentType"))
	if ct == "" {
		ct = fh.Header.Get("Content-Type")
	}
	if ct == "" {
		ct = objectkey.Resolve(fh.Filename, "")
	}

	f, err := fh.Open()
	if err != nil {
		response.Error(c, xerrors.Internal("open uploaded file", err))
		return
	}
	defer f.Close()

	if err := h.store.Put(c.Request.Context(), key, f, fh.Size, ct); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "direct upload failed", "key", key, "error", err)
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.UploadBytes.WithLabelValues("direct").Add(float64(fh.Size))
	}
	response.Success(c, gin.H{"ok": true, "key": key})
}

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// parseRange 解析单段 Range 头并按对象大小校正，ok 为 false 表示不可满足。
// 不识别的格式按整体读取处理。
func parseRange(header string, size int64) (rng *storage.Range, ok bool) {
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return nil, true
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || start >= size {
		return nil, false
	}
	end := size - 1
	if m[2] != "" {
		e, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || e < start {
			return nil, false
		}
		end = min(e, size-1)
	}
	return &storage.Range{Start: start, End: end}, true
}

// Stream GET /stream/*key 经后端转发对象内容，支持 Range。PDF 不允许缓存。
func (h *Handler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	key := objectkey.Normalize(c.Param("key"))
	if key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, missingKey)
		return
	}

	info, err := h.store.Stat(ctx, key)
	if err != nil {
		if xerrors.IsNotFound(err) {
			response.ErrorWithStatus(c, http.StatusNotFound, "File not found")
			return
		}
		h.logger.ErrorContext(ctx, "stat object for stream failed", "key", key, "error", err)
		response.Error(c, err)
		return
	}

	rng, ok := parseRange(c.GetHeader("Range"), info.Size)
	if !ok {
		c.Header("Content-Range", "bytes */"+strconv.FormatInt(info.Size, 10))
		response.ErrorWithStatus(c, http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable")
		return
	}

	ct := info.ContentType
	if ct == "" || ct == objectkey.OctetStream || ct == "binary/octet-stream" {
		ct = objectkey.Resolve(key, "")
	}

	headers := map[string]string{"Accept-Ranges": "bytes"}
	if ct == "application/pdf" {
		headers["Cache-Control"] = "private, no-cache, no-store, must-revalidate"
		headers["Pragma"] = "no-cache"
		headers["Expires"] = "0"
	} else {
		headers["Cache-Control"] = "public, max-age=3600"
	}

	status, length := http.StatusOK, info.Size
	if rng != nil {
		status, length = http.StatusPartialContent, rng.Len()
		headers["Content-Range"] = "bytes " + strconv.FormatInt(rng.Start, 10) + "-" +
			strconv.FormatInt(rng.End, 10) + "/" + strconv.FormatInt(info.Size, 10)
	}

	if c.Request.Method == http.MethodHead {
		for k, v := range headers {
			c.Header(k, v)
		}
		c.Header("Content-Type", ct)
		c.Header("Content-Length", strconv.FormatInt(length, 10))
		c.Status(status)
		return
	}

	obj, err := h.store.Get(ctx, key, rng)
	if err != nil {
		h.logger.ErrorContext(ctx, "open object stream failed", "key", key, "error", err)
		response.Error(c, err)
		return
	}
	defer obj.Close()

	c.DataFromReader(status, length, ct, obj, headers)
}
