package fileapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/objectkey"
	"github.com/wyfcoding/coursestore/response"
	"github.com/wyfcoding/coursestore/storage"
	"github.com/wyfcoding/coursestore/xerrors"
)

type initiateRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
}

type completeRequest struct {
	UploadID    string         `json:"uploadId"`
	Key         string         `json:"key"`
	Parts       []backend.Part `json:"parts"`
	ContentType string         `json:"contentType"`
}

type abortRequest struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// InitiateMultipart POST /multipart/initiate {key, contentType} -> {uploadId, key}
func (h *Handler) InitiateMultipart(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	key := objectkey.Normalize(strings.TrimSpace(req.Key))
	if key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, missingKey)
		return
	}
	ct := req.ContentType
	if ct == "" {
		ct = objectkey.Resolve(key, "")
	}

	uploadID, err := h.store.InitiateMultipart(c.Request.Context(), key, ct)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "initiate multipart failed", "key", key, "error", err)
		response.Error(c, err)
		return
	}
	h.logger.InfoContext(c.Request.Context(), "multipart session initiated", "key", key, "upload_id", uploadID)
	response.Success(c, gin.H{"uploadId": uploadID, "key": key})
}

// UploadPart POST /multipart/upload-part，表单字段 uploadId、key、partNumber、file。
func (h *Handler) UploadPart(c *gin.Context) {
	uploadID := strings.TrimSpace(c.PostForm("uploadId"))
	key := objectkey.Normalize(strings.TrimSpace(c.PostForm("key")))
	if uploadID == "" || key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Missing uploadId or key")
		return
	}
	partNumber, err := strconv.Atoi(c.PostForm("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Invalid partNumber")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Missing file")
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.Error(c, xerrors.Internal("open uploaded part", err))
		return
	}
	defer f.Close()

	etag, err := h.store.UploadPart(c.Request.Context(), key, uploadID, partNumber, f, fh.Size)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "upload part failed",
			"key", key, "upload_id", uploadID, "part", partNumber, "error", err)
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.UploadBytes.WithLabelValues("part").Add(float64(fh.Size))
	}
	response.Success(c, backend.Part{PartNumber: partNumber, ETag: etag})
}

// CompleteMultipart POST /multipart/complete，分片按请求中的顺序提交。
func (h *Handler) CompleteMultipart(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	key := objectkey.Normalize(strings.TrimSpace(req.Key))
	if req.UploadID == "" || key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Missing uploadId or key")
		return
	}
	if len(req.Parts) == 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Missing parts")
		return
	}

	parts := make([]storage.Part, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = storage.Part{PartNumber: p.PartNumber, ETag: p.ETag}
	}

	ctx := c.Request.Context()
	etag, err := h.store.CompleteMultipart(ctx, key, req.UploadID, parts)
	if err != nil {
		h.logger.ErrorContext(ctx, "complete multipart failed", "key", key, "upload_id", req.UploadID, "error", err)
		response.Error(c, err)
		return
	}

	out := backend.Completion{Key: key, ETag: etag, Location: "/stream/" + key}
	if info, err := h.store.Stat(ctx, key); err == nil {
		out.Size = info.Size
	}
	h.logger.InfoContext(ctx, "multipart session completed", "key", key, "upload_id", req.UploadID, "parts", len(parts))
	response.Success(c, out)
}

// AbortMultipart POST /multipart/abort {uploadId, key}
func (h *Handler) AbortMultipart(c *gin.Context) {
	var req abortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	key := objectkey.Normalize(strings.TrimSpace(req.Key))
	if req.UploadID == "" || key == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "Missing uploadId or key")
		return
	}

	if err := h.store.AbortMultipart(c.Request.Context(), key, req.UploadID); err != nil {
		h.logger.WarnContext(c.Request.Context(), "abort multipart failed", "key", key, "upload_id", req.UploadID, "error", err)
		response.Error(c, err)
		return
	}
	h.logger.InfoContext(c.Request.Context(), "multipart session aborted", "key", key, "upload_id", req.UploadID)
	response.Success(c, gin.H{"ok": true})
}
