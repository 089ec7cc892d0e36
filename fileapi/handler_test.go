package fileapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/jwt"
	"github.com/wyfcoding/coursestore/middleware"
	"github.com/wyfcoding/coursestore/storage"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	t      *testing.T
	store  *storage.Memory
	engine *gin.Engine
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory("http://minio:9000", "course-files")
	engine := gin.New()
	NewHandler(store, Config{}).Register(engine.Group("/api/files"), middleware.JWTAuth(secret))

	token, err := jwt.GenerateToken(1, "editor", nil, secret, "", time.Hour)
	require.NoError(t, err)
	return &fixture{t: t, store: store, engine: engine, token: token}
}

func (f *fixture) put(key, body, ct string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Put(context.Background(), key, strings.NewReader(body), int64(len(body)), ct))
}

func (f *fixture) do(req *http.Request, auth bool) *httptest.ResponseRecorder {
	if auth {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(target string, auth bool) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, target, nil), auth)
}

func (f *fixture) postJSON(target string, body any) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	require.NoError(f.t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return f.do(req, true)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestPresignIsPublic(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api/files/presign?key=/courses/a.mp4&contentType=video/mp4&expiresIn=600", false)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[map[string]string](t, w)

	u, err := url.Parse(out["url"])
	require.NoError(t, err)
	assert.Equal(t, "/course-files/courses/a.mp4", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.Equal(t, "video/mp4", u.Query().Get("response-content-type"))
	assert.Equal(t, "inline", u.Query().Get("response-content-disposition"))
}

func TestPresignExpiryCapAndValidation(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api/files/presign?key=a.pdf&expiresIn=99999999", false)
	require.Equal(t, http.StatusOK, w.Code)
	u, _ := url.Parse(decode[map[string]string](t, w)["url"])
	assert.Equal(t, "604800", u.Query().Get("X-Amz-Expires"))

	w = f.get("/api/files/presign?key=a.pdf", false)
	u, _ = url.Parse(decode[map[string]string](t, w)["url"])
	assert.Equal(t, "604800", u.Query().Get("X-Amz-Expires"))
	assert.Empty(t, u.Query().Get("response-content-type"))

	w = f.get("/api/files/presign?key=a.pdf&expiresIn=abc", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.get("/api/files/presign", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Missing key"}`, w.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"/api/files/exists?key=a", "/api/files/folder-contents", "/api/files/stream/a"} {
		assert.Equal(t, http.StatusUnauthorized, f.get(target, false).Code, target)
	}
}

func TestExists(t *testing.T) {
	f := newFixture(t)
	f.put("docs/a.pdf", "hello", "application/pdf")

	w := f.get("/api/files/exists?key=/docs/a.pdf", true)
	require.Equal(t, http.StatusOK, w.Code)
	var info struct {
		Exists bool `json:"exists"`
		backend.ObjectInfo
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.Exists)
	assert.Equal(t, "docs/a.pdf", info.Key)
	assert.EqualValues(t, 5, info.Size)
	assert.Equal(t, "application/pdf", info.ContentType)
	assert.NotEmpty(t, info.ETag)

	w = f.get("/api/files/exists?key=docs/missing.pdf", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"exists":false}`, w.Body.String())
}

func TestFolderContents(t *testing.T) {
	f := newFixture(t)
	f.put("courses/math/", "", "")
	f.put("courses/math/1725177600000-intro.pdf", "pdf", "application/pdf")
	f.put("courses/math/b.mp4", "video", "video/mp4")
	f.put("courses/math/raw.bin", "x", "")
	f.put("courses/math/week1/notes.pdf", "n", "application/pdf")
	f.put("courses/other.pdf", "o", "application/pdf")

	w := f.get("/api/files/folder-contents?prefix=/courses/math/", true)
	require.Equal(t, http.StatusOK, w.Code)
	l := decode[backend.Listing](t, w)

	require.Len(t, l.Folders, 1)
	assert.Equal(t, backend.Folder{Name: "week1", Path: "courses/math/week1"}, l.Folders[0])

	require.Len(t, l.Files, 3)
	intro := l.Files[0]
	assert.Equal(t, "courses/math/1725177600000-intro.pdf", intro.ObjectKey)
	assert.Equal(t, "1725177600000-intro.pdf", intro.FileName)
	assert.Equal(t, "intro.pdf", intro.OriginalName)
	assert.Equal(t, "application/pdf", intro.MimeType)
	assert.Equal(t, "3 Bytes", intro.SizeFormatted)
	assert.Contains(t, intro.URL, "http://minio:9000/course-files/courses/math/1725177600000-intro.pdf?")

	assert.Equal(t, "courses/math/b.mp4", l.Files[1].ObjectKey)
	assert.Equal(t, "video/mp4", l.Files[1].MimeType)
	assert.Equal(t, "application/octet-stream", l.Files[2].MimeType)
}

func TestFolderContentsRootIsEmptyArrays(t *testing.T) {
	f := newFixture(t)
	w := f.get("/api/files/folder-contents", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"folders":[],"files":[]}`, w.Body.String())
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.put("a.pdf", "x", "application/pdf")

	w := f.do(httptest.NewRequest(http.MethodDelete, "/api/files/object?key=a.pdf", nil), true)
	assert.JSONEq(t, `{"ok":true,"deleted":true}`, w.Body.String())
	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/files/object?key=a.pdf", nil), true)
	assert.JSONEq(t, `{"ok":true,"deleted":false}`, w.Body.String())
	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/files/object", nil), true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresignUploadDefaultsTo15Minutes(t *testing.T) {
	f := newFixture(t)
	w := f.postJSON("/api/files/presign-upload", map[string]any{"key": "up/a.pdf", "contentType": "application/pdf"})
	require.Equal(t, http.StatusOK, w.Code)
	u, _ := url.Parse(decode[map[string]string](t, w)["url"])
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.Equal(t, "/course-files/up/a.pdf", u.Path)

	w = f.postJSON("/api/files/presign-upload", map[string]any{"contentType": "application/pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func formRequest(t *testing.T, target string, fields map[string]string, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, _ = fw.Write([]byte(content))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestDirectUpload(t *testing.T) {
	f := newFixture(t)
	req := formRequest(t, "/api/files/upload", map[string]string{"key": "direct/a.pdf"}, "a.pdf", "%PDF-1.4")
	w := f.do(req, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"ok":true,"key":"direct/a.pdf"}`, w.Body.String())

	info, err := f.store.Stat(context.Background(), "direct/a.pdf")
	require.NoError(t, err)
	assert.EqualValues(t, 8, info.Size)
	assert.NotEmpty(t, info.ContentType)

	w = f.do(formRequest(t, "/api/files/upload", map[string]string{"key": "x"}, "", ""), true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Missing file"}`, w.Body.String())
}

func TestStreamFullAndRange(t *testing.T) {
	f := newFixture(t)
	f.put("docs/a.pdf", "0123456789", "")
	f.put("video/b.mp4", "abcdef", "video/mp4")

	w := f.get("/api/files/stream/docs/a.pdf", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))

	req := httptest.NewRequest(http.MethodGet, "/api/files/stream/docs/a.pdf", nil)
	req.Header.Set("Range", "bytes=2-5")
	w = f.do(req, true)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
	assert.Equal(t, "bytes 2-5/10", w.Header().Get("Content-Range"))
	assert.Equal(t, "4", w.Header().Get("Content-Length"))

	req = httptest.NewRequest(http.MethodGet, "/api/files/stream/video/b.mp4", nil)
	req.Header.Set("Range", "bytes=3-")
	w = f.do(req, true)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "def", w.Body.String())
	assert.Equal(t, "bytes 3-5/6", w.Header().Get("Content-Range"))
	assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))

	req = httptest.NewRequest(http.MethodGet, "/api/files/stream/video/b.mp4", nil)
	req.Header.Set("Range", "bytes=10-")
	w = f.do(req, true)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Equal(t, "bytes */6", w.Header().Get("Content-Range"))

	w = f.get("/api/files/stream/missing.pdf", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		header     string
		wantOK     bool
		start, end int64
		full       bool
	}{
		{header: "", wantOK: true, full: true},
		{header: "bytes=0-0", wantOK: true, start: 0, end: 0},
		{header: "bytes=5-100", wantOK: true, start: 5, end: 9},
		{header: "bytes=-5", wantOK: true, full: true},
		{header: "bytes=6-3", wantOK: false},
		{header: "bytes=10-", wantOK: false},
	}
	for _, tt := range tests {
		rng, ok := parseRange(tt.header, 10)
		assert.Equal(t, tt.wantOK, ok, tt.header)
		if !tt.wantOK {
			continue
		}
		if tt.full {
			assert.Nil(t, rng, tt.header)
			continue
		}
		require.NotNil(t, rng, tt.header)
		assert.Equal(t, tt.start, rng.Start, tt.header)
		assert.Equal(t, tt.end, rng.End, tt.header)
	}
}

func TestMultipartSession(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON("/api/files/multipart/initiate", map[string]string{"key": "/big/v.mp4", "contentType": "video/mp4"})
	require.Equal(t, http.StatusOK, w.Code)
	started := decode[map[string]string](t, w)
	uploadID := started["uploadId"]
	require.NotEmpty(t, uploadID)
	assert.Equal(t, "big/v.mp4", started["key"])

	var parts []backend.Part
	for i, chunk := range []string{"hello ", "world"} {
		req := formRequest(t, "/api/files/multipart/upload-part", map[string]string{
			"uploadId":   uploadID,
			"key":        "big/v.mp4",
			"partNumber": []string{"1", "2"}[i],
		}, "part", chunk)
		w := f.do(req, true)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		parts = append(parts, decode[backend.Part](t, w))
	}
	assert.Equal(t, 1, parts[0].PartNumber)
	assert.NotEmpty(t, parts[1].ETag)

	w = f.postJSON("/api/files/multipart/complete", map[string]any{"uploadId": uploadID, "key": "big/v.mp4", "parts": parts})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[backend.Completion](t, w)
	assert.Equal(t, "big/v.mp4", done.Key)
	assert.EqualValues(t, 11, done.Size)

	obj, err := f.store.Stat(context.Background(), "big/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", obj.ContentType)
}

func TestMultipartAbortAndValidation(t *testing.T) {
	f := newFixture(t)
	w := f.postJSON("/api/files/multipart/initiate", map[string]string{"key": "big/x.mp4"})
	uploadID := decode[map[string]string](t, w)["uploadId"]

	w = f.postJSON("/api/files/multipart/complete", map[string]any{"uploadId": uploadID, "key": "big/x.mp4"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.postJSON("/api/files/multipart/abort", map[string]string{"uploadId": uploadID, "key": "big/x.mp4"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = f.postJSON("/api/files/multipart/abort", map[string]string{"uploadId": uploadID, "key": "big/x.mp4"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := formRequest(t, "/api/files/multipart/upload-part", map[string]string{
		"uploadId": uploadID, "key": "big/x.mp4", "partNumber": "0",
	}, "part", "x")
	assert.Equal(t, http.StatusBadRequest, f.do(req, true).Code)
}
