// Package backend 是可信文件后端 REST 接口的客户端：签发预签名地址、查询元数据与目录、管理分片会话。
// 访问层从不持有存储凭据，所有签名都由这里调用的后端完成。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wyfcoding/coursestore/httpclient"
	"github.com/wyfcoding/coursestore/xerrors"
)

const maxErrorBody = 64 << 10

// Doer 发送请求，由 httpclient.Client 实现。
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Doer = (*httpclient.Client)(nil)

// Client 可信后端客户端。
//
// api 用于调用后端接口并携带 Bearer Token；transfer 用于直接向预签名地址传输字节，
// 预签名请求不能再附带 Authorization 头。
type Client struct {
	baseURL  string
	api      Doer
	transfer Doer
	parts    Doer
}

// Option 定制客户端。
type Option func(*Client)

// WithPartDoer 分片上传使用的客户端。分片请求体大，通常需要比普通接口调用更长的时限，
// 同时仍要携带 Bearer Token。默认使用 api。
func WithPartDoer(d Doer) Option {
	return func(c *Client) { c.parts = d }
}

// New baseURL 形如 http://backend/api/files。
func New(baseURL string, api, transfer Doer, opts ...Option) *Client {
	if transfer == nil {
		transfer = api
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), api: api, transfer: transfer, parts: api}
	for _, opt := range opts {
		opt(c)
	}
	if c.parts == nil {
		c.parts = api
	}
	return c
}

// PresignDownload 签发读取地址。contentType 非空时后端会把它写入响应头覆盖。
func (c *Client) PresignDownload(ctx context.Context, key string, ttl time.Duration, contentType string) (string, error) {
	q := url.Values{}
	q.Set("key", key)
	q.Set("expiresIn", strconv.FormatInt(int64(ttl/time.Second), 10))
	if contentType != "" {
		q.Set("contentType", contentType)
	}
	var out urlResponse
	if err := c.call(ctx, http.MethodGet, "/presign", q, nil, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", xerrors.Internal("backend returned empty presigned url", nil).WithContext("key", key)
	}
	return out.URL, nil
}

// Stat 查询对象元数据，不存在时返回 NotFound。
func (c *Client) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	q := url.Values{}
	q.Set("key", key)
	var out existsResponse
	if err := c.call(ctx, http.MethodGet, "/exists", q, nil, &out); err != nil {
		return ObjectInfo{}, err
	}
	if !out.Exists {
		return ObjectInfo{}, xerrors.NotFound("object not found").WithContext("key", key)
	}
	if out.Key == "" {
		out.Key = key
	}
	return out.ObjectInfo, nil
}

// FolderContents 列出目录的直接子目录与文件。
func (c *Client) FolderContents(ctx context.Context, prefix string) (Listing, error) {
	q := url.Values{}
	q.Set("prefix", prefix)
	var out Listing
	if err := c.call(ctx, http.MethodGet, "/folder-contents", q, nil, &out); err != nil {
		return Listing{}, err
	}
	return out, nil
}

// Delete 删除对象，返回对象在删除前是否存在。删除不存在的对象不是错误。
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	q := url.Values{}
	q.Set("key", key)
	var out deleteResponse
	if err := c.call(ctx, http.MethodDelete, "/object", q, nil, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

// PresignUpload 签发写入地址。
func (c *Client) PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	var out urlResponse
	err := c.call(ctx, http.MethodPost, "/presign-upload", nil, presignUploadRequest{
		Key:         key,
		ContentType: contentType,
		ExpiresIn:   int64(expires / time.Second),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", xerrors.Internal("backend returned empty upload url", nil).WithContext("key", key)
	}
	return out.URL, nil
}

// InitiateMultipart 创建分片会话，返回 uploadId。
func (c *Client) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	var out initiateResponse
	if err := c.call(ctx, http.MethodPost, "/multipart/initiate", nil, initiateRequest{Key: key, ContentType: contentType}, &out); err != nil {
		return "", err
	}
	if out.UploadID == "" {
		return "", xerrors.Internal("backend returned empty upload id", nil).WithContext("key", key)
	}
	return out.UploadID, nil
}

// UploadPart 以 multipart/form-data 流式上传一个分片。
func (c *Client) UploadPart(ctx context.Context, uploadID, key string, partNumber int, chunk io.Reader) (Part, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		err := writePartForm(form, uploadID, key, partNumber, chunk)
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/multipart/upload-part", pr)
	if err != nil {
		pr.Close()
		return Part{}, xerrors.Internal("build upload-part request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out Part
	if err := c.send(ctx, c.parts, req, &out); err != nil {
		pr.CloseWithError(err)
		return Part{}, err
	}
	if out.PartNumber == 0 {
		out.PartNumber = partNumber
	}
	return out, nil
}

func writePartForm(form *multipart.Writer, uploadID, key string, partNumber int, chunk io.Reader) error {
	fields := [][2]string{{"uploadId", uploadID}, {"key", key}, {"partNumber", strconv.Itoa(partNumber)}}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	fw, err := form.CreateFormFile("file", "part-"+strconv.Itoa(partNumber))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, chunk); err != nil {
		return err
	}
	return form.Close()
}

// CompleteMultipart 按给定顺序提交分片列表完成会话。
func (c *Client) CompleteMultipart(ctx context.Context, uploadID, key string, parts []Part, contentType string) (Completion, error) {
	var out Completion
	err := c.call(ctx, http.MethodPost, "/multipart/complete", nil, completeRequest{
		UploadID:    uploadID,
		Key:         key,
		Parts:       parts,
		ContentType: contentType,
	}, &out)
	if err != nil {
		return Completion{}, err
	}
	if out.Key == "" {
		out.Key = key
	}
	return out, nil
}

// AbortMultipart 中止分片会话并丢弃已上传的分片。
func (c *Client) AbortMultipart(ctx context.Context, uploadID, key string) error {
	return c.call(ctx, http.MethodPost, "/multipart/abort", nil, abortRequest{UploadID: uploadID, Key: key}, nil)
}

// PutSigned 将 body 直接 PUT 到预签名写入地址。
func (c *Client) PutSigned(ctx context.Context, signedURL string, body io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, body)
	if err != nil {
		return xerrors.Upload("build signed put request", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.send(ctx, c.transfer, req, nil)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return xerrors.Internal("encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return xerrors.Internal("build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(ctx, c.api, req, out)
}

// send 执行请求并把失败分类为 Network / NotFound / Unauthenticated / InvalidArg / Internal。
func (c *Client) send(ctx context.Context, doer Doer, req *http.Request, out any) error {
	resp, err := doer.Do(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return xerrors.Network(req.Method+" "+req.URL.Path+" cancelled", errors.Join(ctxErr, err))
		}
		return xerrors.Network(req.Method+" "+req.URL.Path+" failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return xerrors.Internal("decode "+req.URL.Path+" response", err)
		}
		return nil
	}

	return statusError(req, resp)
}

func statusError(req *http.Request, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload errorPayload
	msg := ""
	if json.Unmarshal(raw, &payload) == nil {
		msg = payload.text()
	}
	if msg == "" {
		msg = fmt.Sprintf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}

	var e *xerrors.Error
	switch resp.StatusCode {
	case http.StatusNotFound:
		e = xerrors.NotFound(msg)
	case http.StatusUnauthorized:
		e = xerrors.Unauthenticated(msg)
	case http.StatusForbidden:
		e = xerrors.New(xerrors.ErrPermissionDenied, http.StatusForbidden, msg, "", nil)
	case http.StatusBadRequest:
		e = xerrors.InvalidArg(msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		e = xerrors.Unavailable(msg, nil)
	default:
		e = xerrors.Internal(msg, nil)
	}
	return e.WithContext("status", resp.StatusCode)
}
