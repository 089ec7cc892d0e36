package access

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wyfcoding/coursestore/objectkey"
	"github.com/wyfcoding/coursestore/tracing"
	"github.com/wyfcoding/coursestore/xerrors"
)

// sniffLen 内容嗅探读取的字节数。
const sniffLen = 3072

// File 待上传的文件。Size 必须准确，分片与进度都依赖它。
type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// UploadResult 上传完成后的对象描述，URL 可立即使用。
type UploadResult struct {
	ObjectKey     string `json:"objectName"`
	FileName      string `json:"fileName"`
	OriginalName  string `json:"originalName"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"sizeFormatted"`
	ContentType   string `json:"type"`
	URL           string `json:"url"`
	URLDegraded   bool   `json:"urlDegraded,omitempty"`
}

// ProgressFunc 上传进度回调，三个参数均单调不减。
type ProgressFunc func(percent int, loaded, total int64)

func (f File) validate() error {
	switch {
	case f.Body == nil:
		return xerrors.InvalidArg("file body is required")
	case f.Name == "":
		return xerrors.InvalidArg("file name is required")
	case f.Size < 0:
		return xerrors.InvalidArg("file size is unknown")
	}
	return nil
}

// resolveContentType 按扩展名与声明推断类型，仍无法识别时嗅探文件头。
// 返回的 body 已补回嗅探读取的字节。
func resolveContentType(f File) (string, io.Reader, error) {
	ct := objectkey.Resolve(f.Name, f.ContentType)
	if ct != objectkey.OctetStream || f.Size == 0 {
		return ct, f.Body, nil
	}
	head := make([]byte, min(int64(sniffLen), f.Size))
	n, err := io.ReadFull(f.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]
	body := io.MultiReader(bytes.NewReader(head), f.Body)
	return mimetype.Detect(head).String(), body, nil
}

// UploadFile 按大小选择上传方式：不小于 MultipartThreshold 的文件走分片上传，其余走单次上传。
func (c *Context) UploadFile(ctx context.Context, f File, folder string, onProgress ProgressFunc) (*UploadResult, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if c.cfg.MultipartThreshold > 0 && f.Size >= c.cfg.MultipartThreshold {
		key := objectkey.UploadKey(c.clock(), f.Name, folder)
		ct, body, err := resolveContentType(f)
		if err != nil {
			return nil, xerrors.Upload("read file", err)
		}
		f.Body, f.ContentType = body, ct
		if _, err := c.UploadMultipart(ctx, f, key, onProgress); err != nil {
			return nil, err
		}
		return c.result(ctx, key, f, ct), nil
	}
	return c.upload(ctx, f, folder, onProgress)
}

// Upload 单次上传：向后端申请写地址，直接把字节写入存储，成功后清理缓存并返回读取地址。
// 任一步失败返回 Upload 错误，存储端不会留下对象。
func (c *Context) Upload(ctx context.Context, f File, folder string) (*UploadResult, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return c.upload(ctx, f, folder, nil)
}

func (c *Context) upload(ctx context.Context, f File, folder string, onProgress ProgressFunc) (*UploadResult, error) {
	key := objectkey.UploadKey(c.clock(), f.Name, folder)
	ctx, span := tracing.StartSpan(ctx, "access.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key), attribute.Int64("object.size", f.Size))

	ct, body, err := resolveContentType(f)
	if err != nil {
		return nil, c.uploadFailed(ctx, key, xerrors.Upload("read file", err))
	}

	signed, err := c.backend.PresignUpload(ctx, key, ct, c.cfg.PresignExpiry)
	if err != nil {
		return nil, c.uploadFailed(ctx, key, xerrors.Upload("request upload url", err))
	}

	progress := newProgress(f.Size, onProgress)
	if err := c.backend.PutSigned(ctx, signed, progress.wrap(body, 0), f.Size, ct); err != nil {
		return nil, c.uploadFailed(ctx, key, xerrors.Upload("transfer file", err))
	}
	progress.done()

	if c.metrics != nil {
		c.metrics.UploadBytes.WithLabelValues("simple").Add(float64(f.Size))
	}
	c.logger.InfoContext(ctx, "object uploaded", "key", key, "size", f.Size, "content_type", ct)
	return c.result(ctx, key, f, ct), nil
}

func (c *Context) uploadFailed(ctx context.Context, key string, err *xerrors.Error) error {
	err = err.WithContext("key", key)
	tracing.SetError(ctx, err)
	c.logger.ErrorContext(ctx, "upload failed", "key", key, "error", err)
	return err
}

// result 上传成功后的收尾：清理该对象相关缓存，再按上传的内容类型签发下载地址，
// 视频与 PDF 因此可以内联播放。
func (c *Context) result(ctx context.Context, key string, f File, ct string) *UploadResult {
	c.invalidateObject(ctx, key)
	dl := c.GetDownloadURL(ctx, key, c.cfg.DownloadTTL, ct, "")
	fileName := objectkey.Base(key)
	return &UploadResult{
		ObjectKey:     key,
		FileName:      fileName,
		OriginalName:  f.Name,
		Size:          f.Size,
		SizeFormatted: objectkey.FormatSize(f.Size),
		ContentType:   ct,
		URL:           dl.URL,
		URLDegraded:   dl.Degraded,
	}
}

// progress 汇总多段传输的累计字节并向回调报告，保证单调不减。
type progress struct {
	mu       sync.Mutex
	total    int64
	reported int64
	percent  int
	fn       ProgressFunc
}

func newProgress(total int64, fn ProgressFunc) *progress {
	return &progress{total: total, fn: fn, percent: -1, reported: -1}
}

func (p *progress) report(loaded int64) {
	if p == nil || p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if loaded > p.total {
		loaded = p.total
	}
	if loaded <= p.reported {
		return
	}
	percent := 100
	if p.total > 0 {
		percent = int(loaded * 100 / p.total)
	}
	p.reported, p.percent = loaded, percent
	p.fn(percent, loaded, p.total)
}

func (p *progress) done() {
	if p == nil || p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.percent == 100 && p.reported == p.total {
		return
	}
	p.reported, p.percent = p.total, 100
	p.fn(100, p.total, p.total)
}

// wrap 返回计数读取器，base 为此前各段已完成的字节数。
func (p *progress) wrap(r io.Reader, base int64) *countingReader {
	return &countingReader{r: r, base: base, p: p}
}

type countingReader struct {
	r    io.Reader
	base int64
	n    int64
	p    *progress
}

func (cr *countingReader) Read(b []byte) (int, error) {
	n, err := cr.r.Read(b)
	if n > 0 {
		cr.n += int64(n)
		cr.p.report(cr.base + cr.n)
	}
	return n, err
}
