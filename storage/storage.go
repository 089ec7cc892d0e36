// Package storage 是文件后端访问对象存储的驱动层，持有存储凭据。
// 访问层只通过后端签发的地址接触存储，从不直接使用这里的驱动。
package storage

import (
	"context"
	"io"
	"time"
)

// Storage 对象存储驱动。对象不存在时 Stat 与 Get 返回 xerrors NotFound。
type Storage interface {
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List 按 "/" 分隔列出 prefix 下的直接子目录与对象。
	List(ctx context.Context, prefix string) (Listing, error)

	PresignGet(ctx context.Context, key string, expiry time.Duration, opts PresignOptions) (string, error)
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)

	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get rng 为 nil 时读取整个对象。
	Get(ctx context.Context, key string, rng *Range) (*Object, error)
	// Delete 返回删除前对象是否存在，删除不存在的对象不是错误。
	Delete(ctx context.Context, key string) (bool, error)

	InitiateMultipart(ctx context.Context, key, contentType string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (string, error)
	AbortMultipart(ctx context.Context, key, uploadID string) error
	ListIncompleteUploads(ctx context.Context, prefix string) ([]IncompleteUpload, error)
}

// ObjectInfo 对象元数据。
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Listing 一层目录的内容，Prefixes 以 "/" 结尾。
type Listing struct {
	Prefixes []string
	Objects  []ObjectInfo
}

// PresignOptions 覆盖下载响应头，使浏览器能内联播放或预览。
type PresignOptions struct {
	ContentType        string
	ContentDisposition string
}

// Range 闭区间字节范围，已按对象大小校正。
type Range struct {
	Start int64
	End   int64
}

// Len 范围内的字节数。
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Object 读取结果，调用方负责关闭。
type Object struct {
	io.ReadCloser
	Info  ObjectInfo
	Range *Range
}

// Part 分片编号与 ETag。
type Part struct {
	PartNumber int
	ETag       string
}

// IncompleteUpload 尚未完成或中止的分片会话。
type IncompleteUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}
