package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wyfcoding/coursestore/config"
	"github.com/wyfcoding/coursestore/xerrors"
)

var errNotInitialized = errors.New("minio client not initialized")

// MinIOClient 对接 MinIO 或其他 S3 兼容存储的驱动，配置热更新时整体替换底层客户端。
type MinIOClient struct {
	mu     sync.RWMutex
	client *minio.Client // 高级对象操作。
	core   *minio.Core   // 分片接口。
	bucket string
}

var _ Storage = (*MinIOClient)(nil)

// NewMinIOClient 构造驱动。
func NewMinIOClient(cfg config.MinioConfig) (*MinIOClient, error) {
	client, core, err := newMinioClients(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("minio_client initialized", "endpoint", cfg.Endpoint, "bucket", cfg.BucketName)
	return &MinIOClient{client: client, core: core, bucket: cfg.BucketName}, nil
}

func (c *MinIOClient) load() (*minio.Client, *minio.Core, string, error) {
	if c == nil {
		return nil, nil, "", errNotInitialized
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil || c.core == nil {
		return nil, nil, "", errNotInitialized
	}
	return c.client, c.core, c.bucket, nil
}

// Bucket 当前绑定的存储桶。
func (c *MinIOClient) Bucket() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bucket
}

func (c *MinIOClient) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	client, _, bucket, err := c.load()
	if err != nil {
		return ObjectInfo{}, err
	}
	st, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapError(err, key)
	}
	return toObjectInfo(st), nil
}

func (c *MinIOClient) List(ctx context.Context, prefix string) (Listing, error) {
	client, _, bucket, err := c.load()
	if err != nil {
		return Listing{}, err
	}
	var l Listing
	for obj := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: false}) {
		if obj.Err != nil {
			return Listing{}, mapError(obj.Err, prefix)
		}
		if strings.HasSuffix(obj.Key, "/") {
			if obj.Key != prefix {
				l.Prefixes = append(l.Prefixes, obj.Key)
			}
			continue
		}
		l.Objects = append(l.Objects, toObjectInfo(obj))
	}
	return l, nil
}

func (c *MinIOClient) PresignGet(ctx context.Context, key string, expiry time.Duration, opts PresignOptions) (string, error) {
	client, _, bucket, err := c.load()
	if err != nil {
		return "", err
	}
	params := make(url.Values)
	if opts.ContentType != "" {
		params.Set("response-content-type", opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		params.Set("response-content-disposition", opts.ContentDisposition)
	}
	u, err := client.PresignedGetObject(ctx, bucket, key, expiry, params)
	if err != nil {
		return "", mapError(err, key)
	}
	return u.String(), nil
}

func (c *MinIOClient) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	client, _, bucket, err := c.load()
	if err != nil {
		return "", err
	}
	u, err := client.PresignedPutObject(ctx, bucket, key, expiry)
	if err != nil {
		return "", mapError(err, key)
	}
	return u.String(), nil
}

func (c *MinIOClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	client, _, bucket, err := c.load()
	if err != nil {
		return err
	}
	start := time.Now()
	if _, err := client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		slog.Error("minio upload failed", "object", key, "error", err)
		return mapError(err, key)
	}
	slog.Debug("minio upload successful", "object", key, "duration", time.Since(start))
	return nil
}

func (c *MinIOClient) Get(ctx context.Context, key string, rng *Range) (*Object, error) {
	client, _, bucket, err := c.load()
	if err != nil {
		return nil, err
	}
	opts := minio.GetObjectOptions{}
	if rng != nil {
		if err := opts.SetRange(rng.Start, rng.End); err != nil {
			return nil, xerrors.InvalidArg(err.Error())
		}
	}
	obj, err := client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, mapError(err, key)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, mapError(err, key)
	}
	return &Object{ReadCloser: obj, Info: toObjectInfo(st), Range: rng}, nil
}

func (c *MinIOClient) Delete(ctx context.Context, key string) (bool, error) {
	client, _, bucket, err := c.load()
	if err != nil {
		return false, err
	}
	if _, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		err = mapError(err, key)
		if xerrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, mapError(err, key)
	}
	return true, nil
}

func (c *MinIOClient) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	_, core, bucket, err := c.load()
	if err != nil {
		return "", err
	}
	uploadID, err := core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to initiate multipart upload: %w", mapError(err, key))
	}
	return uploadID, nil
}

func (c *MinIOClient) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	_, core, bucket, err := c.load()
	if err != nil {
		return "", err
	}
	part, err := core.PutObjectPart(ctx, bucket, key, uploadID, partNumber, r, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d: %w", partNumber, mapError(err, key))
	}
	return part.ETag, nil
}

func (c *MinIOClient) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (string, error) {
	_, core, bucket, err := c.load()
	if err != nil {
		return "", err
	}
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completeParts = append(completeParts, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	info, err := core.CompleteMultipartUpload(ctx, bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return "", mapError(err, key)
	}
	return info.ETag, nil
}

func (c *MinIOClient) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, core, bucket, err := c.load()
	if err != nil {
		return err
	}
	return mapError(core.AbortMultipartUpload(ctx, bucket, key, uploadID), key)
}

func (c *MinIOClient) ListIncompleteUploads(ctx context.Context, prefix string) ([]IncompleteUpload, error) {
	client, _, bucket, err := c.load()
	if err != nil {
		return nil, err
	}
	var out []IncompleteUpload
	for u := range client.ListIncompleteUploads(ctx, bucket, prefix, true) {
		if u.Err != nil {
			return nil, mapError(u.Err, prefix)
		}
		out = append(out, IncompleteUpload{Key: u.Key, UploadID: u.UploadID, Initiated: u.Initiated})
	}
	return out, nil
}

// Ping 检查存储桶可达。
func (c *MinIOClient) Ping(ctx context.Context) error {
	client, _, bucket, err := c.load()
	if err != nil {
		return err
	}
	ok, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}
	return nil
}

// UpdateConfig 使用最新配置刷新客户端。
func (c *MinIOClient) UpdateConfig(cfg config.MinioConfig) error {
	if c == nil {
		return errNotInitialized
	}
	client, core, err := newMinioClients(cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.core = core
	c.bucket = cfg.BucketName
	c.mu.Unlock()

	slog.Info("minio client updated", "endpoint", cfg.Endpoint, "bucket", cfg.BucketName)
	return nil
}

// RegisterReloadHook 注册热更新回调。
func RegisterReloadHook(client *MinIOClient) {
	if client == nil {
		return
	}
	config.RegisterReloadHook(func(updated *config.Config) {
		if updated == nil {
			return
		}
		if err := client.UpdateConfig(updated.Minio); err != nil {
			slog.Error("minio client reload failed", "error", err)
		}
	})
}

func newMinioClients(cfg config.MinioConfig) (*minio.Client, *minio.Core, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		slog.Error("failed to create minio client", "endpoint", cfg.Endpoint, "error", err)
		return nil, nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	core, err := minio.NewCore(cfg.Endpoint, opts)
	if err != nil {
		slog.Error("failed to create minio core client", "endpoint", cfg.Endpoint, "error", err)
		return nil, nil, fmt.Errorf("failed to create minio core client: %w", err)
	}

	return client, core, nil
}

func toObjectInfo(o minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          o.Key,
		Size:         o.Size,
		LastModified: o.LastModified,
		ContentType:  o.ContentType,
		ETag:         strings.Trim(o.ETag, `"`),
	}
}

// mapError 把 S3 错误码转换为 xerrors 类型。
func mapError(err error, key string) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "NoSuchUpload", resp.StatusCode == http.StatusNotFound:
		return xerrors.New(xerrors.ErrNotFound, http.StatusNotFound, "object not found", resp.Message, err).WithContext("key", key)
	case resp.Code == "InvalidRange", resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return xerrors.InvalidArg("requested range not satisfiable").WithContext("key", key)
	case resp.Code == "AccessDenied":
		return xerrors.New(xerrors.ErrPermissionDenied, http.StatusForbidden, "storage access denied", resp.Message, err)
	}
	return err
}
