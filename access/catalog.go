package access

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/cache"
	"github.com/wyfcoding/coursestore/objectkey"
	"github.com/wyfcoding/coursestore/tracing"
	"github.com/wyfcoding/coursestore/xerrors"
)

// GetMetadata 返回对象元数据。对象不存在时返回 NotFound，不缓存不存在的结果。
func (c *Context) GetMetadata(ctx context.Context, key string) (backend.ObjectInfo, error) {
	key = objectkey.Normalize(key)
	if key == "" {
		return backend.ObjectInfo{}, xerrors.InvalidArg("object key is required")
	}
	if info, ok := c.meta.Get(key); ok {
		return info, nil
	}

	ctx, span := tracing.StartSpan(ctx, "access.GetMetadata")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	epoch := c.epoch.Load()
	info, err := shared(ctx, &c.flight, "meta:"+key, func(ctx context.Context) (backend.ObjectInfo, error) {
		info, err := c.backend.Stat(ctx, key)
		if err != nil {
			return info, err
		}
		if c.epoch.Load() == epoch {
			c.meta.Set(key, info)
		}
		return info, nil
	})
	if err != nil && !xerrors.IsNotFound(err) {
		tracing.SetError(ctx, err)
	}
	return info, err
}

// FileExists 对象是否存在。只有 NotFound 被视为 false，其余错误原样返回。
func (c *Context) FileExists(ctx context.Context, key string) (bool, error) {
	_, err := c.GetMetadata(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case xerrors.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// GetFolderContents 返回目录的直接子目录与文件，文件地址已改写为代理路径。
// 返回值是缓存的副本，可以自由修改。
func (c *Context) GetFolderContents(ctx context.Context, folder string) (backend.Listing, error) {
	folder = c.listings.Key(folder)
	if l, ok := c.listings.Get(folder); ok {
		return l.Clone(), nil
	}

	ctx, span := tracing.StartSpan(ctx, "access.GetFolderContents")
	defer span.End()
	span.SetAttributes(attribute.String("folder", folder))

	epoch := c.epoch.Load()
	listing, err := shared(ctx, &c.flight, "list:"+folder, func(ctx context.Context) (backend.Listing, error) {
		l, err := c.backend.FolderContents(ctx, folder)
		if err != nil {
			return l, err
		}
		l = c.rewriteListing(l)
		if c.epoch.Load() == epoch {
			c.listings.Set(folder, l)
		}
		return l, nil
	})
	if err != nil {
		tracing.SetError(ctx, err)
		return listing, err
	}
	return listing.Clone(), nil
}

func (c *Context) rewriteListing(l backend.Listing) backend.Listing {
	files := make([]backend.FileDescriptor, len(l.Files))
	for i, f := range l.Files {
		f.URL = c.rewriter.Rewrite(f.URL)
		if f.FileName == "" {
			f.FileName = objectkey.Base(f.ObjectKey)
		}
		if f.OriginalName == "" {
			f.OriginalName = objectkey.OriginalName(f.FileName)
		}
		if f.SizeFormatted == "" {
			f.SizeFormatted = objectkey.FormatSize(f.Size)
		}
		if f.MimeType == "" {
			f.MimeType = objectkey.Resolve(f.FileName, "")
		}
		files[i] = f
	}
	folders := l.Folders
	if folders == nil {
		folders = []backend.Folder{}
	}
	return backend.Listing{Folders: folders, Files: files}
}

// ListFiles 只返回目录中的文件。
func (c *Context) ListFiles(ctx context.Context, folder string) ([]backend.FileDescriptor, error) {
	l, err := c.GetFolderContents(ctx, folder)
	if err != nil {
		return nil, err
	}
	return l.Files, nil
}

// DeleteFile 删除对象并清理相关缓存。删除不存在的对象视为成功。
func (c *Context) DeleteFile(ctx context.Context, key string) error {
	key = objectkey.Normalize(key)
	if key == "" {
		return xerrors.InvalidArg("object key is required")
	}
	ctx, span := tracing.StartSpan(ctx, "access.DeleteFile")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	deleted, err := c.backend.Delete(ctx, key)
	if err != nil {
		tracing.SetError(ctx, err)
		return err
	}
	c.logger.InfoContext(ctx, "object deleted", "key", key, "existed", deleted)
	c.invalidateObject(ctx, key)
	return nil
}

// ClearCache 清空三类缓存并通知其他实例。
func (c *Context) ClearCache(ctx context.Context) {
	c.clearAll()
	c.publish(ctx, cache.Event{Kind: cache.EventAll})
}

func (c *Context) clearAll() {
	c.epoch.Add(1)
	c.urls.Clear()
	c.meta.Clear()
	c.listings.Clear()
}

// invalidateObject 对象被修改后依次清理：地址、元数据、全部目录列表。三步之间不是原子的。
func (c *Context) invalidateObject(ctx context.Context, key string) {
	c.dropObject(key)
	c.publish(ctx, cache.Event{Kind: cache.EventObject, Key: key})
}

func (c *Context) dropObject(key string) {
	c.epoch.Add(1)
	c.urls.InvalidateObject(key)
	c.meta.Delete(key)
	c.listings.Clear()
}

func (c *Context) publish(ctx context.Context, ev cache.Event) {
	ev.Origin = c.origin
	if err := c.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.WarnContext(ctx, "failed to broadcast cache invalidation", "kind", ev.Kind, "key", ev.Key, "error", err)
	}
}

// Apply 应用其他实例广播的失效事件，忽略本实例发出的事件。
func (c *Context) Apply(ev cache.Event) {
	if ev.Origin == c.origin {
		return
	}
	switch ev.Kind {
	case cache.EventObject:
		c.dropObject(objectkey.Normalize(ev.Key))
	case cache.EventAll:
		c.clearAll()
	}
}

// Listen 订阅失效广播直到 ctx 结束。
func (c *Context) Listen(ctx context.Context) error {
	return c.bus.Subscribe(ctx, c.Apply)
}
