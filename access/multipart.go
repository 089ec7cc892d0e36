package access

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/fsm"
	"github.com/wyfcoding/coursestore/objectkey"
	"github.com/wyfcoding/coursestore/tracing"
	"github.com/wyfcoding/coursestore/xerrors"
)

// SessionState 分片上传会话状态。
type SessionState int

const (
	StateIdle SessionState = iota
	StateInitiated
	StateUploading
	StateCompleted
	StateAborting
	StateAborted
)

var stateNames = [...]string{"idle", "initiated", "uploading", "completed", "aborting", "aborted"}

func (s SessionState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions 合法的状态迁移，uploading 到 uploading 表示进入下一个分片。
var transitions = fsm.Rules[SessionState]{
	StateIdle:      {StateInitiated},
	StateInitiated: {StateUploading, StateAborting},
	StateUploading: {StateUploading, StateCompleted, StateAborting},
	StateAborting:  {StateAborted},
}

// session 后端会话的本地镜像，每次上传新建，不可复用。
type session struct {
	uploadID    string
	key         string
	contentType string
	parts       []backend.Part
	state       *fsm.Machine[SessionState]
	part        int
}

func newSession(key, contentType string) *session {
	return &session{key: key, contentType: contentType, state: fsm.New(StateIdle, transitions)}
}

// to 非法迁移说明调用顺序有误，直接 panic。
func (s *session) to(next SessionState) {
	if err := s.state.Transition(next); err != nil {
		panic(fmt.Sprintf("multipart session %s: %v", s.uploadID, err))
	}
}

// UploadMultipart 分片上传到指定对象键。
//
// 按 ChunkSize 切分后依次上传，分片严格串行；完成时按分片号升序提交。
// 初始化之后任一步失败（包括 ctx 取消）都会尽力中止会话，中止使用独立的超时 context，
// 中止失败只记录告警，返回的始终是最初的错误。
func (c *Context) UploadMultipart(ctx context.Context, f File, key string, onProgress ProgressFunc) (backend.Completion, error) {
	if err := f.validate(); err != nil {
		return backend.Completion{}, err
	}
	key = objectkey.Normalize(key)
	if key == "" {
		return backend.Completion{}, xerrors.InvalidArg("object key is required")
	}
	if f.Size == 0 {
		return backend.Completion{}, xerrors.InvalidArg("multipart upload requires a non-empty file")
	}
	chunk := c.cfg.ChunkSize
	if chunk <= 0 {
		chunk = DefaultConfig().ChunkSize
	}

	ctx, span := tracing.StartSpan(ctx, "access.UploadMultipart")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key), attribute.Int64("object.size", f.Size))

	s := newSession(key, objectkey.Resolve(f.Name, f.ContentType))

	uploadID, err := c.backend.InitiateMultipart(ctx, key, s.contentType)
	if err != nil {
		tracing.SetError(ctx, err)
		return backend.Completion{}, err
	}
	s.uploadID = uploadID
	s.to(StateInitiated)
	span.SetAttributes(attribute.String("upload.id", uploadID))

	completion, err := c.runSession(ctx, s, f, chunk, newProgress(f.Size, onProgress))
	if err != nil {
		tracing.SetError(ctx, err)
		c.abort(ctx, s, err)
		return backend.Completion{}, err
	}

	if c.metrics != nil {
		c.metrics.UploadBytes.WithLabelValues("multipart").Add(float64(f.Size))
		c.metrics.MultipartTotal.WithLabelValues("completed").Inc()
	}
	c.logger.InfoContext(ctx, "multipart upload completed", "key", key, "upload_id", uploadID, "parts", len(s.parts), "size", f.Size)
	c.invalidateObject(ctx, key)
	return completion, nil
}

func (c *Context) runSession(ctx context.Context, s *session, f File, chunk int64, p *progress) (backend.Completion, error) {
	total := int((f.Size + chunk - 1) / chunk)
	var sent int64
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return backend.Completion{}, err
		}
		s.to(StateUploading)
		s.part = n

		size := min(chunk, f.Size-sent)
		body := p.wrap(io.LimitReader(f.Body, size), sent)
		part, err := c.backend.UploadPart(ctx, s.uploadID, s.key, n, body)
		if err != nil {
			return backend.Completion{}, err
		}
		if body.n != size {
			return backend.Completion{}, xerrors.Upload(fmt.Sprintf("part %d: read %d of %d bytes", n, body.n, size), io.ErrUnexpectedEOF)
		}
		if part.PartNumber == 0 {
			part.PartNumber = n
		}
		s.parts = append(s.parts, backend.Part{PartNumber: part.PartNumber, ETag: part.ETag})
		sent += size
		p.report(sent)
	}

	parts := slices.Clone(s.parts)
	slices.SortFunc(parts, func(a, b backend.Part) int { return cmp.Compare(a.PartNumber, b.PartNumber) })

	completion, err := c.backend.CompleteMultipart(ctx, s.uploadID, s.key, parts, s.contentType)
	if err != nil {
		return backend.Completion{}, err
	}
	s.to(StateCompleted)
	p.done()
	return completion, nil
}

// abort 尽力中止会话。调用方的 ctx 可能已取消，中止在脱离取消信号、带超时的 context 上执行。
func (c *Context) abort(ctx context.Context, s *session, cause error) {
	s.to(StateAborting)
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.abortTimeout())
	defer cancel()

	outcome := "aborted"
	if err := c.backend.AbortMultipart(actx, s.uploadID, s.key); err != nil {
		outcome = "abort_failed"
		c.logger.WarnContext(ctx, "failed to abort multipart upload",
			"key", s.key, "upload_id", s.uploadID, "part", s.part,
			"error", xerrors.MultipartAbort(s.uploadID, err), "cause", cause)
	} else {
		c.logger.WarnContext(ctx, "multipart upload aborted", "key", s.key, "upload_id", s.uploadID, "part", s.part, "cause", cause)
	}
	s.to(StateAborted)
	if c.metrics != nil {
		c.metrics.MultipartTotal.WithLabelValues(outcome).Inc()
	}
}

func (c *Context) abortTimeout() time.Duration {
	if c.cfg.AbortTimeout > 0 {
		return c.cfg.AbortTimeout
	}
	return DefaultConfig().AbortTimeout
}
