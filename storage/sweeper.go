package storage

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/xerrors"
)

// Sweeper 中止超过 MaxAge 仍未完成的分片会话，回收被遗弃上传占用的存储空间。
type Sweeper struct {
	store  Storage
	maxAge time.Duration
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

func NewSweeper(store Storage, maxAge time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{store: store, maxAge: maxAge, logger: logger.WithModule("sweeper"), now: time.Now}
}

// Sweep 执行一轮清理，返回中止的会话数。单个会话中止失败不影响其余会话，错误合并返回。
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	uploads, err := s.store.ListIncompleteUploads(ctx, s.prefix)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.maxAge)
	var (
		aborted int
		errs    []error
	)
	for _, u := range uploads {
		if !u.Initiated.Before(cutoff) {
			continue
		}
		if err := s.store.AbortMultipart(ctx, u.Key, u.UploadID); err != nil && !xerrors.IsNotFound(err) {
			errs = append(errs, xerrors.MultipartAbort(u.UploadID, err))
			continue
		}
		aborted++
		s.logger.InfoContext(ctx, "stale multipart upload aborted", "key", u.Key, "upload_id", u.UploadID, "initiated", u.Initiated)
	}
	return aborted, errors.Join(errs...)
}

// Job 适配 scheduler.Job。
func (s *Sweeper) Job(ctx context.Context) error {
	n, err := s.Sweep(ctx)
	if n > 0 {
		s.logger.InfoContext(ctx, "sweep finished", "aborted", n)
	}
	return err
}
