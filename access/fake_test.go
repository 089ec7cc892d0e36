package access

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/coursestore/backend"
	"github.com/wyfcoding/coursestore/xerrors"
)

// fakeBackend 内存中的可信后端，记录调用次数与参数。
type fakeBackend struct {
	mu sync.Mutex

	objects map[string][]byte
	calls   map[string]int

	presignErr  error
	presignGate chan struct{}
	statErr     error
	deleteErr   error
	uploadErr   error
	putErr      error

	partErrAt   int
	partErr     error
	abortErr    error
	partSizes   []int
	completed   []backend.Part
	aborted     []string
	lastPresign struct {
		key, contentType string
		ttl              time.Duration
	}
	onPart func(n int)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: map[string][]byte{}, calls: map[string]int{}}
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) put(key string, data []byte) {
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
}

func (f *fakeBackend) PresignDownload(ctx context.Context, key string, ttl time.Duration, contentType string) (string, error) {
	f.hit("presign")
	if f.presignGate != nil {
		<-f.presignGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPresign.key, f.lastPresign.ttl, f.lastPresign.contentType = key, ttl, contentType
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return fmt.Sprintf("http://minio:9000/bucket/%s?X-Amz-Signature=%d", key, f.calls["presign"]), nil
}

func (f *fakeBackend) Stat(ctx context.Context, key string) (backend.ObjectInfo, error) {
	f.hit("stat")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statErr != nil {
		return backend.ObjectInfo{}, f.statErr
	}
	data, ok := f.objects[key]
	if !ok {
		return backend.ObjectInfo{}, xerrors.NotFound("object not found")
	}
	return backend.ObjectInfo{Key: key, Size: int64(len(data)), ETag: fmt.Sprintf("etag-%d", len(data))}, nil
}

func (f *fakeBackend) FolderContents(ctx context.Context, prefix string) (backend.Listing, error) {
	f.hit("list")
	f.mu.Lock()
	defer f.mu.Unlock()
	l := backend.Listing{}
	for key, data := range f.objects {
		dir := path.Dir(key)
		if dir == "." {
			dir = ""
		}
		if dir != prefix {
			continue
		}
		l.Files = append(l.Files, backend.FileDescriptor{
			ObjectKey: key,
			FileName:  path.Base(key),
			Size:      int64(len(data)),
			URL:       "http://minio:9000/bucket/" + key + "?X-Amz-Signature=list",
		})
	}
	return l, nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) (bool, error) {
	f.hit("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	_, ok := f.objects[key]
	delete(f.objects, key)
	return ok, nil
}

func (f *fakeBackend) PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	f.hit("presign-upload")
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "http://minio:9000/bucket/" + key + "?put=1", nil
}

func (f *fakeBackend) PutSigned(ctx context.Context, signedURL string, body io.Reader, size int64, contentType string) error {
	f.hit("put")
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.putErr != nil {
		return f.putErr
	}
	key := strings.TrimPrefix(strings.SplitN(signedURL, "?", 2)[0], "http://minio:9000/bucket/")
	f.put(key, data)
	return nil
}

func (f *fakeBackend) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	f.hit("initiate")
	return "upload-1", nil
}

func (f *fakeBackend) UploadPart(ctx context.Context, uploadID, key string, partNumber int, chunk io.Reader) (backend.Part, error) {
	f.hit("part")
	if f.onPart != nil {
		f.onPart(partNumber)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, chunk); err != nil {
		return backend.Part{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if partNumber == f.partErrAt {
		return backend.Part{}, f.partErr
	}
	f.partSizes = append(f.partSizes, buf.Len())
	return backend.Part{PartNumber: partNumber, ETag: fmt.Sprintf("etag-%d", partNumber)}, nil
}

func (f *fakeBackend) CompleteMultipart(ctx context.Context, uploadID, key string, parts []backend.Part, contentType string) (backend.Completion, error) {
	f.hit("complete")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = parts
	f.objects[key] = []byte{}
	return backend.Completion{Key: key, ETag: "final"}, nil
}

func (f *fakeBackend) AbortMultipart(ctx context.Context, uploadID, key string) error {
	f.hit("abort")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, uploadID)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return f.abortErr
}

var _ Backend = (*fakeBackend)(nil)
