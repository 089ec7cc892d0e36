package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/coursestore/idgen"
	"github.com/wyfcoding/coursestore/xerrors"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
	etag        string
}

type memUpload struct {
	key         string
	contentType string
	initiated   time.Time
	parts       map[int][]byte
}

// Memory 进程内存储驱动，用于本地开发与测试。签发的地址形如 endpoint/bucket/key?X-Amz-Expires=...，
// 签名是以实例私有密钥计算的 HMAC-SHA256，只能由同一实例验证。
type Memory struct {
	mu       sync.RWMutex
	endpoint string
	bucket   string
	secret   []byte
	objects  map[string]*memObject
	uploads  map[string]*memUpload
	now      func() time.Time
}

var _ Storage = (*Memory)(nil)

// NewMemory endpoint 为签发地址使用的基础地址。
func NewMemory(endpoint, bucket string) *Memory {
	return &Memory{
		endpoint: strings.TrimRight(endpoint, "/"),
		bucket:   bucket,
		secret:   []byte(rand.Text()),
		objects:  make(map[string]*memObject),
		uploads:  make(map[string]*memUpload),
		now:      time.Now,
	}
}

// Ping 内存驱动总是可用。
func (m *Memory) Ping(context.Context) error { return nil }

// SetClock 替换时钟。
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// signature 对方法、对象键与未签名查询串计算 HMAC。
func (m *Memory) signature(method, key, query string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(method + "\n" + key + "\n" + query))
	return hex.EncodeToString(mac.Sum(nil))
}

func notFound(key string) error {
	return xerrors.NotFound("object not found").WithContext("key", key)
}

func (m *Memory) info(key string, o *memObject) ObjectInfo {
	return ObjectInfo{Key: key, Size: int64(len(o.data)), LastModified: o.modified, ContentType: o.contentType, ETag: o.etag}
}

func (m *Memory) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, notFound(key)
	}
	return m.info(key, o), nil
}

func (m *Memory) List(_ context.Context, prefix string) (Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var l Listing
	seen := map[string]bool{}
	for key, o := range m.objects {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			p := prefix + rest[:i+1]
			if !seen[p] {
				seen[p] = true
				l.Prefixes = append(l.Prefixes, p)
			}
			continue
		}
		l.Objects = append(l.Objects, m.info(key, o))
	}
	sort.Strings(l.Prefixes)
	sort.Slice(l.Objects, func(i, j int) bool { return l.Objects[i].Key < l.Objects[j].Key })
	return l, nil
}

func (m *Memory) sign(method, key string, expiry time.Duration, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("X-Amz-Expires", strconv.FormatInt(int64(expiry/time.Second), 10))
	q.Set("X-Amz-Date", m.now().UTC().Format("20060102T150405Z"))
	q.Set("X-Amz-Signature", m.signature(method, key, q.Encode()))
	u := url.URL{Path: "/" + m.bucket + "/" + key}
	return m.endpoint + u.EscapedPath() + "?" + q.Encode()
}

func (m *Memory) PresignGet(_ context.Context, key string, expiry time.Duration, opts PresignOptions) (string, error) {
	extra := url.Values{}
	if opts.ContentType != "" {
		extra.Set("response-content-type", opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		extra.Set("response-content-disposition", opts.ContentDisposition)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sign("GET", key, expiry, extra), nil
}

func (m *Memory) PresignPut(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sign("PUT", key, expiry, nil), nil
}

func (m *Memory) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return xerrors.InvalidArg(fmt.Sprintf("size mismatch: declared %d, got %d", size, len(data)))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = &memObject{data: data, contentType: contentType, modified: m.now(), etag: etagOf(data)}
	return nil
}

func (m *Memory) Get(_ context.Context, key string, rng *Range) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	data := o.data
	if rng != nil {
		if rng.Start < 0 || rng.End < rng.Start || rng.End >= int64(len(data)) {
			return nil, xerrors.InvalidArg("requested range not satisfiable").WithContext("key", key)
		}
		data = data[rng.Start : rng.End+1]
	}
	return &Object{ReadCloser: io.NopCloser(bytes.NewReader(data)), Info: m.info(key, o), Range: rng}, nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	delete(m.objects, key)
	return ok, nil
}

func (m *Memory) InitiateMultipart(_ context.Context, key, contentType string) (string, error) {
	id := idgen.GenIDString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[id] = &memUpload{key: key, contentType: contentType, initiated: m.now(), parts: map[int][]byte{}}
	return id, nil
}

func (m *Memory) upload(key, uploadID string) (*memUpload, error) {
	u, ok := m.uploads[uploadID]
	if !ok || u.key != key {
		return nil, xerrors.NotFound("multipart upload not found").WithContext("upload_id", uploadID)
	}
	return u, nil
}

func (m *Memory) UploadPart(_ context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	if partNumber < 1 {
		return "", xerrors.InvalidArg("part number must be positive")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if size >= 0 && int64(len(data)) != size {
		return "", xerrors.InvalidArg(fmt.Sprintf("part %d size mismatch", partNumber))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.upload(key, uploadID)
	if err != nil {
		return "", err
	}
	u.parts[partNumber] = data
	return etagOf(data), nil
}

func (m *Memory) CompleteMultipart(_ context.Context, key, uploadID string, parts []Part) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.upload(key, uploadID)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", xerrors.InvalidArg("no parts to complete")
	}
	if !slices.IsSortedFunc(parts, func(a, b Part) int { return a.PartNumber - b.PartNumber }) {
		return "", xerrors.InvalidArg("parts must be in ascending order")
	}
	var buf bytes.Buffer
	for _, p := range parts {
		data, ok := u.parts[p.PartNumber]
		if !ok || etagOf(data) != strings.Trim(p.ETag, `"`) {
			return "", xerrors.InvalidArg(fmt.Sprintf("invalid part %d", p.PartNumber))
		}
		buf.Write(data)
	}
	data := buf.Bytes()
	etag := fmt.Sprintf("%s-%d", etagOf(data), len(parts))
	m.objects[key] = &memObject{data: data, contentType: u.contentType, modified: m.now(), etag: etag}
	delete(m.uploads, uploadID)
	return etag, nil
}

func (m *Memory) AbortMultipart(_ context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.upload(key, uploadID); err != nil {
		return err
	}
	delete(m.uploads, uploadID)
	return nil
}

func (m *Memory) ListIncompleteUploads(_ context.Context, prefix string) ([]IncompleteUpload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []IncompleteUpload
	for id, u := range m.uploads {
		if strings.HasPrefix(u.key, prefix) {
			out = append(out, IncompleteUpload{Key: u.key, UploadID: id, Initiated: u.initiated})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Initiated.Before(out[j].Initiated) })
	return out, nil
}
