package access

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/coursestore/cache"
	"github.com/wyfcoding/coursestore/logging"
	"github.com/wyfcoding/coursestore/metrics"
	"github.com/wyfcoding/coursestore/xerrors"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx     *Context
	be      *fakeBackend
	clock   *testClock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StorageEndpoint = "http://minio:9000"
	cfg.Bucket = "bucket"
	for _, fn := range mutate {
		fn(&cfg)
	}
	f := &fixture{
		be:      newFakeBackend(),
		clock:   &testClock{now: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)},
		metrics: metrics.NewMetrics("access-test"),
	}
	c, err := New(cfg, f.be,
		WithClock(f.clock.Now),
		WithMetrics(f.metrics),
		WithLogger(logging.NewLogger("test", "access")),
	)
	require.NoError(t, err)
	f.ctx = c
	return f
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestDownloadURLServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.ctx.GetDownloadURL(ctx, "/videos/lesson1.mp4", 7*24*time.Hour, "video/mp4", "")
	f.clock.Advance(time.Second)
	second := f.ctx.GetDownloadURL(ctx, "videos/lesson1.mp4", 7*24*time.Hour, "video/mp4", "")

	require.False(t, first.Degraded)
	assert.Equal(t, first.URL, second.URL)
	assert.True(t, strings.HasPrefix(first.URL, "/api/storage/bucket/videos/lesson1.mp4?X-Amz-Signature="), first.URL)
	assert.Equal(t, 1, f.be.count("presign"))
	assert.Equal(t, "video/mp4", f.be.lastPresign.contentType)
}

func TestDownloadURLVariantsCachedSeparately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctx.GetDownloadURL(ctx, "a.mp4", 2*time.Hour, "", "")
	f.ctx.GetDownloadURL(ctx, "a.mp4", 2*time.Hour, "video/mp4", "")
	f.ctx.GetDownloadURL(ctx, "a.mp4", 2*time.Hour, "video/mp4", "bytes=0-9")

	assert.Equal(t, 3, f.be.count("presign"))
	assert.Equal(t, 3, f.ctx.CacheStats().URLCache)
}

func TestSafetyMarginNotLessThanTTLAlwaysRefetches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.ctx.GetDownloadURL(ctx, "doc.pdf", time.Hour, "", "")
	b := f.ctx.GetDownloadURL(ctx, "doc.pdf", time.Hour, "", "")

	assert.NotEqual(t, a.URL, b.URL)
	assert.Equal(t, 2, f.be.count("presign"))
}

func TestSafetyMarginBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctx.GetDownloadURL(ctx, "doc.pdf", 2*time.Hour, "", "")
	f.clock.Advance(time.Hour - time.Millisecond)
	f.ctx.GetDownloadURL(ctx, "doc.pdf", 2*time.Hour, "", "")
	assert.Equal(t, 1, f.be.count("presign"))

	f.clock.Advance(2 * time.Millisecond)
	f.ctx.GetDownloadURL(ctx, "doc.pdf", 2*time.Hour, "", "")
	assert.Equal(t, 2, f.be.count("presign"))
}

func TestDownloadURLDegradesOnBackendFailure(t *testing.T) {
	f := newFixture(t)
	f.be.presignErr = xerrors.Network("dial backend", errors.New("connection refused"))
	ctx := context.Background()

	got := f.ctx.GetDownloadURL(ctx, "/courses/1/intro.pdf", time.Hour*3, "", "")
	require.True(t, got.Degraded)
	assert.Equal(t, "/api/storage/bucket/courses/1/intro.pdf", got.URL)
	assert.True(t, xerrors.Is(got.Reason, xerrors.ErrSigningDegraded))
	assert.ErrorIs(t, got.Reason, f.be.presignErr)

	// 降级结果不缓存
	again := f.ctx.GetDownloadURL(ctx, "courses/1/intro.pdf", time.Hour*3, "", "")
	assert.True(t, again.Degraded)
	assert.Equal(t, 2, f.be.count("presign"))
	assert.Zero(t, f.ctx.CacheStats().URLCache)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SigningDegraded.WithLabelValues("network")))

	assert.Equal(t, got.URL, f.ctx.PresignedDownloadURL(ctx, "courses/1/intro.pdf", 3*time.Hour, ""))
}

func TestConcurrentMissesCoalesced(t *testing.T) {
	f := newFixture(t)
	f.be.presignGate = make(chan struct{})
	ctx := context.Background()

	const n = 8
	urls := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			urls[i] = f.ctx.GetDownloadURL(ctx, "shared.mp4", 3*time.Hour, "", "").URL
		}()
	}
	require.Eventually(t, func() bool { return f.be.count("presign") == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.be.presignGate)
	wg.Wait()

	assert.Equal(t, 1, f.be.count("presign"))
	for _, u := range urls {
		assert.Equal(t, urls[0], u)
	}
}

func TestShortLivedURLNotServedToLongerRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 1h 签名在 1h 安全余量下不可缓存
	short := f.ctx.GetDownloadURL(ctx, "doc.pdf", time.Hour, "", "")
	f.clock.Advance(90 * time.Minute)
	long := f.ctx.GetDownloadURL(ctx, "doc.pdf", 7*24*time.Hour, "", "")
	assert.NotEqual(t, short.URL, long.URL)
	assert.Equal(t, 2, f.be.count("presign"))
	assert.Equal(t, 7*24*time.Hour, f.be.lastPresign.ttl)

	// 2h 签名 70min 后只剩 50min，小于余量，7 天请求重新签名
	f.ctx.GetDownloadURL(ctx, "guide.pdf", 2*time.Hour, "", "")
	f.clock.Advance(70 * time.Minute)
	f.ctx.GetDownloadURL(ctx, "guide.pdf", 7*24*time.Hour, "", "")
	assert.Equal(t, 4, f.be.count("presign"))

	// 7 天签名可以服务之后的短期请求
	again := f.ctx.GetDownloadURL(ctx, "guide.pdf", 3*time.Hour, "", "")
	assert.Equal(t, 4, f.be.count("presign"))
	assert.False(t, again.Degraded)
}

func TestMissesWithDifferentTTLNotCoalesced(t *testing.T) {
	f := newFixture(t)
	f.be.presignGate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, ttl := range []time.Duration{3 * time.Hour, 7 * 24 * time.Hour} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctx.GetDownloadURL(ctx, "lecture.mp4", ttl, "", "")
		}()
	}
	require.Eventually(t, func() bool { return f.be.count("presign") == 2 }, time.Second, time.Millisecond)
	close(f.be.presignGate)
	wg.Wait()
}

func TestCallerCancellationDoesNotPoisonSharedFetch(t *testing.T) {
	f := newFixture(t)
	f.be.presignGate = make(chan struct{})

	cctx, cancel := context.WithCancel(context.Background())
	done := make(chan DownloadURL, 1)
	go func() { done <- f.ctx.GetDownloadURL(cctx, "slow.mp4", 3*time.Hour, "", "") }()

	require.Eventually(t, func() bool { return f.be.count("presign") == 1 }, time.Second, time.Millisecond)
	cancel()
	got := <-done
	assert.True(t, got.Degraded)

	close(f.be.presignGate)
	require.Eventually(t, func() bool { return f.ctx.CacheStats().URLCache == 1 }, time.Second, time.Millisecond)
}

func TestRangeDownload(t *testing.T) {
	f := newFixture(t)
	u, header := f.ctx.RangeDownload(context.Background(), "v.mp4", 100, -1, "video/mp4")
	assert.Equal(t, "bytes=100-", header)
	assert.False(t, u.Degraded)

	_, header = f.ctx.RangeDownload(context.Background(), "v.mp4", 0, 1023, "")
	assert.Equal(t, "bytes=0-1023", header)
}

func TestMetadataCachedAndNotFoundPropagates(t *testing.T) {
	f := newFixture(t)
	f.be.put("a/b.pdf", []byte("hello"))
	ctx := context.Background()

	info, err := f.ctx.GetMetadata(ctx, "/a/b.pdf")
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)
	_, err = f.ctx.GetMetadata(ctx, "a/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, f.be.count("stat"))

	_, err = f.ctx.GetMetadata(ctx, "missing.pdf")
	assert.True(t, xerrors.IsNotFound(err))

	ok, err := f.ctx.FileExists(ctx, "missing.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.ctx.FileExists(ctx, "a/b.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileExistsPropagatesOtherErrors(t *testing.T) {
	f := newFixture(t)
	f.be.statErr = xerrors.Network("backend down", errors.New("eof"))

	ok, err := f.ctx.FileExists(context.Background(), "x.pdf")
	assert.False(t, ok)
	assert.True(t, xerrors.Is(err, xerrors.ErrNetwork))
}

func TestFolderContentsCachedAndRewritten(t *testing.T) {
	f := newFixture(t)
	f.be.put("stations/1/docs/manual.pdf", []byte("pdf"))
	ctx := context.Background()

	l, err := f.ctx.GetFolderContents(ctx, "stations/1/docs")
	require.NoError(t, err)
	assert.Empty(t, l.Folders)
	assert.NotNil(t, l.Folders)
	require.Len(t, l.Files, 1)
	file := l.Files[0]
	assert.Equal(t, "stations/1/docs/manual.pdf", file.ObjectKey)
	assert.Equal(t, "/api/storage/bucket/stations/1/docs/manual.pdf?X-Amz-Signature=list", file.URL)
	assert.Equal(t, "application/pdf", file.MimeType)
	assert.Equal(t, "3 Bytes", file.SizeFormatted)

	f.clock.Advance(4 * time.Minute)
	files, err := f.ctx.ListFiles(ctx, "/stations/1/docs/")
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, 1, f.be.count("list"))
}

func TestListingResultsAreIndependentCopies(t *testing.T) {
	f := newFixture(t)
	f.be.put("docs/a.pdf", []byte("a"))
	ctx := context.Background()

	first, err := f.ctx.ListFiles(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, first, 1)
	first[0].URL = "changed"

	second, err := f.ctx.ListFiles(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "/api/storage/bucket/docs/a.pdf?X-Amz-Signature=list", second[0].URL)
	second[0].FileName = "other"

	l, err := f.ctx.GetFolderContents(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", l.Files[0].FileName)
	assert.Equal(t, 1, f.be.count("list"))
}

func TestDeleteInvalidatesCaches(t *testing.T) {
	f := newFixture(t)
	f.be.put("stations/1/docs/manual.pdf", []byte("pdf"))
	f.be.put("stations/1/docs/other.pdf", []byte("pdf2"))
	ctx := context.Background()

	_, err := f.ctx.GetMetadata(ctx, "stations/1/docs/manual.pdf")
	require.NoError(t, err)
	_, err = f.ctx.GetFolderContents(ctx, "stations/1/docs")
	require.NoError(t, err)
	f.ctx.GetDownloadURL(ctx, "stations/1/docs/manual.pdf", 3*time.Hour, "", "")
	f.ctx.GetDownloadURL(ctx, "stations/1/docs/other.pdf", 3*time.Hour, "", "")

	require.NoError(t, f.ctx.DeleteFile(ctx, "/stations/1/docs/manual.pdf"))

	l, err := f.ctx.GetFolderContents(ctx, "stations/1/docs")
	require.NoError(t, err)
	assert.Equal(t, 2, f.be.count("list"))
	for _, file := range l.Files {
		assert.NotEqual(t, "stations/1/docs/manual.pdf", file.ObjectKey)
	}

	_, err = f.ctx.GetMetadata(ctx, "stations/1/docs/manual.pdf")
	assert.True(t, xerrors.IsNotFound(err))

	assert.Equal(t, 1, f.ctx.CacheStats().URLCache, "other object's url survives")

	// 重复删除是幂等的
	require.NoError(t, f.ctx.DeleteFile(ctx, "stations/1/docs/manual.pdf"))
}

func TestDeleteErrorPropagatesAndKeepsCache(t *testing.T) {
	f := newFixture(t)
	f.be.put("k.pdf", []byte("x"))
	ctx := context.Background()
	_, err := f.ctx.GetMetadata(ctx, "k.pdf")
	require.NoError(t, err)

	f.be.deleteErr = xerrors.Unavailable("backend down", nil)
	err = f.ctx.DeleteFile(ctx, "k.pdf")
	assert.True(t, xerrors.Is(err, xerrors.ErrUnavailable))
	assert.Equal(t, 1, f.ctx.CacheStats().MetadataCache)
}

func TestClearCache(t *testing.T) {
	f := newFixture(t)
	f.be.put("a.pdf", []byte("a"))
	ctx := context.Background()

	f.ctx.GetDownloadURL(ctx, "a.pdf", 3*time.Hour, "", "")
	_, _ = f.ctx.GetMetadata(ctx, "a.pdf")
	_, _ = f.ctx.GetFolderContents(ctx, "")
	assert.Equal(t, cache.Stats{URLCache: 1, MetadataCache: 1, ListCache: 1}, f.ctx.CacheStats())

	f.ctx.ClearCache(ctx)
	assert.Equal(t, cache.Stats{}, f.ctx.CacheStats())
}

func TestApplyRemoteInvalidation(t *testing.T) {
	f := newFixture(t)
	f.be.put("a.pdf", []byte("a"))
	ctx := context.Background()
	_, _ = f.ctx.GetMetadata(ctx, "a.pdf")

	f.ctx.Apply(cache.Event{Kind: cache.EventObject, Key: "a.pdf", Origin: f.ctx.origin})
	assert.Equal(t, 1, f.ctx.CacheStats().MetadataCache, "own events are ignored")

	f.ctx.Apply(cache.Event{Kind: cache.EventObject, Key: "/a.pdf", Origin: "peer"})
	assert.Zero(t, f.ctx.CacheStats().MetadataCache)
}

func TestInvalidationIsBroadcast(t *testing.T) {
	bus := cache.NewLocalBus()
	be := newFakeBackend()
	be.put("a.pdf", []byte("a"))

	cfg := DefaultConfig()
	one, err := New(cfg, be, WithBus(bus))
	require.NoError(t, err)
	two, err := New(cfg, be, WithBus(bus))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = two.Listen(ctx) }()

	_, err = two.GetMetadata(ctx, "a.pdf")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, one.DeleteFile(ctx, "a.pdf"))
	require.Eventually(t, func() bool { return two.CacheStats().MetadataCache == 0 }, time.Second, time.Millisecond)
}

func TestUploadSimple(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ctx.GetFolderContents(ctx, "courses/7")
	require.NoError(t, err)

	res, err := f.ctx.Upload(ctx, File{Name: "notes.pdf", Size: 4, Body: strings.NewReader("%PDF")}, "courses/7")
	require.NoError(t, err)

	wantKey := "courses/7/" + "1725177600000" + "-notes.pdf"
	assert.Equal(t, wantKey, res.ObjectKey)
	assert.Equal(t, "1725177600000-notes.pdf", res.FileName)
	assert.Equal(t, "notes.pdf", res.OriginalName)
	assert.Equal(t, "application/pdf", res.ContentType)
	assert.Equal(t, "4 Bytes", res.SizeFormatted)
	assert.True(t, strings.HasPrefix(res.URL, "/api/storage/bucket/"+wantKey+"?"), res.URL)
	assert.Equal(t, 7*24*time.Hour, f.be.lastPresign.ttl)
	assert.Equal(t, "application/pdf", f.be.lastPresign.contentType)

	l, err := f.ctx.GetFolderContents(ctx, "courses/7")
	require.NoError(t, err)
	assert.Equal(t, 2, f.be.count("list"), "upload clears listing cache")
	require.Len(t, l.Files, 1)
	assert.Equal(t, wantKey, l.Files[0].ObjectKey)
}

func TestUploadFailuresAreUploadErrors(t *testing.T) {
	t.Run("credential", func(t *testing.T) {
		f := newFixture(t)
		f.be.uploadErr = xerrors.Unauthenticated("token expired")
		_, err := f.ctx.Upload(context.Background(), File{Name: "a.pdf", Size: 1, Body: strings.NewReader("x")}, "")
		assert.True(t, xerrors.Is(err, xerrors.ErrUpload))
		assert.Zero(t, f.be.count("put"))
	})
	t.Run("transfer", func(t *testing.T) {
		f := newFixture(t)
		f.be.putErr = errors.New("connection reset")
		_, err := f.ctx.Upload(context.Background(), File{Name: "a.pdf", Size: 1, Body: strings.NewReader("x")}, "")
		assert.True(t, xerrors.Is(err, xerrors.ErrUpload))
		assert.ErrorIs(t, err, f.be.putErr)
	})
	t.Run("invalid", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctx.Upload(context.Background(), File{Name: "a.pdf", Size: 1}, "")
		assert.True(t, xerrors.Is(err, xerrors.ErrInvalidArg))
	})
}

func TestUploadSniffsUnknownType(t *testing.T) {
	f := newFixture(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	res, err := f.ctx.Upload(context.Background(), File{Name: "scan", Size: int64(len(png)), Body: bytes.NewReader(png)}, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)

	f.be.mu.Lock()
	stored := f.be.objects[res.ObjectKey]
	f.be.mu.Unlock()
	assert.Equal(t, png, stored, "sniffed bytes are not lost")
}

type progressLog struct {
	mu    sync.Mutex
	calls [][3]int64
}

func (p *progressLog) fn(percent int, loaded, total int64) {
	p.mu.Lock()
	p.calls = append(p.calls, [3]int64{int64(percent), loaded, total})
	p.mu.Unlock()
}

func (p *progressLog) assertMonotonic(t *testing.T, total int64) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.calls)
	for i := 1; i < len(p.calls); i++ {
		assert.GreaterOrEqual(t, p.calls[i][0], p.calls[i-1][0])
		assert.GreaterOrEqual(t, p.calls[i][1], p.calls[i-1][1])
	}
	assert.Equal(t, [3]int64{100, total, total}, p.calls[len(p.calls)-1])
}

func smallChunks(cfg *Config) {
	cfg.ChunkSize = 4
	cfg.MultipartThreshold = 8
}

func TestMultipartOrderedParts(t *testing.T) {
	f := newFixture(t, smallChunks)
	var p progressLog

	comp, err := f.ctx.UploadMultipart(context.Background(),
		File{Name: "big.mp4", Size: 10, Body: strings.NewReader("0123456789")}, "videos/big.mp4", p.fn)
	require.NoError(t, err)
	assert.Equal(t, "videos/big.mp4", comp.Key)

	assert.Equal(t, []int{4, 4, 2}, f.be.partSizes)
	require.Len(t, f.be.completed, 3)
	for i, part := range f.be.completed {
		assert.Equal(t, i+1, part.PartNumber)
	}
	p.assertMonotonic(t, 10)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MultipartTotal.WithLabelValues("completed")))
}

func TestMultipartFailureAborts(t *testing.T) {
	f := newFixture(t, smallChunks)
	f.be.partErrAt = 2
	f.be.partErr = xerrors.Unavailable("storage busy", nil)

	_, err := f.ctx.UploadMultipart(context.Background(),
		File{Name: "big.mp4", Size: 12, Body: strings.NewReader("0123456789ab")}, "big.mp4", nil)
	assert.ErrorIs(t, err, f.be.partErr)
	assert.Equal(t, []string{"upload-1"}, f.be.aborted)
	assert.Zero(t, f.be.count("complete"))
	assert.Equal(t, 2, f.be.count("part"))
}

func TestMultipartAbortFailureDoesNotMaskCause(t *testing.T) {
	f := newFixture(t, smallChunks)
	f.be.partErrAt = 1
	f.be.partErr = errors.New("boom")
	f.be.abortErr = errors.New("abort refused")

	_, err := f.ctx.UploadMultipart(context.Background(),
		File{Name: "big.mp4", Size: 8, Body: strings.NewReader("01234567")}, "big.mp4", nil)
	assert.ErrorIs(t, err, f.be.partErr)
	assert.NotErrorIs(t, err, f.be.abortErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MultipartTotal.WithLabelValues("abort_failed")))
}

func TestMultipartShortBodyAborts(t *testing.T) {
	f := newFixture(t, smallChunks)
	_, err := f.ctx.UploadMultipart(context.Background(),
		File{Name: "big.mp4", Size: 12, Body: strings.NewReader("0123456")}, "big.mp4", nil)
	assert.True(t, xerrors.Is(err, xerrors.ErrUpload))
	assert.Len(t, f.be.aborted, 1)
	assert.Zero(t, f.be.count("complete"))
}

func TestMultipartCancellationAbortsWithDetachedContext(t *testing.T) {
	f := newFixture(t, smallChunks)
	ctx, cancel := context.WithCancel(context.Background())
	f.be.onPart = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	_, err := f.ctx.UploadMultipart(ctx,
		File{Name: "big.mp4", Size: 12, Body: strings.NewReader("0123456789ab")}, "big.mp4", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"upload-1"}, f.be.aborted)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MultipartTotal.WithLabelValues("aborted")))
	assert.Zero(t, f.be.count("complete"))
}

func TestUploadFileDispatch(t *testing.T) {
	f := newFixture(t, smallChunks)
	ctx := context.Background()

	var p progressLog
	res, err := f.ctx.UploadFile(ctx, File{Name: "big.mp4", Size: 10, Body: strings.NewReader("0123456789")}, "videos", p.fn)
	require.NoError(t, err)
	assert.Equal(t, 1, f.be.count("initiate"))
	assert.Equal(t, "video/mp4", res.ContentType)
	assert.True(t, strings.HasPrefix(res.ObjectKey, "videos/"))
	p.assertMonotonic(t, 10)

	var q progressLog
	_, err = f.ctx.UploadFile(ctx, File{Name: "small.pdf", Size: 5, Body: strings.NewReader("%PDF-")}, "docs", q.fn)
	require.NoError(t, err)
	assert.Equal(t, 1, f.be.count("initiate"))
	assert.Equal(t, 1, f.be.count("put"))
	q.assertMonotonic(t, 5)
}

func TestSessionTransitions(t *testing.T) {
	s := newSession("k", "video/mp4")
	s.to(StateInitiated)
	s.to(StateUploading)
	s.to(StateUploading)
	s.to(StateCompleted)
	assert.Equal(t, "completed", s.state.Current().String())

	assert.Panics(t, func() { s.to(StateAborting) })
	assert.Panics(t, func() { newSession("k", "").to(StateCompleted) })
}
