package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hddbrowser/internal/domain"
)

type fakeFrames struct {
	calls atomic.Int64
	data  []byte
	err   error
}

func (f *fakeFrames) PosterFrame(ctx context.Context, path string) ([]byte, error) {
	f.calls.Add(1)
	return f.data, f.err
}

// slowFrames blocks for delay or until its context ends.
type slowFrames struct {
	calls   atomic.Int64
	started chan struct{}
	delay   time.Duration
	data    []byte
}

func (f *slowFrames) PosterFrame(ctx context.Context, path string) ([]byte, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	select {
	case <-time.After(f.delay):
		return f.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeHEIC struct{ img image.Image }

func (f fakeHEIC) DecodeHEIC(ctx context.Context, path string) (image.Image, error) {
	return f.img, nil
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h, color.NRGBA{R: 200, G: 90, B: 40, A: 255}), nil))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) domain.ResolvedPath {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return domain.ResolvedPath{Root: domain.Root{ID: "r", Path: dir}, Path: path, Lexical: path, Rel: name}
}

func dims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func newEngine(t *testing.T, frames FrameExtractor, heic HEICDecoder) (*Engine, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	cache, err := NewCache(mem, "/cache")
	require.NoError(t, err)
	return NewEngine(cache, frames, heic), mem
}

func cacheFiles(t *testing.T, fsys afero.Fs) int {
	t.Helper()
	entries, err := afero.ReadDir(fsys, "/cache")
	require.NoError(t, err)
	return len(entries)
}

func TestThumbnailIsCachedOnce(t *testing.T) {
	e, mem := newEngine(t, nil, nil)
	rp := writeFile(t, t.TempDir(), "a.jpg", jpegBytes(t, 400, 300))

	first, err := e.Thumbnail(context.Background(), rp, 180, Options{})
	require.NoError(t, err)
	assert.False(t, first.Hit)

	second, err := e.Thumbnail(context.Background(), rp, 180, Options{})
	require.NoError(t, err)
	assert.True(t, second.Hit)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, int64(1), e.generated.Load())
	assert.Equal(t, 1, cacheFiles(t, mem))

	w, h := dims(t, first.Data)
	assert.Equal(t, 180, w)
	assert.Equal(t, 135, h)
}

func TestThumbnailNeverUpscales(t *testing.T) {
	e, _ := newEngine(t, nil, nil)
	rp := writeFile(t, t.TempDir(), "small.jpg", jpegBytes(t, 50, 40))

	th, err := e.Thumbnail(context.Background(), rp, 256, Options{})
	require.NoError(t, err)
	w, h := dims(t, th.Data)
	assert.Equal(t, 50, w)
	assert.Equal(t, 40, h)
}

func TestThumbnailRefreshAndInvalidation(t *testing.T) {
	e, mem := newEngine(t, nil, nil)
	rp := writeFile(t, t.TempDir(), "a.jpg", jpegBytes(t, 64, 64))

	_, err := e.Thumbnail(context.Background(), rp, 32, Options{})
	require.NoError(t, err)
	_, err = e.Thumbnail(context.Background(), rp, 32, Options{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.generated.Load())
	assert.Equal(t, 1, cacheFiles(t, mem))

	// A new mtime is a new key; the old entry stays behind.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(rp.Path, later, later))
	_, err = e.Thumbnail(context.Background(), rp, 32, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, cacheFiles(t, mem))

	// So is a different size.
	_, err = e.Thumbnail(context.Background(), rp, 48, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, cacheFiles(t, mem))
}

func TestThumbnailConcurrentRequests(t *testing.T) {
	e, mem := newEngine(t, nil, nil)
	rp := writeFile(t, t.TempDir(), "a.jpg", jpegBytes(t, 800, 600))

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th, err := e.Thumbnail(context.Background(), rp, 120, Options{})
			assert.NoError(t, err)
			results[i] = th.Data
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, 1, cacheFiles(t, mem))
}

func TestThumbnailErrors(t *testing.T) {
	e, mem := newEngine(t, nil, nil)
	dir := t.TempDir()

	_, err := e.Thumbnail(context.Background(), writeFile(t, dir, "notes.txt", []byte("hi")), 128, Options{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedMedia)

	_, err = e.Thumbnail(context.Background(), writeFile(t, dir, "broken.jpg", []byte("not a jpeg")), 128, Options{})
	assert.ErrorIs(t, err, domain.ErrDecodeFailed)

	_, err = e.Thumbnail(context.Background(), writeFile(t, dir, "p.heic", []byte("heic")), 128, Options{HEIC: true})
	assert.ErrorIs(t, err, domain.ErrUnsupportedMedia, "no decoder configured")

	missing := domain.ResolvedPath{Path: filepath.Join(dir, "nope.jpg"), Rel: "nope.jpg"}
	_, err = e.Thumbnail(context.Background(), missing, 128, Options{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.Thumbnail(context.Background(), domain.ResolvedPath{Path: dir}, 128, Options{})
	assert.ErrorIs(t, err, domain.ErrIsADirectory)

	assert.Equal(t, 0, cacheFiles(t, mem), "failures leave nothing in the cache")
}

func TestVideoThumbnailUsesExtractorOnce(t *testing.T) {
	frames := &fakeFrames{data: jpegBytes(t, 1280, 720)}
	e, _ := newEngine(t, frames, nil)
	rp := writeFile(t, t.TempDir(), "clip.mp4", []byte("video"))

	a, err := e.Thumbnail(context.Background(), rp, 160, Options{})
	require.NoError(t, err)
	b, err := e.Thumbnail(context.Background(), rp, 160, Options{})
	require.NoError(t, err)

	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, int64(1), frames.calls.Load())
	w, h := dims(t, a.Data)
	assert.Equal(t, 160, w)
	assert.Equal(t, 90, h)
}

func TestThumbnailSurvivesOtherCallerCancel(t *testing.T) {
	frames := &slowFrames{started: make(chan struct{}), delay: 300 * time.Millisecond, data: jpegBytes(t, 640, 360)}
	e, mem := newEngine(t, frames, nil)
	rp := writeFile(t, t.TempDir(), "clip.mp4", []byte("video"))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := e.Thumbnail(ctxA, rp, 160, Options{})
		errA <- err
	}()
	<-frames.started

	errB := make(chan error, 1)
	go func() {
		_, err := e.Thumbnail(context.Background(), rp, 160, Options{})
		errB <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancelA()

	assert.ErrorIs(t, <-errA, context.Canceled)
	require.NoError(t, <-errB)
	assert.Equal(t, int64(1), frames.calls.Load())
	assert.Equal(t, 1, cacheFiles(t, mem))
}

func TestVideoThumbnailUnavailable(t *testing.T) {
	frames := &fakeFrames{err: errors.New("no stream")}
	e, mem := newEngine(t, frames, nil)
	rp := writeFile(t, t.TempDir(), "clip.mkv", []byte("video"))

	_, err := e.Thumbnail(context.Background(), rp, 160, Options{})
	assert.ErrorIs(t, err, domain.ErrThumbnailUnavailable)
	assert.Equal(t, 0, cacheFiles(t, mem))

	e, _ = newEngine(t, NewFFmpeg(filepath.Join(t.TempDir(), "no-such-ffmpeg")), nil)
	_, err = e.Thumbnail(context.Background(), rp, 160, Options{})
	assert.ErrorIs(t, err, domain.ErrThumbnailUnavailable)
	assert.ErrorIs(t, err, domain.ErrToolUnavailable)
}

func TestHEICThroughPlugin(t *testing.T) {
	e, _ := newEngine(t, nil, fakeHEIC{img: solid(300, 100, color.White)})
	rp := writeFile(t, t.TempDir(), "IMG_0001.HEIC", []byte("heic"))

	_, err := e.Thumbnail(context.Background(), rp, 150, Options{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedMedia, "feature flag off")

	th, err := e.Thumbnail(context.Background(), rp, 150, Options{HEIC: true})
	require.NoError(t, err)
	w, h := dims(t, th.Data)
	assert.Equal(t, 150, w)
	assert.Equal(t, 50, h)

	full, err := e.Render(context.Background(), rp, 0, Options{HEIC: true})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", full.ContentType)
	w, _ = dims(t, full.Data)
	assert.Equal(t, 300, w)
}

func TestRender(t *testing.T) {
	e, mem := newEngine(t, nil, nil)
	dir := t.TempDir()

	jpg := writeFile(t, dir, "a.jpg", jpegBytes(t, 400, 200))
	r, err := e.Render(context.Background(), jpg, 0, Options{})
	require.NoError(t, err)
	assert.True(t, r.Passthrough)
	assert.Equal(t, "image/jpeg", r.ContentType)

	r, err = e.Render(context.Background(), jpg, 100, Options{})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", r.ContentType)
	w, h := dims(t, r.Data)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(64, 64, color.NRGBA{A: 100})))
	pngPath := writeFile(t, dir, "alpha.png", buf.Bytes())
	r, err = e.Render(context.Background(), pngPath, 32, Options{})
	require.NoError(t, err)
	assert.Equal(t, "image/png", r.ContentType)

	_, err = e.Render(context.Background(), writeFile(t, dir, "clip.mp4", []byte("x")), 100, Options{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedMedia)

	assert.Equal(t, 0, cacheFiles(t, mem), "render never writes the cache")
}

func TestApplyOrientation(t *testing.T) {
	src := solid(4, 2, color.Black)
	for o, want := range map[int]image.Point{
		1: {4, 2}, 2: {4, 2}, 3: {4, 2}, 4: {4, 2},
		5: {2, 4}, 6: {2, 4}, 7: {2, 4}, 8: {2, 4},
	} {
		assert.Equal(t, want, applyOrientation(src, o).Bounds().Size(), "orientation %d", o)
	}
	assert.Equal(t, 1, readOrientation(bytes.NewReader([]byte("no exif"))))
}

func TestCacheUsage(t *testing.T) {
	mem := afero.NewMemMapFs()
	c, err := NewCache(mem, "/cache")
	require.NoError(t, err)
	require.NoError(t, c.Put("a.jpg", []byte("1234")))
	require.NoError(t, c.Put("b.jpg", []byte("56")))

	files, size, partial, err := c.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(6), size)
	assert.False(t, partial)

	data, ok := c.Get("a.jpg")
	assert.True(t, ok)
	assert.Equal(t, []byte("1234"), data)
	_, ok = c.Get("missing.jpg")
	assert.False(t, ok)
}

func TestKeyIsDeterministic(t *testing.T) {
	mt := time.Unix(1700000000, 5)
	a := Key("/data/a.jpg", mt, 10, 180, "thumb")
	assert.Equal(t, a, Key("/data/a.jpg", mt, 10, 180, "thumb"))
	assert.NotEqual(t, a, Key("/data/a.jpg", mt, 11, 180, "thumb"))
	assert.NotEqual(t, a, Key("/data/a.jpg", mt.Add(time.Nanosecond), 10, 180, "thumb"))
	assert.NotEqual(t, a, Key("/data/a.jpg", mt, 10, 181, "thumb"))
	assert.Len(t, a, 64+len(".jpg"))
}
