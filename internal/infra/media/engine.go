package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"hddbrowser/internal/domain"
	"hddbrowser/internal/infra/filesystem"
	"hddbrowser/internal/logging"
	"hddbrowser/internal/metrics"
)

const (
	thumbQuality      = 82
	renderQuality     = 88
	heicRenderQuality = 86

	// Upper bound for one shared thumbnail generation.
	generateTimeout = 2 * time.Minute

	// Refuse to decode anything larger than this many pixels.
	maxPixels = 120_000_000
)

// Options carries the per-request switches taken from the config snapshot.
type Options struct {
	Refresh bool
	HEIC    bool
}

type Thumb struct {
	Data []byte
	Key  string
	Hit  bool
}

type Rendered struct {
	Data        []byte
	ContentType string
	// Passthrough means the caller should stream the original file unchanged.
	Passthrough bool
}

// Engine renders thumbnails and resized images. Thumbnails go through the disk
// cache; concurrent misses on the same key share one generation.
type Engine struct {
	cache  *Cache
	frames FrameExtractor
	heic   HEICDecoder
	group  singleflight.Group

	generated atomic.Int64
}

func NewEngine(cache *Cache, frames FrameExtractor, heic HEICDecoder) *Engine {
	return &Engine{cache: cache, frames: frames, heic: heic}
}

func (e *Engine) Cache() *Cache {
	return e.cache
}

func statSource(rp domain.ResolvedPath) (os.FileInfo, error) {
	info, err := os.Stat(rp.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", rp.Rel, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", rp.Rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", rp.Rel, domain.ErrIsADirectory)
	}
	return info, nil
}

func (e *Engine) supports(kind filesystem.MediaKind, opts Options, video bool) bool {
	switch kind {
	case filesystem.KindImage:
		return true
	case filesystem.KindHEIC:
		return opts.HEIC && e.heic != nil
	case filesystem.KindVideo:
		return video
	}
	return false
}

// Thumbnail returns a JPEG no larger than maxDim on either side.
func (e *Engine) Thumbnail(ctx context.Context, rp domain.ResolvedPath, maxDim int, opts Options) (Thumb, error) {
	info, err := statSource(rp)
	if err != nil {
		return Thumb{}, err
	}
	kind := filesystem.KindOf(rp.Path)
	if !e.supports(kind, opts, true) {
		return Thumb{}, fmt.Errorf("%s: %w", rp.Rel, domain.ErrUnsupportedMedia)
	}

	key := Key(rp.Path, info.ModTime(), info.Size(), maxDim, "thumb")
	if !opts.Refresh {
		if data, ok := e.cache.Get(key); ok {
			metrics.RecordThumbCache(true)
			return Thumb{Data: data, Key: key, Hit: true}, nil
		}
	}
	metrics.RecordThumbCache(false)

	// The shared generation outlives any single caller; each caller only
	// stops waiting when its own context ends.
	ch := e.group.DoChan(key, func() (any, error) {
		gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generateTimeout)
		defer cancel()
		start := time.Now()
		data, err := e.generate(gctx, rp.Path, kind, maxDim)
		metrics.RecordThumbGenerate(kindLabel(kind), time.Since(start), err == nil)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Put(key, data); err != nil {
			logging.WithContext(gctx).Warn("thumbnail cache write failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Thumb{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		logging.WithContext(ctx).Warn("thumbnail failed",
			zap.String("root", rp.Root.ID), zap.String("path", rp.Rel), zap.Error(res.Err))
		return Thumb{}, res.Err
	}
	return Thumb{Data: res.Val.([]byte), Key: key}, nil
}

func (e *Engine) generate(ctx context.Context, path string, kind filesystem.MediaKind, maxDim int) ([]byte, error) {
	e.generated.Add(1)
	img, err := e.decode(ctx, path, kind)
	if err != nil {
		return nil, err
	}
	img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	return encode(flatten(img), imaging.JPEG, thumbQuality)
}

// Render resizes an image for the viewer without touching the disk cache. With
// maxDim 0, ordinary images pass through and HEIC is converted at full size.
func (e *Engine) Render(ctx context.Context, rp domain.ResolvedPath, maxDim int, opts Options) (Rendered, error) {
	if _, err := statSource(rp); err != nil {
		return Rendered{}, err
	}
	kind := filesystem.KindOf(rp.Path)
	if !e.supports(kind, opts, false) {
		return Rendered{}, fmt.Errorf("%s: %w", rp.Rel, domain.ErrUnsupportedMedia)
	}
	if kind == filesystem.KindImage && maxDim <= 0 {
		return Rendered{Passthrough: true, ContentType: filesystem.MimeFor(rp.Path)}, nil
	}

	img, err := e.decode(ctx, rp.Path, kind)
	if err != nil {
		logging.WithContext(ctx).Warn("render failed",
			zap.String("root", rp.Root.ID), zap.String("path", rp.Rel), zap.Error(err))
		return Rendered{}, err
	}
	if maxDim <= 0 {
		data, err := encode(flatten(img), imaging.JPEG, heicRenderQuality)
		return Rendered{Data: data, ContentType: "image/jpeg"}, err
	}

	img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	if !opaque(img) {
		data, err := encode(img, imaging.PNG, 0)
		return Rendered{Data: data, ContentType: "image/png"}, err
	}
	data, err := encode(img, imaging.JPEG, renderQuality)
	return Rendered{Data: data, ContentType: "image/jpeg"}, err
}

func (e *Engine) decode(ctx context.Context, path string, kind filesystem.MediaKind) (image.Image, error) {
	switch kind {
	case filesystem.KindVideo:
		if e.frames == nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrThumbnailUnavailable, domain.ErrToolUnavailable)
		}
		frame, err := e.frames.PosterFrame(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrThumbnailUnavailable, err)
		}
		img, _, err := image.Decode(bytes.NewReader(frame))
		if err != nil {
			return nil, fmt.Errorf("%w: poster frame: %v", domain.ErrThumbnailUnavailable, err)
		}
		return img, nil
	case filesystem.KindHEIC:
		return e.heic.DecodeHEIC(ctx, path)
	}
	return decodeFile(path)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	orientation := 1
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".tif", ".tiff":
		orientation = readOrientation(f)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	br := bufio.NewReader(f)
	cfg, _, err := image.DecodeConfig(br)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrDecodeFailed)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%dx%d too large: %w", cfg.Width, cfg.Height, domain.ErrDecodeFailed)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrDecodeFailed)
	}
	return applyOrientation(img, orientation), nil
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return true
}

// flatten composites transparent images onto white so JPEG output has no black holes.
func flatten(img image.Image) image.Image {
	if opaque(img) {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func encode(img image.Image, format imaging.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var opts []imaging.EncodeOption
	if format == imaging.JPEG {
		opts = append(opts, imaging.JPEGQuality(quality))
	}
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func kindLabel(k filesystem.MediaKind) string {
	switch k {
	case filesystem.KindVideo:
		return "video"
	case filesystem.KindHEIC:
		return "heic"
	}
	return "image"
}
