package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"hddbrowser/internal/domain"
	"hddbrowser/internal/logging"
)

// FrameExtractor captures a still frame near the start of a video as image bytes.
type FrameExtractor interface {
	PosterFrame(ctx context.Context, path string) ([]byte, error)
}

// HEICDecoder turns a HEIC/HEIF file into a decoded image.
type HEICDecoder interface {
	DecodeHEIC(ctx context.Context, path string) (image.Image, error)
}

// FFmpeg extracts poster frames with the ffmpeg binary.
type FFmpeg struct {
	Path    string
	Timeout time.Duration
}

func NewFFmpeg(path string) *FFmpeg {
	return &FFmpeg{Path: path, Timeout: 12 * time.Second}
}

func (f *FFmpeg) PosterFrame(ctx context.Context, path string) ([]byte, error) {
	bin, err := exec.LookPath(f.Path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg %q: %w", f.Path, domain.ErrToolUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	// Clips shorter than a second have no frame at 1s.
	var lastErr error
	for _, offset := range []string{"1", "0"} {
		task := execute.ExecTask{
			Command: bin,
			Args: []string{
				"-hide_banner", "-loglevel", "error",
				"-ss", offset, "-i", path,
				"-vframes", "1", "-q:v", "4",
				"-f", "image2pipe", "-vcodec", "mjpeg", "pipe:1",
			},
			StreamStdio: false,
		}
		res, err := task.Execute(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("ffmpeg: %w", ctx.Err())
			}
			lastErr = err
			continue
		}
		if res.ExitCode == 0 && len(res.Stdout) > 0 {
			return []byte(res.Stdout), nil
		}
		lastErr = fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	logging.Warn("ffmpeg produced no frame", zap.String("file", filepath.Base(path)), zap.Error(lastErr))
	return nil, fmt.Errorf("ffmpeg: %w", lastErr)
}

// HeifConvert decodes HEIC through the libheif heif-convert tool.
type HeifConvert struct {
	Path    string
	Timeout time.Duration
}

func NewHeifConvert(path string) *HeifConvert {
	return &HeifConvert{Path: path, Timeout: 20 * time.Second}
}

func (h *HeifConvert) DecodeHEIC(ctx context.Context, path string) (image.Image, error) {
	bin, err := exec.LookPath(h.Path)
	if err != nil {
		return nil, fmt.Errorf("heif-convert %q: %w", h.Path, domain.ErrToolUnavailable)
	}

	tmpDir, err := os.MkdirTemp("", "heic-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)
	out := filepath.Join(tmpDir, "out.jpg")

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	task := execute.ExecTask{
		Command:     bin,
		Args:        []string{"-q", "92", path, out},
		StreamStdio: false,
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("heif-convert: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("heif-convert exit %d: %s: %w", res.ExitCode, strings.TrimSpace(res.Stderr), domain.ErrDecodeFailed)
	}

	img, err := imaging.Open(out)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("heif-convert wrote nothing: %w", domain.ErrDecodeFailed)
		}
		return nil, fmt.Errorf("decode converted heic: %v: %w", err, domain.ErrDecodeFailed)
	}
	return img, nil
}
