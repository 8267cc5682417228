package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"hddbrowser/internal/domain"
	"hddbrowser/internal/metrics"
)

// byteRange is an inclusive span of a file.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// parseRange reads a single "bytes=" range against size. ok is false when the
// header is absent, malformed, or asks for several ranges; callers then send the
// whole file. A well formed range that misses the file is ErrRangeNotSatisfiable.
func parseRange(header string, size int64) (byteRange, bool, error) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return byteRange{}, false, nil
	}
	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return byteRange{}, false, nil
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// Suffix form: the last n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, false, nil
		}
		if n == 0 || size == 0 {
			return byteRange{}, false, domain.ErrRangeNotSatisfiable
		}
		return byteRange{start: max(size-n, 0), end: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, nil
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return byteRange{}, false, nil
		}
	}
	if start >= size {
		return byteRange{}, false, domain.ErrRangeNotSatisfiable
	}
	return byteRange{start: start, end: min(end, size-1)}, true, nil
}

// sectionFile streams part of a file and closes it when fasthttp is done.
type sectionFile struct {
	*io.SectionReader
	f *os.File
}

func (s sectionFile) Close() error {
	return s.f.Close()
}

// serveFile writes f honoring a single Range request. It owns f.
func serveFile(c *fiber.Ctx, f *os.File, info os.FileInfo, contentType, disposition, kind string) error {
	size := info.Size()
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderLastModified, info.ModTime().UTC().Format(http.TimeFormat))
	if disposition != "" {
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType(disposition, map[string]string{"filename": info.Name()}))
	}

	r, ok, err := parseRange(c.Get(fiber.HeaderRange), size)
	if err != nil {
		f.Close()
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", size))
		return respondError(c, err)
	}
	if !ok {
		metrics.RecordBytesStreamed(kind, size)
		return c.Status(fiber.StatusOK).SendStream(f, int(size))
	}

	c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size))
	metrics.RecordBytesStreamed(kind, r.length())
	return c.Status(fiber.StatusPartialContent).SendStream(
		sectionFile{SectionReader: io.NewSectionReader(f, r.start, r.length()), f: f},
		int(r.length()),
	)
}
