package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Cache stores rendered thumbnails under dir. Entries are content addressed by
// source identity, so stale ones are simply never read again.
type Cache struct {
	fs  afero.Fs
	dir string
}

func NewCache(fsys afero.Fs, dir string) (*Cache, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail cache %s: %w", dir, err)
	}
	return &Cache{fs: fsys, dir: dir}, nil
}

func (c *Cache) Dir() string {
	return c.dir
}

// Key derives the cache file name for a source and render parameters.
func Key(absPath string, mtime time.Time, size int64, maxDim int, variant string) string {
	h := sha256.New()
	for _, part := range []string{
		absPath,
		strconv.FormatInt(mtime.UnixNano(), 10),
		strconv.FormatInt(size, 10),
		strconv.Itoa(maxDim),
		variant,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)) + ".jpg"
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key)
}

// Get returns the cached bytes for key.
func (c *Cache) Get(key string) ([]byte, bool) {
	data, err := afero.ReadFile(c.fs, c.path(key))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// Put writes data to a temp file in the cache dir and renames it over key, so
// readers see either nothing or the whole entry.
func (c *Cache) Put(key string, data []byte) error {
	tmp, err := afero.TempFile(c.fs, c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		c.fs.Remove(tmpName)
		return fmt.Errorf("cache write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		c.fs.Remove(tmpName)
		return fmt.Errorf("cache close: %w", err)
	}
	if err := c.fs.Rename(tmpName, c.path(key)); err != nil {
		c.fs.Remove(tmpName)
		return fmt.Errorf("cache rename: %w", err)
	}
	return nil
}

// Usage sums entries and bytes in the cache, stopping early (partial=true) when
// ctx ends.
func (c *Cache) Usage(ctx context.Context) (files int, bytes int64, partial bool, err error) {
	stop := errors.New("stop")
	err = afero.Walk(c.fs, c.dir, func(path string, info os.FileInfo, werr error) error {
		if ctx.Err() != nil {
			return stop
		}
		if werr != nil {
			if errors.Is(werr, fs.ErrNotExist) {
				return nil
			}
			return werr
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})
	if errors.Is(err, stop) {
		return files, bytes, true, nil
	}
	return files, bytes, false, err
}
