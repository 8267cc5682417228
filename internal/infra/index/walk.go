package index

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"hddbrowser/internal/domain"
)

// Scan walks root without following symlinks and returns every entry below it,
// stopping after limit entries when limit > 0. skip is an absolute directory
// (typically the thumbnail cache) left out of the walk.
func Scan(ctx context.Context, root domain.Root, skip string, limit int) ([]domain.IndexedFile, error) {
	var files []domain.IndexedFile
	err := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Unreadable subtrees are left out rather than failing the scan.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root.Path {
			return nil
		}
		if skip != "" && path == skip {
			return fs.SkipDir
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root.Path, path)
		if err != nil {
			return nil
		}
		f := domain.IndexedFile{
			Name:     d.Name(),
			Path:     filepath.ToSlash(rel),
			IsDir:    d.IsDir(),
			Modified: info.ModTime().Unix(),
		}
		if !f.IsDir {
			f.Size = info.Size()
			f.Extension = strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
		}
		files = append(files, f)
		if limit > 0 && len(files) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	return files, err
}
