package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"hddbrowser/internal/domain"
)

// Sort keys accepted by ListDir.
const (
	SortName     = "name"
	SortType     = "type"
	SortSize     = "size"
	SortModified = "modified"
)

const dirMime = "inode/directory"

// LocalDriver performs file operations on paths that already went through the Resolver.
type LocalDriver struct{}

func NewLocalDriver() *LocalDriver {
	return &LocalDriver{}
}

func statResolved(rp domain.ResolvedPath) (os.FileInfo, error) {
	info, err := os.Stat(rp.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", rp.Rel, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", rp.Rel, err)
	}
	return info, nil
}

// Stat returns file info for a resolved path, mapping absence to ErrNotFound.
func (d *LocalDriver) Stat(rp domain.ResolvedPath) (os.FileInfo, error) {
	return statResolved(rp)
}

// ListDir reads one level of rp. Symlinked children whose target leaves the root
// are skipped, as are dangling links.
func (d *LocalDriver) ListDir(rp domain.ResolvedPath, sortKey string, desc bool) ([]domain.DirEntry, error) {
	info, err := statResolved(rp)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", rp.Rel, domain.ErrNotADirectory)
	}

	children, err := os.ReadDir(rp.Path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", rp.Rel, err)
	}

	entries := make([]domain.DirEntry, 0, len(children))
	for _, child := range children {
		ci, ok := childInfo(rp.Root.Path, rp.Path, child)
		if !ok {
			continue
		}
		entries = append(entries, EntryFromInfo(child.Name(), ci))
	}

	SortEntries(entries, sortKey, desc)
	return entries, nil
}

// childInfo stats a directory child, following symlinks only when they stay in root.
func childInfo(root, dir string, child fs.DirEntry) (os.FileInfo, bool) {
	if child.Type()&fs.ModeSymlink == 0 {
		info, err := child.Info()
		return info, err == nil
	}
	target, err := filepath.EvalSymlinks(filepath.Join(dir, child.Name()))
	if err != nil || !within(root, target) {
		return nil, false
	}
	info, err := os.Stat(target)
	return info, err == nil
}

// EntryFromInfo builds the listing record for a child named name.
func EntryFromInfo(name string, info os.FileInfo) domain.DirEntry {
	e := domain.DirEntry{
		Name:     name,
		IsDir:    info.IsDir(),
		Modified: info.ModTime().Unix(),
	}
	if e.IsDir {
		e.Mime = dirMime
	} else {
		e.Size = info.Size()
		e.Mime = MimeFor(name)
	}
	return e
}

// SortEntries orders entries by key. Ties fall back to a case-insensitive,
// locale-aware name comparison. Sorting by type always keeps directories first.
func SortEntries(entries []domain.DirEntry, key string, desc bool) {
	// Collators carry internal buffers, so each call gets its own.
	col := collate.New(language.Und, collate.IgnoreCase)
	byName := func(a, b domain.DirEntry) int {
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	}
	flip := func(c int) int {
		if desc {
			return -c
		}
		return c
	}

	slices.SortStableFunc(entries, func(a, b domain.DirEntry) int {
		switch key {
		case SortType:
			if a.IsDir != b.IsDir {
				if a.IsDir {
					return -1
				}
				return 1
			}
			ea := strings.ToLower(filepath.Ext(a.Name))
			eb := strings.ToLower(filepath.Ext(b.Name))
			if c := strings.Compare(ea, eb); c != 0 {
				return flip(c)
			}
		case SortSize:
			if a.Size != b.Size {
				return flip(cmpInt(a.Size, b.Size))
			}
		case SortModified:
			if a.Modified != b.Modified {
				return flip(cmpInt(a.Modified, b.Modified))
			}
		}
		return flip(byName(a, b))
	})
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Open returns the file for reading. Directories fail with ErrIsADirectory.
func (d *LocalDriver) Open(rp domain.ResolvedPath) (*os.File, os.FileInfo, error) {
	info, err := statResolved(rp)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%s: %w", rp.Rel, domain.ErrIsADirectory)
	}
	f, err := os.Open(rp.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", rp.Rel, err)
	}
	return f, info, nil
}

// MakeDir creates rp and any missing parents.
func (d *LocalDriver) MakeDir(rp domain.ResolvedPath) (domain.DirEntry, error) {
	if info, err := os.Stat(rp.Path); err == nil {
		if info.IsDir() {
			return EntryFromInfo(filepath.Base(rp.Path), info), nil
		}
		return domain.DirEntry{}, fmt.Errorf("%s: %w", rp.Rel, domain.ErrAlreadyExists)
	}
	if err := os.MkdirAll(rp.Path, 0o755); err != nil {
		return domain.DirEntry{}, fmt.Errorf("mkdir %s: %w", rp.Rel, err)
	}
	info, err := os.Stat(rp.Path)
	if err != nil {
		return domain.DirEntry{}, fmt.Errorf("stat %s: %w", rp.Rel, err)
	}
	return EntryFromInfo(filepath.Base(rp.Path), info), nil
}

// SaveFile writes src to rp through a temp file in the same directory, then links
// it into place. Existing targets are never overwritten.
func (d *LocalDriver) SaveFile(rp domain.ResolvedPath, src io.Reader) (domain.DirEntry, error) {
	if rp.Rel == "" {
		return domain.DirEntry{}, fmt.Errorf("empty file name: %w", domain.ErrInvalidRequest)
	}
	if _, err := os.Lstat(rp.Path); err == nil {
		return domain.DirEntry{}, fmt.Errorf("%s: %w", rp.Rel, domain.ErrAlreadyExists)
	}

	dir := filepath.Dir(rp.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.DirEntry{}, fmt.Errorf("mkdir %s: %w", filepath.Dir(rp.Rel), err)
	}

	tmpPath := filepath.Join(dir, ".upload-"+uuid.NewString()+".part")
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return domain.DirEntry{}, fmt.Errorf("create temp for %s: %w", rp.Rel, err)
	}
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return domain.DirEntry{}, fmt.Errorf("write %s: %w", rp.Rel, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.DirEntry{}, fmt.Errorf("sync %s: %w", rp.Rel, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.DirEntry{}, fmt.Errorf("close %s: %w", rp.Rel, err)
	}

	if err := publish(tmpPath, rp.Path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.DirEntry{}, fmt.Errorf("%s: %w", rp.Rel, domain.ErrAlreadyExists)
		}
		return domain.DirEntry{}, fmt.Errorf("publish %s: %w", rp.Rel, err)
	}

	info, err := os.Stat(rp.Path)
	if err != nil {
		return domain.DirEntry{}, fmt.Errorf("stat %s: %w", rp.Rel, err)
	}
	return EntryFromInfo(filepath.Base(rp.Path), info), nil
}

// publish hard-links tmp to target so a concurrent writer cannot be clobbered.
// Filesystems without hard links (FAT, exFAT) fall back to rename.
func publish(tmp, target string) error {
	err := os.Link(tmp, target)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}
	if _, statErr := os.Lstat(target); statErr == nil {
		return fs.ErrExist
	}
	return os.Rename(tmp, target)
}

// Delete removes rp. A symlink is removed as a link, never its target. Non-empty
// directories need recursive.
func (d *LocalDriver) Delete(rp domain.ResolvedPath, recursive bool) error {
	if rp.Rel == "" {
		return fmt.Errorf("refusing to delete root %s: %w", rp.Root.ID, domain.ErrNotAllowed)
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(rp.Lexical))
	if err != nil {
		return classify(rp.Rel, err)
	}
	if !within(rp.Root.Path, parent) {
		return fmt.Errorf("%s: %w", rp.Rel, domain.ErrForbidden)
	}
	victim := filepath.Join(parent, filepath.Base(rp.Lexical))
	if victim == rp.Root.Path {
		return fmt.Errorf("refusing to delete root %s: %w", rp.Root.ID, domain.ErrNotAllowed)
	}

	info, err := os.Lstat(victim)
	if err != nil {
		return classify(rp.Rel, err)
	}
	if !info.IsDir() {
		if err := os.Remove(victim); err != nil {
			return fmt.Errorf("remove %s: %w", rp.Rel, err)
		}
		return nil
	}

	if !recursive {
		empty, err := isEmptyDir(victim)
		if err != nil {
			return fmt.Errorf("read %s: %w", rp.Rel, err)
		}
		if !empty {
			return fmt.Errorf("%s: %w", rp.Rel, domain.ErrDirectoryNotEmpty)
		}
		if err := os.Remove(victim); err != nil {
			return fmt.Errorf("remove %s: %w", rp.Rel, err)
		}
		return nil
	}
	if err := os.RemoveAll(victim); err != nil {
		return fmt.Errorf("remove %s: %w", rp.Rel, err)
	}
	return nil
}

func isEmptyDir(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return len(names) == 0, err
}
