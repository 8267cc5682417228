package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hddbrowser/internal/domain"
)

func names(entries []domain.DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestSortEntriesByName(t *testing.T) {
	entries := []domain.DirEntry{{Name: "b"}, {Name: "A"}, {Name: "c"}}

	SortEntries(entries, SortName, false)
	assert.Equal(t, []string{"A", "b", "c"}, names(entries))

	SortEntries(entries, SortName, true)
	assert.Equal(t, []string{"c", "b", "A"}, names(entries))
}

func TestSortEntriesByTypeDirectoriesFirst(t *testing.T) {
	entries := []domain.DirEntry{
		{Name: "a.txt"},
		{Name: "zeta", IsDir: true},
		{Name: "b.jpg"},
	}
	SortEntries(entries, SortType, false)
	assert.Equal(t, []string{"zeta", "b.jpg", "a.txt"}, names(entries))

	SortEntries(entries, SortType, true)
	assert.Equal(t, "zeta", entries[0].Name)
}

func TestSortEntriesBySizeAndModified(t *testing.T) {
	entries := []domain.DirEntry{
		{Name: "big", Size: 30, Modified: 1},
		{Name: "Small", Size: 10, Modified: 3},
		{Name: "mid", Size: 20, Modified: 2},
		{Name: "also-mid", Size: 20, Modified: 2},
	}
	SortEntries(entries, SortSize, false)
	assert.Equal(t, []string{"Small", "also-mid", "mid", "big"}, names(entries))

	SortEntries(entries, SortModified, true)
	assert.Equal(t, []string{"Small", "mid", "also-mid", "big"}, names(entries))
}

func TestListDir(t *testing.T) {
	base, reg := fixture(t)
	res := NewResolver(reg)
	drv := NewLocalDriver()
	require.NoError(t, os.WriteFile(filepath.Join(base, "data", "Notes.TXT"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "data", "blob"), []byte("x"), 0o644))

	rp, err := res.Resolve(anyone, "data", "")
	require.NoError(t, err)

	entries, err := drv.ListDir(rp, SortName, false)
	require.NoError(t, err)

	// link_out leaves the root and loop never resolves, so both are hidden.
	assert.Equal(t, []string{"blob", "link_in", "Notes.TXT", "photos"}, names(entries))

	byName := map[string]domain.DirEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.True(t, byName["link_in"].IsDir)
	assert.Equal(t, int64(0), byName["photos"].Size)
	assert.Equal(t, "text/plain", byName["Notes.TXT"].Mime)
	assert.Equal(t, DefaultMime, byName["blob"].Mime)
	assert.Equal(t, int64(5), byName["Notes.TXT"].Size)
	assert.InDelta(t, time.Now().Unix(), byName["blob"].Modified, 60)
}

func TestListDirErrors(t *testing.T) {
	_, reg := fixture(t)
	res := NewResolver(reg)
	drv := NewLocalDriver()

	rp, err := res.Resolve(anyone, "data", "photos/a.jpg")
	require.NoError(t, err)
	_, err = drv.ListDir(rp, SortName, false)
	assert.ErrorIs(t, err, domain.ErrNotADirectory)

	rp, err = res.Resolve(anyone, "data", "missing")
	require.NoError(t, err)
	_, err = drv.ListDir(rp, SortName, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpen(t *testing.T) {
	_, reg := fixture(t)
	res := NewResolver(reg)
	drv := NewLocalDriver()

	rp, err := res.Resolve(anyone, "data", "photos")
	require.NoError(t, err)
	_, _, err = drv.Open(rp)
	assert.ErrorIs(t, err, domain.ErrIsADirectory)

	rp, err = res.Resolve(anyone, "data", "photos/a.jpg")
	require.NoError(t, err)
	f, info, err := drv.Open(rp)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(4), info.Size())
}

// tree builds 3 levels of directories named lvlN each holding match-N.txt files.
func tree(t *testing.T, root string, files int) {
	t.Helper()
	dir := root
	for depth := 0; depth < 3; depth++ {
		for i := 0; i < files; i++ {
			name := fmt.Sprintf("match-%d-%d.txt", depth, i)
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
		}
		dir = filepath.Join(dir, fmt.Sprintf("lvl%d", depth+1))
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
}

func TestSearchLimit(t *testing.T) {
	base, reg := fixture(t)
	tree(t, filepath.Join(base, "data"), 10)
	rp, err := NewResolver(reg).Resolve(anyone, "data", "")
	require.NoError(t, err)

	got, err := NewLocalDriver().Search(context.Background(), rp, "MATCH", 6, 7)
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestSearchDepth(t *testing.T) {
	base, reg := fixture(t)
	tree(t, filepath.Join(base, "data"), 2)
	rp, err := NewResolver(reg).Resolve(anyone, "data", "")
	require.NoError(t, err)

	got, err := NewLocalDriver().Search(context.Background(), rp, "match", 1, 100)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, r := range got {
		assert.LessOrEqual(t, strings.Count(r.Path, "/"), 1, r.Path)
		assert.False(t, r.IsDir)
		assert.Equal(t, int64(1), r.Size)
	}

	got, err = NewLocalDriver().Search(context.Background(), rp, "match", 6, 100)
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestSearchSymlinks(t *testing.T) {
	_, reg := fixture(t)
	rp, err := NewResolver(reg).Resolve(anyone, "data", "")
	require.NoError(t, err)

	// secret.txt is only reachable through link_out, which leaves the root.
	got, err := NewLocalDriver().Search(context.Background(), rp, "secret", 6, 100)
	require.NoError(t, err)
	assert.Empty(t, got)

	// a.jpg is found directly and through link_in, but link_in's target is visited once.
	got, err = NewLocalDriver().Search(context.Background(), rp, "a.jpg", 6, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, []string{"photos/a.jpg", "link_in/a.jpg"}, got[0].Path)

	sub, err := NewResolver(reg).Resolve(anyone, "data", "photos")
	require.NoError(t, err)
	got, err = NewLocalDriver().Search(context.Background(), sub, "a", 0, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "photos/a.jpg", got[0].Path)
}

func TestSaveFile(t *testing.T) {
	base, reg := fixture(t)
	res := NewResolver(reg)
	drv := NewLocalDriver()

	rp, err := res.Resolve(anyone, "data", "uploads/nested/new.txt")
	require.NoError(t, err)
	entry, err := drv.SaveFile(rp, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, "new.txt", entry.Name)
	assert.Equal(t, int64(7), entry.Size)

	raw, err := os.ReadFile(filepath.Join(base, "data", "uploads", "nested", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(raw))

	_, err = drv.SaveFile(rp, strings.NewReader("again"))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	left, err := os.ReadDir(filepath.Join(base, "data", "uploads", "nested"))
	require.NoError(t, err)
	assert.Len(t, left, 1, "temp files must not survive")
}

func TestDelete(t *testing.T) {
	base, reg := fixture(t)
	res := NewResolver(reg)
	drv := NewLocalDriver()
	data := filepath.Join(base, "data")
	require.NoError(t, os.MkdirAll(filepath.Join(data, "empty"), 0o755))

	resolve := func(rel string) domain.ResolvedPath {
		rp, err := res.Resolve(anyone, "data", rel)
		require.NoError(t, err)
		return rp
	}

	assert.ErrorIs(t, drv.Delete(resolve(""), true), domain.ErrNotAllowed)
	assert.ErrorIs(t, drv.Delete(resolve("photos"), false), domain.ErrDirectoryNotEmpty)
	assert.ErrorIs(t, drv.Delete(resolve("gone.txt"), false), domain.ErrNotFound)

	require.NoError(t, drv.Delete(resolve("empty"), false))
	assert.NoDirExists(t, filepath.Join(data, "empty"))

	// Removing the link keeps the directory it points at.
	require.NoError(t, drv.Delete(resolve("link_in"), false))
	assert.NoFileExists(t, filepath.Join(data, "link_in"))
	assert.FileExists(t, filepath.Join(data, "photos", "a.jpg"))

	require.NoError(t, drv.Delete(resolve("photos"), true))
	assert.NoDirExists(t, filepath.Join(data, "photos"))
	assert.FileExists(t, filepath.Join(base, "dataXYZ", "secret.txt"))
}

func TestMakeDir(t *testing.T) {
	base, reg := fixture(t)
	rp, err := NewResolver(reg).Resolve(anyone, "data", "x/y")
	require.NoError(t, err)

	e, err := NewLocalDriver().MakeDir(rp)
	require.NoError(t, err)
	assert.True(t, e.IsDir)
	assert.DirExists(t, filepath.Join(base, "data", "x", "y"))

	file, err := NewResolver(reg).Resolve(anyone, "data", "photos/a.jpg")
	require.NoError(t, err)
	_, err = NewLocalDriver().MakeDir(file)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestMimeAndKind(t *testing.T) {
	assert.Equal(t, "image/jpeg", MimeFor("A.JPG"))
	assert.Equal(t, DefaultMime, MimeFor("README"))
	assert.Equal(t, KindHEIC, KindOf("x.heic"))
	assert.Equal(t, KindImage, KindOf("x.webp"))
	assert.Equal(t, KindVideo, KindOf("x.mkv"))
	assert.Equal(t, KindText, KindOf("x.json"))
	assert.Equal(t, KindOther, KindOf("x.svg"))
}
