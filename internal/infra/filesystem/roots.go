package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hddbrowser/internal/config"
	"hddbrowser/internal/domain"
)

// Registry holds the global allow-list of roots. It is read-only after construction;
// a config reload builds a new one.
type Registry struct {
	roots []domain.Root
	byID  map[string]domain.Root
}

// NewRegistry canonicalizes each configured root. Roots that do not exist yet stay
// listed (admin stats report them) but are never handed to a principal.
func NewRegistry(specs []config.RootSpec) *Registry {
	r := &Registry{byID: make(map[string]domain.Root)}
	seen := make(map[string]bool)
	for _, s := range specs {
		path := filepath.Clean(s.Path)
		if real, err := filepath.EvalSymlinks(path); err == nil {
			path = real
		}
		if seen[path] {
			continue
		}
		if _, dup := r.byID[s.ID]; dup {
			continue
		}
		seen[path] = true
		root := domain.Root{ID: s.ID, Path: path, Available: isDir(path)}
		r.roots = append(r.roots, root)
		r.byID[s.ID] = root
	}
	return r
}

// Global returns every configured root with a fresh availability flag.
func (r *Registry) Global() []domain.Root {
	out := make([]domain.Root, len(r.roots))
	for i, root := range r.roots {
		root.Available = isDir(root.Path)
		out[i] = root
	}
	return out
}

// Effective returns the roots p may use: its configured restrictions (or every
// global root when it has none) intersected with the global set. Entries that are
// missing, not directories, or outside every global root are dropped.
func (r *Registry) Effective(p domain.Principal) []domain.Root {
	if len(p.Roots) == 0 {
		out := make([]domain.Root, 0, len(r.roots))
		for _, root := range r.roots {
			if isDir(root.Path) {
				root.Available = true
				out = append(out, root)
			}
		}
		return out
	}

	var out []domain.Root
	seen := make(map[string]bool)
	for _, raw := range p.Roots {
		root, ok := r.restrict(raw)
		if !ok || seen[root.Path] {
			continue
		}
		seen[root.Path] = true
		out = append(out, root)
	}
	return out
}

// Lookup finds id among the effective roots of p.
func (r *Registry) Lookup(p domain.Principal, id string) (domain.Root, error) {
	for _, root := range r.Effective(p) {
		if root.ID == id {
			return root, nil
		}
	}
	return domain.Root{}, fmt.Errorf("root %q: %w", id, domain.ErrNotAllowed)
}

// restrict maps one configured principal root (an absolute path, or a global root
// id) onto the global set.
func (r *Registry) restrict(raw string) (domain.Root, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Root{}, false
	}
	if g, ok := r.byID[raw]; ok && isDir(g.Path) {
		g.Available = true
		return g, true
	}
	if !filepath.IsAbs(raw) {
		return domain.Root{}, false
	}
	real, err := filepath.EvalSymlinks(filepath.Clean(raw))
	if err != nil || !isDir(real) {
		return domain.Root{}, false
	}

	// Prefer the innermost global root when roots nest.
	var best domain.Root
	found := false
	for _, g := range r.roots {
		if within(g.Path, real) && (!found || len(g.Path) > len(best.Path)) {
			best, found = g, true
		}
	}
	if !found {
		return domain.Root{}, false
	}
	if real == best.Path {
		best.Available = true
		return best, true
	}
	rel, err := filepath.Rel(best.Path, real)
	if err != nil {
		return domain.Root{}, false
	}
	rel = filepath.ToSlash(rel)
	return domain.Root{
		ID:        best.ID + "/" + rel,
		Path:      real,
		Parent:    best.ID,
		Rel:       rel,
		Available: true,
	}, true
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// within reports whether p equals root or lies below it on a separator boundary,
// so /mnt/dataXYZ is not inside /mnt/data.
func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
