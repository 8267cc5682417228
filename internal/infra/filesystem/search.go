package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"hddbrowser/internal/domain"
)

type searchDir struct {
	path  string
	rel   string
	depth int
}

// Search walks start breadth first looking for names containing query (case
// insensitive). Directories at depth <= maxDepth have their children examined, so
// maxDepth 1 yields paths with at most one separator below start. It stops at
// limit results.
// Symlinked directories are followed only while their target stays in the root.
// Result paths are relative to the root, not to start.
func (d *LocalDriver) Search(ctx context.Context, start domain.ResolvedPath, query string, maxDepth, limit int) ([]domain.SearchResult, error) {
	info, err := statResolved(start)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", start.Rel, domain.ErrNotADirectory)
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" || limit <= 0 {
		return []domain.SearchResult{}, nil
	}

	results := make([]domain.SearchResult, 0, min(limit, 64))
	visited := map[string]bool{start.Path: true}
	queue := []searchDir{{path: start.Path, rel: start.Rel, depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		cur := queue[0]
		queue = queue[1:]

		children, err := os.ReadDir(cur.path)
		if err != nil {
			continue
		}
		for _, child := range children {
			name := child.Name()
			rel := name
			if cur.rel != "" {
				rel = cur.rel + "/" + name
			}

			childPath := filepath.Join(cur.path, name)
			isDir := child.IsDir()
			var size int64
			if child.Type()&fs.ModeSymlink != 0 {
				target, err := filepath.EvalSymlinks(childPath)
				if err != nil || !within(start.Root.Path, target) {
					continue
				}
				ti, err := os.Stat(target)
				if err != nil {
					continue
				}
				childPath, isDir = target, ti.IsDir()
				if !isDir {
					size = ti.Size()
				}
			} else if !isDir {
				if fi, err := child.Info(); err == nil {
					size = fi.Size()
				}
			}

			if strings.Contains(strings.ToLower(name), needle) {
				results = append(results, domain.SearchResult{Path: rel, IsDir: isDir, Size: size})
				if len(results) >= limit {
					return results, nil
				}
			}

			if isDir && cur.depth+1 <= maxDepth && !visited[childPath] {
				visited[childPath] = true
				queue = append(queue, searchDir{path: childPath, rel: rel, depth: cur.depth + 1})
			}
		}
	}
	return results, nil
}
