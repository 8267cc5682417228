package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"hddbrowser/internal/domain"
	"hddbrowser/internal/logging"
	"hddbrowser/internal/metrics"
)

// Resolver is the only place caller supplied paths become filesystem paths.
type Resolver struct {
	reg *Registry
}

func NewResolver(reg *Registry) *Resolver {
	return &Resolver{reg: reg}
}

func (r *Resolver) Registry() *Registry {
	return r.reg
}

// Resolve maps (rootID, rel) for principal p to a canonical path inside the root.
// The target itself need not exist; missing tails are re-appended to the canonical
// form of their deepest existing ancestor.
func (r *Resolver) Resolve(p domain.Principal, rootID, rel string) (domain.ResolvedPath, error) {
	root, err := r.reg.Lookup(p, rootID)
	if err != nil {
		metrics.RecordResolverRejection("root")
		return domain.ResolvedPath{}, err
	}

	clean, err := CleanRelative(rel)
	if err != nil {
		metrics.RecordResolverRejection("syntax")
		logging.Warn("rejected path", zap.String("root", rootID), zap.String("path", rel), zap.Error(err))
		return domain.ResolvedPath{}, err
	}

	lexical := root.Path
	if clean != "" {
		lexical = filepath.Join(root.Path, filepath.FromSlash(clean))
	}

	canonical, err := canonicalize(lexical)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			metrics.RecordResolverRejection("symlink")
		}
		return domain.ResolvedPath{}, err
	}
	if !within(root.Path, canonical) {
		metrics.RecordResolverRejection("escape")
		logging.Warn("path escapes root", zap.String("root", rootID), zap.String("path", rel))
		return domain.ResolvedPath{}, fmt.Errorf("%q: %w", rel, domain.ErrForbidden)
	}

	return domain.ResolvedPath{Root: root, Path: canonical, Lexical: lexical, Rel: clean}, nil
}

// CleanRelative validates a caller supplied relative path without touching the
// filesystem and returns it slash separated with empty and "." segments removed.
func CleanRelative(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("nul byte in path: %w", domain.ErrForbidden)
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("absolute path %q: %w", rel, domain.ErrForbidden)
	}
	parts := strings.FieldsFunc(rel, func(c rune) bool { return c == '/' || c == '\\' })
	out := parts[:0]
	for _, part := range parts {
		switch part {
		case "..":
			return "", fmt.Errorf("parent segment in %q: %w", rel, domain.ErrForbidden)
		case ".":
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, "/"), nil
}

func canonicalize(lexical string) (string, error) {
	real, err := filepath.EvalSymlinks(lexical)
	if err == nil {
		return real, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", classify(lexical, err)
	}

	// Walk up to the deepest ancestor that exists.
	dir := lexical
	var tail []string
	for {
		if _, statErr := os.Lstat(dir); statErr == nil {
			break
		} else if !errors.Is(statErr, fs.ErrNotExist) {
			return "", classify(lexical, statErr)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s: %w", lexical, domain.ErrNotFound)
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
	}

	base, err := filepath.EvalSymlinks(dir)
	if err != nil {
		// Dangling symlink on the way down.
		return "", classify(lexical, err)
	}
	return filepath.Join(append([]string{base}, tail...)...), nil
}

func classify(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", path, domain.ErrForbidden)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	// Symlink loops and anything else unexpected are refused.
	return fmt.Errorf("%s: %v: %w", path, err, domain.ErrForbidden)
}
