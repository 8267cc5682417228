package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hddbrowser/internal/domain"
	"hddbrowser/internal/infra/index"
	"hddbrowser/internal/logging"
	"hddbrowser/internal/metrics"
)

const maxIndexedPerRoot = 2_000_000

// StartIndexing keeps the SQLite index fresh until ctx is cancelled.
func (s *FilesystemService) StartIndexing(ctx context.Context) {
	if s.index == nil {
		return
	}
	interval := s.Config().IndexInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.ReindexAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReindexAll(ctx)
		}
	}
}

// ReindexAll rescans every available global root concurrently.
func (s *FilesystemService) ReindexAll(ctx context.Context) error {
	if s.index == nil {
		return fmt.Errorf("index: %w", domain.ErrFeatureDisabled)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, root := range s.Registry().Global() {
		if !root.Available {
			continue
		}
		root := root
		g.Go(func() error {
			return s.reindexRoot(ctx, root)
		})
	}
	return g.Wait()
}

func (s *FilesystemService) reindexRoot(ctx context.Context, root domain.Root) error {
	start := time.Now()
	files, err := index.Scan(ctx, root, s.cacheDir(), maxIndexedPerRoot)
	if err != nil {
		logging.Warn("index scan failed", zap.String("root", root.ID), zap.Error(err))
		return err
	}
	if err := s.index.Replace(ctx, root.ID, files); err != nil {
		logging.Error("index update failed", zap.String("root", root.ID), zap.Error(err))
		return err
	}
	metrics.SetIndexedFiles(root.ID, len(files))
	logging.Info("indexed root",
		zap.String("root", root.ID),
		zap.Int("files", len(files)),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (s *FilesystemService) cacheDir() string {
	if s.engine == nil {
		return ""
	}
	dir, err := filepath.Abs(s.engine.Cache().Dir())
	if err != nil {
		return ""
	}
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		return real
	}
	return dir
}

// reindexLater rescans the global root behind rootID after a mutation.
// Concurrent requests for the same root collapse into one scan.
func (s *FilesystemService) reindexLater(rootID string) {
	if s.index == nil {
		return
	}
	gid, _, _ := strings.Cut(rootID, "/")
	for _, root := range s.Registry().Global() {
		if root.ID != gid || !root.Available {
			continue
		}
		root := root
		go s.reindexes.Do(root.ID, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			return nil, s.reindexRoot(ctx, root)
		})
	}
}

type RecentFiles struct {
	Files  []domain.IndexedFile `json:"files"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// Recent lists recently modified files below rel using the index. Paths in
// the result are relative to the requested root.
func (s *FilesystemService) Recent(ctx context.Context, p domain.Principal, rootID, rel string, extensions []string, days, limit, offset int) (RecentFiles, error) {
	if s.index == nil {
		return RecentFiles{}, fmt.Errorf("index: %w", domain.ErrFeatureDisabled)
	}
	rp, cfg, err := s.browse(p, rootID, rel)
	if err != nil {
		return RecentFiles{}, err
	}
	if limit <= 0 || limit > cfg.MaxSearchResults {
		limit = min(50, cfg.MaxSearchResults)
	}

	indexRoot, prefix := rp.Root.ID, rp.Rel
	if rp.Root.Parent != "" {
		indexRoot = rp.Root.Parent
		prefix = joinRel(rp.Root.Rel, rp.Rel)
	}

	files, total, err := s.index.Recent(ctx, index.RecentQuery{
		Root:       indexRoot,
		Prefix:     prefix,
		Extensions: extensions,
		Days:       days,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return RecentFiles{}, err
	}
	if rp.Root.Parent != "" {
		for i := range files {
			files[i].Path = strings.TrimPrefix(files[i].Path, rp.Root.Rel+"/")
		}
	}
	return RecentFiles{Files: files, Total: total, Limit: limit, Offset: max(offset, 0)}, nil
}

func joinRel(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "/" + b
}

func (s *FilesystemService) IndexEnabled() bool {
	return s.index != nil
}
