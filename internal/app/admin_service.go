package app

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hddbrowser/internal/config"
	"hddbrowser/internal/domain"
	"hddbrowser/internal/logging"
)

const cacheUsageBudget = 2 * time.Second

type RootScan struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Files     int    `json:"files"`
	Dirs      int    `json:"dirs"`
	Bytes     int64  `json:"bytes"`
	Partial   bool   `json:"partial"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type UnreachableRoot struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type DeviceCapacity struct {
	Roots      []string `json:"roots"`
	TotalBytes uint64   `json:"total_bytes"`
	UsedBytes  uint64   `json:"used_bytes"`
	FreeBytes  uint64   `json:"free_bytes"`
	Human      string   `json:"human"`
}

type Stats struct {
	Roots       []RootScan        `json:"roots"`
	Unreachable []UnreachableRoot `json:"unreachable_roots"`

	TotalFiles int   `json:"total_files"`
	TotalDirs  int   `json:"total_dirs"`
	TotalBytes int64 `json:"total_bytes"`

	CapacityTotal uint64           `json:"capacity_total_bytes"`
	CapacityUsed  uint64           `json:"capacity_used_bytes"`
	CapacityFree  uint64           `json:"capacity_free_bytes"`
	Devices       []DeviceCapacity `json:"capacity_per_device"`

	ThumbCacheFiles int    `json:"thumb_cache_files"`
	ThumbCacheBytes int64  `json:"thumb_cache_bytes"`
	ThumbCacheHuman string `json:"thumb_cache_human"`

	UptimeSec int64           `json:"uptime_sec"`
	Uptime    string          `json:"uptime"`
	Features  config.Features `json:"features"`
	Partial   bool            `json:"partial"`
}

type AdminService struct {
	fs      *FilesystemService
	store   *config.Store
	started time.Time

	reindexing sync.Mutex
}

func NewAdminService(fs *FilesystemService, store *config.Store) *AdminService {
	return &AdminService{fs: fs, store: store, started: time.Now()}
}

// Stats aggregates reachability, quick scans, capacity and cache usage. Every
// part is time boxed; anything cut short sets Partial.
func (a *AdminService) Stats(ctx context.Context) (Stats, error) {
	cfg := a.store.Load()
	out := Stats{
		Roots:       []RootScan{},
		Unreachable: []UnreachableRoot{},
		Devices:     []DeviceCapacity{},
		Features:    cfg.Features,
	}

	var reachable []domain.Root
	for _, root := range a.fs.Registry().Global() {
		ok, reason := reachableDir(ctx, root.Path, cfg.Admin.RootCheckTimeout)
		if !ok {
			out.Unreachable = append(out.Unreachable, UnreachableRoot{ID: root.ID, Path: root.Path, Reason: reason})
			continue
		}
		reachable = append(reachable, root)
	}

	scans := make([]RootScan, len(reachable))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range reachable {
		i, root := i, root
		g.Go(func() error {
			scans[i] = scanQuick(gctx, root, cfg.Admin)
			return nil
		})
	}

	var (
		cacheFiles   int
		cacheBytes   int64
		cachePartial bool
	)
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, cacheUsageBudget)
		defer cancel()
		var err error
		cacheFiles, cacheBytes, cachePartial, err = a.fs.Engine().Cache().Usage(cctx)
		if err != nil {
			logging.Warn("thumbnail cache usage failed", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	for _, s := range scans {
		out.Roots = append(out.Roots, s)
		out.TotalFiles += s.Files
		out.TotalDirs += s.Dirs
		out.TotalBytes += s.Bytes
		out.Partial = out.Partial || s.Partial
	}

	out.Devices = capacity(reachable)
	for _, d := range out.Devices {
		out.CapacityTotal += d.TotalBytes
		out.CapacityUsed += d.UsedBytes
		out.CapacityFree += d.FreeBytes
	}

	out.ThumbCacheFiles, out.ThumbCacheBytes = cacheFiles, cacheBytes
	out.ThumbCacheHuman = humanize.Bytes(uint64(cacheBytes))
	out.Partial = out.Partial || cachePartial || len(out.Unreachable) > 0

	up := time.Since(a.started)
	out.UptimeSec = int64(up.Seconds())
	out.Uptime = humanize.RelTime(a.started, time.Now(), "", "")

	logging.WithContext(ctx).Info("admin stats",
		zap.Int("reachable", len(reachable)),
		zap.Int("unreachable", len(out.Unreachable)),
		zap.String("bytes", humanize.Bytes(uint64(out.TotalBytes))),
		zap.Bool("partial", out.Partial))
	return out, nil
}

// reachableDir stats path in the background so a hung mount cannot stall the
// caller past timeout.
func reachableDir(ctx context.Context, path string, timeout time.Duration) (bool, string) {
	done := make(chan bool, 1)
	go func() {
		info, err := os.Stat(path)
		done <- err == nil && info.IsDir()
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ok := <-done:
		if !ok {
			return false, "not_dir"
		}
		return true, ""
	case <-t.C:
		return false, "timeout"
	case <-ctx.Done():
		return false, "timeout"
	}
}

func scanQuick(ctx context.Context, root domain.Root, limits config.AdminStats) RootScan {
	start := time.Now()
	deadline := start.Add(limits.TimeBudget)
	res := RootScan{ID: root.ID, Path: root.Path}

	count := 0
	_ = filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root.Path {
				return fs.SkipDir
			}
			return nil
		}
		if path == root.Path {
			return nil
		}
		if ctx.Err() != nil || count >= limits.MaxEntries || time.Now().After(deadline) {
			res.Partial = true
			return fs.SkipAll
		}
		count++
		if d.IsDir() {
			res.Dirs++
			return nil
		}
		res.Files++
		if limits.CountBytes {
			if info, err := d.Info(); err == nil {
				res.Bytes += info.Size()
			}
		}
		return nil
	})
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res
}

// SetFeatures toggles feature switches in memory; nil fields keep their value.
func (a *AdminService) SetFeatures(req domain.FeaturesRequest) config.Features {
	cfg := a.store.UpdateFeatures(func(f *config.Features) {
		set := func(dst *bool, v *bool) {
			if v != nil {
				*dst = *v
			}
		}
		set(&f.Upload, req.Uploads)
		set(&f.Delete, req.Delete)
		set(&f.Thumbnails, req.Thumbnails)
		set(&f.HEICConversion, req.HEICConversion)
	})
	logging.Info("features updated",
		zap.Bool("uploads", cfg.Features.Upload),
		zap.Bool("delete", cfg.Features.Delete),
		zap.Bool("thumbnails", cfg.Features.Thumbnails),
		zap.Bool("heic_conversion", cfg.Features.HEICConversion))
	return cfg.Features
}

// Reindex rebuilds the file index now. It fails with ErrBusy while another
// rebuild is running.
func (a *AdminService) Reindex(ctx context.Context) error {
	if !a.fs.IndexEnabled() {
		return fmt.Errorf("index: %w", domain.ErrFeatureDisabled)
	}
	if !a.reindexing.TryLock() {
		return fmt.Errorf("reindex: %w", domain.ErrBusy)
	}
	defer a.reindexing.Unlock()
	return a.fs.ReindexAll(ctx)
}

// StartReindex claims the rebuild and runs it in the background, bounded by
// timeout. It returns the same errors as Reindex without waiting for the scan.
func (a *AdminService) StartReindex(timeout time.Duration) error {
	if !a.fs.IndexEnabled() {
		return fmt.Errorf("index: %w", domain.ErrFeatureDisabled)
	}
	if !a.reindexing.TryLock() {
		return fmt.Errorf("reindex: %w", domain.ErrBusy)
	}
	go func() {
		defer a.reindexing.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.fs.ReindexAll(ctx); err != nil {
			logging.Warn("reindex failed", zap.Error(err))
		}
	}()
	return nil
}
