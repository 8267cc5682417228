package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"hddbrowser/internal/config"
	"hddbrowser/internal/domain"
	"hddbrowser/internal/infra/filesystem"
	"hddbrowser/internal/infra/index"
	"hddbrowser/internal/infra/media"
	"hddbrowser/internal/logging"
	"hddbrowser/internal/metrics"
)

const (
	minThumbDim  = 16
	maxThumbDim  = 2048
	maxRenderDim = 8192
	sniffBytes   = 3072
)

// snapshot pairs a config with the resolver built from its roots.
type snapshot struct {
	cfg      *config.Config
	resolver *filesystem.Resolver
}

type FilesystemService struct {
	store  *config.Store
	driver *filesystem.LocalDriver
	engine *media.Engine
	index  *index.Store // nil when indexing is off

	snap      atomic.Pointer[snapshot]
	reindexes singleflight.Group
}

func NewFilesystemService(store *config.Store, driver *filesystem.LocalDriver, engine *media.Engine, idx *index.Store) *FilesystemService {
	return &FilesystemService{store: store, driver: driver, engine: engine, index: idx}
}

// current returns the config snapshot for this request, rebuilding the root
// registry when the snapshot changed.
func (s *FilesystemService) current() *snapshot {
	cfg := s.store.Load()
	if sn := s.snap.Load(); sn != nil && sn.cfg == cfg {
		return sn
	}
	sn := &snapshot{cfg: cfg, resolver: filesystem.NewResolver(filesystem.NewRegistry(cfg.Roots))}
	s.snap.Store(sn)
	return sn
}

func (s *FilesystemService) Config() *config.Config {
	return s.current().cfg
}

func (s *FilesystemService) Registry() *filesystem.Registry {
	return s.current().resolver.Registry()
}

func (s *FilesystemService) Engine() *media.Engine {
	return s.engine
}

func (s *FilesystemService) resolve(p domain.Principal, rootID, rel string) (domain.ResolvedPath, *config.Config, error) {
	sn := s.current()
	rp, err := sn.resolver.Resolve(p, rootID, rel)
	return rp, sn.cfg, err
}

// browse resolves a path for a read operation.
func (s *FilesystemService) browse(p domain.Principal, rootID, rel string) (domain.ResolvedPath, *config.Config, error) {
	if !p.Can(domain.CapBrowse) {
		return domain.ResolvedPath{}, nil, fmt.Errorf("browse: %w", domain.ErrNotAllowed)
	}
	return s.resolve(p, rootID, rel)
}

// Roots lists the roots p may browse.
func (s *FilesystemService) Roots(p domain.Principal) []domain.Root {
	if !p.Can(domain.CapBrowse) {
		return []domain.Root{}
	}
	return s.Registry().Effective(p)
}

type Me struct {
	Username     string          `json:"username"`
	Capabilities []string        `json:"capabilities"`
	Features     config.Features `json:"features"`
	Roots        []domain.Root   `json:"roots"`
}

// Me describes the caller and which switches are on, so clients can hide controls.
func (s *FilesystemService) Me(p domain.Principal) Me {
	cfg := s.Config()
	return Me{
		Username:     p.Username,
		Capabilities: p.Caps.Names(),
		Features:     cfg.Features,
		Roots:        s.Roots(p),
	}
}

// List returns one directory level, optionally paginated (page is 1-based).
func (s *FilesystemService) List(p domain.Principal, rootID, rel, sortKey string, desc bool, page, pageSize int) (domain.Listing, error) {
	rp, _, err := s.browse(p, rootID, rel)
	if err != nil {
		return domain.Listing{}, err
	}
	switch sortKey {
	case "":
		sortKey = filesystem.SortName
	case filesystem.SortName, filesystem.SortType, filesystem.SortSize, filesystem.SortModified:
	default:
		return domain.Listing{}, fmt.Errorf("sort %q: %w", sortKey, domain.ErrInvalidRequest)
	}

	entries, err := s.driver.ListDir(rp, sortKey, desc)
	if err != nil {
		return domain.Listing{}, err
	}

	out := domain.Listing{Path: rp.Rel, Entries: entries, Total: len(entries)}
	if page > 0 && pageSize > 0 {
		start := min((page-1)*pageSize, len(entries))
		end := min(start+pageSize, len(entries))
		out.Entries = entries[start:end]
		out.Page, out.PageSize = page, pageSize
		out.HasMore = end < len(entries)
	}
	return out, nil
}

// Preview returns metadata, plus the leading text for text-like files.
func (s *FilesystemService) Preview(p domain.Principal, rootID, rel string) (domain.Preview, error) {
	rp, cfg, err := s.browse(p, rootID, rel)
	if err != nil {
		return domain.Preview{}, err
	}
	f, info, err := s.driver.Open(rp)
	if err != nil {
		return domain.Preview{}, err
	}
	defer f.Close()

	out := domain.Preview{Name: info.Name(), Size: info.Size(), Mime: filesystem.MimeFor(info.Name())}

	textLike := filesystem.KindOfMime(out.Mime) == filesystem.KindText
	if out.Mime == filesystem.DefaultMime {
		// No useful extension: sniff the head of the file.
		head := make([]byte, sniffBytes)
		n, _ := io.ReadFull(f, head)
		if mt := mimetype.Detect(head[:n]); mt.Is("text/plain") || filesystem.KindOfMime(baseMime(mt.String())) == filesystem.KindText {
			textLike = true
			out.Mime = baseMime(mt.String())
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return domain.Preview{}, fmt.Errorf("seek %s: %w", rp.Rel, err)
		}
	}
	if !textLike {
		return out, nil
	}

	buf, err := io.ReadAll(io.LimitReader(f, cfg.MaxTextPreviewBytes))
	if err != nil {
		return domain.Preview{}, fmt.Errorf("read %s: %w", rp.Rel, err)
	}
	text := string(buf)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	out.Text = &text
	out.Truncated = info.Size() > cfg.MaxTextPreviewBytes
	return out, nil
}

func baseMime(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		return strings.TrimSpace(ct[:i])
	}
	return ct
}

// OpenFile opens a regular file for download or range streaming.
func (s *FilesystemService) OpenFile(p domain.Principal, rootID, rel string) (*os.File, os.FileInfo, string, error) {
	rp, _, err := s.browse(p, rootID, rel)
	if err != nil {
		return nil, nil, "", err
	}
	f, info, err := s.driver.Open(rp)
	if err != nil {
		return nil, nil, "", err
	}
	return f, info, filesystem.MimeFor(info.Name()), nil
}

// ThumbSize clamps a requested size to the accepted window, else the default.
func ThumbSize(requested, fallback int) int {
	if requested > minThumbDim && requested <= maxThumbDim {
		return requested
	}
	return fallback
}

func (s *FilesystemService) Thumbnail(ctx context.Context, p domain.Principal, rootID, rel string, size int, refresh bool) (media.Thumb, error) {
	cfg := s.Config()
	if !cfg.Features.Thumbnails {
		return media.Thumb{}, fmt.Errorf("thumbnails: %w", domain.ErrFeatureDisabled)
	}
	rp, cfg, err := s.browse(p, rootID, rel)
	if err != nil {
		return media.Thumb{}, err
	}
	return s.engine.Thumbnail(ctx, rp, ThumbSize(size, cfg.ThumbMaxDim), media.Options{
		Refresh: refresh,
		HEIC:    cfg.Features.HEICConversion,
	})
}

// Render produces a viewer sized image. Passthrough results carry the open file.
func (s *FilesystemService) Render(ctx context.Context, p domain.Principal, rootID, rel string, maxDim int) (media.Rendered, *os.File, os.FileInfo, error) {
	rp, cfg, err := s.browse(p, rootID, rel)
	if err != nil {
		return media.Rendered{}, nil, nil, err
	}
	maxDim = max(0, min(maxDim, maxRenderDim))
	r, err := s.engine.Render(ctx, rp, maxDim, media.Options{HEIC: cfg.Features.HEICConversion})
	if err != nil || !r.Passthrough {
		return r, nil, nil, err
	}
	f, info, err := s.driver.Open(rp)
	if err != nil {
		return media.Rendered{}, nil, nil, err
	}
	return r, f, info, nil
}

// Search looks for names containing query below rel. Negative depth or limit
// take the configured defaults; limit never exceeds MAX_SEARCH_RESULTS.
func (s *FilesystemService) Search(ctx context.Context, p domain.Principal, rootID, rel, query string, depth, limit int) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query: %w", domain.ErrInvalidRequest)
	}
	rp, cfg, err := s.browse(p, rootID, rel)
	if err != nil {
		return nil, err
	}
	if depth < 0 {
		depth = cfg.SearchDefaultDepth
	}
	if limit <= 0 || limit > cfg.MaxSearchResults {
		limit = cfg.MaxSearchResults
	}
	return s.driver.Search(ctx, rp, query, depth, limit)
}

func (s *FilesystemService) requireFeature(enabled bool, p domain.Principal, c domain.Capability, name string) error {
	if !enabled {
		return fmt.Errorf("%s: %w", name, domain.ErrFeatureDisabled)
	}
	if !p.Can(c) {
		return fmt.Errorf("%s: %w", name, domain.ErrNotAllowed)
	}
	return nil
}

// UploadItem is one file of a multipart upload. Name may contain "/" for
// directory uploads.
type UploadItem struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Upload stores each item below dir. Items succeed or fail independently.
func (s *FilesystemService) Upload(ctx context.Context, p domain.Principal, rootID, dir string, items []UploadItem) ([]domain.ItemResult, error) {
	if err := s.requireFeature(s.Config().Features.Upload, p, domain.CapUpload, "upload"); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no files: %w", domain.ErrInvalidRequest)
	}
	// The target directory must resolve even if it does not exist yet.
	if _, _, err := s.resolve(p, rootID, dir); err != nil {
		return nil, err
	}

	log := logging.WithContext(ctx)
	results := make([]domain.ItemResult, 0, len(items))
	touched := false
	for _, item := range items {
		rel := strings.Trim(dir, "/")
		if rel != "" {
			rel += "/"
		}
		rel += item.Name

		res := domain.ItemResult{Path: item.Name}
		entry, err := s.saveOne(p, rootID, rel, item)
		if err != nil {
			res.Error, res.Code = domain.PublicMessage(err), domain.Code(err)
			log.Warn("upload item failed", zap.String("root", rootID), zap.String("path", rel), zap.Error(err))
		} else {
			res.OK, res.Entry = true, &entry
			touched = true
		}
		metrics.RecordMutation("upload", err == nil)
		results = append(results, res)
	}
	if touched {
		s.reindexLater(rootID)
	}
	return results, nil
}

func (s *FilesystemService) saveOne(p domain.Principal, rootID, rel string, item UploadItem) (domain.DirEntry, error) {
	if item.Name == "" || strings.HasSuffix(item.Name, "/") {
		return domain.DirEntry{}, fmt.Errorf("file name %q: %w", item.Name, domain.ErrInvalidRequest)
	}
	rp, _, err := s.resolve(p, rootID, rel)
	if err != nil {
		return domain.DirEntry{}, err
	}
	src, err := item.Open()
	if err != nil {
		return domain.DirEntry{}, fmt.Errorf("open upload %s: %w", item.Name, err)
	}
	defer src.Close()
	return s.driver.SaveFile(rp, src)
}

// MakeDir creates a directory; it rides on the upload switch and capability.
func (s *FilesystemService) MakeDir(p domain.Principal, rootID, rel string) (domain.DirEntry, error) {
	if err := s.requireFeature(s.Config().Features.Upload, p, domain.CapUpload, "mkdir"); err != nil {
		return domain.DirEntry{}, err
	}
	rp, _, err := s.resolve(p, rootID, rel)
	if err != nil {
		return domain.DirEntry{}, err
	}
	if rp.Rel == "" {
		return domain.DirEntry{}, fmt.Errorf("empty path: %w", domain.ErrInvalidRequest)
	}
	entry, err := s.driver.MakeDir(rp)
	if err == nil {
		s.reindexLater(rootID)
	}
	return entry, err
}

// Delete removes every requested path independently and reports per item.
func (s *FilesystemService) Delete(ctx context.Context, p domain.Principal, req domain.DeleteRequest) ([]domain.ItemResult, error) {
	if err := s.requireFeature(s.Config().Features.Delete, p, domain.CapDelete, "delete"); err != nil {
		return nil, err
	}

	var paths []string
	seen := map[string]bool{}
	for _, path := range append([]string{req.Path}, req.Paths...) {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths: %w", domain.ErrInvalidRequest)
	}

	log := logging.WithContext(ctx)
	results := make([]domain.ItemResult, 0, len(paths))
	touched := false
	for _, path := range paths {
		res := domain.ItemResult{Path: path}
		rp, _, err := s.resolve(p, req.Root, path)
		if err == nil {
			err = s.driver.Delete(rp, req.Recursive)
		}
		if err != nil {
			res.Error, res.Code = domain.PublicMessage(err), domain.Code(err)
			log.Warn("delete item failed", zap.String("root", req.Root), zap.String("path", path), zap.Error(err))
		} else {
			res.OK = true
			touched = true
		}
		metrics.RecordMutation("delete", err == nil)
		results = append(results, res)
	}
	if touched {
		s.reindexLater(req.Root)
	}
	return results, nil
}

// AllOK reports whether every item in a batch succeeded.
func AllOK(results []domain.ItemResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}
