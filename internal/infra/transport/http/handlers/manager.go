package handlers

import (
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"

	"hddbrowser/internal/app"
	"hddbrowser/internal/domain"
	"hddbrowser/internal/infra/transport/http/middleware"
)

const thumbCacheControl = "public, max-age=604800, immutable"

type FileManagerHandler struct {
	service *app.FilesystemService
}

func NewFileManagerHandler(service *app.FilesystemService) *FileManagerHandler {
	return &FileManagerHandler{service: service}
}

func queryFlag(c *fiber.Ctx, key string) bool {
	switch strings.ToLower(c.Query(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// target reads the root and path query parameters shared by most routes.
func target(c *fiber.Ctx) (string, string, bool) {
	root := c.Query("root")
	return root, c.Query("path"), root != ""
}

// GET /api/roots
func (h *FileManagerHandler) ListRoots(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"roots": h.service.Roots(middleware.Principal(c)),
	})
}

// GET /api/me
func (h *FileManagerHandler) Me(c *fiber.Ctx) error {
	return c.JSON(h.service.Me(middleware.Principal(c)))
}

// GET /api/list?root=data&path=photos&sort=name&order=asc&page=1&page_size=100
func (h *FileManagerHandler) ListFiles(c *fiber.Ctx) error {
	root, path, ok := target(c)
	if !ok {
		return badRequest(c, "root parameter is required")
	}

	listing, err := h.service.List(middleware.Principal(c), root, path,
		c.Query("sort"), strings.EqualFold(c.Query("order"), "desc"),
		c.QueryInt("page", 0), c.QueryInt("page_size", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(listing)
}

// GET /api/preview?root=data&path=notes.txt
func (h *FileManagerHandler) Preview(c *fiber.Ctx) error {
	root, path, ok := target(c)
	if !ok {
		return badRequest(c, "root parameter is required")
	}

	preview, err := h.service.Preview(middleware.Principal(c), root, path)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(preview)
}

// GET /api/download?root=data&path=some/file.txt
func (h *FileManagerHandler) Download(c *fiber.Ctx) error {
	return h.sendFile(c, "attachment", "download")
}

// GET /api/stream?root=data&path=movie.mp4 (honors Range)
func (h *FileManagerHandler) Stream(c *fiber.Ctx) error {
	return h.sendFile(c, "inline", "stream")
}

func (h *FileManagerHandler) sendFile(c *fiber.Ctx, disposition, kind string) error {
	root, path, ok := target(c)
	if !ok {
		return badRequest(c, "root parameter is required")
	}
	if path == "" {
		return badRequest(c, "path is required")
	}

	f, info, contentType, err := h.service.OpenFile(middleware.Principal(c), root, path)
	if err != nil {
		return respondError(c, err)
	}
	return serveFile(c, f, info, contentType, disposition, kind)
}

// GET /api/thumb?root=data&path=photos/a.jpg&size=180&refresh=1
func (h *FileManagerHandler) Thumbnail(c *fiber.Ctx) error {
	root, path, ok := target(c)
	if !ok {
		return badRequest(c, "root parameter is required")
	}

	thumb, err := h.service.Thumbnail(c.UserContext(), middleware.Principal(c), root, path,
		c.QueryInt("size", 0), queryFlag(c, "refresh"))
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, thumbCacheControl)
	c.Set(fiber.HeaderETag, `"`+strings.TrimSuffix(thumb.Key, ".jpg")+`"`)
	if thumb.Hit {
		c.Set("X-Thumb-Cache", "hit")
	} else {
		c.Set("X-Thumb-Cache", "miss")
	}
	return c.Send(thumb.Data)
}

// GET /api/render?root=data&path=photos/a.heic&max_dim=2048
func (h *FileManagerHandler) Render(c *fiber.Ctx) error {
	root, path, ok := target(c)
	if !ok {
		return badRequest(c, "root parameter is required")
	}

	r, f, info, err := h.service.Render(c.UserContext(), middleware.Principal(c), root, path, c.QueryInt("max_dim", 0))
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
	if r.Passthrough {
		return serveFile(c, f, info, r.ContentType, "inline", "render")
	}
	c.Set(fiber.HeaderContentType, r.ContentType)
	return c.Send(r.Data)
}

// GET /api/search?root=data&path=photos&q=beach&depth=3&limit=100
func (h *FileManagerHandler) Search(c *fiber.Ctx) error {
	root, path, ok := target(c)
	if !ok {
		return badRequest(c, "root parameter is required")
	}
	query := c.Query("q")

	results, err := h.service.Search(c.UserContext(), middleware.Principal(c), root, path, query,
		c.QueryInt("depth", -1), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"query":   query,
		"results": results,
	})
}

// GET /api/recent?root=data&path=photos&ext=jpg,png&days=7&limit=50&offset=0
func (h *FileManagerHandler) Recent(c *fiber.Ctx) error {
	root, path, ok := target(c)
	if !ok {
		return badRequest(c, "root parameter is required")
	}

	var extensions []string
	if ext := c.Query("ext"); ext != "" {
		for _, e := range strings.Split(ext, ",") {
			if e = strings.TrimSpace(e); e != "" {
				extensions = append(extensions, e)
			}
		}
	}

	recent, err := h.service.Recent(c.UserContext(), middleware.Principal(c), root, path, extensions,
		c.QueryInt("days", 0), c.QueryInt("limit", 0), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(recent)
}

// POST /api/upload?root=data&path=target/folder (multipart "files", optional
// "relpath" per file for folder uploads)
func (h *FileManagerHandler) Upload(c *fiber.Ctx) error {
	root, dir, ok := target(c)
	if !ok {
		root, dir = c.FormValue("root"), c.FormValue("path")
	}
	if root == "" {
		return badRequest(c, "root parameter is required")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "multipart form expected")
	}
	var files []*multipart.FileHeader
	files = append(files, form.File["files"]...)
	files = append(files, form.File["file"]...)
	relpaths := form.Value["relpath"]

	items := make([]app.UploadItem, 0, len(files))
	for i, fh := range files {
		fh := fh
		name := fh.Filename
		if i < len(relpaths) && strings.TrimSpace(relpaths[i]) != "" {
			name = relpaths[i]
		}
		items = append(items, app.UploadItem{
			Name: strings.TrimLeft(strings.ReplaceAll(name, `\`, "/"), "/"),
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	results, err := h.service.Upload(c.UserContext(), middleware.Principal(c), root, dir, items)
	if err != nil {
		return respondError(c, err)
	}
	return batchResponse(c, results)
}

func batchResponse(c *fiber.Ctx, results []domain.ItemResult) error {
	status := fiber.StatusOK
	if !app.AllOK(results) {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(fiber.Map{
		"success": status == fiber.StatusOK,
		"results": results,
	})
}

type folderRequest struct {
	Root string `json:"root"`
	Path string `json:"path"`
}

// POST /api/folder
func (h *FileManagerHandler) CreateFolder(c *fiber.Ctx) error {
	var req folderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Root == "" {
		return badRequest(c, "root is required")
	}

	entry, err := h.service.MakeDir(middleware.Principal(c), req.Root, req.Path)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"entry":   entry,
	})
}

// POST /api/delete with {"root","paths":[...],"recursive"}
func (h *FileManagerHandler) DeleteBatch(c *fiber.Ctx) error {
	var req domain.DeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Root == "" {
		return badRequest(c, "root is required")
	}

	results, err := h.service.Delete(c.UserContext(), middleware.Principal(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return batchResponse(c, results)
}

// DELETE /api/files?root=data&path=some/file&recursive=1
func (h *FileManagerHandler) Delete(c *fiber.Ctx) error {
	root, path, ok := target(c)
	if !ok {
		return badRequest(c, "root parameter is required")
	}
	if path == "" {
		return badRequest(c, "path is required")
	}

	results, err := h.service.Delete(c.UserContext(), middleware.Principal(c), domain.DeleteRequest{
		Root:      root,
		Path:      path,
		Recursive: queryFlag(c, "recursive"),
	})
	if err != nil {
		return respondError(c, err)
	}
	if res := results[0]; !res.OK {
		return c.Status(statusFor(res.Code)).JSON(fiber.Map{
			"error": res.Error,
			"code":  res.Code,
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"root":    root,
		"path":    path,
	})
}
