package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"hddbrowser/internal/app"
	"hddbrowser/internal/config"
	"hddbrowser/internal/domain"
	"hddbrowser/internal/infra/transport/http/middleware"
	"hddbrowser/internal/logging"
	"hddbrowser/internal/metrics"
)

type Deps struct {
	Store          *config.Store
	Files          *app.FilesystemService
	Admin          *app.AdminService
	MetricsEnabled bool
}

// Binary responses keep exact byte offsets for Range and are mostly compressed already.
func skipCompress(c *fiber.Ctx) bool {
	switch {
	case strings.HasPrefix(c.Path(), "/api/stream"),
		strings.HasPrefix(c.Path(), "/api/download"),
		strings.HasPrefix(c.Path(), "/api/thumb"),
		strings.HasPrefix(c.Path(), "/api/render"):
		return true
	}
	return false
}

// NewApp builds the fiber app with middleware and every route mounted.
func NewApp(d Deps) *fiber.App {
	cfg := d.Store.Load()
	app := fiber.New(fiber.Config{
		AppName:               "hddbrowser",
		BodyLimit:             int(cfg.MaxUploadBytes),
		StreamRequestBody:     true,
		DisableStartupMessage: true,
		ServerHeader:          "hddbrowser",
	})

	app.Use(requestid.New())
	app.Use(logging.Middleware())
	if d.MetricsEnabled {
		app.Use(metrics.Middleware())
	}
	app.Use(compress.New(compress.Config{
		Next:  skipCompress,
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Range",
	}))

	Register(app, d)
	return app
}

// Register mounts the API on app.
func Register(app *fiber.App, d Deps) {
	files := NewFileManagerHandler(d.Files)
	auth := NewAuthHandler(d.Store)
	admin := NewAdminHandler(d.Admin)

	app.Get("/healthz", Health(d.Files))
	if d.MetricsEnabled {
		app.Get("/metrics", metrics.Handler())
	}

	api := app.Group("/api")

	// Public
	api.Post("/login", auth.Login)
	api.Post("/logout", auth.Logout)

	protected := api.Group("", middleware.AuthMiddleware(d.Store))

	// READ
	protected.Get("/me", files.Me)
	protected.Get("/roots", files.ListRoots)
	protected.Get("/list", files.ListFiles)
	protected.Get("/preview", files.Preview)
	protected.Get("/download", files.Download)
	protected.Get("/stream", files.Stream)
	protected.Get("/thumb", files.Thumbnail)
	protected.Get("/render", files.Render)
	protected.Get("/search", files.Search)
	protected.Get("/recent", files.Recent)

	// WRITE (feature switches and capabilities checked per request)
	protected.Post("/upload", files.Upload)
	protected.Post("/folder", files.CreateFolder)
	protected.Post("/delete", files.DeleteBatch)
	protected.Delete("/files", files.Delete)

	// ADMIN
	adminGroup := protected.Group("/admin", middleware.RequireCap(domain.CapAdmin))
	adminGroup.Get("/stats", admin.Stats)
	adminGroup.Post("/features", admin.SetFeatures)
	adminGroup.Post("/reindex", admin.Reindex)
}
