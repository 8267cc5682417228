package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"hddbrowser/internal/app"
	"hddbrowser/internal/config"
	"hddbrowser/internal/infra/filesystem"
	"hddbrowser/internal/infra/index"
	"hddbrowser/internal/infra/media"
	"hddbrowser/internal/infra/transport/http/handlers"
	"hddbrowser/internal/logging"
)

func runServe(envFile string) error {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return err
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return err
	}
	defer logging.Sync()

	store := config.NewStore(cfg, config.EnvFile(envFile))

	cache, err := media.NewCache(afero.NewOsFs(), cfg.ThumbCacheDir)
	if err != nil {
		return err
	}
	var heic media.HEICDecoder
	if cfg.HeifConvertPath != "" {
		heic = media.NewHeifConvert(cfg.HeifConvertPath)
	}
	engine := media.NewEngine(cache, media.NewFFmpeg(cfg.FFmpegPath), heic)

	var idx *index.Store
	if cfg.IndexEnabled {
		idx, err = index.Open(cfg.IndexDBPath)
		if err != nil {
			return err
		}
		defer idx.Close()
	}

	files := app.NewFilesystemService(store, filesystem.NewLocalDriver(), engine, idx)
	admin := app.NewAdminService(files, store)

	for _, root := range files.Registry().Global() {
		logging.Info("root",
			zap.String("id", root.ID),
			zap.String("path", root.Path),
			zap.Bool("available", root.Available))
	}

	srv := handlers.NewApp(handlers.Deps{
		Store:          store,
		Files:          files,
		Admin:          admin,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go files.StartIndexing(ctx)
	go reloadOnHangup(ctx, store)

	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		logging.Info("server listening", zap.String("addr", addr))
		errCh <- srv.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logging.Info("shutting down")
	return srv.ShutdownWithTimeout(10 * time.Second)
}

// reloadOnHangup re-reads the env file on SIGHUP. A bad file keeps the running
// config.
func reloadOnHangup(ctx context.Context, store *config.Store) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := store.Reload()
			if err != nil {
				logging.Error("config reload failed, keeping current config", zap.Error(err))
				continue
			}
			logging.SetLevel(next.LogLevel)
			logging.Info("config reloaded", zap.Int("roots", len(next.Roots)), zap.Int("users", len(next.Users)))
		}
	}
}
