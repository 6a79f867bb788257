package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"pdf2png/internal/config"
	"pdf2png/internal/http/server"
	"pdf2png/internal/infra/logging"
	"pdf2png/internal/infra/raster"
	"pdf2png/internal/infra/scratch"
)

func main() {
	cfg := config.Load()

	if err := ensureLogDir(cfg.Logger.File); err != nil {
		logging.Error("Failed to create log directory", "error", err)
		os.Exit(1)
	}
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	out, err := scratch.New(cfg.OutputDir)
	if err != nil {
		logging.Error("Failed to create output directory", "dir", cfg.OutputDir, "error", err)
		os.Exit(1)
	}

	rz, err := raster.New(cfg)
	if err != nil {
		logging.Error("Failed to initialize rasterizer", "backend", cfg.PDF.Backend, "error", err)
		os.Exit(1)
	}
	defer rz.Close()

	var rdb *redis.Client
	if cfg.Cache.PNGCacheEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.PNGCacheDB,
		})
		defer rdb.Close()
	}

	app := server.New(server.Deps{
		Config:  cfg,
		Redis:   rdb,
		Raster:  rz,
		Scratch: out,
	})

	logging.Info("Starting server", "addr", cfg.Server.Host+cfg.Server.Port,
		"backend", cfg.PDF.Backend, "staging", cfg.PDF.Staging, "output_dir", out.Path())

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}

func ensureLogDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
