package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"pdf2png/internal/config"
	"pdf2png/internal/http/handlers"
	"pdf2png/internal/http/middleware"
	"pdf2png/internal/infra/cache"
	"pdf2png/internal/infra/logging"
	"pdf2png/internal/infra/raster"
	"pdf2png/internal/infra/scratch"
)

// Deps are the process-wide collaborators shared by all handlers.
type Deps struct {
	Config  config.Config
	Redis   *redis.Client
	Raster  raster.Rasterizer
	Scratch *scratch.Dir
}

// New creates and configures a Fiber app instance
func New(d Deps) *fiber.App {
	// Uploads are parsed by the handler from the in-memory body.
	app := fiber.New(fiber.Config{
		Prefork:                      d.Config.Server.Prefork,
		DisableStartupMessage:        true,
		BodyLimit:                    d.Config.Limits.MaxBodyBytes,
		DisablePreParseMultipartForm: true,
		ErrorHandler:                 errorHandler,
	})

	middleware.Register(app, d.Config)
	registerRoutes(app, d)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}

	if code >= fiber.StatusInternalServerError {
		logging.Error("Request failed", "path", c.Path(), "status", code, "error", err,
			"request_id", middleware.RequestID(c))
	} else {
		logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}

func registerRoutes(app *fiber.App, d Deps) {
	cfg := d.Config

	rz := d.Raster
	if rz == nil {
		rz = raster.NewFitz()
	}
	var pngCache *cache.PNGCache
	if cfg.Cache.PNGCacheEnabled {
		pngCache = cache.New(d.Redis, cfg.Cache.PNGCacheTTL)
	}

	pdf := handlers.NewPDFService(cfg, rz, pngCache, d.Scratch)
	img := handlers.NewImageService()
	pages := &handlers.PageService{IndexFile: cfg.Static.IndexFile, EditFile: cfg.Static.EditFile}

	app.Get("/", pages.HandleIndex)
	app.Get("/edit", pages.HandleEdit)
	app.Static("/static", cfg.Static.Dir)

	app.Post("/convert-pdf/", pdf.HandleConversion)
	app.Post("/save-edited-image/", img.HandleSaveEdited)

	v1 := app.Group("/v1")
	v1.Get("/monitor", monitor.New())
}
