// Package raster turns page one of a PDF into a bitmap.
package raster

import (
	"context"
	"fmt"
	"image"

	"pdf2png/internal/config"
)

// Source is a PDF handed to a Rasterizer: bytes held in memory, or a path to
// a staged copy on disk. Path wins when both are set.
type Source struct {
	Data []byte
	Path string
}

// Rasterizer defines PDF page rendering.
type Rasterizer interface {
	// RenderFirstPage renders page index 0 of src at dpi.
	RenderFirstPage(ctx context.Context, src Source, dpi float64) (image.Image, error)

	// Close cleans up any resources used by the rasterizer
	Close() error
}

// New returns the rasterizer selected by cfg.PDF.Backend.
func New(cfg config.Config) (Rasterizer, error) {
	switch cfg.PDF.Backend {
	case config.BackendFitz, "":
		return NewFitz(), nil
	case config.BackendPDFium:
		return NewPDFium(cfg.PDF.PDFiumWorkers, cfg.PDF.PDFiumTimeout)
	default:
		return nil, fmt.Errorf("unknown pdf backend %q", cfg.PDF.Backend)
	}
}
