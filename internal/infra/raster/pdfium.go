package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"

	"pdf2png/internal/domain"
)

// PDFiumRasterizer renders through go-pdfium compiled to WebAssembly (pure
// Go, no CGo). Instances are not goroutine safe, so each render borrows one
// from a bounded pool.
type PDFiumRasterizer struct {
	pool    pdfium.Pool
	timeout time.Duration
}

// NewPDFium starts a pool of up to workers PDFium instances. timeout bounds
// how long a render waits for a free instance.
func NewPDFium(workers int, timeout time.Duration) (*PDFiumRasterizer, error) {
	if workers <= 0 {
		return nil, errors.New("pdfium: workers must be positive")
	}
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  workers,
		MaxTotal: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}
	return &PDFiumRasterizer{pool: pool, timeout: timeout}, nil
}

// RenderFirstPage opens src in a pooled instance and renders its first page.
func (r *PDFiumRasterizer) RenderFirstPage(ctx context.Context, src Source, dpi float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.pool == nil {
		return nil, domain.Render("acquire pdfium", errors.New("pdfium pool closed"))
	}

	instance, err := r.pool.GetInstance(r.timeout)
	if err != nil {
		return nil, domain.Render("acquire pdfium", err)
	}
	defer instance.Close()

	open := &requests.OpenDocument{}
	if src.Path != "" {
		path := src.Path
		open.FilePath = &path
	} else {
		data := src.Data
		open.File = &data
	}

	doc, err := instance.OpenDocument(open)
	if err != nil {
		return nil, domain.Render("open pdf", err)
	}
	defer instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	count, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		return nil, domain.Render("count pages", err)
	}
	if count.PageCount == 0 {
		return nil, domain.Render("render page", domain.ErrNoPages)
	}

	rendered, err := instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: int(dpi),
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: doc.Document,
				Index:    domain.FirstPage,
			},
		},
	})
	if err != nil {
		return nil, domain.Render("render page", err)
	}
	defer rendered.Cleanup()

	// The bitmap lives in WebAssembly memory that Cleanup releases.
	src32 := rendered.Result.Image
	return &image.RGBA{
		Pix:    append([]byte(nil), src32.Pix...),
		Stride: src32.Stride,
		Rect:   src32.Rect,
	}, nil
}

// Close shuts the instance pool down.
func (r *PDFiumRasterizer) Close() error {
	if r.pool == nil {
		return nil
	}
	err := r.pool.Close()
	r.pool = nil
	return err
}
