package raster

import (
	"context"
	"image"

	"github.com/gen2brain/go-fitz"

	"pdf2png/internal/domain"
)

// Document is the subset of a MuPDF document the fitz backend needs.
type Document interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

var openDocument = func(src Source) (Document, error) {
	var (
		doc *fitz.Document
		err error
	)
	if src.Path != "" {
		doc, err = fitz.New(src.Path)
	} else {
		doc, err = fitz.NewFromMemory(src.Data)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FitzRasterizer renders through go-fitz (MuPDF, requires CGo). Every call
// opens its own document, so it is safe for concurrent use.
type FitzRasterizer struct{}

// NewFitz creates a go-fitz backed rasterizer.
func NewFitz() *FitzRasterizer {
	return &FitzRasterizer{}
}

// RenderFirstPage opens src and renders its first page.
func (r *FitzRasterizer) RenderFirstPage(ctx context.Context, src Source, dpi float64) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	doc, err := openDocument(src)
	if err != nil {
		return nil, domain.Render("open pdf", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, domain.Render("render page", domain.ErrNoPages)
	}

	img, err := doc.ImageDPI(domain.FirstPage, dpi)
	if err != nil {
		return nil, domain.Render("render page", err)
	}
	return img, nil
}

// Close is a no-op; documents are closed per render.
func (r *FitzRasterizer) Close() error {
	return nil
}

// SetDocumentOpenerForTest allows tests to replace the document opener. It returns a restore function.
func SetDocumentOpenerForTest(opener func(Source) (Document, error)) func() {
	original := openDocument
	openDocument = opener
	return func() {
		openDocument = original
	}
}
