package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/gofrs/uuid/v5"

	"pdf2png/internal/config"
	"pdf2png/internal/domain"
	"pdf2png/internal/infra/cache"
	"pdf2png/internal/infra/pngdpi"
	"pdf2png/internal/infra/raster"
	"pdf2png/internal/infra/scratch"
)

// UploadField is the multipart field carrying the PDF.
const UploadField = "file"

var (
	errNoScratch     = errors.New("no scratch directory configured")
	errNoBoundary    = errors.New("multipart boundary missing")
	errNoUploadField = errors.New(`no "file" part in form`)
)

// PDFService turns the first page of an uploaded PDF into a PNG.
type PDFService struct {
	Raster  raster.Rasterizer
	Cache   *cache.PNGCache
	Scratch *scratch.Dir
	Staging string
}

// NewPDFService wires a PDFService from config and its collaborators.
func NewPDFService(cfg config.Config, r raster.Rasterizer, pc *cache.PNGCache, dir *scratch.Dir) *PDFService {
	return &PDFService{
		Raster:  r,
		Cache:   pc,
		Scratch: dir,
		Staging: cfg.PDF.Staging,
	}
}

// HandleConversion handles POST /convert-pdf/.
func (svc *PDFService) HandleConversion(c *fiber.Ctx) error {
	data, err := readPDF(c)
	if err != nil {
		return svc.fail(c, err)
	}

	png, err := svc.Convert(c.UserContext(), data)
	if err != nil {
		return svc.fail(c, err)
	}

	name, err := uuid.NewV4()
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, domain.PNGMediaType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.png"`, name))
	return c.Send(png)
}

// Convert renders page one of pdf at the fixed render resolution and returns
// it as a density-tagged PNG.
func (svc *PDFService) Convert(ctx context.Context, pdf []byte) ([]byte, error) {
	var key string
	if svc.Cache != nil {
		key = cache.Key(pdf, domain.RenderDPI)
		if png, ok := svc.Cache.Get(ctx, key); ok {
			return png, nil
		}
	}

	src := raster.Source{Data: pdf}
	if svc.Staging == config.StagingDisk {
		if svc.Scratch == nil {
			return nil, domain.Render("stage pdf", errNoScratch)
		}
		staged, err := svc.Scratch.Stage(pdf, ".pdf")
		if err != nil {
			return nil, domain.Render("stage pdf", err)
		}
		defer staged.Release()
		src = raster.Source{Path: staged.Path}
	}

	img, err := svc.Raster.RenderFirstPage(ctx, src, domain.RenderDPI)
	if err != nil {
		return nil, err
	}

	png, err := pngdpi.Encode(img, domain.RenderDPI)
	if err != nil {
		return nil, domain.Render("encode png", err)
	}

	if svc.Cache != nil {
		svc.Cache.Set(ctx, key, png)
	}
	return png, nil
}

func (svc *PDFService) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.InvalidInput, domain.DecodeFailure:
		status = fiber.StatusOK
	}
	return writeError(c, status, "convert pdf", err)
}

// readPDF returns the uploaded PDF bytes after checking the declared media
// type. Multipart bodies are parsed in memory and the file part is read only
// once its type is known to be PDF.
func readPDF(c *fiber.Ctx) ([]byte, error) {
	ct := c.Get(fiber.HeaderContentType)
	if !hasMediaType(ct, fiber.MIMEMultipartForm) {
		if !hasMediaType(ct, domain.PDFMediaType) {
			return nil, domain.Invalid("", domain.ErrInvalidFileType)
		}
		return c.Body(), nil
	}

	body := c.Body()
	if len(body) == 0 {
		return readParsedForm(c)
	}

	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, domain.Invalid("read upload", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, domain.Invalid("read upload", errNoBoundary)
	}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, domain.Invalid("read upload", errNoUploadField)
		}
		if err != nil {
			return nil, domain.Invalid("read upload", err)
		}
		if part.FormName() != UploadField {
			part.Close()
			continue
		}
		if !hasMediaType(part.Header.Get(fiber.HeaderContentType), domain.PDFMediaType) {
			part.Close()
			return nil, domain.Invalid("", domain.ErrInvalidFileType)
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, domain.Invalid("read upload", err)
		}
		return data, nil
	}
}

// readParsedForm handles apps that let the server pre-parse multipart
// bodies, in which case the raw body is no longer available.
func readParsedForm(c *fiber.Ctx) ([]byte, error) {
	fh, err := c.FormFile(UploadField)
	if err != nil {
		return nil, domain.Invalid("read upload", err)
	}
	if !hasMediaType(fh.Header.Get(fiber.HeaderContentType), domain.PDFMediaType) {
		return nil, domain.Invalid("", domain.ErrInvalidFileType)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, domain.Invalid("read upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, domain.Invalid("read upload", err)
	}
	return data, nil
}
