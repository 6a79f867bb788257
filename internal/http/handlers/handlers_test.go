package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf2png/internal/config"
	"pdf2png/internal/domain"
	"pdf2png/internal/infra/cache"
	"pdf2png/internal/infra/logging"
	"pdf2png/internal/infra/pngdpi"
	"pdf2png/internal/infra/raster"
	"pdf2png/internal/infra/scratch"
)

type fakeRasterizer struct {
	mu      sync.Mutex
	calls   int
	sources []raster.Source
	seen    []bool // whether Path existed during the call
	img     image.Image
	err     error

	onRender func()
}

func (f *fakeRasterizer) RenderFirstPage(_ context.Context, src raster.Source, _ float64) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onRender != nil {
		f.onRender()
	}
	// the request body buffer is recycled once the handler returns
	src.Data = append([]byte(nil), src.Data...)
	f.sources = append(f.sources, src)
	if src.Path != "" {
		_, err := os.Stat(src.Path)
		f.seen = append(f.seen, err == nil)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

func (f *fakeRasterizer) Close() error { return nil }

func page() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

func newUploadApp() *fiber.App {
	return fiber.New(fiber.Config{
		BodyLimit:                    64 << 20,
		DisablePreParseMultipartForm: true,
	})
}

func pdfApp(svc *PDFService) *fiber.App {
	app := newUploadApp()
	app.Post("/convert-pdf/", svc.HandleConversion)
	return app
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func rawPDF(body []byte, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/convert-pdf/", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	return req
}

func multipartPDF(t *testing.T, field, partType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="doc.pdf"`)
	if partType != "" {
		h.Set("Content-Type", partType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/convert-pdf/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestHandleConversion_RawPDF(t *testing.T) {
	fr := &fakeRasterizer{img: page()}
	app := pdfApp(NewPDFService(config.Default(), fr, nil, nil))

	resp, err := app.Test(rawPDF([]byte("%PDF-1.4"), "application/pdf"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Regexp(t, `^attachment; filename="[0-9a-f-]{36}\.png"$`, resp.Header.Get("Content-Disposition"))

	out, _ := io.ReadAll(resp.Body)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 60), img.Bounds().Size())

	x, y, ok, err := pngdpi.Get(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 400, x, 0.05)
	assert.InDelta(t, 400, y, 0.05)

	require.Len(t, fr.sources, 1)
	assert.Equal(t, []byte("%PDF-1.4"), fr.sources[0].Data)
	assert.Empty(t, fr.sources[0].Path)
}

func TestHandleConversion_MultipartPDF(t *testing.T) {
	fr := &fakeRasterizer{img: page()}
	app := pdfApp(NewPDFService(config.Default(), fr, nil, nil))

	resp, err := app.Test(multipartPDF(t, UploadField, "application/pdf", []byte("%PDF-1.7 body")))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Len(t, fr.sources, 1)
	assert.Equal(t, []byte("%PDF-1.7 body"), fr.sources[0].Data)
}

func TestHandleConversion_MultipartSkipsOtherParts(t *testing.T) {
	fr := &fakeRasterizer{img: page()}
	app := pdfApp(NewPDFService(config.Default(), fr, nil, nil))

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "first"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="doc.pdf"`)
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/convert-pdf/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, fr.sources, 1)
	assert.Equal(t, []byte("%PDF-second"), fr.sources[0].Data)
}

func TestHandleConversion_PreParsedForm(t *testing.T) {
	fr := &fakeRasterizer{img: page()}
	svc := NewPDFService(config.Default(), fr, nil, nil)
	app := fiber.New()
	app.Post("/convert-pdf/", svc.HandleConversion)

	resp, err := app.Test(multipartPDF(t, UploadField, "application/pdf", []byte("%PDF-parsed")))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, fr.sources, 1)
	assert.Equal(t, []byte("%PDF-parsed"), fr.sources[0].Data)

	resp, err = app.Test(multipartPDF(t, UploadField, "text/plain", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, domain.ErrInvalidFileType.Error(), errorBody(t, resp))
}

func TestHandleConversion_LargeUploadsWriteNoTempFiles(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	big := bytes.Repeat([]byte("%PDF-1.7 "), (20<<20)/9+1)

	cases := []struct {
		name     string
		partType string
		rendered bool
	}{
		{"pdf", "application/pdf", true},
		{"wrong type", "application/octet-stream", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var during, afterHandler []string
			fr := &fakeRasterizer{img: page()}
			fr.onRender = func() { during = dirNames(t, tmp) }
			svc := NewPDFService(config.Default(), fr, nil, nil)

			app := newUploadApp()
			app.Post("/convert-pdf/", func(c *fiber.Ctx) error {
				err := svc.HandleConversion(c)
				afterHandler = dirNames(t, tmp)
				return err
			})

			resp, err := app.Test(multipartPDF(t, UploadField, tc.partType, big), -1)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			if tc.rendered {
				assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
				require.Equal(t, 1, fr.calls)
				assert.Len(t, fr.sources[0].Data, len(big))
				assert.Empty(t, during)
			} else {
				assert.Equal(t, domain.ErrInvalidFileType.Error(), errorBody(t, resp))
				assert.Zero(t, fr.calls)
			}
			assert.Empty(t, afterHandler)
			assert.Empty(t, dirNames(t, tmp))
		})
	}
}

func TestHandleConversion_MediaTypeIgnoresParamsAndCase(t *testing.T) {
	fr := &fakeRasterizer{img: page()}
	app := pdfApp(NewPDFService(config.Default(), fr, nil, nil))

	resp, err := app.Test(rawPDF([]byte("%PDF"), "Application/PDF; charset=binary"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestHandleConversion_WrongTypeWritesNothing(t *testing.T) {
	dir, err := scratch.New(filepath.Join(t.TempDir(), "output"))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.PDF.Staging = config.StagingDisk
	fr := &fakeRasterizer{img: page()}
	app := pdfApp(NewPDFService(cfg, fr, nil, dir))

	cases := map[string]*http.Request{
		"raw text":       rawPDF([]byte("hello"), "text/plain"),
		"raw no type":    rawPDF([]byte("hello"), ""),
		"multipart png":  multipartPDF(t, UploadField, "image/png", []byte("png")),
		"multipart none": multipartPDF(t, UploadField, "", []byte("?")),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			assert.Equal(t, domain.ErrInvalidFileType.Error(), errorBody(t, resp))
		})
	}

	entries, err := os.ReadDir(dir.Path())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, fr.calls)
}

func TestHandleConversion_MissingFileField(t *testing.T) {
	fr := &fakeRasterizer{img: page()}
	app := pdfApp(NewPDFService(config.Default(), fr, nil, nil))

	resp, err := app.Test(multipartPDF(t, "document", "application/pdf", []byte("%PDF")))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(errorBody(t, resp), "read upload: "))
	assert.Zero(t, fr.calls)
}

func TestHandleConversion_RenderFailureIs500(t *testing.T) {
	fr := &fakeRasterizer{err: domain.Render("render page", domain.ErrNoPages)}
	app := pdfApp(NewPDFService(config.Default(), fr, nil, nil))

	resp, err := app.Test(rawPDF([]byte("%PDF"), "application/pdf"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "render page: pdf has no pages", errorBody(t, resp))
}

func TestHandleConversion_UnclassifiedErrorIs500(t *testing.T) {
	fr := &fakeRasterizer{err: context.Canceled}
	app := pdfApp(NewPDFService(config.Default(), fr, nil, nil))

	resp, err := app.Test(rawPDF([]byte("%PDF"), "application/pdf"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, context.Canceled.Error(), errorBody(t, resp))
}

func TestConvert_DiskStagingReleasesFile(t *testing.T) {
	dir, err := scratch.New(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.PDF.Staging = config.StagingDisk

	for _, fr := range []*fakeRasterizer{
		{img: page()},
		{err: domain.Render("open pdf", errors.New("broken"))},
	} {
		svc := NewPDFService(cfg, fr, nil, dir)
		_, _ = svc.Convert(context.Background(), []byte("%PDF"))

		require.Len(t, fr.sources, 1)
		assert.Empty(t, fr.sources[0].Data)
		assert.Equal(t, dir.Path(), filepath.Dir(fr.sources[0].Path))
		assert.Equal(t, ".pdf", filepath.Ext(fr.sources[0].Path))
		assert.Equal(t, []bool{true}, fr.seen)

		entries, err := os.ReadDir(dir.Path())
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestConvert_DiskStagingWithoutScratch(t *testing.T) {
	cfg := config.Default()
	cfg.PDF.Staging = config.StagingDisk
	svc := NewPDFService(cfg, &fakeRasterizer{img: page()}, nil, nil)

	_, err := svc.Convert(context.Background(), []byte("%PDF"))
	assert.Equal(t, domain.RenderFailure, domain.KindOf(err))
}

func TestConvert_UsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var logs bytes.Buffer
	logging.SetLoggerForTest(zerolog.New(&logs).Level(zerolog.DebugLevel))
	t.Cleanup(func() { logging.SetLoggerForTest(zerolog.New(io.Discard)) })

	fr := &fakeRasterizer{img: page()}
	svc := NewPDFService(config.Default(), fr, cache.New(rdb, time.Minute), nil)

	first, err := svc.Convert(context.Background(), []byte("%PDF-a"))
	require.NoError(t, err)
	second, err := svc.Convert(context.Background(), []byte("%PDF-a"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fr.calls)
	assert.Equal(t, 1, strings.Count(logs.String(), "PNG cache hit"))

	_, err = svc.Convert(context.Background(), []byte("%PDF-b"))
	require.NoError(t, err)
	assert.Equal(t, 2, fr.calls)
}

func saveApp(svc *ImageService) *fiber.App {
	app := fiber.New()
	app.Post("/save-edited-image/", svc.HandleSaveEdited)
	return app
}

func jsonReq(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/save-edited-image/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleSaveEdited_ReturnsNormalizedPNG(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 4))
	src.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	app := saveApp(NewImageService())
	resp, err := app.Test(jsonReq(`{"image_data":"`+uri+`"}`), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	out, _ := io.ReadAll(resp.Body)
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, domain.CanvasWidth, cfg.Width)
	assert.Equal(t, domain.CanvasHeight, cfg.Height)

	x, y, ok, err := pngdpi.Get(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 400, x, 0.05)
	assert.InDelta(t, 400, y, 0.05)
}

func TestHandleSaveEdited_ErrorsAre200(t *testing.T) {
	app := saveApp(NewImageService())

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing field", `{}`, "Missing image_data"},
		{"empty field", `{"image_data":""}`, "Missing image_data"},
		{"null field", `{"image_data":null}`, "Missing image_data"},
		{"not json", `not json`, "parse body: "},
		{"no separator", `{"image_data":"data:image/png;base64"}`, ""},
		{"bad base64", `{"image_data":"data:image/png;base64,@@@"}`, "decode base64: "},
		{"not an image", `{"image_data":"data:image/png;base64,aGVsbG8="}`, "decode image: "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(jsonReq(tc.body))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			msg := errorBody(t, resp)
			assert.NotEmpty(t, msg)
			assert.True(t, strings.HasPrefix(msg, tc.want), msg)
		})
	}
}

func TestHandleSaveEdited_RenderFailureStays200(t *testing.T) {
	svc := &ImageService{normalize: func(string) ([]byte, error) {
		return nil, domain.Render("encode image", errors.New("disk full"))
	}}
	resp, err := saveApp(svc).Test(jsonReq(`{"image_data":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "encode image: disk full", errorBody(t, resp))
}

func TestPageService(t *testing.T) {
	dir := t.TempDir()
	index := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(index, []byte("<h1>upload</h1>"), 0o644))

	pages := &PageService{IndexFile: index, EditFile: filepath.Join(dir, "missing.html")}
	app := fiber.New()
	app.Get("/", pages.HandleIndex)
	app.Get("/edit", pages.HandleEdit)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "<h1>upload</h1>", string(body))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/edit", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestHasMediaType(t *testing.T) {
	assert.True(t, hasMediaType("application/pdf", "application/pdf"))
	assert.True(t, hasMediaType(" APPLICATION/PDF ;x=y", "application/pdf"))
	assert.True(t, hasMediaType("multipart/form-data; boundary=abc", fiber.MIMEMultipartForm))
	assert.False(t, hasMediaType("", "application/pdf"))
	assert.False(t, hasMediaType("application/pdfx", "application/pdf"))
}
