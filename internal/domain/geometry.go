package domain

const (
	// PDFMediaType is the only upload type the conversion endpoint accepts.
	PDFMediaType = "application/pdf"
	// PNGMediaType is the media type of every successful response.
	PNGMediaType = "image/png"

	// RenderDPI is the resolution page one is rasterized at.
	RenderDPI = 400
	// FirstPage is the zero-based index of the only page ever rendered.
	FirstPage = 0

	// CanvasWidth and CanvasHeight are the exact pixel grid of a normalized
	// edited image (A4 at 400 DPI).
	CanvasWidth  = 3306
	CanvasHeight = 4678
	// CanvasDPI is the resolution written into the normalized PNG.
	CanvasDPI = 400
)
