// Package normalize turns an edited page, delivered as a base64 data URI,
// into a PNG on the fixed 3306x4678 canvas at 400 DPI.
package normalize

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"pdf2png/internal/domain"
	"pdf2png/internal/infra/pngdpi"
)

// ErrNoSeparator is returned for image data without the data URI comma.
var ErrNoSeparator = errors.New("invalid data URI: missing ',' separator")

// DecodeDataURI returns the bytes carried by "data:<mime>;base64,<payload>".
// Everything before the first comma is ignored.
func DecodeDataURI(uri string) ([]byte, error) {
	if uri == "" {
		return nil, domain.Invalid("", domain.ErrMissingImageData)
	}
	_, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return nil, domain.Invalid("", ErrNoSeparator)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, domain.Decode("decode base64", err)
	}
	return data, nil
}

// Canvas drops any alpha channel, keeping stored colour values, and resizes
// to the fixed canvas with nearest-neighbour sampling.
func Canvas(img image.Image) *image.NRGBA {
	// WebP with alpha decodes to NYCbCrA; reading it per pixel would
	// premultiply, so take the colour planes directly.
	if m, ok := img.(*image.NYCbCrA); ok {
		img = &m.YCbCr
	}
	rgb := imaging.Clone(img)
	for i := 3; i < len(rgb.Pix); i += 4 {
		rgb.Pix[i] = 0xff
	}
	return imaging.Resize(rgb, domain.CanvasWidth, domain.CanvasHeight, imaging.NearestNeighbor)
}

// Normalize decodes uri, fits it to the canvas and encodes it as a PNG
// tagged with the canvas DPI.
func Normalize(uri string) ([]byte, error) {
	data, err := DecodeDataURI(uri)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Decode("decode image", err)
	}

	out, err := pngdpi.Encode(Canvas(img), domain.CanvasDPI)
	if err != nil {
		return nil, domain.Render("encode image", err)
	}
	return out, nil
}
