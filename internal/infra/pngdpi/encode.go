package pngdpi

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Encode writes img as PNG declaring dpi in both directions.
func Encode(img image.Image, dpi float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return Set(buf.Bytes(), dpi, dpi)
}
