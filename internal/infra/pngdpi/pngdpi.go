// Package pngdpi writes physical pixel density (pHYs) into encoded PNG streams.
//
// image/png never emits pHYs, so the chunk is spliced in right after IHDR,
// replacing any pHYs the encoder or a previous pass produced.
package pngdpi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

const (
	signature = "\x89PNG\r\n\x1a\n"
	// unitMeter is the pHYs unit specifier for pixels per metre.
	unitMeter = 1
)

var (
	// ErrNotPNG is returned when the input does not start with the PNG signature.
	ErrNotPNG = errors.New("pngdpi: not a PNG stream")
	// ErrTruncated is returned when a chunk runs past the end of the input.
	ErrTruncated = errors.New("pngdpi: truncated chunk")
)

// PixelsPerMeter converts dots per inch to the pHYs unit, rounding to nearest.
func PixelsPerMeter(dpi float64) uint32 {
	return uint32(math.Floor(dpi/0.0254 + 0.5))
}

// Set returns a copy of png with a pHYs chunk declaring xdpi by ydpi.
func Set(png []byte, xdpi, ydpi float64) ([]byte, error) {
	if xdpi <= 0 || ydpi <= 0 {
		return nil, fmt.Errorf("pngdpi: invalid density %vx%v", xdpi, ydpi)
	}
	if len(png) < len(signature) || string(png[:len(signature)]) != signature {
		return nil, ErrNotPNG
	}

	out := bytes.NewBuffer(make([]byte, 0, len(png)+21))
	out.WriteString(signature)

	pos := len(signature)
	wrote := false
	for pos < len(png) {
		typ, chunk, err := next(png, pos)
		if err != nil {
			return nil, err
		}
		pos += len(chunk)

		if typ == "pHYs" {
			continue
		}
		out.Write(chunk)
		if typ == "IHDR" && !wrote {
			writeChunk(out, "pHYs", physData(xdpi, ydpi))
			wrote = true
		}
	}
	if !wrote {
		return nil, fmt.Errorf("pngdpi: missing IHDR: %w", ErrNotPNG)
	}
	return out.Bytes(), nil
}

// Get reads the density declared by the pHYs chunk. ok is false when the
// stream has no pHYs chunk or it does not use the metre unit.
func Get(png []byte) (xdpi, ydpi float64, ok bool, err error) {
	if len(png) < len(signature) || string(png[:len(signature)]) != signature {
		return 0, 0, false, ErrNotPNG
	}
	pos := len(signature)
	for pos < len(png) {
		typ, chunk, err := next(png, pos)
		if err != nil {
			return 0, 0, false, err
		}
		pos += len(chunk)

		switch typ {
		case "pHYs":
			data := chunk[8 : len(chunk)-4]
			if len(data) != 9 || data[8] != unitMeter {
				return 0, 0, false, nil
			}
			x := binary.BigEndian.Uint32(data[0:4])
			y := binary.BigEndian.Uint32(data[4:8])
			return float64(x) * 0.0254, float64(y) * 0.0254, true, nil
		case "IDAT", "IEND":
			return 0, 0, false, nil
		}
	}
	return 0, 0, false, nil
}

// next returns the type and the full bytes (length, type, data, crc) of the
// chunk starting at pos.
func next(png []byte, pos int) (string, []byte, error) {
	if pos+8 > len(png) {
		return "", nil, ErrTruncated
	}
	n := int(binary.BigEndian.Uint32(png[pos : pos+4]))
	end := pos + 12 + n
	if n < 0 || end > len(png) || end < pos {
		return "", nil, ErrTruncated
	}
	return string(png[pos+4 : pos+8]), png[pos:end], nil
}

func physData(xdpi, ydpi float64) []byte {
	data := make([]byte, 9)
	binary.BigEndian.PutUint32(data[0:4], PixelsPerMeter(xdpi))
	binary.BigEndian.PutUint32(data[4:8], PixelsPerMeter(ydpi))
	data[8] = unitMeter
	return data
}

func writeChunk(w *bytes.Buffer, typ string, data []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(data)))
	copy(hdr[4:8], typ)
	w.Write(hdr[:])
	w.Write(data)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:8])
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}
