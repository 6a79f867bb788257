package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure reported by a handler.
type Kind int

const (
	// InvalidInput means the request was well formed transport-wise but its
	// content is not acceptable (wrong media type, missing field).
	InvalidInput Kind = iota + 1
	// DecodeFailure means a payload could not be decoded (JSON, base64, image).
	DecodeFailure
	// RenderFailure means a library failed to open, rasterize or encode.
	RenderFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case DecodeFailure:
		return "decode_failure"
	case RenderFailure:
		return "render_failure"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidFileType is returned when the declared upload type is not a PDF.
	ErrInvalidFileType = errors.New("Invalid file type. Please upload a PDF.")
	// ErrMissingImageData is returned when the normalize body has no image_data.
	ErrMissingImageData = errors.New("Missing image_data")
	// ErrNoPages is returned when the PDF contains no pages.
	ErrNoPages = errors.New("pdf has no pages")
)

// Error is a failure tagged with its Kind. Op names the step that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid wraps err as an InvalidInput failure.
func Invalid(op string, err error) error { return &Error{Kind: InvalidInput, Op: op, Err: err} }

// Decode wraps err as a DecodeFailure.
func Decode(op string, err error) error { return &Error{Kind: DecodeFailure, Op: op, Err: err} }

// Render wraps err as a RenderFailure.
func Render(op string, err error) error { return &Error{Kind: RenderFailure, Op: op, Err: err} }

// KindOf reports the Kind of err, or zero when err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// Message returns the text sent to clients in the {"error": ...} body. Domain
// errors without an Op render as the bare wrapped message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
