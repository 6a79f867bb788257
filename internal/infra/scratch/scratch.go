// Package scratch stages request payloads as uniquely named files in the
// service output directory. Every staged file is owned by the request that
// created it and removed by its Release.
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid/v5"

	"pdf2png/internal/infra/logging"
)

const dirMode = 0o750

// Dir is the scratch directory shared by all requests.
type Dir struct {
	path string
}

// New creates path if needed and returns it as a scratch directory.
func New(path string) (*Dir, error) {
	if err := os.MkdirAll(path, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", path, err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// File is a staged payload. ID is the UUID its name is built from.
type File struct {
	ID   string
	Path string
}

// Stage writes data to <dir>/<uuid><ext>. The file is not left behind when
// writing fails.
func (d *Dir) Stage(data []byte, ext string) (*File, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(d.path, id.String()+ext)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("error creating staged file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		remove(path)
		return nil, fmt.Errorf("error writing staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		remove(path)
		return nil, fmt.Errorf("error closing staged file: %w", err)
	}

	logging.Debug("staged file", "path", path, "bytes", len(data))
	return &File{ID: id.String(), Path: path}, nil
}

// Release deletes the staged file. A file that is already gone is not an error.
func (f *File) Release() {
	if f == nil {
		return
	}
	remove(f.Path)
}

func remove(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("could not clean up staged file", "path", path, "error", err)
		return
	}
	logging.Debug("cleaned up staged file", "path", path)
}
