// Package volumeio reads and writes volumes from and to persistent storage.
//
// The format is chosen from the path:
//   - .mha / .mhd: MetaImage (header with inline or detached 8-bit data)
//   - .png, .jpg, .jpeg, .tif, .tiff, .bmp: a single 2D image, read as a
//     volume with one slice
//   - a directory, or a path without extension when writing: a stack of
//     numbered 2D slices with an optional geometry.yaml sidecar
package volumeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
)

var (
	// ErrFormat is returned for files whose content cannot be decoded
	ErrFormat = errors.New("malformed volume data")

	// ErrUnsupported is returned for paths whose format is not handled
	ErrUnsupported = errors.New("unsupported volume format")
)

// WriteOptions controls encoding details
type WriteOptions struct {
	// Compress zlib-compresses MetaImage voxel data
	Compress bool
}

// Read decodes the volume stored at path
func Read(path string) (*models.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read volume: %w", err)
	}

	var vol *models.Volume
	switch {
	case info.IsDir():
		vol, err = readSliceStack(path)
	case isMetaImage(path):
		vol, err = readMetaImage(path)
	case isImage2D(path):
		vol, err = readImage2D(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	if err != nil {
		return nil, err
	}

	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	return vol, nil
}

// Write encodes vol to path
func Write(path string, vol *models.Volume, opts WriteOptions) error {
	if err := vol.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid volume: %w", err)
	}

	switch {
	case isMetaImage(path):
		return writeMetaImage(path, vol, opts)
	case isImage2D(path):
		return writeImage2D(path, vol)
	case filepath.Ext(path) == "" || isDir(path):
		return writeSliceStack(path, vol)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
}

// SupportedExtensions lists the file extensions Read and Write understand
func SupportedExtensions() []string {
	return []string{".mha", ".mhd", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"}
}

func extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func isMetaImage(path string) bool {
	ext := extension(path)
	return ext == ".mha" || ext == ".mhd"
}

func isImage2D(path string) bool {
	switch extension(path) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
		return true
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
