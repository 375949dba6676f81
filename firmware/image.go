// Package firmware loads binary images and partitions them into the
// fixed-size pages streamed to the device.
//
// Example:
//
//	img, err := firmware.Load("main.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for i := 0; i < img.PageCount(); i++ {
//	    page, _ := img.Page(i)
//	    _ = page // 1024 bytes, last one zero-padded
//	}
package firmware

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/JMRMEDEV/ev5-dev-tools/limits"
	"github.com/sirupsen/logrus"
)

// ErrFileNotFound indicates the image path does not exist.
var ErrFileNotFound = errors.New("image file not found")

// ErrNotRegularFile indicates the image path is a directory or device.
var ErrNotRegularFile = errors.New("image path is not a regular file")

// ErrPageOutOfRange indicates a page index beyond the image.
var ErrPageOutOfRange = errors.New("page index out of range")

// Image is an immutable firmware image read once from disk.
type Image struct {
	// Name is the base file name, e.g. "main.bin".
	Name string
	data []byte
}

// Load reads the image at path.
func Load(path string) (*Image, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
	}).Debug("Loading firmware image")

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     path,
			"error":    err.Error(),
		}).Error("Failed to read firmware image")
		return nil, fmt.Errorf("read image: %w", err)
	}

	img, err := New(filepath.Base(path), data)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"name":     img.Name,
		"size":     img.Size(),
		"pages":    img.PageCount(),
	}).Info("Firmware image loaded")

	return img, nil
}

// New wraps an in-memory image. The data is copied.
func New(name string, data []byte) (*Image, error) {
	if err := limits.ValidateImageSize(len(data)); err != nil {
		return nil, err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return &Image{Name: name, data: buf}, nil
}

// Size returns the image size in bytes.
func (im *Image) Size() int {
	return len(im.data)
}

// PageCount returns ceil(Size / PageSize).
func (im *Image) PageCount() int {
	return limits.PageCount(len(im.data))
}

// Page returns a fresh PageSize slice for page i, zero-padded past the end
// of the image.
func (im *Image) Page(i int) ([]byte, error) {
	if i < 0 || i >= im.PageCount() {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, i, im.PageCount())
	}

	page := make([]byte, limits.PageSize)
	start := i * limits.PageSize
	end := start + limits.PageSize
	if end > len(im.data) {
		end = len(im.data)
	}
	copy(page, im.data[start:end])

	return page, nil
}

// Bytes returns a copy of the image contents.
func (im *Image) Bytes() []byte {
	out := make([]byte, len(im.data))
	copy(out, im.data)
	return out
}
