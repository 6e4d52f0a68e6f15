package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the number parsed from a "frame-N" style name, or -1.
	Frame int
}

// ImageExtensions lists the file extensions picked up from a directory.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// LoadImageFiles reads a single image file, or every image file directly inside a directory.
//
// Arguments:
//   - path: An image file or a directory of image files.
//
// Returns:
//   - []ImageFile: The files, numbered frames first in frame order, then the rest by name.
//   - error: Error if the path or any selected file cannot be read.
func LoadImageFiles(path string) ([]ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to stat %s", path)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read %s", path)
		}
		return []ImageFile{{Path: path, Data: data, Frame: frameNumber(filepath.Base(path))}}, nil
	}
	return LoadDirectoryImageFiles(path)
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read directory %s", dir)
	}

	images := make([]ImageFile, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !ImageExtensions[strings.ToLower(filepath.Ext(file.Name()))] {
			continue
		}
		imgPath := filepath.Join(dir, file.Name())
		data, readErr := os.ReadFile(imgPath)
		if readErr != nil {
			return nil, errors.Wrapf(readErr, "unable to read %s", imgPath)
		}
		images = append(images, ImageFile{
			Path:  imgPath,
			Data:  data,
			Frame: frameNumber(file.Name()),
		})
	}

	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		switch {
		case a.Frame >= 0 && b.Frame >= 0:
			return a.Frame < b.Frame
		case a.Frame >= 0 || b.Frame >= 0:
			return a.Frame >= 0
		default:
			return a.Path < b.Path
		}
	})

	return images, nil
}

// frameNumber parses "frame-12.jpg" as 12. Any other name yields -1.
func frameNumber(name string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(base, "frame-") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(base, "frame-"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
