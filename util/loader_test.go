package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600))
}

func TestLoadDirectoryImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-10.jpg", "frame-2.png", "shirt.JPEG", "alpha.webp", "notes.txt"} {
		touch(t, dir, name)
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755))

	images, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, images, 4)

	names := make([]string, len(images))
	for i, image := range images {
		names[i] = filepath.Base(image.Path)
		assert.Equal(t, []byte(names[i]), image.Data)
	}
	assert.Equal(t, []string{"frame-2.png", "frame-10.jpg", "alpha.webp", "shirt.JPEG"}, names)
	assert.Equal(t, 2, images[0].Frame)
	assert.Equal(t, -1, images[3].Frame)
}

func TestLoadImageFilesSingleFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "dress.png")

	images, err := LoadImageFiles(filepath.Join(dir, "dress.png"))
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, []byte("dress.png"), images[0].Data)
}

func TestLoadImageFilesMissing(t *testing.T) {
	_, err := LoadImageFiles(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestFrameNumber(t *testing.T) {
	assert.Equal(t, 7, frameNumber("frame-7.jpg"))
	assert.Equal(t, -1, frameNumber("frame-x.jpg"))
	assert.Equal(t, -1, frameNumber("shirt.jpg"))
}
