package scanner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dupfind/dupfind/internal/media"
)

func writeTestJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8((x + y) * 3), A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, media.EncodeJPEG(f, img, 90))
}

func TestProcessImageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeTestJPEG(t, path, 64, 48)

	s := New(DefaultParams(), nil, nil, nil)
	job := Job{Path: path, Type: media.TypeImage}

	m, err := s.processImageFile(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, media.TypeImage, m.Type)
	assert.Equal(t, path, m.Path)
	assert.NotEmpty(t, m.ContentDigest)
	assert.Greater(t, m.Width, 0)
	assert.Greater(t, m.Height, 0)
	assert.Greater(t, m.CompressionRatio, 0.0)
}

func TestProcessNeedleImage_ReturnsDecodedImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeTestJPEG(t, path, 32, 32)

	s := New(DefaultParams(), nil, nil, nil)
	m, img, err := s.ProcessNeedleImage(context.Background(), path)
	require.NoError(t, err)

	require.NotNil(t, img)
	b := img.Bounds()
	assert.Equal(t, m.Width, b.Dx())
	assert.Equal(t, m.Height, b.Dy())
}

func TestProcessImageFile_TooSmallIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.jpg")
	writeTestJPEG(t, path, 4, 4)

	params := DefaultParams()
	params.MinFileSize = 1 << 30 // force every real file under this
	s := New(params, nil, nil, nil)

	_, err := s.processImageFile(context.Background(), Job{Path: path, Type: media.TypeImage})
	assert.Error(t, err)

	var fe *fatalError
	assert.False(t, errors.As(err, &fe), "a too-small file must not be treated as fatal")
}

func TestCompressionRatio(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	assert.InDelta(t, 4.0, compressionRatio(img, 100), 0.001)
	assert.Equal(t, 0.0, compressionRatio(img, 0))
}

func TestClassifyProcessError(t *testing.T) {
	assert.Equal(t, ErrorJpegTruncated, classifyProcessError(errTruncatedJPEG))
	assert.Equal(t, ErrorDecodeCancelled, classifyProcessError(context.Canceled))
	assert.Equal(t, ErrorOpen, classifyProcessError(errOpenFailed))
	assert.Equal(t, ErrorLoad, classifyProcessError(io.ErrUnexpectedEOF))
}

func TestFatalError_MessageIsInnerError(t *testing.T) {
	inner := errors.New("disk full")
	fe := &fatalError{err: inner}
	assert.Equal(t, "disk full", fe.Error())
}

func TestReadImageBytes_OpenErrorIsOpenKind(t *testing.T) {
	s := New(DefaultParams(), nil, nil, nil)
	_, _, _, err := s.readImageBytes("/nonexistent/path/does-not-exist.jpg")
	require.Error(t, err)
	assert.Equal(t, ErrorOpen, classifyProcessError(err))
}
