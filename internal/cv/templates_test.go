package cv

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestFileImageLoader_Formats(t *testing.T) {
	dir := t.TempDir()
	src := patternImage(16, 12)

	pngPath := filepath.Join(dir, "ref.png")
	writePNG(t, pngPath, src)

	var bmpBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, src))
	bmpPath := filepath.Join(dir, "ref.bmp")
	require.NoError(t, os.WriteFile(bmpPath, bmpBuf.Bytes(), 0644))

	var jpgBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpgBuf, src, &jpeg.Options{Quality: 95}))
	jpgPath := filepath.Join(dir, "ref.jpg")
	require.NoError(t, os.WriteFile(jpgPath, jpgBuf.Bytes(), 0644))

	loader := NewFileImageLoader()
	for _, path := range []string{pngPath, bmpPath, jpgPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			img, err := loader.Load(path, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 16, 12), img.Bounds())
		})
	}

	img, err := loader.Load(pngPath, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, img.Pix)
}

func TestFileImageLoader_Resizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.png")
	writePNG(t, path, patternImage(16, 12))

	img, err := NewFileImageLoader().Load(path, 8, 6)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
}

func TestFileImageLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	loader := NewFileImageLoader()

	_, err := loader.Load(filepath.Join(dir, "missing.png"), 0, 0)
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0644))
	_, err = loader.Load(garbage, 0, 0)
	assert.Error(t, err)
}

func TestToRGBA_NormalizesOrigin(t *testing.T) {
	src := patternImage(10, 10)
	sub := src.SubImage(image.Rect(2, 3, 7, 9))

	rgba := ToRGBA(sub)
	assert.Equal(t, image.Rect(0, 0, 5, 6), rgba.Bounds())
	assert.Equal(t, src.RGBAAt(2, 3), rgba.RGBAAt(0, 0))

	assert.Same(t, src, ToRGBA(src))
}
