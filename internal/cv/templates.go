package cv

import (
	"fmt"
	"image"
	"io"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageLoader loads reference images. A positive width and height resizes the decoded
// image to that size.
type ImageLoader interface {
	Load(path string, width, height int) (*image.RGBA, error)
}

// FileImageLoader decodes PNG, JPEG, BMP and WebP files
type FileImageLoader struct {
	scaler draw.Scaler
}

// NewFileImageLoader creates a loader resizing with Catmull-Rom
func NewFileImageLoader() *FileImageLoader {
	return &FileImageLoader{scaler: draw.CatmullRom}
}

func (l *FileImageLoader) Load(path string, width, height int) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference image %s: %w", path, err)
	}
	defer file.Close()

	img, err := DecodeRGBA(file)
	if err != nil {
		return nil, fmt.Errorf("reference image %s: %w", path, err)
	}

	if width <= 0 || height <= 0 || img.Bounds().Size() == image.Pt(width, height) {
		return img, nil
	}

	resized := image.NewRGBA(image.Rect(0, 0, width, height))
	l.scaler.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)
	return resized, nil
}

// DecodeRGBA decodes any registered format into an RGBA image anchored at (0,0)
func DecodeRGBA(r io.Reader) (*image.RGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return ToRGBA(img), nil
}

// ToRGBA converts img, returning it unchanged when it already is an RGBA at (0,0)
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}
