package cv

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patternImage fills 4x4 pixel blocks with hashed colors so every window is distinct
func patternImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bx, by := uint32(x/4), uint32(y/4)
			v := bx*2654435761 ^ by*40503
			img.SetRGBA(x, y, color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 255})
		}
	}
	return img
}

func mustCrop(t *testing.T, img *image.RGBA, r image.Rectangle) *image.RGBA {
	t.Helper()
	cropped, err := CropRegion(img, r)
	require.NoError(t, err)
	return cropped
}

func TestFindTemplate_ExactLocation(t *testing.T) {
	frame := patternImage(120, 80)
	needle := mustCrop(t, frame, image.Rect(40, 28, 60, 44))

	for _, method := range []MatchMethod{MatchMethodSAD, MatchMethodSSD, MatchMethodNCC} {
		t.Run(method.String(), func(t *testing.T) {
			result := FindTemplate(frame, needle, &MatchConfig{Method: method, Threshold: 0.95})

			assert.True(t, result.Found)
			assert.Equal(t, image.Pt(40, 28), result.Location)
			assert.InDelta(t, 1.0, result.Confidence, 1e-9)
		})
	}
}

func TestFindTemplate_BelowThresholdKeepsBestScore(t *testing.T) {
	frame := patternImage(60, 60)
	needle := image.NewRGBA(image.Rect(0, 0, 8, 8)) // Transparent black, absent from the frame

	result := FindTemplate(frame, needle, &MatchConfig{Method: MatchMethodSSD, Threshold: 0.99})

	assert.False(t, result.Found)
	assert.Greater(t, result.Confidence, 0.0)
	assert.Less(t, result.Confidence, 0.99)
}

func TestFindTemplate_SearchRegion(t *testing.T) {
	frame := patternImage(120, 80)
	needle := mustCrop(t, frame, image.Rect(80, 40, 96, 56))

	inside := image.Rect(70, 30, 110, 70)
	result := FindTemplate(frame, needle, &MatchConfig{Method: MatchMethodSSD, Threshold: 0.95, SearchRegion: &inside})
	assert.True(t, result.Found)
	assert.Equal(t, image.Pt(80, 40), result.Location)

	outside := image.Rect(0, 0, 60, 60)
	result = FindTemplate(frame, needle, &MatchConfig{Method: MatchMethodSSD, Threshold: 0.999, SearchRegion: &outside})
	assert.False(t, result.Found)
}

func TestFindTemplate_TemplateDoesNotFit(t *testing.T) {
	frame := patternImage(40, 40)

	tests := []struct {
		name   string
		needle *image.RGBA
		region *image.Rectangle
	}{
		{"larger than frame", patternImage(50, 10), nil},
		{"larger than region", patternImage(10, 10), &image.Rectangle{Max: image.Pt(5, 5)}},
		{"region outside frame", patternImage(4, 4), &image.Rectangle{Min: image.Pt(100, 100), Max: image.Pt(120, 120)}},
		{"nil needle", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FindTemplate(frame, tt.needle, &MatchConfig{Threshold: 0.5, SearchRegion: tt.region})
			assert.False(t, result.Found)
		})
	}
}

func TestCropRegion(t *testing.T) {
	frame := patternImage(50, 50)

	cropped, err := CropRegion(frame, image.Rect(10, 20, 30, 25))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 5), cropped.Bounds())
	assert.Equal(t, frame.RGBAAt(10, 20), cropped.RGBAAt(0, 0))
	assert.Equal(t, frame.RGBAAt(29, 24), cropped.RGBAAt(19, 4))

	clipped, err := CropRegion(frame, image.Rect(40, 40, 80, 80))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), clipped.Bounds())

	_, err = CropRegion(frame, image.Rect(60, 60, 70, 70))
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = CropRegion(nil, image.Rect(0, 0, 1, 1))
	assert.ErrorIs(t, err, ErrInvalidImage)
}
