package cv

import (
	"image"
	"math"
)

// ScaleFactorFor returns the detection scale for a screen: frames whose largest side
// exceeds quality are shrunk so that side equals quality. Never upscales.
func ScaleFactorFor(screen image.Point, quality int) float64 {
	longest := max(screen.X, screen.Y)
	if quality <= 0 || longest <= 0 || quality >= longest {
		return 1
	}
	return float64(quality) / float64(longest)
}

// scaledDimension scales one side, never below one pixel
func scaledDimension(n int, scale float64) int {
	if scale == 1 {
		return n
	}
	return max(1, int(math.Round(float64(n)*scale)))
}

// scaledSize scales a rectangle's size
func scaledSize(r image.Rectangle, scale float64) image.Point {
	return image.Pt(scaledDimension(r.Dx(), scale), scaledDimension(r.Dy(), scale))
}

// scaleRectOut maps a screen rectangle into detection space, rounding outwards so the
// scaled rectangle never loses pixels of the original
func scaleRectOut(r image.Rectangle, scale float64) image.Rectangle {
	if scale == 1 {
		return r
	}
	return image.Rect(
		int(math.Floor(float64(r.Min.X)*scale)),
		int(math.Floor(float64(r.Min.Y)*scale)),
		int(math.Ceil(float64(r.Max.X)*scale)),
		int(math.Ceil(float64(r.Max.Y)*scale)),
	)
}

// unscalePoint maps a detection space point back to screen coordinates
func unscalePoint(p image.Point, scale float64) image.Point {
	if scale == 1 || scale <= 0 {
		return p
	}
	return image.Pt(
		int(math.Round(float64(p.X)/scale)),
		int(math.Round(float64(p.Y)/scale)),
	)
}
