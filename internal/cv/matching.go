package cv

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"
)

// MatchResult contains template matching results
type MatchResult struct {
	Found      bool
	Location   image.Point // Top-left corner of the best match
	Confidence float64
}

// MatchMethod defines template matching algorithm
type MatchMethod int

const (
	// MatchMethodSAD - Sum of Absolute Differences (fastest)
	MatchMethodSAD MatchMethod = iota
	// MatchMethodSSD - Sum of Squared Differences (balanced)
	MatchMethodSSD
	// MatchMethodNCC - Normalized Cross-Correlation (most accurate)
	MatchMethodNCC
)

func (m MatchMethod) String() string {
	switch m {
	case MatchMethodSAD:
		return "sad"
	case MatchMethodSSD:
		return "ssd"
	case MatchMethodNCC:
		return "ncc"
	default:
		return "unknown"
	}
}

// ParseMatchMethod parses "sad", "ssd" or "ncc", case-insensitively
func ParseMatchMethod(s string) (MatchMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sad":
		return MatchMethodSAD, nil
	case "ssd":
		return MatchMethodSSD, nil
	case "ncc":
		return MatchMethodNCC, nil
	default:
		return MatchMethodSSD, fmt.Errorf("invalid match method '%s': must be sad, ssd or ncc", s)
	}
}

// MatchConfig configures template matching
type MatchConfig struct {
	Method       MatchMethod
	Threshold    float64          // 0.0-1.0, higher = more strict
	SearchRegion *image.Rectangle // Optional: limit search area
}

// DefaultMatchConfig returns recommended settings
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		Method:    MatchMethodSSD,
		Threshold: 0.85,
	}
}

// Error types
var (
	ErrTemplateTooLarge = errors.New("template larger than search image")
	ErrInvalidImage     = errors.New("invalid image provided")
)

// FindTemplate finds the best position of needle within haystack. The result carries
// the best score even when it is below the threshold.
func FindTemplate(haystack, needle *image.RGBA, config *MatchConfig) *MatchResult {
	if config == nil {
		config = DefaultMatchConfig()
	}
	if haystack == nil || needle == nil || needle.Bounds().Empty() {
		return &MatchResult{}
	}

	searchBounds := haystack.Bounds()
	if config.SearchRegion != nil {
		searchBounds = config.SearchRegion.Intersect(searchBounds)
	}

	width, height := needle.Bounds().Dx(), needle.Bounds().Dy()
	maxY := searchBounds.Max.Y - height
	maxX := searchBounds.Max.X - width
	if searchBounds.Empty() || maxY < searchBounds.Min.Y || maxX < searchBounds.Min.X {
		// Template doesn't fit in search region
		return &MatchResult{}
	}

	best := &MatchResult{Confidence: -1}
	for y := searchBounds.Min.Y; y <= maxY; y++ {
		for x := searchBounds.Min.X; x <= maxX; x++ {
			score, ok := calculateMatchScore(haystack, needle, x, y, config.Method, best.Confidence)
			if ok && score > best.Confidence {
				best.Confidence = score
				best.Location = image.Point{X: x, Y: y}
			}
		}
	}

	if best.Confidence < 0 {
		best.Confidence = 0
	}
	best.Found = best.Confidence >= config.Threshold
	return best
}

// calculateMatchScore computes similarity between template and image region. ok is false
// when the region provably scores at or below floor.
func calculateMatchScore(haystack, needle *image.RGBA, x, y int, method MatchMethod, floor float64) (float64, bool) {
	switch method {
	case MatchMethodSAD:
		return matchSAD(haystack, needle, x, y, floor)
	case MatchMethodNCC:
		return matchNCC(haystack, needle, x, y), true
	default:
		return matchSSD(haystack, needle, x, y, floor)
	}
}

// distanceLimit converts a score floor into the largest distance worth finishing
func distanceLimit(floor, maxDistance float64) uint64 {
	if floor <= 0 {
		return math.MaxUint64
	}
	return uint64(math.Ceil((1.0-floor)*maxDistance)) + 1
}

// matchSAD - Sum of Absolute Differences (fastest, least accurate)
func matchSAD(haystack, needle *image.RGBA, x, y int, floor float64) (float64, bool) {
	nb := needle.Bounds()
	width, height := nb.Dx(), nb.Dy()
	maxSAD := float64(width * height * 3 * 255)
	limit := distanceLimit(floor, maxSAD)

	var sad uint64
	for ny := 0; ny < height; ny++ {
		hRow := haystack.PixOffset(x, y+ny)
		nRow := needle.PixOffset(nb.Min.X, nb.Min.Y+ny)
		for nx := 0; nx < width; nx++ {
			hIdx := hRow + nx*4
			nIdx := nRow + nx*4

			sad += uint64(abs(int(haystack.Pix[hIdx]) - int(needle.Pix[nIdx])))
			sad += uint64(abs(int(haystack.Pix[hIdx+1]) - int(needle.Pix[nIdx+1])))
			sad += uint64(abs(int(haystack.Pix[hIdx+2]) - int(needle.Pix[nIdx+2])))
		}
		if sad >= limit {
			return 0, false
		}
	}

	return 1.0 - (float64(sad) / maxSAD), true
}

// matchSSD - Sum of Squared Differences (balanced)
func matchSSD(haystack, needle *image.RGBA, x, y int, floor float64) (float64, bool) {
	nb := needle.Bounds()
	width, height := nb.Dx(), nb.Dy()
	maxSSD := float64(width * height * 3 * 255 * 255)
	limit := distanceLimit(floor, maxSSD)

	var ssd uint64
	for ny := 0; ny < height; ny++ {
		hRow := haystack.PixOffset(x, y+ny)
		nRow := needle.PixOffset(nb.Min.X, nb.Min.Y+ny)
		for nx := 0; nx < width; nx++ {
			hIdx := hRow + nx*4
			nIdx := nRow + nx*4

			dr := int(haystack.Pix[hIdx]) - int(needle.Pix[nIdx])
			dg := int(haystack.Pix[hIdx+1]) - int(needle.Pix[nIdx+1])
			db := int(haystack.Pix[hIdx+2]) - int(needle.Pix[nIdx+2])

			ssd += uint64(dr*dr + dg*dg + db*db)
		}
		if ssd >= limit {
			return 0, false
		}
	}

	return 1.0 - (float64(ssd) / maxSSD), true
}

// matchNCC - Normalized Cross-Correlation (slowest, most accurate)
func matchNCC(haystack, needle *image.RGBA, x, y int) float64 {
	nb := needle.Bounds()
	width, height := nb.Dx(), nb.Dy()

	var sumH, sumN, sumHN, sumHH, sumNN float64
	pixelCount := float64(width * height * 3)

	for ny := 0; ny < height; ny++ {
		hRow := haystack.PixOffset(x, y+ny)
		nRow := needle.PixOffset(nb.Min.X, nb.Min.Y+ny)
		for nx := 0; nx < width; nx++ {
			for c := 0; c < 3; c++ {
				h := float64(haystack.Pix[hRow+nx*4+c])
				n := float64(needle.Pix[nRow+nx*4+c])

				sumH += h
				sumN += n
				sumHN += h * n
				sumHH += h * h
				sumNN += n * n
			}
		}
	}

	numerator := sumHN - (sumH * sumN / pixelCount)
	denomH := math.Sqrt(math.Max(0, sumHH-(sumH*sumH/pixelCount)))
	denomN := math.Sqrt(math.Max(0, sumNN-(sumN*sumN/pixelCount)))

	if denomH == 0 || denomN == 0 {
		// Flat regions correlate only with themselves
		if denomH == denomN && sumH == sumN {
			return 1
		}
		return 0
	}

	// Correlation coefficient (-1 to 1, normalize to 0-1)
	correlation := numerator / (denomH * denomN)
	return (correlation + 1.0) / 2.0
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// CropRegion copies a rectangular region of img into a new image anchored at (0,0).
// The region is clipped to the image bounds.
func CropRegion(img *image.RGBA, rect image.Rectangle) (*image.RGBA, error) {
	if img == nil {
		return nil, ErrInvalidImage
	}
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, ErrInvalidImage
	}

	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)
	return cropped, nil
}
