package cv

import (
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// DetectionResult is the outcome of matching one reference against a frame.
// Position is in screen coordinates and only meaningful when Detected.
type DetectionResult struct {
	Detected   bool
	Position   image.Point
	Confidence float64
}

// Matcher compares references against frames. Frames and references are given in
// detection space (see Scale); areas and returned positions are in screen coordinates.
type Matcher interface {
	// SetScreenMetrics sets the full resolution screen size and the detection quality
	SetScreenMetrics(size image.Point, quality int)
	// ScaleFactor returns the current screen to detection space ratio
	ScaleFactor() float64
	// Scale converts a full resolution image into detection space, reusing dst when it
	// already has the right size
	Scale(src, dst *image.RGBA) *image.RGBA
	MatchAnywhere(ref, frame *image.RGBA, minSimilarity float64) DetectionResult
	MatchInArea(ref, frame *image.RGBA, area image.Rectangle, minSimilarity float64) DetectionResult
}

// TemplateMatcher is the pure Go Matcher built on FindTemplate
type TemplateMatcher struct {
	method MatchMethod
	scaler draw.Scaler

	mu     sync.RWMutex
	screen image.Point
	scale  float64
}

// NewTemplateMatcher creates a matcher using SSD scoring and bilinear shrinking
func NewTemplateMatcher(opts ...Option) *TemplateMatcher {
	options := matcherOptions{
		method: MatchMethodSSD,
		scaler: draw.ApproxBiLinear,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &TemplateMatcher{
		method: options.method,
		scaler: options.scaler,
		scale:  1,
	}
}

func (m *TemplateMatcher) SetScreenMetrics(size image.Point, quality int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screen = size
	m.scale = ScaleFactorFor(size, quality)
}

func (m *TemplateMatcher) ScaleFactor() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scale
}

func (m *TemplateMatcher) Scale(src, dst *image.RGBA) *image.RGBA {
	scale := m.ScaleFactor()
	if src == nil || scale == 1 {
		return src
	}

	size := scaledSize(src.Bounds(), scale)
	if dst == nil || dst == src || dst.Bounds() != image.Rect(0, 0, size.X, size.Y) {
		dst = image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	}
	m.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func (m *TemplateMatcher) MatchAnywhere(ref, frame *image.RGBA, minSimilarity float64) DetectionResult {
	return m.match(ref, frame, nil, minSimilarity)
}

func (m *TemplateMatcher) MatchInArea(ref, frame *image.RGBA, area image.Rectangle, minSimilarity float64) DetectionResult {
	return m.match(ref, frame, &area, minSimilarity)
}

func (m *TemplateMatcher) match(ref, frame *image.RGBA, area *image.Rectangle, minSimilarity float64) DetectionResult {
	if ref == nil || frame == nil {
		return DetectionResult{}
	}
	scale := m.ScaleFactor()

	config := &MatchConfig{Method: m.method, Threshold: minSimilarity}
	if area != nil {
		region := scaleRectOut(*area, scale)
		config.SearchRegion = &region
	}

	result := FindTemplate(frame, ref, config)
	if !result.Found {
		return DetectionResult{Confidence: result.Confidence}
	}

	size := ref.Bounds().Size()
	center := result.Location.Add(image.Pt(size.X/2, size.Y/2))
	return DetectionResult{
		Detected:   true,
		Position:   unscalePoint(center, scale),
		Confidence: result.Confidence,
	}
}
