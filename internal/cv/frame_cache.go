package cv

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
	"jordanella.com/scenario-detector/pkg/templates"
)

// FrameCache holds the frame being processed and the references it is compared with.
// It is owned by the detection worker and not safe for concurrent use.
type FrameCache struct {
	matcher    Matcher
	loader     ImageLoader
	references *templates.ImageCache

	quality int
	frame   *image.RGBA // Full resolution copy, reused across frames
	scaled  *image.RGBA // Detection space frame
}

// NewFrameCache creates a frame cache. quality is the detection quality applied when
// the frame size changes.
func NewFrameCache(matcher Matcher, loader ImageLoader, references *templates.ImageCache, quality int) *FrameCache {
	return &FrameCache{
		matcher:    matcher,
		loader:     loader,
		references: references,
		quality:    quality,
	}
}

// SetQuality changes the detection quality. Takes effect immediately if a frame is held.
func (fc *FrameCache) SetQuality(quality int) {
	fc.quality = quality
	if fc.frame != nil {
		fc.matcher.SetScreenMetrics(fc.frame.Bounds().Size(), quality)
		fc.scaled = nil
	}
}

// Refresh copies frame into the current-frame buffer and rebuilds the detection space
// frame. Returns true when the frame size changed.
func (fc *FrameCache) Refresh(frame *image.RGBA) (bool, error) {
	if frame == nil || frame.Bounds().Empty() {
		return false, ErrInvalidImage
	}

	size := frame.Bounds().Size()
	resized := fc.frame == nil || fc.frame.Bounds().Size() != size
	if resized {
		fc.frame = image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
		fc.scaled = nil
		fc.matcher.SetScreenMetrics(size, fc.quality)
	}

	draw.Draw(fc.frame, fc.frame.Bounds(), frame, frame.Bounds().Min, draw.Src)
	fc.scaled = fc.matcher.Scale(fc.frame, fc.scaled)
	return resized, nil
}

// Invalidate drops the current-frame buffers. References are kept.
func (fc *FrameCache) Invalidate() {
	fc.frame = nil
	fc.scaled = nil
}

// Frame returns the current frame in detection space, or nil before the first Refresh
func (fc *FrameCache) Frame() *image.RGBA {
	return fc.scaled
}

// FullFrame returns the current frame at full resolution
func (fc *FrameCache) FullFrame() *image.RGBA {
	return fc.frame
}

// Reference returns the detection space reference for key, loading it from path at
// size when it is missing or was prepared for another scale
func (fc *FrameCache) Reference(key int64, path string, size image.Point) (*image.RGBA, error) {
	scale := fc.matcher.ScaleFactor()
	if entry, ok := fc.references.Get(key); ok && entry.Scale == scale {
		return entry.Image, nil
	}

	full, err := fc.loader.Load(path, size.X, size.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference %d: %w", key, err)
	}

	entry := fc.references.Put(key, fc.matcher.Scale(full, nil), scale)
	return entry.Image, nil
}

// References exposes the reference cache
func (fc *FrameCache) References() *templates.ImageCache {
	return fc.references
}
