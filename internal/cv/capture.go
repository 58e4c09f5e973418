package cv

import (
	"image"
)

// FrameSource produces screen frames. AcquireLatestFrame never blocks: it returns the
// newest frame not yet handed out, or nil.
type FrameSource interface {
	Start(size image.Point) error
	Stop() error
	AcquireLatestFrame() *image.RGBA
}
