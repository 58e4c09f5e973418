package detector

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/scenario-detector/internal/capture"
	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/debug"
	"jordanella.com/scenario-detector/internal/detection"
	"jordanella.com/scenario-detector/internal/scenario"
)

// stubVision loads 1x1 references and detects every reference while detect is set
type stubVision struct {
	detect atomic.Bool
}

func (v *stubVision) Load(path string, width, height int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func (v *stubVision) SetScreenMetrics(size image.Point, quality int) {}
func (v *stubVision) ScaleFactor() float64                           { return 1 }
func (v *stubVision) Scale(src, dst *image.RGBA) *image.RGBA         { return src }

func (v *stubVision) MatchAnywhere(ref, frame *image.RGBA, minSimilarity float64) cv.DetectionResult {
	return v.result()
}

func (v *stubVision) MatchInArea(ref, frame *image.RGBA, area image.Rectangle, minSimilarity float64) cv.DetectionResult {
	return v.result()
}

func (v *stubVision) result() cv.DetectionResult {
	if v.detect.Load() {
		return cv.DetectionResult{Detected: true, Position: image.Pt(5, 5), Confidence: 1}
	}
	return cv.DetectionResult{}
}

type recordingSinks struct {
	mu            sync.Mutex
	clicks        []image.Point
	notifications []string
}

func (r *recordingSinks) Click(ctx context.Context, at image.Point, press time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, at)
	return nil
}

func (r *recordingSinks) Swipe(ctx context.Context, from, to image.Point, d time.Duration) error {
	return nil
}

func (r *recordingSinks) Notify(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, title)
	return nil
}

func (r *recordingSinks) clickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clicks)
}

func (r *recordingSinks) notificationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications)
}

func (r *recordingSinks) sinks() detection.Sinks {
	return detection.Sinks{Gestures: r, Notifications: r}
}

type memoryStore struct {
	mu      sync.Mutex
	reports []debug.Report
}

func (m *memoryStore) SaveDebugReport(report debug.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

func (m *memoryStore) saved() []debug.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]debug.Report(nil), m.reports...)
}

// blockingSource blocks in Start until release is closed
type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSource) Start(size image.Point) error {
	close(b.started)
	<-b.release
	return nil
}

func (b *blockingSource) Stop() error                     { return nil }
func (b *blockingSource) AcquireLatestFrame() *image.RGBA { return nil }

// flakySource is a mailbox that refuses to start at one size
type flakySource struct {
	*capture.Mailbox
	bad image.Point
}

func (f *flakySource) Start(size image.Point) error {
	if size == f.bad {
		return errors.New("capture surface unavailable")
	}
	return f.Mailbox.Start(size)
}

func clickScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:   "click",
		Name: "Click scenario",
		Events: []scenario.Event{{
			ID:             1,
			Name:           "button",
			EnabledOnStart: true,
			Conditions: []scenario.Condition{
				scenario.NewImageCondition(10, "button.png", image.Rect(0, 0, 10, 10), 10),
			},
			Actions: []scenario.Action{scenario.NewClickOnCondition(100, 10, 0)},
		}},
	}
}

func testFrame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 100, 100))
}

func sizedFrame(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}
