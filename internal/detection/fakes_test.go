package detection

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/scenario"
	"jordanella.com/scenario-detector/pkg/templates"
)

// fakeVision is both the reference loader and the matcher: every path loads a distinct
// image and matching returns the detection configured for that path
type fakeVision struct {
	mu         sync.Mutex
	images     map[string]*image.RGBA
	paths      map[*image.RGBA]string
	detections map[string]cv.DetectionResult
	panics     map[string]bool
	failLoad   map[string]bool
	calls      []matchCall
}

type matchCall struct {
	path string
	area *image.Rectangle
}

func newFakeVision() *fakeVision {
	return &fakeVision{
		images:     make(map[string]*image.RGBA),
		paths:      make(map[*image.RGBA]string),
		detections: make(map[string]cv.DetectionResult),
		panics:     make(map[string]bool),
		failLoad:   make(map[string]bool),
	}
}

func (v *fakeVision) detect(path string, at image.Point) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.detections[path] = cv.DetectionResult{Detected: true, Position: at, Confidence: 0.99}
}

func (v *fakeVision) Load(path string, width, height int) (*image.RGBA, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failLoad[path] {
		return nil, errors.New("unreadable")
	}
	img, ok := v.images[path]
	if !ok {
		img = image.NewRGBA(image.Rect(0, 0, 1, 1))
		v.images[path] = img
		v.paths[img] = path
	}
	return img, nil
}

func (v *fakeVision) SetScreenMetrics(size image.Point, quality int) {}
func (v *fakeVision) ScaleFactor() float64                           { return 1 }
func (v *fakeVision) Scale(src, dst *image.RGBA) *image.RGBA         { return src }

func (v *fakeVision) MatchAnywhere(ref, frame *image.RGBA, minSimilarity float64) cv.DetectionResult {
	return v.match(ref, nil)
}

func (v *fakeVision) MatchInArea(ref, frame *image.RGBA, area image.Rectangle, minSimilarity float64) cv.DetectionResult {
	return v.match(ref, &area)
}

func (v *fakeVision) match(ref *image.RGBA, area *image.Rectangle) cv.DetectionResult {
	v.mu.Lock()
	path := v.paths[ref]
	v.calls = append(v.calls, matchCall{path: path, area: area})
	shouldPanic := v.panics[path]
	result := v.detections[path]
	v.mu.Unlock()

	if shouldPanic {
		panic("matcher exploded")
	}
	return result
}

func (v *fakeVision) matchedPaths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	paths := make([]string, 0, len(v.calls))
	for _, c := range v.calls {
		paths = append(paths, c.path)
	}
	return paths
}

func newTestFrames(v *fakeVision) *cv.FrameCache {
	frames := cv.NewFrameCache(v, v, templates.NewImageCache(1<<20), 0)
	return frames
}

func testFrame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 100, 100))
}

func imageCondition(id int64, path string) scenario.Condition {
	return scenario.NewImageCondition(id, path, image.Rect(0, 0, 10, 10), 5)
}

// gesture is one dispatched click or swipe
type gesture struct {
	kind     string
	from, to image.Point
	duration time.Duration
}

type recordingSinks struct {
	mu            sync.Mutex
	gestures      []gesture
	intents       []scenario.IntentAction
	notifications []string
	clickErr      error
}

func (r *recordingSinks) Click(ctx context.Context, at image.Point, press time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clickErr != nil {
		return r.clickErr
	}
	r.gestures = append(r.gestures, gesture{kind: "click", from: at, duration: press})
	return nil
}

func (r *recordingSinks) Swipe(ctx context.Context, from, to image.Point, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gestures = append(r.gestures, gesture{kind: "swipe", from: from, to: to, duration: duration})
	return nil
}

func (r *recordingSinks) SendIntent(ctx context.Context, intent scenario.IntentAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return nil
}

func (r *recordingSinks) Notify(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, title+": "+message)
	return nil
}

func (r *recordingSinks) sinks() Sinks {
	return Sinks{Gestures: r, Intents: r, Notifications: r}
}

func (r *recordingSinks) recorded() []gesture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gesture(nil), r.gestures...)
}

// recordingObserver keeps every report in memory
type recordingObserver struct {
	mu          sync.Mutex
	evaluations []Evaluation
	anomalies   []ActionAnomaly
	passes      []PassSummary
}

func (o *recordingObserver) OnEvaluation(e Evaluation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evaluations = append(o.evaluations, e)
}

func (o *recordingObserver) OnActionAnomaly(a ActionAnomaly) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.anomalies = append(o.anomalies, a)
}

func (o *recordingObserver) OnPassCompleted(p PassSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes = append(o.passes, p)
}

func (o *recordingObserver) evaluatedEvents() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]int64, 0, len(o.evaluations))
	for _, e := range o.evaluations {
		ids = append(ids, e.EventID)
	}
	return ids
}
