// Package detector owns the capture and detection lifecycle: it starts frame sources,
// runs the scenario processing worker and exposes the engine state.
package detector

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/debug"
	"jordanella.com/scenario-detector/internal/detection"
	"jordanella.com/scenario-detector/internal/events"
	"jordanella.com/scenario-detector/internal/logging"
	"jordanella.com/scenario-detector/internal/scenario"
)

// RecordRequest describes the capture to start
type RecordRequest struct {
	Source cv.FrameSource
	Size   image.Point
	// CheckPermission, when set, must succeed before the capture starts
	CheckPermission func(ctx context.Context) error
}

func (r RecordRequest) validate(ctx context.Context) error {
	if r.Source == nil {
		return fmt.Errorf("%w: nil frame source", ErrInvalidRecordRequest)
	}
	if r.Size.X <= 0 || r.Size.Y <= 0 {
		return fmt.Errorf("%w: empty capture size %v", ErrInvalidRecordRequest, r.Size)
	}
	if r.CheckPermission != nil {
		if err := r.CheckPermission(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecordRequest, err)
		}
	}
	return nil
}

// DebugFlags selects the debug data kept for a detection session
type DebugFlags = debug.Flags

// ReportStore persists session debug reports
type ReportStore interface {
	SaveDebugReport(report debug.Report) error
}

// Config wires an Engine. Matcher and Loader are required.
type Config struct {
	Matcher cv.Matcher
	Loader  cv.ImageLoader
	Sinks   detection.Sinks

	Bus      events.EventBus    // Optional
	Store    ReportStore        // Optional, used when DebugFlags.Persist is set
	Observer detection.Observer // Optional, receives every processing report
	Clock    func() time.Time   // Optional, defaults to time.Now

	ReferenceBudget   int64         // Reference image cache budget in bytes
	DefaultQuality    int           // Used when a scenario has no detection quality
	FramePollInterval time.Duration // Wait after an empty frame acquisition
	MaxFPS            int           // 0 = unlimited
	ReportBuffer      int           // Debug report channel capacity
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.ReferenceBudget <= 0 {
		c.ReferenceBudget = 32 * 1024 * 1024
	}
	if c.DefaultQuality <= 0 {
		c.DefaultQuality = 1200
	}
	if c.FramePollInterval <= 0 {
		c.FramePollInterval = 10 * time.Millisecond
	}
	if c.ReportBuffer <= 0 {
		c.ReportBuffer = 256
	}
}

// Engine is the capture and detection state machine. All methods are safe for
// concurrent use; lifecycle calls made while another one runs fail with
// ErrTransitioning.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	state    DetectorState
	source   cv.FrameSource
	size     image.Point
	session  *session
	last     *debug.Report
	watchers []chan DetectorState

	// Stops launched from the worker when a session ends by itself
	stops sync.WaitGroup
}

// NewEngine creates an engine in the CREATED state
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:    cfg,
		logger: logging.NewLogger("DetectorEngine"),
		state:  StateCreated,
	}
}

// State returns the current state
func (e *Engine) State() DetectorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WatchState returns a channel receiving the current state and every later change. A
// slow reader only misses intermediate states. The channel is closed by Destroy.
func (e *Engine) WatchState() <-chan DetectorState {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan DetectorState, 8)
	ch <- e.state
	if e.state == StateDestroyed {
		close(ch)
		return ch
	}
	e.watchers = append(e.watchers, ch)
	return ch
}

// CaptureSize returns the size of the running capture
func (e *Engine) CaptureSize() image.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}

// SessionID returns the id of the running detection session, or ""
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.id
}

// LastReport returns the debug report of the last stopped session that recorded one
func (e *Engine) LastReport() (debug.Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return debug.Report{}, false
	}
	return *e.last, true
}

// StartScreenRecord starts the frame source. CREATED -> RECORDING.
func (e *Engine) StartScreenRecord(ctx context.Context, req RecordRequest) error {
	if err := req.validate(ctx); err != nil {
		e.logger.Error("Rejected record request", zap.Error(err))
		return err
	}

	if _, err := e.beginTransition("StartScreenRecord", StateCreated); err != nil {
		return err
	}

	if err := req.Source.Start(req.Size); err != nil {
		e.endTransition(StateCreated)
		return fmt.Errorf("failed to start frame source: %w", err)
	}

	e.mu.Lock()
	e.source = req.Source
	e.size = req.Size
	e.mu.Unlock()

	e.logger.Info("Screen record started", zap.Int("width", req.Size.X), zap.Int("height", req.Size.Y))
	e.endTransition(StateRecording)
	return nil
}

// StopScreenRecord stops the frame source. RECORDING -> CREATED.
func (e *Engine) StopScreenRecord() error {
	if _, err := e.beginTransition("StopScreenRecord", StateRecording); err != nil {
		return err
	}

	err := e.releaseSource()
	e.endTransition(StateCreated)
	return err
}

// StartDetection runs scenario against the recorded frames. RECORDING -> DETECTING.
// The session runs until StopDetection, Destroy, its end conditions or ctx.
func (e *Engine) StartDetection(ctx context.Context, sc *scenario.Scenario, flags DebugFlags) error {
	if sc == nil {
		return fmt.Errorf("%w: nil scenario", scenario.ErrInvalidScenario)
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	for _, w := range sc.Warnings() {
		e.logger.Warn("Scenario action will be skipped", zap.String("scenario", sc.Name), zap.String("problem", w))
	}

	if _, err := e.beginTransition("StartDetection", StateRecording); err != nil {
		return err
	}

	s := e.newSession(ctx, sc, flags)

	e.mu.Lock()
	e.session = s
	e.setStateLocked(StateDetecting)
	// Started under the lock so a concurrent stop always sees a running worker
	s.group.Go(func() error { return e.run(s) })
	e.mu.Unlock()

	e.publish(events.NewSessionStartedEvent(s.id, sc.Name))
	e.logger.Info("Detection started",
		zap.String("session_id", s.id),
		zap.String("scenario", sc.Name),
		zap.Int("quality", s.quality))
	return nil
}

// StopDetection cancels the session at its next yield point and waits for the worker.
// DETECTING -> RECORDING.
func (e *Engine) StopDetection() error {
	return e.stopDetection("StopDetection", false)
}

// stopDetection ends the session. When the capture was lost the source is released
// too and the engine falls back to CREATED.
func (e *Engine) stopDetection(op string, captureLost bool) error {
	if _, err := e.beginTransition(op, StateDetecting); err != nil {
		return err
	}

	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	e.finishSession(s)
	if captureLost {
		err := e.releaseSource()
		e.endTransition(StateCreated)
		return err
	}
	e.endTransition(StateRecording)
	return nil
}

// ReceiveBroadcast queues an external signal for broadcast conditions. Only valid
// while detecting; the worker applies it before its next pass.
func (e *Engine) ReceiveBroadcast(action string) error {
	s, err := e.detectingSession("ReceiveBroadcast")
	if err != nil {
		return err
	}
	return s.send(command{broadcast: action})
}

// ResizeCapture restarts the capture at a new size. While detecting, the in-flight pass
// is cancelled and the session state is kept.
func (e *Engine) ResizeCapture(size image.Point) error {
	if size.X <= 0 || size.Y <= 0 {
		return fmt.Errorf("%w: empty capture size %v", ErrInvalidRecordRequest, size)
	}

	e.mu.Lock()
	state, s := e.state, e.session
	e.mu.Unlock()

	if state == StateDetecting && s != nil {
		if err := s.send(command{resize: &size}); err != nil {
			return err
		}
		s.cancelPass()
		return nil
	}

	if _, err := e.beginTransition("ResizeCapture", StateRecording); err != nil {
		return err
	}
	err := e.restartSource(size)
	if err != nil {
		// The source is down; release it and fall back to CREATED
		e.releaseSource()
		e.endTransition(StateCreated)
		return err
	}
	e.endTransition(StateRecording)
	return nil
}

// CaptureArea returns a copy of area from the next available frame. While detecting the
// frame comes from the worker, otherwise from the frame source.
func (e *Engine) CaptureArea(ctx context.Context, area image.Rectangle) (*image.RGBA, error) {
	e.mu.Lock()
	state, s, source := e.state, e.session, e.source
	e.mu.Unlock()

	switch {
	case state == StateDetecting && s != nil:
		reply := make(chan captureResult, 1)
		if err := s.send(command{capture: &captureRequest{area: area, reply: reply}}); err != nil {
			return nil, err
		}
		select {
		case r := <-reply:
			return r.img, r.err
		case <-s.ctx.Done():
			// The final drain may still answer; prefer its reply
			select {
			case r := <-reply:
				return r.img, r.err
			default:
				return nil, fmt.Errorf("%w: session stopped", ErrNoFrame)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	case state == StateRecording && source != nil:
		ticker := time.NewTicker(e.cfg.FramePollInterval)
		defer ticker.Stop()
		for {
			if frame := source.AcquireLatestFrame(); frame != nil {
				return cv.CropRegion(frame, area)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrNoFrame, ctx.Err())
			}
		}

	case state == StateDestroyed:
		return nil, ErrDestroyed
	case state == StateTransitioning:
		return nil, ErrTransitioning
	default:
		return nil, fmt.Errorf("%w: CaptureArea in state %s", ErrInvalidState, state)
	}
}

// Destroy stops everything and moves to the terminal state. Any state -> DESTROYED.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.state == StateDestroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.state == StateTransitioning {
		e.mu.Unlock()
		e.deny("Destroy", StateTransitioning)
		return ErrTransitioning
	}
	s := e.session
	e.setStateLocked(StateTransitioning)
	e.mu.Unlock()

	if s != nil {
		e.finishSession(s)
	}
	err := e.releaseSource()

	e.mu.Lock()
	e.setStateLocked(StateDestroyed)
	for _, ch := range e.watchers {
		close(ch)
	}
	e.watchers = nil
	e.mu.Unlock()

	e.stops.Wait()
	e.logger.Info("Engine destroyed")
	return err
}

// beginTransition moves to TRANSITIONING when the current state is one of from
func (e *Engine) beginTransition(op string, from ...DetectorState) (DetectorState, error) {
	e.mu.Lock()
	current := e.state
	switch {
	case current == StateDestroyed:
		e.mu.Unlock()
		e.logger.Warn("Operation on destroyed engine", zap.String("operation", op))
		return current, ErrDestroyed
	case current == StateTransitioning:
		e.mu.Unlock()
		e.deny(op, current)
		return current, ErrTransitioning
	case !slices.Contains(from, current):
		e.mu.Unlock()
		e.deny(op, current)
		return current, fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, current)
	}
	e.setStateLocked(StateTransitioning)
	e.mu.Unlock()
	return current, nil
}

func (e *Engine) endTransition(to DetectorState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStateLocked(to)
}

func (e *Engine) deny(op string, state DetectorState) {
	e.logger.Warn("Operation rejected",
		zap.String("operation", op),
		zap.Stringer("state", state))
	e.publish(events.NewTransitionDeniedEvent(op, state.String()))
}

func (e *Engine) setStateLocked(to DetectorState) {
	from := e.state
	if from == to {
		return
	}
	e.state = to

	for _, ch := range e.watchers {
		select {
		case ch <- to:
		default:
			// Drop the oldest pending state to make room
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- to:
			default:
			}
		}
	}

	e.logger.Debug("State changed", zap.Stringer("from", from), zap.Stringer("to", to))
	e.publish(events.NewStateChangedEvent(from.String(), to.String()))
}

func (e *Engine) detectingSession(op string) (*session, error) {
	e.mu.Lock()
	state, s := e.state, e.session
	e.mu.Unlock()

	switch {
	case state == StateDestroyed:
		return nil, ErrDestroyed
	case state == StateTransitioning:
		e.deny(op, state)
		return nil, ErrTransitioning
	case state != StateDetecting || s == nil:
		e.deny(op, state)
		return nil, fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, state)
	}
	return s, nil
}

func (e *Engine) restartSource(size image.Point) error {
	e.mu.Lock()
	source := e.source
	e.mu.Unlock()

	if source == nil {
		return fmt.Errorf("%w: no frame source", ErrInvalidState)
	}
	if err := source.Stop(); err != nil {
		e.logger.Warn("Frame source stop failed", zap.Error(err))
	}
	if err := source.Start(size); err != nil {
		return fmt.Errorf("failed to restart frame source: %w", err)
	}

	e.mu.Lock()
	e.size = size
	e.mu.Unlock()

	e.publish(events.NewCaptureResizedEvent(size.X, size.Y))
	e.logger.Info("Capture resized", zap.Int("width", size.X), zap.Int("height", size.Y))
	return nil
}

func (e *Engine) releaseSource() error {
	e.mu.Lock()
	source := e.source
	e.source = nil
	e.size = image.Point{}
	e.mu.Unlock()

	if source == nil {
		return nil
	}
	if err := source.Stop(); err != nil {
		return fmt.Errorf("failed to stop frame source: %w", err)
	}
	e.logger.Info("Screen record stopped")
	return nil
}

func (e *Engine) currentSource() cv.FrameSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

func (e *Engine) publish(event events.Event) {
	if e.cfg.Bus != nil {
		e.cfg.Bus.Publish(event)
	}
}
