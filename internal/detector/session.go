package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/debug"
	"jordanella.com/scenario-detector/internal/detection"
	"jordanella.com/scenario-detector/internal/events"
	"jordanella.com/scenario-detector/internal/processing"
	"jordanella.com/scenario-detector/internal/scenario"
	"jordanella.com/scenario-detector/pkg/templates"
)

// command is an external input applied by the worker between two passes. Exactly one
// field is set.
type command struct {
	broadcast string
	resize    *image.Point
	capture   *captureRequest
}

type captureRequest struct {
	area  image.Rectangle
	reply chan captureResult
}

type captureResult struct {
	img *image.RGBA
	err error
}

// session is one detection run. state, frames and processor are owned by the worker.
type session struct {
	id       string
	scenario *scenario.Scenario
	flags    DebugFlags
	quality  int

	state     *processing.State
	frames    *cv.FrameCache
	processor *detection.ScenarioProcessor

	reports      *detection.ChannelObserver
	recorder     *debug.Recorder
	recorderDone chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	commands chan command
	stopping atomic.Bool
	passes   atomic.Int64

	// captureLost is set when the source could not be restarted after a resize
	captureLost atomic.Bool

	passMu     sync.Mutex
	passCancel context.CancelFunc

	// sendMu orders command sends against closing: once closed is set no command
	// can enter the channel, so the final drain answers every accepted request
	sendMu sync.Mutex
	closed bool

	pendingCaptures []*captureRequest
}

func (e *Engine) newSession(ctx context.Context, sc *scenario.Scenario, flags DebugFlags) *session {
	quality := sc.DetectionQuality
	if quality <= 0 {
		quality = e.cfg.DefaultQuality
	}

	s := &session{
		id:       uuid.New().String(),
		scenario: sc,
		flags:    flags,
		quality:  quality,
		commands: make(chan command, 16),
	}

	s.state = processing.NewState(sc, processing.WithClock(e.cfg.Clock))
	s.state.Start()
	s.frames = cv.NewFrameCache(e.cfg.Matcher, e.cfg.Loader, templates.NewImageCache(e.cfg.ReferenceBudget), quality)

	var observers detection.MultiObserver
	if e.cfg.Bus != nil {
		observers = append(observers, busObserver{bus: e.cfg.Bus})
	}
	if e.cfg.Observer != nil {
		observers = append(observers, e.cfg.Observer)
	}
	if flags.Report || flags.Persist {
		s.reports = detection.NewChannelObserver(e.cfg.ReportBuffer)
		s.recorder = debug.NewRecorder(s.id, sc, e.cfg.Clock())
		s.recorderDone = make(chan struct{})
		observers = append(observers, s.reports)
		go func() {
			defer close(s.recorderDone)
			s.recorder.Consume(context.Background(), s.reports.Reports())
		}()
	}

	s.processor = detection.NewScenarioProcessor(detection.ProcessorConfig{
		Scenario: sc,
		State:    s.state,
		Frames:   s.frames,
		Matcher:  e.cfg.Matcher,
		Sinks:    e.cfg.Sinks,
		Observer: observers,
		OnStop: func() {
			var completed []int64
			for _, info := range s.processor.Verifier().Progress() {
				if info.Completed() {
					completed = append(completed, info.EventID)
				}
			}
			e.publish(events.NewEndReachedEvent(s.id, completed))
		},
	})

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.group, s.ctx = errgroup.WithContext(s.ctx)
	return s
}

// send queues a command for the worker. Commands are refused once the session is
// cancelled or closed.
func (s *session) send(cmd command) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed || s.ctx.Err() != nil {
		return fmt.Errorf("%w: session is stopping", ErrInvalidState)
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("%w: session is stopping", ErrInvalidState)
	}
}

// close refuses further commands. The session context must already be cancelled so a
// sender blocked on a full channel lets go of sendMu.
func (s *session) close() {
	s.sendMu.Lock()
	s.closed = true
	s.sendMu.Unlock()
}

// cancelPass interrupts the running frame pass, if any
func (s *session) cancelPass() {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	if s.passCancel != nil {
		s.passCancel()
	}
}

func (s *session) beginPass() context.Context {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	ctx, cancel := context.WithCancel(s.ctx)
	s.passCancel = cancel
	return ctx
}

func (s *session) endPass() {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	if s.passCancel != nil {
		s.passCancel()
		s.passCancel = nil
	}
}

// run is the detection worker: it drains commands, acquires frames and runs one pass at
// a time until the session is cancelled or its end conditions are reached.
func (e *Engine) run(s *session) (err error) {
	logger := e.logger.With(zap.String("session_id", s.id))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detection worker panic: %v", r)
			logger.Error("Detection worker crashed", zap.Any("panic", r))
		}
		s.failPendingCaptures(ErrNoFrame)
		if !s.stopping.Load() {
			// Ended by itself: end conditions, context or error
			e.stops.Add(1)
			go func() {
				defer e.stops.Done()
				e.stopIfCurrent(s)
			}()
		}
	}()

	poll := rate.NewLimiter(rate.Every(e.cfg.FramePollInterval), 1)
	var pace *rate.Limiter
	if e.cfg.MaxFPS > 0 {
		pace = rate.NewLimiter(rate.Limit(e.cfg.MaxFPS), 1)
	}

	for {
		if err := e.drainCommands(s); err != nil {
			return err
		}
		if s.ctx.Err() != nil || s.processor.Ended() {
			return nil
		}

		source := e.currentSource()
		var frame *image.RGBA
		if source != nil {
			frame = source.AcquireLatestFrame()
		}

		if frame == nil && !hasTriggerEvents(s.scenario) {
			if err := e.waitForFrame(s, poll); err != nil {
				if s.ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}
		if frame == nil {
			// Trigger events run without a frame, paced by the poll limiter
			if err := poll.Wait(s.ctx); err != nil {
				return nil
			}
		} else if pace != nil {
			if err := pace.Wait(s.ctx); err != nil {
				return nil
			}
		}

		passCtx := s.beginPass()
		perr := s.processor.Process(passCtx, frame)
		s.endPass()
		s.passes.Add(1)

		if perr != nil && !errors.Is(perr, context.Canceled) {
			logger.Warn("Frame pass failed", zap.Error(perr))
		}
		if frame != nil {
			s.serveCaptures()
		}
	}
}

// waitForFrame blocks until the poll limiter allows another acquisition or a command
// arrives
func (e *Engine) waitForFrame(s *session, poll *rate.Limiter) error {
	r := poll.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		delay = e.cfg.FramePollInterval
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case cmd := <-s.commands:
		r.Cancel()
		return e.apply(s, cmd)
	case <-s.ctx.Done():
		r.Cancel()
		return s.ctx.Err()
	}
}

func (e *Engine) drainCommands(s *session) error {
	for {
		select {
		case cmd := <-s.commands:
			if err := e.apply(s, cmd); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (e *Engine) apply(s *session, cmd command) error {
	switch {
	case cmd.broadcast != "":
		s.state.ReceiveBroadcast(cmd.broadcast)
	case cmd.resize != nil:
		if err := e.restartSource(*cmd.resize); err != nil {
			s.captureLost.Store(true)
			e.publish(events.NewErrorEvent("detector", "capture resize failed", err))
			return err
		}
		s.frames.Invalidate()
	case cmd.capture != nil:
		s.pendingCaptures = append(s.pendingCaptures, cmd.capture)
		if s.frames.FullFrame() != nil {
			s.serveCaptures()
		}
	}
	return nil
}

func (s *session) serveCaptures() {
	frame := s.frames.FullFrame()
	for _, req := range s.pendingCaptures {
		img, err := cv.CropRegion(frame, req.area)
		req.reply <- captureResult{img: img, err: err}
	}
	s.pendingCaptures = nil
}

func (s *session) failPendingCaptures(err error) {
	for _, req := range s.pendingCaptures {
		req.reply <- captureResult{err: err}
	}
	s.pendingCaptures = nil
	// Requests still queued are answered too
	for {
		select {
		case cmd := <-s.commands:
			if cmd.capture != nil {
				cmd.capture.reply <- captureResult{err: err}
			}
		default:
			return
		}
	}
}

// finishSession cancels the worker, waits for it and closes the session's reports
func (e *Engine) finishSession(s *session) {
	s.stopping.Store(true)
	s.cancel()
	s.close()
	if err := s.group.Wait(); err != nil {
		e.logger.Warn("Detection worker ended with error", zap.String("session_id", s.id), zap.Error(err))
	}
	s.failPendingCaptures(ErrNoFrame)
	s.state.Stop()

	e.mu.Lock()
	e.session = nil
	e.mu.Unlock()

	passes := s.passes.Load()
	if s.recorder != nil {
		s.reports.Close()
		<-s.recorderDone
		s.recorder.Finish(e.cfg.Clock(), s.reports.Dropped())
		report := s.recorder.Snapshot()

		e.mu.Lock()
		e.last = &report
		e.mu.Unlock()

		if s.flags.Persist && e.cfg.Store != nil {
			if err := e.cfg.Store.SaveDebugReport(report); err != nil {
				e.logger.Error("Failed to save debug report", zap.String("session_id", s.id), zap.Error(err))
			}
		}
	}

	e.publish(events.NewSessionStoppedEvent(s.id, passes))
	e.logger.Info("Detection stopped",
		zap.String("session_id", s.id),
		zap.Int64("passes", passes),
		zap.Bool("end_reached", s.processor.Ended()))
}

// stopIfCurrent stops detection when s is still the running session
func (e *Engine) stopIfCurrent(s *session) {
	e.mu.Lock()
	current := e.state == StateDetecting && e.session == s
	e.mu.Unlock()

	if !current {
		return
	}
	op, lost := "StopDetection", s.captureLost.Load()
	if lost {
		op = "CaptureLost"
	}
	if err := e.stopDetection(op, lost); err != nil && !errors.Is(err, ErrTransitioning) && !errors.Is(err, ErrDestroyed) {
		e.logger.Warn("Automatic stop failed", zap.String("session_id", s.id), zap.Error(err))
	}
}

func hasTriggerEvents(sc *scenario.Scenario) bool {
	return len(sc.TriggerEvents) > 0
}
