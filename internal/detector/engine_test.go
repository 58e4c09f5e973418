package detector

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"jordanella.com/scenario-detector/internal/capture"
	"jordanella.com/scenario-detector/internal/events"
	"jordanella.com/scenario-detector/internal/processing"
	"jordanella.com/scenario-detector/internal/scenario"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type engineFixture struct {
	engine  *Engine
	vision  *stubVision
	sinks   *recordingSinks
	store   *memoryStore
	mailbox *capture.Mailbox
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		vision:  &stubVision{},
		sinks:   &recordingSinks{},
		store:   &memoryStore{},
		mailbox: capture.NewMailbox(),
	}
	f.engine = NewEngine(Config{
		Matcher:           f.vision,
		Loader:            f.vision,
		Sinks:             f.sinks.sinks(),
		Store:             f.store,
		FramePollInterval: time.Millisecond,
	})
	t.Cleanup(func() { f.engine.Destroy() })
	return f
}

func (f *engineFixture) record(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.StartScreenRecord(context.Background(), RecordRequest{
		Source: f.mailbox,
		Size:   image.Pt(100, 100),
	}))
}

// feed publishes frames until cond holds
func (f *engineFixture) feed(t *testing.T, cond func() bool) {
	t.Helper()
	f.feedFrames(t, testFrame, cond)
}

func (f *engineFixture) feedFrames(t *testing.T, frame func() *image.RGBA, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mailbox.Publish(frame())
		return cond()
	}, 3*time.Second, 2*time.Millisecond)
}

func (f *engineFixture) session() *session {
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	return f.engine.session
}

func (f *engineFixture) state() *processing.State {
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	if f.engine.session == nil {
		return nil
	}
	return f.engine.session.state
}

func TestStartDetectionRejectedWhenCreated(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.StartDetection(context.Background(), clickScenario(), DebugFlags{})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateCreated, f.engine.State())
	assert.Empty(t, f.engine.SessionID())
}

func TestLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	watch := f.engine.WatchState()

	seen := make(chan []DetectorState, 1)
	go func() {
		var states []DetectorState
		for s := range watch {
			states = append(states, s)
		}
		seen <- states
	}()

	f.record(t)
	assert.Equal(t, StateRecording, f.engine.State())
	assert.Equal(t, image.Pt(100, 100), f.engine.CaptureSize())

	require.NoError(t, f.engine.StartDetection(context.Background(), clickScenario(), DebugFlags{}))
	assert.Equal(t, StateDetecting, f.engine.State())
	assert.NotEmpty(t, f.engine.SessionID())

	require.NoError(t, f.engine.StopDetection())
	assert.Equal(t, StateRecording, f.engine.State())
	assert.Empty(t, f.engine.SessionID())

	require.NoError(t, f.engine.StopScreenRecord())
	assert.Equal(t, StateCreated, f.engine.State())
	assert.Equal(t, image.Point{}, f.engine.CaptureSize())

	require.NoError(t, f.engine.Destroy())
	assert.Equal(t, StateDestroyed, f.engine.State())

	// Intermediate states may be skipped by a slow reader, the last one never is
	states := <-seen
	require.NotEmpty(t, states)
	assert.Equal(t, StateDestroyed, states[len(states)-1])
}

func TestIllegalTransitions(t *testing.T) {
	f := newEngineFixture(t)

	assert.ErrorIs(t, f.engine.StopScreenRecord(), ErrInvalidState)
	assert.ErrorIs(t, f.engine.StopDetection(), ErrInvalidState)
	assert.ErrorIs(t, f.engine.ReceiveBroadcast("x"), ErrInvalidState)
	assert.Equal(t, StateCreated, f.engine.State())

	f.record(t)
	assert.ErrorIs(t, f.engine.StartScreenRecord(context.Background(), RecordRequest{
		Source: capture.NewMailbox(),
		Size:   image.Pt(10, 10),
	}), ErrInvalidState)
	assert.ErrorIs(t, f.engine.StopDetection(), ErrInvalidState)
	assert.Equal(t, StateRecording, f.engine.State())

	require.NoError(t, f.engine.Destroy())
	assert.ErrorIs(t, f.engine.Destroy(), ErrDestroyed)
	assert.ErrorIs(t, f.engine.StartScreenRecord(context.Background(), RecordRequest{
		Source: f.mailbox,
		Size:   image.Pt(10, 10),
	}), ErrDestroyed)

	_, ok := <-f.engine.WatchState()
	assert.True(t, ok, "a late watcher still receives the final state")
}

func TestInvalidRecordRequest(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	denied := errors.New("capture permission denied")

	tests := []struct {
		name string
		req  RecordRequest
	}{
		{"nil source", RecordRequest{Size: image.Pt(10, 10)}},
		{"empty size", RecordRequest{Source: f.mailbox}},
		{"permission", RecordRequest{
			Source:          f.mailbox,
			Size:            image.Pt(10, 10),
			CheckPermission: func(context.Context) error { return denied },
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.StartScreenRecord(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRecordRequest)
			assert.Equal(t, StateCreated, f.engine.State())
		})
	}
}

func TestConcurrentCallsDuringTransitionAreRejected(t *testing.T) {
	f := newEngineFixture(t)
	source := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		done <- f.engine.StartScreenRecord(context.Background(), RecordRequest{
			Source: source,
			Size:   image.Pt(10, 10),
		})
	}()

	<-source.started
	assert.Equal(t, StateTransitioning, f.engine.State())
	assert.ErrorIs(t, f.engine.StopScreenRecord(), ErrTransitioning)
	assert.ErrorIs(t, f.engine.Destroy(), ErrTransitioning)

	close(source.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateRecording, f.engine.State())
}

func TestDetectionExecutesActions(t *testing.T) {
	f := newEngineFixture(t)
	bus := events.NewEventBus(64, nil)
	defer bus.Stop()
	f.engine.cfg.Bus = bus

	triggered := make(chan events.Event, 16)
	bus.Subscribe(events.EventTypeEventTriggered, func(e events.Event) {
		select {
		case triggered <- e:
		default:
		}
	})

	f.vision.detect.Store(true)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), clickScenario(), DebugFlags{}))

	f.feed(t, func() bool { return f.sinks.clickCount() > 0 })
	require.NoError(t, f.engine.StopDetection())

	f.sinks.mu.Lock()
	assert.Equal(t, image.Pt(5, 5), f.sinks.clicks[0])
	f.sinks.mu.Unlock()

	select {
	case e := <-triggered:
		assert.Equal(t, int64(1), e.Data["event_id"])
	case <-time.After(time.Second):
		t.Fatal("no event triggered notification")
	}
}

func TestEndConditionsStopDetection(t *testing.T) {
	f := newEngineFixture(t)
	sc := clickScenario()
	sc.EndConditions = []scenario.EndCondition{{EventID: 1, Executions: 2}}

	f.vision.detect.Store(true)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), sc, DebugFlags{Report: true, Persist: true}))

	f.feed(t, func() bool { return f.engine.State() == StateRecording })
	assert.Equal(t, 2, f.sinks.clickCount())

	report, ok := f.engine.LastReport()
	require.True(t, ok)
	assert.True(t, report.EndReached)
	require.Len(t, report.Events, 1)
	assert.Equal(t, int64(2), report.Events[0].Triggers)
	assert.False(t, report.EndedAt.IsZero())

	saved := f.store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, report.SessionID, saved[0].SessionID)
}

func TestUnresolvableClickSkipsOnlyThatAction(t *testing.T) {
	f := newEngineFixture(t)
	bus := events.NewEventBus(64, nil)
	defer bus.Stop()
	f.engine.cfg.Bus = bus

	skipped := make(chan events.Event, 16)
	bus.Subscribe(events.EventTypeActionSkipped, func(e events.Event) {
		select {
		case skipped <- e:
		default:
		}
	})

	sc := clickScenario()
	sc.Events[0].Actions = []scenario.Action{
		scenario.NewClickOnCondition(100, 10, 0),
		scenario.NewClickOnCondition(101, 999, 0),
		scenario.NewNotification(102, "after", ""),
	}
	require.NotEmpty(t, sc.Warnings())

	f.vision.detect.Store(true)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), sc, DebugFlags{}))

	f.feed(t, func() bool { return f.sinks.notificationCount() > 0 })
	require.NoError(t, f.engine.StopDetection())

	assert.GreaterOrEqual(t, f.sinks.clickCount(), 1)
	f.sinks.mu.Lock()
	for _, at := range f.sinks.clicks {
		assert.Equal(t, image.Pt(5, 5), at)
	}
	f.sinks.mu.Unlock()

	select {
	case e := <-skipped:
		assert.Equal(t, int64(101), e.Data["action_id"])
	case <-time.After(time.Second):
		t.Fatal("no action skipped notification")
	}
}

func TestStopCancelsInFlightPass(t *testing.T) {
	f := newEngineFixture(t)
	sc := clickScenario()
	sc.Events[0].Actions = append([]scenario.Action{scenario.NewPause(101, time.Hour)}, sc.Events[0].Actions...)

	f.vision.detect.Store(true)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), sc, DebugFlags{}))

	// Let the worker enter the pause
	f.mailbox.Publish(testFrame())
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- f.engine.StopDetection() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StopDetection did not interrupt the pause")
	}
	assert.Zero(t, f.sinks.clickCount(), "no action starts after cancellation")
}

func counterScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:   "counter",
		Name: "Counter scenario",
		TriggerEvents: []scenario.Event{
			{
				ID:             1,
				Kind:           scenario.EventKindTrigger,
				EnabledOnStart: true,
				Conditions: []scenario.Condition{
					scenario.NewCounterCondition(10, "ticks", scenario.ComparisonGreaterOrEquals, scenario.Literal(0)),
				},
				Actions: []scenario.Action{
					scenario.NewChangeCounter(100, "ticks", scenario.CounterAdd, scenario.Literal(1)),
				},
			},
			{
				ID:             2,
				Kind:           scenario.EventKindTrigger,
				EnabledOnStart: true,
				Conditions:     []scenario.Condition{scenario.NewTimerCondition(20, time.Hour, false)},
				Actions:        []scenario.Action{scenario.NewNotification(200, "late", "")},
			},
			{
				ID:             3,
				Kind:           scenario.EventKindTrigger,
				EnabledOnStart: true,
				Conditions:     []scenario.Condition{scenario.NewBroadcastCondition(30, "PING")},
				Actions:        []scenario.Action{scenario.NewNotification(300, "pong", "")},
			},
		},
	}
}

func TestResizePreservesCountersAndTimers(t *testing.T) {
	f := newEngineFixture(t)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), counterScenario(), DebugFlags{}))
	sessionID := f.engine.SessionID()

	state := f.state()
	require.NotNil(t, state)
	require.Eventually(t, func() bool {
		v, _ := state.Counter("ticks")
		return v >= 3
	}, 3*time.Second, time.Millisecond)

	before, _ := state.Counter("ticks")
	timerStart, ok := state.TimerStart(20)
	require.True(t, ok)

	require.NoError(t, f.engine.ResizeCapture(image.Pt(200, 50)))
	require.Eventually(t, func() bool {
		return f.engine.CaptureSize() == image.Pt(200, 50) && f.mailbox.Size() == image.Pt(200, 50)
	}, 3*time.Second, time.Millisecond)

	assert.Equal(t, StateDetecting, f.engine.State())
	assert.Equal(t, sessionID, f.engine.SessionID())
	assert.Same(t, state, f.state())

	after, _ := state.Counter("ticks")
	assert.GreaterOrEqual(t, after, before)
	resumed, ok := state.TimerStart(20)
	require.True(t, ok)
	assert.Equal(t, timerStart, resumed)

	require.NoError(t, f.engine.StopDetection())
}

// resizeScenario fires event 1 (click) then event 2, which re-enables event 1 and
// pauses for an hour. Two executions of event 1 end the session.
func resizeScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:   "resize",
		Name: "Resize scenario",
		Events: []scenario.Event{
			{
				ID:             1,
				EnabledOnStart: true,
				Conditions: []scenario.Condition{
					scenario.NewImageCondition(10, "button.png", image.Rect(0, 0, 10, 10), 10),
				},
				Actions: []scenario.Action{
					scenario.NewClickOnCondition(100, 10, 0),
					scenario.NewToggle(101,
						scenario.EventToggle{TargetEventID: 1, Type: scenario.ToggleDisable},
						scenario.EventToggle{TargetEventID: 2, Type: scenario.ToggleEnable}),
				},
			},
			{
				ID:       2,
				Priority: 1,
				Conditions: []scenario.Condition{
					scenario.NewImageCondition(20, "popup.png", image.Rect(0, 0, 10, 10), 10),
				},
				Actions: []scenario.Action{
					scenario.NewToggle(200,
						scenario.EventToggle{TargetEventID: 1, Type: scenario.ToggleEnable},
						scenario.EventToggle{TargetEventID: 2, Type: scenario.ToggleDisable}),
					scenario.NewPause(201, time.Hour),
				},
			},
		},
		EndConditions: []scenario.EndCondition{{EventID: 1, Executions: 2}},
	}
}

func TestResizeCancelsPassAndResumesAtNewSize(t *testing.T) {
	f := newEngineFixture(t)
	f.vision.detect.Store(true)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), resizeScenario(), DebugFlags{Report: true}))

	s := f.session()
	require.NotNil(t, s)

	// Event 1 clicked, event 2 flipped the toggles back and is now pausing
	f.feed(t, func() bool {
		return f.sinks.clickCount() == 1 && s.state.IsEnabled(1) && !s.state.IsEnabled(2)
	})

	require.NoError(t, f.engine.ResizeCapture(image.Pt(50, 50)))

	// Only a cancelled pause lets event 1 fire again and reach the end
	f.feedFrames(t, func() *image.RGBA { return sizedFrame(50, 50) }, func() bool {
		return f.engine.State() == StateRecording
	})

	assert.Equal(t, 2, f.sinks.clickCount())
	assert.Equal(t, image.Pt(50, 50), f.engine.CaptureSize())
	assert.Equal(t, image.Pt(50, 50), f.mailbox.Size())
	assert.Equal(t, image.Pt(50, 50), s.frames.FullFrame().Bounds().Size())

	// The execution counted before the resize survived it
	progress := s.processor.Verifier().Progress()
	require.Len(t, progress, 1)
	assert.Equal(t, 2, progress[0].Executions)
	assert.True(t, progress[0].Completed())

	report, ok := f.engine.LastReport()
	require.True(t, ok)
	assert.True(t, report.EndReached)
}

func TestResizeFailureWhileDetectingReleasesCapture(t *testing.T) {
	f := newEngineFixture(t)
	source := &flakySource{Mailbox: f.mailbox, bad: image.Pt(1, 1)}
	require.NoError(t, f.engine.StartScreenRecord(context.Background(), RecordRequest{
		Source: source,
		Size:   image.Pt(100, 100),
	}))
	require.NoError(t, f.engine.StartDetection(context.Background(), counterScenario(), DebugFlags{}))

	require.NoError(t, f.engine.ResizeCapture(image.Pt(1, 1)))
	require.Eventually(t, func() bool { return f.engine.State() == StateCreated }, 3*time.Second, time.Millisecond)

	assert.Empty(t, f.engine.SessionID())
	assert.Equal(t, image.Point{}, f.engine.CaptureSize())
	assert.False(t, f.mailbox.Publish(testFrame()), "source is stopped")

	// A new record request starts from scratch
	f.record(t)
	assert.Equal(t, StateRecording, f.engine.State())
}

func TestResizeWhileRecording(t *testing.T) {
	f := newEngineFixture(t)
	f.record(t)

	require.NoError(t, f.engine.ResizeCapture(image.Pt(30, 40)))
	assert.Equal(t, image.Pt(30, 40), f.mailbox.Size())
	assert.Equal(t, StateRecording, f.engine.State())

	assert.ErrorIs(t, f.engine.ResizeCapture(image.Point{}), ErrInvalidRecordRequest)
}

func TestReceiveBroadcast(t *testing.T) {
	f := newEngineFixture(t)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), counterScenario(), DebugFlags{}))

	require.NoError(t, f.engine.ReceiveBroadcast("PING"))
	require.Eventually(t, func() bool { return f.sinks.notificationCount() == 1 }, 3*time.Second, time.Millisecond)

	// Consumed by the pass that saw it
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.sinks.notificationCount())

	require.NoError(t, f.engine.StopDetection())
}

func TestCaptureArea(t *testing.T) {
	f := newEngineFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := f.engine.CaptureArea(ctx, image.Rect(0, 0, 5, 5))
	assert.ErrorIs(t, err, ErrInvalidState)

	f.record(t)
	frame := testFrame()
	frame.SetRGBA(12, 12, color.RGBA{R: 255, A: 255})
	f.mailbox.Publish(frame)

	crop, err := f.engine.CaptureArea(ctx, image.Rect(10, 10, 20, 20))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 10), crop.Bounds().Size())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, crop.RGBAAt(2, 2))

	require.NoError(t, f.engine.StartDetection(ctx, clickScenario(), DebugFlags{}))
	result := make(chan error, 1)
	go func() {
		crop, err := f.engine.CaptureArea(ctx, image.Rect(10, 10, 20, 20))
		if err == nil && crop.RGBAAt(2, 2) != (color.RGBA{R: 255, A: 255}) {
			err = errors.New("unexpected crop content")
		}
		result <- err
	}()

	var captureErr error
	require.Eventually(t, func() bool {
		f.mailbox.Publish(frame)
		select {
		case captureErr = <-result:
			return true
		default:
			return false
		}
	}, 3*time.Second, 2*time.Millisecond)
	assert.NoError(t, captureErr)

	require.NoError(t, f.engine.StopDetection())
}

func TestCommandsRefusedAfterStop(t *testing.T) {
	f := newEngineFixture(t)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), clickScenario(), DebugFlags{}))

	s := f.session()
	require.NotNil(t, s)
	require.NoError(t, f.engine.StopDetection())

	for i := 0; i < 2*cap(s.commands); i++ {
		reply := make(chan captureResult, 1)
		err := s.send(command{capture: &captureRequest{area: image.Rect(0, 0, 1, 1), reply: reply}})
		require.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Zero(t, len(s.commands))
}

func TestCaptureAreaAnsweredWhenDetectionStops(t *testing.T) {
	f := newEngineFixture(t)
	f.record(t)
	require.NoError(t, f.engine.StartDetection(context.Background(), clickScenario(), DebugFlags{}))

	// No frame is ever published, so requests stay pending until the stop
	const callers = 8
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := f.engine.CaptureArea(ctx, image.Rect(0, 0, 5, 5))
			results <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.engine.StopDetection())

	for i := 0; i < callers; i++ {
		err := <-results
		assert.ErrorIs(t, err, ErrNoFrame)
		assert.NotErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestInvalidScenarioRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.record(t)

	sc := clickScenario()
	sc.Events = append(sc.Events, sc.Events[0])

	err := f.engine.StartDetection(context.Background(), sc, DebugFlags{})
	assert.ErrorIs(t, err, scenario.ErrInvalidScenario)
	assert.Equal(t, StateRecording, f.engine.State())

	assert.ErrorIs(t, f.engine.StartDetection(context.Background(), nil, DebugFlags{}), scenario.ErrInvalidScenario)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DETECTING", StateDetecting.String())
	assert.Equal(t, "UNKNOWN", DetectorState(42).String())
}
