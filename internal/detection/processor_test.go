package detection

import (
	"context"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"jordanella.com/scenario-detector/internal/processing"
	"jordanella.com/scenario-detector/internal/scenario"
)

type processorFixture struct {
	processor *ScenarioProcessor
	vision    *fakeVision
	sinks     *recordingSinks
	observer  *recordingObserver
	state     *processing.State
	stops     *atomic.Int32
}

func newProcessorFixture(t *testing.T, sc *scenario.Scenario) *processorFixture {
	t.Helper()
	require.NoError(t, sc.Validate())

	f := &processorFixture{
		vision:   newFakeVision(),
		sinks:    &recordingSinks{},
		observer: &recordingObserver{},
		state:    processing.NewState(sc),
		stops:    &atomic.Int32{},
	}
	f.state.Start()
	f.processor = NewScenarioProcessor(ProcessorConfig{
		Scenario: sc,
		State:    f.state,
		Frames:   newTestFrames(f.vision),
		Matcher:  f.vision,
		Sinks:    f.sinks.sinks(),
		Observer: f.observer,
		OnStop:   func() { f.stops.Add(1) },
	})
	return f
}

func clickEvent(id int64, priority int, path string, at image.Point) scenario.Event {
	return scenario.Event{
		ID:             id,
		Priority:       priority,
		EnabledOnStart: true,
		Conditions:     []scenario.Condition{imageCondition(id*10, path)},
		Actions:        []scenario.Action{scenario.NewClickAt(id*100, at, 0)},
	}
}

func TestProcess_FirstMatchByPriorityWins(t *testing.T) {
	sc := &scenario.Scenario{Events: []scenario.Event{
		clickEvent(1, 5, "low.png", image.Pt(1, 1)),
		clickEvent(2, 1, "high.png", image.Pt(2, 2)),
		clickEvent(3, 3, "mid.png", image.Pt(3, 3)),
	}}
	f := newProcessorFixture(t, sc)
	f.vision.detect("low.png", image.Pt(0, 0))
	f.vision.detect("mid.png", image.Pt(0, 0))

	require.NoError(t, f.processor.Process(context.Background(), testFrame()))

	assert.Equal(t, []int64{2, 3}, f.observer.evaluatedEvents(), "evaluation stops after the first match")
	assert.Equal(t, []gesture{{kind: "click", from: image.Pt(3, 3)}}, f.sinks.recorded())
	require.Len(t, f.observer.passes, 1)
	assert.Equal(t, []int64{3}, f.observer.passes[0].Triggered)
}

func TestProcess_KeepDetectingContinues(t *testing.T) {
	first := clickEvent(1, 0, "a.png", image.Pt(1, 1))
	first.KeepDetecting = true
	sc := &scenario.Scenario{Events: []scenario.Event{
		first,
		clickEvent(2, 1, "b.png", image.Pt(2, 2)),
		clickEvent(3, 2, "c.png", image.Pt(3, 3)),
	}}
	f := newProcessorFixture(t, sc)
	f.vision.detect("a.png", image.Pt(0, 0))
	f.vision.detect("b.png", image.Pt(0, 0))
	f.vision.detect("c.png", image.Pt(0, 0))

	require.NoError(t, f.processor.Process(context.Background(), testFrame()))

	assert.Equal(t, []int64{1, 2}, f.observer.passes[0].Triggered)
	assert.Len(t, f.sinks.recorded(), 2)
}

func TestProcess_SkipsDisabledAndEmptyEvents(t *testing.T) {
	disabled := clickEvent(1, 0, "a.png", image.Pt(1, 1))
	disabled.EnabledOnStart = false
	empty := scenario.Event{ID: 2, Priority: 1, EnabledOnStart: true}
	sc := &scenario.Scenario{Events: []scenario.Event{disabled, empty, clickEvent(3, 2, "c.png", image.Pt(3, 3))}}
	f := newProcessorFixture(t, sc)
	f.vision.detect("a.png", image.Pt(0, 0))

	require.NoError(t, f.processor.Process(context.Background(), testFrame()))

	assert.Equal(t, []int64{3}, f.observer.evaluatedEvents())
	assert.Empty(t, f.sinks.recorded())
}

func TestProcess_ToggleTakesEffectWithinPass(t *testing.T) {
	enabler := clickEvent(1, 0, "a.png", image.Pt(1, 1))
	enabler.KeepDetecting = true
	enabler.Actions = append(enabler.Actions, scenario.NewToggle(101, scenario.EventToggle{TargetEventID: 2, Type: scenario.ToggleEnable}))
	target := clickEvent(2, 1, "b.png", image.Pt(2, 2))
	target.EnabledOnStart = false

	sc := &scenario.Scenario{Events: []scenario.Event{enabler, target}}
	f := newProcessorFixture(t, sc)
	f.vision.detect("a.png", image.Pt(0, 0))
	f.vision.detect("b.png", image.Pt(0, 0))

	require.NoError(t, f.processor.Process(context.Background(), testFrame()))
	assert.Equal(t, []int64{1, 2}, f.observer.passes[0].Triggered)
}

func TestProcess_TriggerEventsRunFirstWithoutFrame(t *testing.T) {
	sc := &scenario.Scenario{
		Events: []scenario.Event{clickEvent(1, 0, "a.png", image.Pt(1, 1))},
		TriggerEvents: []scenario.Event{{
			ID:             2,
			Kind:           scenario.EventKindTrigger,
			EnabledOnStart: true,
			Conditions:     []scenario.Condition{scenario.NewBroadcastCondition(20, "PING")},
			Actions:        []scenario.Action{scenario.NewNotification(200, "got", "ping")},
		}},
	}
	f := newProcessorFixture(t, sc)
	f.vision.detect("a.png", image.Pt(0, 0))
	f.state.ReceiveBroadcast("PING")

	require.NoError(t, f.processor.Process(context.Background(), testFrame()))
	assert.Equal(t, []int64{2, 1}, f.observer.evaluatedEvents())
	assert.Equal(t, []int64{2, 1}, f.observer.passes[0].Triggered)
	assert.False(t, f.state.BroadcastReceived("PING"), "broadcasts are consumed by the pass")

	// Without a frame only trigger events run
	f.state.ReceiveBroadcast("PING")
	require.NoError(t, f.processor.Process(context.Background(), nil))
	assert.Equal(t, []int64{2}, f.observer.passes[1].Triggered)
	assert.Equal(t, []string{"got: ping", "got: ping"}, f.sinks.notifications)
}

func TestProcess_EndConditionStopsSession(t *testing.T) {
	sc := &scenario.Scenario{
		Events: []scenario.Event{
			clickEvent(1, 0, "a.png", image.Pt(1, 1)),
		},
		EndConditions:        []scenario.EndCondition{{EventID: 1, Executions: 2}},
		EndConditionOperator: scenario.OperatorOr,
	}
	f := newProcessorFixture(t, sc)
	f.vision.detect("a.png", image.Pt(0, 0))

	require.NoError(t, f.processor.Process(context.Background(), testFrame()))
	assert.Equal(t, int32(0), f.stops.Load())
	assert.False(t, f.processor.Ended())

	require.NoError(t, f.processor.Process(context.Background(), testFrame()))
	assert.Equal(t, int32(1), f.stops.Load())
	assert.True(t, f.processor.Ended())
	assert.True(t, f.observer.passes[1].EndReached)

	// Nothing runs once the end is reached
	require.NoError(t, f.processor.Process(context.Background(), testFrame()))
	assert.Equal(t, int32(1), f.stops.Load())
	assert.Len(t, f.sinks.recorded(), 2)
}

func TestProcess_KeepDetectingStopsAtFirstReachedEnd(t *testing.T) {
	first := clickEvent(1, 0, "a.png", image.Pt(1, 1))
	first.KeepDetecting = true
	second := clickEvent(2, 1, "b.png", image.Pt(2, 2))
	second.KeepDetecting = true

	sc := &scenario.Scenario{
		Events:               []scenario.Event{first, second},
		EndConditions:        []scenario.EndCondition{{EventID: 1, Executions: 1}},
		EndConditionOperator: scenario.OperatorOr,
	}
	f := newProcessorFixture(t, sc)
	f.vision.detect("a.png", image.Pt(0, 0))
	f.vision.detect("b.png", image.Pt(0, 0))

	require.NoError(t, f.processor.Process(context.Background(), testFrame()))
	assert.Equal(t, []int64{1}, f.observer.passes[0].Triggered)
	assert.Equal(t, int32(1), f.stops.Load())
}

func TestProcess_Cancelled(t *testing.T) {
	sc := &scenario.Scenario{Events: []scenario.Event{clickEvent(1, 0, "a.png", image.Pt(1, 1))}}
	f := newProcessorFixture(t, sc)
	f.vision.detect("a.png", image.Pt(0, 0))
	f.state.ReceiveBroadcast("kept")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.processor.Process(ctx, testFrame())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.sinks.recorded())
	assert.True(t, f.state.BroadcastReceived("kept"), "an interrupted pass keeps pending broadcasts")
}

func TestProcess_ReportsEveryEvaluation(t *testing.T) {
	sc := &scenario.Scenario{Events: []scenario.Event{
		clickEvent(1, 0, "a.png", image.Pt(1, 1)),
		clickEvent(2, 1, "b.png", image.Pt(2, 2)),
	}}
	f := newProcessorFixture(t, sc)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.processor.Process(context.Background(), testFrame()))
	}

	assert.Len(t, f.observer.evaluations, 6)
	assert.Len(t, f.observer.passes, 3)
	for _, e := range f.observer.evaluations {
		assert.False(t, e.Matched)
		assert.NotZero(t, e.ConditionID)
	}
}

func TestChannelObserver_DropsWhenFull(t *testing.T) {
	observer := NewChannelObserver(2)

	observer.OnEvaluation(Evaluation{EventID: 1})
	observer.OnActionAnomaly(ActionAnomaly{EventID: 1})
	observer.OnPassCompleted(PassSummary{Duration: time.Millisecond})

	assert.Equal(t, int64(1), observer.Dropped())

	first := <-observer.Reports()
	require.NotNil(t, first.Evaluation)
	second := <-observer.Reports()
	require.NotNil(t, second.Anomaly)

	observer.Close()
	_, ok := <-observer.Reports()
	assert.False(t, ok)
}
