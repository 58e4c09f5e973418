package debug

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/detection"
	"jordanella.com/scenario-detector/internal/scenario"
)

func testScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:   "s1",
		Name: "Scenario",
		Events: []scenario.Event{
			{ID: 1, Name: "first"},
			{ID: 2, Name: "second"},
		},
	}
}

func TestRecorder_AggregatesReports(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := NewRecorder("session", testScenario(), start)

	r.OnEvaluation(detection.Evaluation{EventID: 1, Detections: map[int64]cv.DetectionResult{
		10: {Detected: true, Position: image.Pt(3, 4), Confidence: 0.97},
	}})
	r.OnEvaluation(detection.Evaluation{EventID: 1, Detections: map[int64]cv.DetectionResult{
		10: {Detected: false, Confidence: 0.5},
	}})
	r.OnEvaluation(detection.Evaluation{EventID: 2})

	r.OnPassCompleted(detection.PassSummary{Duration: 10 * time.Millisecond, Triggered: []int64{1}})
	r.OnPassCompleted(detection.PassSummary{Duration: 30 * time.Millisecond})
	r.OnPassCompleted(detection.PassSummary{Duration: 20 * time.Millisecond, Triggered: []int64{1, 2}, EndReached: true})

	r.OnActionAnomaly(detection.ActionAnomaly{Skipped: true})
	r.OnActionAnomaly(detection.ActionAnomaly{})
	r.Finish(start.Add(time.Minute), 4)

	report := r.Snapshot()
	assert.Equal(t, "session", report.SessionID)
	assert.Equal(t, "s1", report.ScenarioID)
	assert.Equal(t, int64(3), report.Frames)
	assert.Equal(t, 10*time.Millisecond, report.MinDuration)
	assert.Equal(t, 30*time.Millisecond, report.MaxDuration)
	assert.Equal(t, 20*time.Millisecond, report.AvgDuration)
	assert.True(t, report.EndReached)
	assert.Equal(t, int64(1), report.ActionSkips)
	assert.Equal(t, int64(1), report.ActionFailures)
	assert.Equal(t, int64(4), report.DroppedReports)
	assert.Equal(t, start.Add(time.Minute), report.EndedAt)

	assert.Equal(t, []EventStats{
		{EventID: 1, Name: "first", Evaluations: 2, Triggers: 2},
		{EventID: 2, Name: "second", Evaluations: 1, Triggers: 1},
	}, report.Events)

	require.Len(t, report.Conditions, 1)
	c := report.Conditions[0]
	assert.Equal(t, int64(2), c.Evaluations)
	assert.Equal(t, int64(1), c.Detections)
	assert.InDelta(t, 0.97, c.BestConfidence, 1e-9)
	assert.Equal(t, image.Pt(3, 4), c.LastPosition)
	assert.InDelta(t, 50.0, c.DetectionRate(), 1e-9)
}

func TestRecorder_ConsumesChannel(t *testing.T) {
	r := NewRecorder("session", testScenario(), time.Now())
	observer := detection.NewChannelObserver(16)

	observer.OnEvaluation(detection.Evaluation{EventID: 1})
	observer.OnPassCompleted(detection.PassSummary{Duration: time.Millisecond, Triggered: []int64{1}})
	observer.Close()

	r.Consume(context.Background(), observer.Reports())

	report := r.Snapshot()
	assert.Equal(t, int64(1), report.Frames)
	assert.Equal(t, int64(1), report.Events[0].Triggers)
}

func TestRecorder_ConsumeStopsOnContext(t *testing.T) {
	r := NewRecorder("session", testScenario(), time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.Consume(ctx, make(chan detection.Report))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancellation")
	}
}

func TestRecorder_SnapshotIsACopy(t *testing.T) {
	r := NewRecorder("session", testScenario(), time.Now())
	snapshot := r.Snapshot()
	snapshot.Events[0].Triggers = 100

	assert.Zero(t, r.Snapshot().Events[0].Triggers)
}
