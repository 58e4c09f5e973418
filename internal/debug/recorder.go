// Package debug builds the debug report of a detection session from the processing
// reports.
package debug

import (
	"context"
	"image"
	"sort"
	"sync"
	"time"

	"jordanella.com/scenario-detector/internal/detection"
	"jordanella.com/scenario-detector/internal/scenario"
)

// Flags selects what a session records
type Flags struct {
	Report  bool // Build a debug report
	Persist bool // Save the report when the session stops
}

// EventStats aggregates the evaluations of one event
type EventStats struct {
	EventID     int64
	Name        string
	Evaluations int64
	Triggers    int64
}

// ConditionStats aggregates the image detections of one condition
type ConditionStats struct {
	ConditionID    int64
	Evaluations    int64
	Detections     int64
	BestConfidence float64
	LastPosition   image.Point
}

// Report is a snapshot of a session's debug data
type Report struct {
	SessionID    string
	ScenarioID   string
	ScenarioName string
	StartedAt    time.Time
	EndedAt      time.Time

	Frames        int64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	AvgDuration   time.Duration
	EndReached    bool

	ActionFailures int64
	ActionSkips    int64
	DroppedReports int64

	Events     []EventStats
	Conditions []ConditionStats
}

// Recorder accumulates reports. Safe for concurrent use.
type Recorder struct {
	mu sync.RWMutex

	report     Report
	events     map[int64]*EventStats
	conditions map[int64]*ConditionStats
}

// NewRecorder creates the recorder of a session
func NewRecorder(sessionID string, sc *scenario.Scenario, startedAt time.Time) *Recorder {
	r := &Recorder{
		report: Report{
			SessionID:    sessionID,
			ScenarioID:   sc.ID,
			ScenarioName: sc.Name,
			StartedAt:    startedAt,
		},
		events:     make(map[int64]*EventStats),
		conditions: make(map[int64]*ConditionStats),
	}
	for _, event := range sc.AllEvents() {
		r.events[event.ID] = &EventStats{EventID: event.ID, Name: event.Name}
	}
	return r
}

// Consume records reports until the channel is closed or ctx is done
func (r *Recorder) Consume(ctx context.Context, reports <-chan detection.Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-reports:
			if !ok {
				return
			}
			r.Record(report)
		}
	}
}

// Record dispatches one report
func (r *Recorder) Record(report detection.Report) {
	switch {
	case report.Evaluation != nil:
		r.OnEvaluation(*report.Evaluation)
	case report.Anomaly != nil:
		r.OnActionAnomaly(*report.Anomaly)
	case report.Pass != nil:
		r.OnPassCompleted(*report.Pass)
	}
}

func (r *Recorder) OnEvaluation(e detection.Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.events[e.EventID]
	if !ok {
		stats = &EventStats{EventID: e.EventID, Name: e.EventName}
		r.events[e.EventID] = stats
	}
	stats.Evaluations++

	for id, result := range e.Detections {
		cs, ok := r.conditions[id]
		if !ok {
			cs = &ConditionStats{ConditionID: id}
			r.conditions[id] = cs
		}
		cs.Evaluations++
		if result.Confidence > cs.BestConfidence {
			cs.BestConfidence = result.Confidence
		}
		if result.Detected {
			cs.Detections++
			cs.LastPosition = result.Position
		}
	}
}

func (r *Recorder) OnActionAnomaly(a detection.ActionAnomaly) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Skipped {
		r.report.ActionSkips++
	} else {
		r.report.ActionFailures++
	}
}

func (r *Recorder) OnPassCompleted(p detection.PassSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Frames++
	r.report.TotalDuration += p.Duration
	if r.report.Frames == 1 || p.Duration < r.report.MinDuration {
		r.report.MinDuration = p.Duration
	}
	if p.Duration > r.report.MaxDuration {
		r.report.MaxDuration = p.Duration
	}
	r.report.AvgDuration = r.report.TotalDuration / time.Duration(r.report.Frames)

	for _, id := range p.Triggered {
		if stats, ok := r.events[id]; ok {
			stats.Triggers++
		}
	}
	if p.EndReached {
		r.report.EndReached = true
	}
}

// Finish stamps the end of the session and the number of reports lost upstream
func (r *Recorder) Finish(endedAt time.Time, dropped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.EndedAt = endedAt
	r.report.DroppedReports = dropped
}

// Snapshot returns a copy of the report, events and conditions sorted by id
func (r *Recorder) Snapshot() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := r.report
	report.Events = make([]EventStats, 0, len(r.events))
	for _, stats := range r.events {
		report.Events = append(report.Events, *stats)
	}
	sort.Slice(report.Events, func(i, j int) bool { return report.Events[i].EventID < report.Events[j].EventID })

	report.Conditions = make([]ConditionStats, 0, len(r.conditions))
	for _, stats := range r.conditions {
		report.Conditions = append(report.Conditions, *stats)
	}
	sort.Slice(report.Conditions, func(i, j int) bool {
		return report.Conditions[i].ConditionID < report.Conditions[j].ConditionID
	})
	return report
}

// DetectionRate returns the share of evaluations that detected the condition (0-100)
func (c ConditionStats) DetectionRate() float64 {
	if c.Evaluations == 0 {
		return 0
	}
	return float64(c.Detections) / float64(c.Evaluations) * 100.0
}
