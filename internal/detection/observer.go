package detection

import (
	"sync/atomic"
	"time"

	"jordanella.com/scenario-detector/internal/cv"
)

// Evaluation reports one evaluation attempt of an event
type Evaluation struct {
	EventID     int64
	EventName   string
	Matched     bool
	ConditionID int64 // Condition that decided the outcome
	Detections  map[int64]cv.DetectionResult
	At          time.Time
}

// ActionAnomaly reports an action that failed or was skipped
type ActionAnomaly struct {
	EventID  int64
	ActionID int64
	Skipped  bool
	Reason   string
	Err      error
}

// PassSummary reports one processed frame
type PassSummary struct {
	Duration   time.Duration
	Triggered  []int64
	EndReached bool
}

// Observer receives the processing reports of a session. Calls come from the detection
// worker and must not block.
type Observer interface {
	OnEvaluation(e Evaluation)
	OnActionAnomaly(a ActionAnomaly)
	OnPassCompleted(p PassSummary)
}

// NopObserver discards every report
type NopObserver struct{}

func (NopObserver) OnEvaluation(Evaluation)       {}
func (NopObserver) OnActionAnomaly(ActionAnomaly) {}
func (NopObserver) OnPassCompleted(PassSummary)   {}

// MultiObserver fans reports out to several observers in order
type MultiObserver []Observer

func (m MultiObserver) OnEvaluation(e Evaluation) {
	for _, o := range m {
		o.OnEvaluation(e)
	}
}

func (m MultiObserver) OnActionAnomaly(a ActionAnomaly) {
	for _, o := range m {
		o.OnActionAnomaly(a)
	}
}

func (m MultiObserver) OnPassCompleted(p PassSummary) {
	for _, o := range m {
		o.OnPassCompleted(p)
	}
}

// Report is one item of a ChannelObserver stream. Exactly one field is set.
type Report struct {
	Evaluation *Evaluation
	Anomaly    *ActionAnomaly
	Pass       *PassSummary
}

// ChannelObserver forwards reports to a buffered channel. Reports are dropped, and
// counted, when the consumer falls behind.
type ChannelObserver struct {
	reports chan Report
	dropped atomic.Int64
}

// NewChannelObserver creates an observer with a buffer of size reports
func NewChannelObserver(size int) *ChannelObserver {
	if size <= 0 {
		size = 1
	}
	return &ChannelObserver{reports: make(chan Report, size)}
}

// Reports returns the outbound stream
func (c *ChannelObserver) Reports() <-chan Report {
	return c.reports
}

// Dropped returns how many reports were lost to a full buffer
func (c *ChannelObserver) Dropped() int64 {
	return c.dropped.Load()
}

// Close ends the stream. No report may be sent afterwards.
func (c *ChannelObserver) Close() {
	close(c.reports)
}

func (c *ChannelObserver) send(r Report) {
	select {
	case c.reports <- r:
	default:
		c.dropped.Add(1)
	}
}

func (c *ChannelObserver) OnEvaluation(e Evaluation) {
	c.send(Report{Evaluation: &e})
}

func (c *ChannelObserver) OnActionAnomaly(a ActionAnomaly) {
	c.send(Report{Anomaly: &a})
}

func (c *ChannelObserver) OnPassCompleted(p PassSummary) {
	c.send(Report{Pass: &p})
}
