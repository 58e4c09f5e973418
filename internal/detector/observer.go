package detector

import (
	"jordanella.com/scenario-detector/internal/detection"
	"jordanella.com/scenario-detector/internal/events"
)

// busObserver republishes matched evaluations and action anomalies on the event bus
type busObserver struct {
	bus events.EventBus
}

func (o busObserver) OnEvaluation(e detection.Evaluation) {
	if e.Matched {
		o.bus.Publish(events.NewEventTriggeredEvent(e.EventID, e.EventName, e.ConditionID))
	}
}

func (o busObserver) OnActionAnomaly(a detection.ActionAnomaly) {
	if a.Skipped {
		o.bus.Publish(events.NewActionSkippedEvent(a.EventID, a.ActionID, a.Reason))
		return
	}
	o.bus.Publish(events.NewActionFailedEvent(a.EventID, a.ActionID, a.Err))
}

func (busObserver) OnPassCompleted(detection.PassSummary) {}
