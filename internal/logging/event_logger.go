package logging

import (
	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/events"
)

// EventLogger subscribes to the event bus and logs all events
type EventLogger struct {
	logger        *zap.Logger
	eventBus      events.EventBus
	subscriptions []events.SubscriptionID
}

// NewEventLogger creates an event logger subscribed to every event type
func NewEventLogger(eventBus events.EventBus) *EventLogger {
	el := &EventLogger{
		logger:   NewLogger("EventLogger"),
		eventBus: eventBus,
	}

	el.subscriptions = append(el.subscriptions, eventBus.SubscribeAll(el.handleEvent))

	return el
}

// handleEvent handles incoming events and logs them
func (el *EventLogger) handleEvent(event events.Event) {
	fields := make([]zap.Field, 0, len(event.Data)+2)
	fields = append(fields, zap.String("event_type", string(event.Type)), zap.String("source", event.Source))
	for k, v := range event.Data {
		fields = append(fields, zap.Any(k, v))
	}

	switch event.Type {
	case events.EventTypeError, events.EventTypeActionFailed:
		el.logger.Warn("Event", fields...)
	case events.EventTypeTransitionDenied, events.EventTypeActionSkipped:
		el.logger.Info("Event", fields...)
	default:
		el.logger.Debug("Event", fields...)
	}
}

// Close unsubscribes the logger from the bus
func (el *EventLogger) Close() {
	for _, id := range el.subscriptions {
		el.eventBus.Unsubscribe(id)
	}
	el.subscriptions = nil
}
