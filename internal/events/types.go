package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Engine lifecycle events
	EventTypeStateChanged     EventType = "detector.state_changed"
	EventTypeTransitionDenied EventType = "detector.transition_denied"
	EventTypeCaptureResized   EventType = "detector.capture_resized"

	// Detection session events
	EventTypeSessionStarted EventType = "session.started"
	EventTypeSessionStopped EventType = "session.stopped"
	EventTypeEndReached     EventType = "session.end_reached"

	// Scenario events
	EventTypeEventTriggered EventType = "scenario.event_triggered"
	EventTypeActionFailed   EventType = "scenario.action_failed"
	EventTypeActionSkipped  EventType = "scenario.action_skipped"

	// Error events
	EventTypeError EventType = "error"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "detector", "processor")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// SubscribeAll registers a handler for every event type
	SubscribeAll(handler EventHandler) SubscriptionID

	// Publish queues an event for its subscribers without blocking
	Publish(event Event)

	// Stop drains queued events and stops dispatching
	Stop()
}

// NewStateChangedEvent creates a detector state change event
func NewStateChangedEvent(from, to string) Event {
	return Event{
		Type:      EventTypeStateChanged,
		Source:    "detector",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// NewTransitionDeniedEvent creates an event for a rejected lifecycle operation
func NewTransitionDeniedEvent(operation, state string) Event {
	return Event{
		Type:      EventTypeTransitionDenied,
		Source:    "detector",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"operation": operation,
			"state":     state,
		},
	}
}

// NewCaptureResizedEvent creates a capture size change event
func NewCaptureResizedEvent(width, height int) Event {
	return Event{
		Type:      EventTypeCaptureResized,
		Source:    "detector",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"width":  width,
			"height": height,
		},
	}
}

// NewSessionStartedEvent creates a detection session start event
func NewSessionStartedEvent(sessionID, scenarioName string) Event {
	return Event{
		Type:      EventTypeSessionStarted,
		Source:    "detector",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"session_id": sessionID,
			"scenario":   scenarioName,
		},
	}
}

// NewSessionStoppedEvent creates a detection session stop event
func NewSessionStoppedEvent(sessionID string, frames int64) Event {
	return Event{
		Type:      EventTypeSessionStopped,
		Source:    "detector",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"session_id": sessionID,
			"frames":     frames,
		},
	}
}

// NewEndReachedEvent creates an end-condition reached event. completed lists the events
// whose execution threshold was met.
func NewEndReachedEvent(sessionID string, completed []int64) Event {
	return Event{
		Type:      EventTypeEndReached,
		Source:    "processor",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"session_id": sessionID,
			"completed":  completed,
		},
	}
}

// NewEventTriggeredEvent creates a scenario event fired notification
func NewEventTriggeredEvent(eventID int64, eventName string, conditionID int64) Event {
	return Event{
		Type:      EventTypeEventTriggered,
		Source:    "processor",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"event_id":     eventID,
			"event_name":   eventName,
			"condition_id": conditionID,
		},
	}
}

// NewActionFailedEvent creates an action failure event
func NewActionFailedEvent(eventID, actionID int64, err error) Event {
	return Event{
		Type:      EventTypeActionFailed,
		Source:    "executor",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"event_id":  eventID,
			"action_id": actionID,
			"error":     err.Error(),
		},
	}
}

// NewActionSkippedEvent creates a skipped action event
func NewActionSkippedEvent(eventID, actionID int64, reason string) Event {
	return Event{
		Type:      EventTypeActionSkipped,
		Source:    "executor",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"event_id":  eventID,
			"action_id": actionID,
			"reason":    reason,
		},
	}
}

// NewErrorEvent creates a generic error event
func NewErrorEvent(source, message string, err error) Event {
	data := map[string]interface{}{
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}
