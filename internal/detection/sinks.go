// Package detection runs a scenario against frames: it evaluates event conditions,
// executes the actions of matching events and tracks the end conditions of a session.
package detection

import (
	"context"
	"image"
	"time"

	"jordanella.com/scenario-detector/internal/scenario"
)

// GestureSink dispatches touch gestures to the device. Implementations return once the
// gesture is dispatched; the executor waits for its duration.
type GestureSink interface {
	Click(ctx context.Context, at image.Point, press time.Duration) error
	Swipe(ctx context.Context, from, to image.Point, duration time.Duration) error
}

// IntentSink starts activities or sends broadcasts. Fire and forget.
type IntentSink interface {
	SendIntent(ctx context.Context, intent scenario.IntentAction) error
}

// NotificationSink posts user notifications. Fire and forget.
type NotificationSink interface {
	Notify(ctx context.Context, title, message string) error
}

// Sinks groups the outbound collaborators of the action executor. Nil sinks make the
// corresponding actions skip.
type Sinks struct {
	Gestures      GestureSink
	Intents       IntentSink
	Notifications NotificationSink
}
