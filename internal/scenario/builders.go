package scenario

import (
	"image"
	"time"
)

// Convenience constructors for building scenarios in code

func NewImageCondition(id int64, path string, area image.Rectangle, threshold int) Condition {
	return Condition{
		ID:   id,
		Type: ConditionTypeImage,
		Image: &ImageCondition{
			Path:             path,
			Area:             area,
			DetectionType:    DetectionExact,
			Threshold:        threshold,
			ShouldBeDetected: true,
		},
	}
}

func NewCounterCondition(id int64, counter string, cmp Comparison, value CounterValue) Condition {
	return Condition{
		ID:      id,
		Type:    ConditionTypeCounter,
		Counter: &CounterCondition{CounterName: counter, Comparison: cmp, Value: value},
	}
}

func NewTimerCondition(id int64, d time.Duration, restart bool) Condition {
	return Condition{
		ID:    id,
		Type:  ConditionTypeTimer,
		Timer: &TimerCondition{Duration: d, RestartWhenReached: restart},
	}
}

func NewBroadcastCondition(id int64, action string) Condition {
	return Condition{
		ID:        id,
		Type:      ConditionTypeBroadcast,
		Broadcast: &BroadcastCondition{Action: action},
	}
}

// Literal returns a literal counter value
func Literal(v int64) CounterValue {
	return CounterValue{Literal: v}
}

// CounterRef returns a counter value read from another counter
func CounterRef(name string) CounterValue {
	return CounterValue{Counter: name}
}

func NewClickAt(id int64, p image.Point, press time.Duration) Action {
	return Action{
		ID:    id,
		Type:  ActionTypeClick,
		Click: &ClickAction{PositionType: ClickUserSelected, Position: p, PressDuration: press},
	}
}

// NewClickOnCondition clicks the detected position of conditionID (0 = triggering condition)
func NewClickOnCondition(id, conditionID int64, press time.Duration) Action {
	return Action{
		ID:    id,
		Type:  ActionTypeClick,
		Click: &ClickAction{PositionType: ClickOnDetectedCondition, ConditionID: conditionID, PressDuration: press},
	}
}

func NewSwipe(id int64, from, to image.Point, d time.Duration) Action {
	return Action{
		ID:    id,
		Type:  ActionTypeSwipe,
		Swipe: &SwipeAction{From: from, To: to, Duration: d},
	}
}

func NewPause(id int64, d time.Duration) Action {
	return Action{ID: id, Type: ActionTypePause, Pause: &PauseAction{Duration: d}}
}

func NewToggle(id int64, toggles ...EventToggle) Action {
	return Action{ID: id, Type: ActionTypeToggleEvent, ToggleEvent: &ToggleEventAction{Toggles: toggles}}
}

func NewToggleAll(id int64, t ToggleType) Action {
	return Action{ID: id, Type: ActionTypeToggleEvent, ToggleEvent: &ToggleEventAction{ToggleAll: true, ToggleAllType: t}}
}

func NewChangeCounter(id int64, counter string, op CounterOperation, value CounterValue) Action {
	return Action{
		ID:            id,
		Type:          ActionTypeChangeCounter,
		ChangeCounter: &ChangeCounterAction{CounterName: counter, Operation: op, Value: value},
	}
}

func NewIntent(id int64, action string, broadcast bool) Action {
	return Action{ID: id, Type: ActionTypeIntent, Intent: &IntentAction{Action: action, Broadcast: broadcast}}
}

func NewNotification(id int64, title, message string) Action {
	return Action{ID: id, Type: ActionTypeNotification, Notification: &NotificationAction{Title: title, Message: message}}
}
