package scenario

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// ActionType discriminates the Action variants
type ActionType int

const (
	ActionTypeClick ActionType = iota
	ActionTypeSwipe
	ActionTypePause
	ActionTypeToggleEvent
	ActionTypeChangeCounter
	ActionTypeIntent
	ActionTypeNotification
)

func (t ActionType) String() string {
	switch t {
	case ActionTypeClick:
		return "click"
	case ActionTypeSwipe:
		return "swipe"
	case ActionTypePause:
		return "pause"
	case ActionTypeToggleEvent:
		return "toggle_event"
	case ActionTypeChangeCounter:
		return "change_counter"
	case ActionTypeIntent:
		return "intent"
	case ActionTypeNotification:
		return "notification"
	default:
		return fmt.Sprintf("ActionType(%d)", int(t))
	}
}

// Action is one step of an event's action list. Exactly one payload matching Type is set.
type Action struct {
	ID   int64
	Name string
	Type ActionType

	Click         *ClickAction
	Swipe         *SwipeAction
	Pause         *PauseAction
	ToggleEvent   *ToggleEventAction
	ChangeCounter *ChangeCounterAction
	Intent        *IntentAction
	Notification  *NotificationAction
}

// ClickPositionType tells where a click lands
type ClickPositionType int

const (
	ClickUserSelected ClickPositionType = iota
	ClickOnDetectedCondition
)

// ClickAction presses one point
type ClickAction struct {
	PositionType  ClickPositionType
	Position      image.Point // For ClickUserSelected
	ConditionID   int64       // For ClickOnDetectedCondition; 0 = the triggering condition
	Offset        image.Point // Added to the detected position
	PressDuration time.Duration
}

// SwipeAction drags from one point to another
type SwipeAction struct {
	From     image.Point
	To       image.Point
	Duration time.Duration
}

// PauseAction waits without any gesture
type PauseAction struct {
	Duration time.Duration
}

// ToggleType changes the enabled state of an event
type ToggleType int

const (
	ToggleEnable ToggleType = iota
	ToggleDisable
	ToggleInvert
)

func (t ToggleType) String() string {
	switch t {
	case ToggleEnable:
		return "enable"
	case ToggleDisable:
		return "disable"
	case ToggleInvert:
		return "toggle"
	default:
		return fmt.Sprintf("ToggleType(%d)", int(t))
	}
}

// ParseToggleType parses enable/disable/toggle
func ParseToggleType(s string) (ToggleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enable":
		return ToggleEnable, nil
	case "disable":
		return ToggleDisable, nil
	case "toggle", "invert":
		return ToggleInvert, nil
	default:
		return ToggleEnable, fmt.Errorf("invalid toggle type '%s': must be enable, disable or toggle", s)
	}
}

// EventToggle targets a single event
type EventToggle struct {
	TargetEventID int64
	Type          ToggleType
}

// ToggleEventAction changes which events are evaluated
type ToggleEventAction struct {
	ToggleAll     bool
	ToggleAllType ToggleType
	Toggles       []EventToggle
}

// CounterOperation mutates a counter
type CounterOperation int

const (
	CounterAdd CounterOperation = iota
	CounterMinus
	CounterSet
)

func (o CounterOperation) String() string {
	switch o {
	case CounterAdd:
		return "add"
	case CounterMinus:
		return "minus"
	case CounterSet:
		return "set"
	default:
		return fmt.Sprintf("CounterOperation(%d)", int(o))
	}
}

// ParseCounterOperation parses add/minus/set
func ParseCounterOperation(s string) (CounterOperation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add", "+":
		return CounterAdd, nil
	case "minus", "subtract", "-":
		return CounterMinus, nil
	case "set", "=":
		return CounterSet, nil
	default:
		return CounterAdd, fmt.Errorf("invalid counter operation '%s': must be add, minus or set", s)
	}
}

// ChangeCounterAction adds to, subtracts from or sets a counter
type ChangeCounterAction struct {
	CounterName string
	Operation   CounterOperation
	Value       CounterValue
}

// IntentAction starts an activity or sends a broadcast on the device
type IntentAction struct {
	Action    string
	Component string
	Broadcast bool
	Extras    map[string]string
}

// NotificationAction posts a notification on the device
type NotificationAction struct {
	Title   string
	Message string
}

// CounterNames returns the counters this action reads or writes
func (a *Action) CounterNames() []string {
	if a.Type != ActionTypeChangeCounter || a.ChangeCounter == nil {
		return nil
	}
	names := []string{a.ChangeCounter.CounterName}
	if a.ChangeCounter.Value.IsCounter() {
		names = append(names, a.ChangeCounter.Value.Counter)
	}
	return names
}
