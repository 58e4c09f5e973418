package scenario

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is the YAML shape of a scenario file
type Document struct {
	ID               string           `yaml:"id"`
	Name             string           `yaml:"name"`
	DetectionQuality int              `yaml:"detection_quality"`
	Randomize        bool             `yaml:"randomize"`
	EndConditions    endConditionsDoc `yaml:"end_conditions"`
	Events           []eventDoc       `yaml:"events"`
	TriggerEvents    []eventDoc       `yaml:"trigger_events"`
}

type endConditionsDoc struct {
	Operator   string            `yaml:"operator"`
	Conditions []endConditionDoc `yaml:"conditions"`
}

type endConditionDoc struct {
	EventID    int64 `yaml:"event_id"`
	Executions int   `yaml:"executions"`
}

type eventDoc struct {
	ID             int64          `yaml:"id"`
	Name           string         `yaml:"name"`
	Priority       int            `yaml:"priority"`
	Operator       string         `yaml:"operator"`
	EnabledOnStart *bool          `yaml:"enabled_on_start,omitempty"` // Default: true
	KeepDetecting  bool           `yaml:"keep_detecting"`
	Conditions     []conditionDoc `yaml:"conditions"`
	Actions        []actionDoc    `yaml:"actions"`
}

type regionDoc struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

func (r *regionDoc) rect() image.Rectangle {
	if r == nil {
		return image.Rectangle{}
	}
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

type pointDoc struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

func (p *pointDoc) point() image.Point {
	if p == nil {
		return image.Point{}
	}
	return image.Pt(p.X, p.Y)
}

type conditionDoc struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// image
	Path             string     `yaml:"path,omitempty"`
	Area             *regionDoc `yaml:"area,omitempty"`
	Detection        string     `yaml:"detection,omitempty"`
	DetectionArea    *regionDoc `yaml:"detection_area,omitempty"`
	Threshold        int        `yaml:"threshold,omitempty"`
	ShouldBeDetected *bool      `yaml:"should_be_detected,omitempty"` // Default: true

	// counter
	Counter      string `yaml:"counter,omitempty"`
	Comparison   string `yaml:"comparison,omitempty"`
	Value        int64  `yaml:"value,omitempty"`
	ValueCounter string `yaml:"value_counter,omitempty"`

	// timer
	DurationMs int64 `yaml:"duration_ms,omitempty"`
	Restart    bool  `yaml:"restart,omitempty"`

	// broadcast
	Action string `yaml:"action,omitempty"`
}

type actionDoc struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// click
	Position        string    `yaml:"position,omitempty"` // user_selected | on_condition
	Point           *pointDoc `yaml:"point,omitempty"`
	ConditionID     int64     `yaml:"condition_id,omitempty"`
	Offset          *pointDoc `yaml:"offset,omitempty"`
	PressDurationMs int64     `yaml:"press_duration_ms,omitempty"`

	// swipe
	From *pointDoc `yaml:"from,omitempty"`
	To   *pointDoc `yaml:"to,omitempty"`

	// swipe, pause
	DurationMs int64 `yaml:"duration_ms,omitempty"`

	// toggle_event
	ToggleAll string      `yaml:"toggle_all,omitempty"`
	Toggles   []toggleDoc `yaml:"toggles,omitempty"`

	// change_counter
	Counter      string `yaml:"counter,omitempty"`
	Operation    string `yaml:"operation,omitempty"`
	Value        int64  `yaml:"value,omitempty"`
	ValueCounter string `yaml:"value_counter,omitempty"`

	// intent
	Action    string            `yaml:"action,omitempty"`
	Component string            `yaml:"component,omitempty"`
	Broadcast bool              `yaml:"broadcast,omitempty"`
	Extras    map[string]string `yaml:"extras,omitempty"`

	// notification
	Title   string `yaml:"title,omitempty"`
	Message string `yaml:"message,omitempty"`
}

type toggleDoc struct {
	EventID int64  `yaml:"event_id"`
	Type    string `yaml:"type"`
}

// LoadFromFile reads a YAML scenario, converts and validates it. Relative image paths
// are resolved against the scenario file's directory.
func LoadFromFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}

	s, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("scenario file %s: %w", path, err)
	}
	return s, nil
}

// Parse converts YAML bytes into a validated Scenario. baseDir resolves relative image
// paths; empty leaves them untouched.
func Parse(data []byte, baseDir string) (*Scenario, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario YAML: %w", err)
	}

	s, err := doc.toScenario(baseDir)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Document) toScenario(baseDir string) (*Scenario, error) {
	op, err := ParseOperator(d.EndConditions.Operator)
	if err != nil {
		return nil, fmt.Errorf("end_conditions: %w", err)
	}

	s := &Scenario{
		ID:                   d.ID,
		Name:                 d.Name,
		DetectionQuality:     d.DetectionQuality,
		Randomize:            d.Randomize,
		EndConditionOperator: op,
	}
	for _, ec := range d.EndConditions.Conditions {
		s.EndConditions = append(s.EndConditions, EndCondition{EventID: ec.EventID, Executions: ec.Executions})
	}

	for i, ed := range d.Events {
		event, err := ed.toEvent(EventKindImage, baseDir)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		s.Events = append(s.Events, event)
	}
	for i, ed := range d.TriggerEvents {
		event, err := ed.toEvent(EventKindTrigger, baseDir)
		if err != nil {
			return nil, fmt.Errorf("trigger_events[%d]: %w", i, err)
		}
		s.TriggerEvents = append(s.TriggerEvents, event)
	}
	return s, nil
}

func (ed *eventDoc) toEvent(kind EventKind, baseDir string) (Event, error) {
	op, err := ParseOperator(ed.Operator)
	if err != nil {
		return Event{}, err
	}

	event := Event{
		ID:             ed.ID,
		Name:           ed.Name,
		Priority:       ed.Priority,
		Kind:           kind,
		Operator:       op,
		EnabledOnStart: ed.EnabledOnStart == nil || *ed.EnabledOnStart,
		KeepDetecting:  ed.KeepDetecting,
	}
	for i, cd := range ed.Conditions {
		c, err := cd.toCondition(baseDir)
		if err != nil {
			return Event{}, fmt.Errorf("conditions[%d]: %w", i, err)
		}
		event.Conditions = append(event.Conditions, c)
	}
	for i, ad := range ed.Actions {
		a, err := ad.toAction()
		if err != nil {
			return Event{}, fmt.Errorf("actions[%d]: %w", i, err)
		}
		event.Actions = append(event.Actions, a)
	}
	return event, nil
}

func counterValue(literal int64, counter string) CounterValue {
	return CounterValue{Literal: literal, Counter: strings.TrimSpace(counter)}
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (cd *conditionDoc) toCondition(baseDir string) (Condition, error) {
	c := Condition{ID: cd.ID, Name: cd.Name}

	switch strings.ToLower(cd.Type) {
	case "image":
		detection, err := parseDetectionType(cd.Detection)
		if err != nil {
			return c, err
		}
		path := cd.Path
		if path != "" && baseDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		c.Type = ConditionTypeImage
		c.Image = &ImageCondition{
			Path:             path,
			Area:             cd.Area.rect(),
			DetectionType:    detection,
			DetectionArea:    cd.DetectionArea.rect(),
			Threshold:        cd.Threshold,
			ShouldBeDetected: cd.ShouldBeDetected == nil || *cd.ShouldBeDetected,
		}
	case "counter":
		cmp, err := ParseComparison(cd.Comparison)
		if err != nil {
			return c, err
		}
		c.Type = ConditionTypeCounter
		c.Counter = &CounterCondition{
			CounterName: cd.Counter,
			Comparison:  cmp,
			Value:       counterValue(cd.Value, cd.ValueCounter),
		}
	case "timer":
		c.Type = ConditionTypeTimer
		c.Timer = &TimerCondition{Duration: millis(cd.DurationMs), RestartWhenReached: cd.Restart}
	case "broadcast":
		c.Type = ConditionTypeBroadcast
		c.Broadcast = &BroadcastCondition{Action: cd.Action}
	default:
		return c, fmt.Errorf("unknown condition type '%s' (available types: image, counter, timer, broadcast)", cd.Type)
	}
	return c, nil
}

func parseDetectionType(s string) (DetectionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return DetectionExact, nil
	case "whole_screen", "screen", "anywhere":
		return DetectionWholeScreen, nil
	case "in_area", "area":
		return DetectionInArea, nil
	default:
		return DetectionExact, fmt.Errorf("invalid detection type '%s': must be exact, whole_screen or in_area", s)
	}
}

func (ad *actionDoc) toAction() (Action, error) {
	a := Action{ID: ad.ID, Name: ad.Name}

	switch strings.ToLower(ad.Type) {
	case "click":
		click := &ClickAction{
			Position:      ad.Point.point(),
			ConditionID:   ad.ConditionID,
			Offset:        ad.Offset.point(),
			PressDuration: millis(ad.PressDurationMs),
		}
		switch strings.ToLower(ad.Position) {
		case "", "user_selected", "point":
			click.PositionType = ClickUserSelected
			if ad.Point == nil {
				click.PositionType = ClickOnDetectedCondition
			}
		case "on_condition", "on_detected_condition":
			click.PositionType = ClickOnDetectedCondition
		default:
			return a, fmt.Errorf("invalid click position '%s': must be user_selected or on_condition", ad.Position)
		}
		a.Type = ActionTypeClick
		a.Click = click
	case "swipe":
		a.Type = ActionTypeSwipe
		a.Swipe = &SwipeAction{From: ad.From.point(), To: ad.To.point(), Duration: millis(ad.DurationMs)}
	case "pause":
		a.Type = ActionTypePause
		a.Pause = &PauseAction{Duration: millis(ad.DurationMs)}
	case "toggle_event":
		toggle := &ToggleEventAction{}
		if ad.ToggleAll != "" {
			t, err := ParseToggleType(ad.ToggleAll)
			if err != nil {
				return a, err
			}
			toggle.ToggleAll = true
			toggle.ToggleAllType = t
		}
		for _, td := range ad.Toggles {
			t, err := ParseToggleType(td.Type)
			if err != nil {
				return a, err
			}
			toggle.Toggles = append(toggle.Toggles, EventToggle{TargetEventID: td.EventID, Type: t})
		}
		a.Type = ActionTypeToggleEvent
		a.ToggleEvent = toggle
	case "change_counter":
		op, err := ParseCounterOperation(ad.Operation)
		if err != nil {
			return a, err
		}
		a.Type = ActionTypeChangeCounter
		a.ChangeCounter = &ChangeCounterAction{
			CounterName: ad.Counter,
			Operation:   op,
			Value:       counterValue(ad.Value, ad.ValueCounter),
		}
	case "intent":
		a.Type = ActionTypeIntent
		a.Intent = &IntentAction{
			Action:    ad.Action,
			Component: ad.Component,
			Broadcast: ad.Broadcast,
			Extras:    ad.Extras,
		}
	case "notification":
		a.Type = ActionTypeNotification
		a.Notification = &NotificationAction{Title: ad.Title, Message: ad.Message}
	default:
		return a, fmt.Errorf("unknown action type '%s' (available types: click, swipe, pause, toggle_event, change_counter, intent, notification)", ad.Type)
	}
	return a, nil
}
