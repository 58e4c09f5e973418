package scenario

import (
	"errors"
	"fmt"
)

// ErrInvalidScenario wraps every validation failure returned by Validate
var ErrInvalidScenario = errors.New("invalid scenario")

// Validate checks the scenario for structural problems that would make events
// unusable. All problems are reported at once. Dangling references between actions,
// conditions and events are not errors: the action is skipped when it runs. Warnings
// lists them.
func (s *Scenario) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if s.DetectionQuality < 0 {
		add("detection quality must be >= 0, got %d", s.DetectionQuality)
	}

	eventIDs := make(map[int64]bool)
	conditionIDs := make(map[int64]bool)
	for _, event := range s.AllEvents() {
		if eventIDs[event.ID] {
			add("duplicate event id %d", event.ID)
		}
		eventIDs[event.ID] = true

		for i := range event.Conditions {
			c := &event.Conditions[i]
			if conditionIDs[c.ID] {
				add("event %d: duplicate condition id %d", event.ID, c.ID)
			}
			conditionIDs[c.ID] = true

			if err := c.validate(event.Kind); err != nil {
				add("event %d condition %d: %w", event.ID, c.ID, err)
			}
		}
	}

	for _, event := range s.AllEvents() {
		for i := range event.Actions {
			if err := event.Actions[i].validate(); err != nil {
				add("event %d action %d: %w", event.ID, event.Actions[i].ID, err)
			}
		}
	}

	for _, ec := range s.EndConditions {
		if !eventIDs[ec.EventID] {
			add("end condition references unknown event %d", ec.EventID)
		}
		if ec.Executions < 1 {
			add("end condition for event %d: executions must be >= 1, got %d", ec.EventID, ec.Executions)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, errors.Join(problems...))
	}
	return nil
}

func (c *Condition) validate(kind EventKind) error {
	switch c.Type {
	case ConditionTypeImage:
		if c.Image == nil {
			return errors.New("image condition without payload")
		}
		if kind == EventKindTrigger {
			return errors.New("image conditions are not allowed in trigger events")
		}
		if c.Image.Path == "" {
			return errors.New("image path is required")
		}
		if c.Image.Area.Empty() {
			return errors.New("image area is empty")
		}
		if c.Image.Threshold < 0 || c.Image.Threshold > 100 {
			return fmt.Errorf("threshold must be between 0 and 100, got %d", c.Image.Threshold)
		}
		if c.Image.DetectionType == DetectionInArea && c.Image.DetectionArea.Empty() {
			return errors.New("detection area is empty")
		}
	case ConditionTypeCounter:
		if c.Counter == nil {
			return errors.New("counter condition without payload")
		}
		if c.Counter.CounterName == "" {
			return errors.New("counter name is required")
		}
	case ConditionTypeTimer:
		if c.Timer == nil {
			return errors.New("timer condition without payload")
		}
		if c.Timer.Duration <= 0 {
			return fmt.Errorf("timer duration must be > 0, got %v", c.Timer.Duration)
		}
	case ConditionTypeBroadcast:
		if c.Broadcast == nil {
			return errors.New("broadcast condition without payload")
		}
		if c.Broadcast.Action == "" {
			return errors.New("broadcast action is required")
		}
	default:
		return fmt.Errorf("unknown condition type %v", c.Type)
	}
	return nil
}

// Warnings returns references that cannot resolve at run time: clicks on a condition
// their event does not own and toggles of unknown events.
func (s *Scenario) Warnings() []string {
	eventIDs := make(map[int64]bool)
	for _, event := range s.AllEvents() {
		eventIDs[event.ID] = true
	}

	var warnings []string
	for _, event := range s.AllEvents() {
		for _, a := range event.Actions {
			switch {
			case a.Type == ActionTypeClick && a.Click != nil:
				if a.Click.PositionType == ClickOnDetectedCondition && a.Click.ConditionID != 0 &&
					!event.hasCondition(a.Click.ConditionID) {
					warnings = append(warnings, fmt.Sprintf(
						"event %d action %d: click references condition %d outside of its event", event.ID, a.ID, a.Click.ConditionID))
				}
			case a.Type == ActionTypeToggleEvent && a.ToggleEvent != nil:
				for _, t := range a.ToggleEvent.Toggles {
					if !eventIDs[t.TargetEventID] {
						warnings = append(warnings, fmt.Sprintf(
							"event %d action %d: toggle targets unknown event %d", event.ID, a.ID, t.TargetEventID))
					}
				}
			}
		}
	}
	return warnings
}

func (a *Action) validate() error {
	switch a.Type {
	case ActionTypeClick:
		if a.Click == nil {
			return errors.New("click action without payload")
		}
		if a.Click.PressDuration < 0 {
			return fmt.Errorf("press duration must be >= 0, got %v", a.Click.PressDuration)
		}
	case ActionTypeSwipe:
		if a.Swipe == nil {
			return errors.New("swipe action without payload")
		}
		if a.Swipe.Duration < 0 {
			return fmt.Errorf("swipe duration must be >= 0, got %v", a.Swipe.Duration)
		}
	case ActionTypePause:
		if a.Pause == nil {
			return errors.New("pause action without payload")
		}
		if a.Pause.Duration < 0 {
			return fmt.Errorf("pause duration must be >= 0, got %v", a.Pause.Duration)
		}
	case ActionTypeToggleEvent:
		if a.ToggleEvent == nil {
			return errors.New("toggle action without payload")
		}
		if !a.ToggleEvent.ToggleAll && len(a.ToggleEvent.Toggles) == 0 {
			return errors.New("toggle action has no targets")
		}
	case ActionTypeChangeCounter:
		if a.ChangeCounter == nil {
			return errors.New("change counter action without payload")
		}
		if a.ChangeCounter.CounterName == "" {
			return errors.New("counter name is required")
		}
	case ActionTypeIntent:
		if a.Intent == nil {
			return errors.New("intent action without payload")
		}
		if a.Intent.Action == "" && a.Intent.Component == "" {
			return errors.New("intent needs an action or a component")
		}
	case ActionTypeNotification:
		if a.Notification == nil {
			return errors.New("notification action without payload")
		}
	default:
		return fmt.Errorf("unknown action type %v", a.Type)
	}
	return nil
}

func (e *Event) hasCondition(id int64) bool {
	for _, c := range e.Conditions {
		if c.ID == id {
			return true
		}
	}
	return false
}
