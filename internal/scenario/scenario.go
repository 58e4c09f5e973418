// Package scenario defines the declarative model executed by the detection engine:
// a scenario is an ordered list of events, each event a condition list combined by an
// operator plus an ordered action list.
package scenario

import (
	"fmt"
	"sort"
	"strings"
)

// Operator combines the conditions of an event, or the end conditions of a scenario
type Operator int

const (
	OperatorAnd Operator = iota
	OperatorOr
)

func (o Operator) String() string {
	switch o {
	case OperatorAnd:
		return "AND"
	case OperatorOr:
		return "OR"
	default:
		return fmt.Sprintf("Operator(%d)", int(o))
	}
}

// ParseOperator parses "AND"/"OR" (case insensitive). Empty defaults to AND.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND", "ALL":
		return OperatorAnd, nil
	case "OR", "ANY":
		return OperatorOr, nil
	default:
		return OperatorAnd, fmt.Errorf("invalid operator '%s': must be AND or OR", s)
	}
}

// EventKind tells how an event is evaluated
type EventKind int

const (
	// EventKindImage events are evaluated against the current frame
	EventKindImage EventKind = iota
	// EventKindTrigger events only read counters, timers and broadcasts
	EventKindTrigger
)

func (k EventKind) String() string {
	if k == EventKindTrigger {
		return "trigger"
	}
	return "image"
}

// Scenario is the unit of work of a detection session
type Scenario struct {
	ID               string
	Name             string
	DetectionQuality int
	Randomize        bool

	// Events are the frame-driven events, evaluated in ascending priority
	Events []Event
	// TriggerEvents do not need a frame and are evaluated before Events
	TriggerEvents []Event

	EndConditions        []EndCondition
	EndConditionOperator Operator
}

// EndCondition stops the session once EventID has fired Executions times
type EndCondition struct {
	EventID    int64
	Executions int
}

// Event bundles conditions and actions
type Event struct {
	ID             int64
	Name           string
	Priority       int
	Kind           EventKind
	Operator       Operator
	Conditions     []Condition
	Actions        []Action
	EnabledOnStart bool
	KeepDetecting  bool
}

// AllEvents returns trigger and image events in one slice
func (s *Scenario) AllEvents() []*Event {
	all := make([]*Event, 0, len(s.Events)+len(s.TriggerEvents))
	for i := range s.TriggerEvents {
		all = append(all, &s.TriggerEvents[i])
	}
	for i := range s.Events {
		all = append(all, &s.Events[i])
	}
	return all
}

// EventByID finds an event of either kind
func (s *Scenario) EventByID(id int64) (*Event, bool) {
	for _, event := range s.AllEvents() {
		if event.ID == id {
			return event, true
		}
	}
	return nil, false
}

// SortedImageEvents returns the image events by ascending priority. Events with the
// same priority keep their list order.
func (s *Scenario) SortedImageEvents() []*Event {
	return sortByPriority(s.Events)
}

// SortedTriggerEvents returns the trigger events by ascending priority
func (s *Scenario) SortedTriggerEvents() []*Event {
	return sortByPriority(s.TriggerEvents)
}

func sortByPriority(events []Event) []*Event {
	sorted := make([]*Event, len(events))
	for i := range events {
		sorted[i] = &events[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

// ImageConditions returns every image condition of the scenario, keyed by condition id
func (s *Scenario) ImageConditions() map[int64]*ImageCondition {
	conditions := make(map[int64]*ImageCondition)
	for _, event := range s.AllEvents() {
		for i := range event.Conditions {
			if c := &event.Conditions[i]; c.Type == ConditionTypeImage && c.Image != nil {
				conditions[c.ID] = c.Image
			}
		}
	}
	return conditions
}

// ConditionCounterNames returns the counters read by conditions
func (s *Scenario) ConditionCounterNames() map[string]struct{} {
	names := make(map[string]struct{})
	for _, event := range s.AllEvents() {
		for _, condition := range event.Conditions {
			for _, name := range condition.CounterNames() {
				names[name] = struct{}{}
			}
		}
	}
	return names
}

// ActionCounterNames returns the counters read or written by actions
func (s *Scenario) ActionCounterNames() map[string]struct{} {
	names := make(map[string]struct{})
	for _, event := range s.AllEvents() {
		for _, action := range event.Actions {
			for _, name := range action.CounterNames() {
				names[name] = struct{}{}
			}
		}
	}
	return names
}
