package scenario

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// ConditionType discriminates the Condition variants
type ConditionType int

const (
	ConditionTypeImage ConditionType = iota
	ConditionTypeCounter
	ConditionTypeTimer
	ConditionTypeBroadcast
)

func (t ConditionType) String() string {
	switch t {
	case ConditionTypeImage:
		return "image"
	case ConditionTypeCounter:
		return "counter"
	case ConditionTypeTimer:
		return "timer"
	case ConditionTypeBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("ConditionType(%d)", int(t))
	}
}

// Condition is a single testable predicate. Exactly one payload matching Type is set.
type Condition struct {
	ID   int64
	Name string
	Type ConditionType

	Image     *ImageCondition
	Counter   *CounterCondition
	Timer     *TimerCondition
	Broadcast *BroadcastCondition
}

// DetectionType selects where an image condition is searched
type DetectionType int

const (
	// DetectionExact searches only the area where the reference was captured
	DetectionExact DetectionType = iota
	// DetectionWholeScreen searches the whole frame
	DetectionWholeScreen
	// DetectionInArea searches DetectionArea
	DetectionInArea
)

func (d DetectionType) String() string {
	switch d {
	case DetectionExact:
		return "exact"
	case DetectionWholeScreen:
		return "whole_screen"
	case DetectionInArea:
		return "in_area"
	default:
		return fmt.Sprintf("DetectionType(%d)", int(d))
	}
}

// ImageCondition matches a reference image against the frame
type ImageCondition struct {
	Path             string
	Area             image.Rectangle // Where the reference was captured; its size is the reference size
	DetectionType    DetectionType
	DetectionArea    image.Rectangle
	Threshold        int // 0-100
	ShouldBeDetected bool
}

// MinSimilarity converts the threshold into the ratio expected by the matcher
func (c *ImageCondition) MinSimilarity() float64 {
	return float64(100-c.Threshold) / 100
}

// Comparison is a counter comparison operator
type Comparison int

const (
	ComparisonEquals Comparison = iota
	ComparisonGreater
	ComparisonGreaterOrEquals
	ComparisonLower
	ComparisonLowerOrEquals
)

func (c Comparison) String() string {
	switch c {
	case ComparisonEquals:
		return "=="
	case ComparisonGreater:
		return ">"
	case ComparisonGreaterOrEquals:
		return ">="
	case ComparisonLower:
		return "<"
	case ComparisonLowerOrEquals:
		return "<="
	default:
		return fmt.Sprintf("Comparison(%d)", int(c))
	}
}

// ParseComparison accepts symbols or names ("greater_or_equals")
func ParseComparison(s string) (Comparison, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "==", "=", "eq", "equals":
		return ComparisonEquals, nil
	case ">", "gt", "greater":
		return ComparisonGreater, nil
	case ">=", "ge", "greater_or_equals":
		return ComparisonGreaterOrEquals, nil
	case "<", "lt", "lower", "less":
		return ComparisonLower, nil
	case "<=", "le", "lower_or_equals", "less_or_equals":
		return ComparisonLowerOrEquals, nil
	default:
		return ComparisonEquals, fmt.Errorf("invalid comparison '%s'", s)
	}
}

// Compare applies the comparison to (left, right)
func (c Comparison) Compare(left, right int64) bool {
	switch c {
	case ComparisonEquals:
		return left == right
	case ComparisonGreater:
		return left > right
	case ComparisonGreaterOrEquals:
		return left >= right
	case ComparisonLower:
		return left < right
	case ComparisonLowerOrEquals:
		return left <= right
	default:
		return false
	}
}

// CounterValue is either a literal or the current value of another counter
type CounterValue struct {
	Literal int64
	Counter string // Non-empty: read this counter instead of Literal
}

// IsCounter reports whether the value references another counter
func (v CounterValue) IsCounter() bool {
	return v.Counter != ""
}

func (v CounterValue) String() string {
	if v.IsCounter() {
		return "counter:" + v.Counter
	}
	return fmt.Sprintf("%d", v.Literal)
}

// CounterCondition compares a counter with a value
type CounterCondition struct {
	CounterName string
	Comparison  Comparison
	Value       CounterValue
}

// TimerCondition is satisfied once Duration elapsed since the session start or the
// last restart
type TimerCondition struct {
	Duration           time.Duration
	RestartWhenReached bool
}

// BroadcastCondition is satisfied when the named external signal was received since
// the previous frame pass
type BroadcastCondition struct {
	Action string
}

// CounterNames returns the counters this condition reads
func (c *Condition) CounterNames() []string {
	if c.Type != ConditionTypeCounter || c.Counter == nil {
		return nil
	}
	names := []string{c.Counter.CounterName}
	if c.Counter.Value.IsCounter() {
		names = append(names, c.Counter.Value.Counter)
	}
	return names
}
