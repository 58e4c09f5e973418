package detection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/logging"
	"jordanella.com/scenario-detector/internal/processing"
	"jordanella.com/scenario-detector/internal/scenario"
)

// MatchOutcome is the result of evaluating one event
type MatchOutcome struct {
	Matched bool
	// Condition decided the outcome: the first unsatisfied one for a failed AND, the
	// first satisfied one for a matched OR, the last one otherwise
	Condition *scenario.Condition
	Result    cv.DetectionResult
	// Results holds every image condition evaluated, keyed by condition id
	Results map[int64]cv.DetectionResult
}

// ConditionEvaluator tests event conditions against the current frame and the session
// state
type ConditionEvaluator struct {
	frames  *cv.FrameCache
	matcher cv.Matcher
	state   *processing.State
	logger  *zap.Logger

	// Reference load failures are logged once per condition
	loadFailures map[int64]bool
}

// NewConditionEvaluator creates an evaluator. frames may be nil when only trigger
// events are evaluated.
func NewConditionEvaluator(frames *cv.FrameCache, matcher cv.Matcher, state *processing.State) *ConditionEvaluator {
	return &ConditionEvaluator{
		frames:       frames,
		matcher:      matcher,
		state:        state,
		logger:       logging.NewLogger("ConditionEvaluator"),
		loadFailures: make(map[int64]bool),
	}
}

// Evaluate combines the event conditions with the event operator, short circuiting as
// soon as the outcome is known. An event without conditions never matches. The only
// error returned is the context's.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, event *scenario.Event) (MatchOutcome, error) {
	outcome := MatchOutcome{Results: make(map[int64]cv.DetectionResult)}
	if len(event.Conditions) == 0 {
		return outcome, nil
	}

	for i := range event.Conditions {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		condition := &event.Conditions[i]
		satisfied, result := e.evaluateCondition(condition)
		if condition.Type == scenario.ConditionTypeImage {
			outcome.Results[condition.ID] = result
		}
		outcome.Condition = condition
		outcome.Result = result

		switch event.Operator {
		case scenario.OperatorOr:
			if satisfied {
				outcome.Matched = true
				return outcome, nil
			}
		default:
			if !satisfied {
				return outcome, nil
			}
		}
	}

	outcome.Matched = event.Operator != scenario.OperatorOr
	return outcome, nil
}

func (e *ConditionEvaluator) evaluateCondition(c *scenario.Condition) (bool, cv.DetectionResult) {
	switch c.Type {
	case scenario.ConditionTypeImage:
		if c.Image == nil {
			return false, cv.DetectionResult{}
		}
		result := e.detect(c.ID, c.Image)
		return result.Detected == c.Image.ShouldBeDetected, result
	case scenario.ConditionTypeCounter:
		return e.evaluateCounter(c.Counter), cv.DetectionResult{}
	case scenario.ConditionTypeTimer:
		return e.evaluateTimer(c.ID, c.Timer), cv.DetectionResult{}
	case scenario.ConditionTypeBroadcast:
		return c.Broadcast != nil && e.state.BroadcastReceived(c.Broadcast.Action), cv.DetectionResult{}
	default:
		e.logger.Warn("Unknown condition type", zap.Int64("condition_id", c.ID), zap.Stringer("type", c.Type))
		return false, cv.DetectionResult{}
	}
}

// detect runs the matcher. Missing frames, unloadable references and matcher panics
// all count as not detected.
func (e *ConditionEvaluator) detect(id int64, c *scenario.ImageCondition) (result cv.DetectionResult) {
	if e.frames == nil || e.frames.Frame() == nil {
		return cv.DetectionResult{}
	}

	ref, err := e.frames.Reference(id, c.Path, c.Area.Size())
	if err != nil {
		if !e.loadFailures[id] {
			e.loadFailures[id] = true
			e.logger.Warn("Reference image unavailable", zap.Int64("condition_id", id), zap.Error(err))
		}
		return cv.DetectionResult{}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Matcher panicked",
				zap.Int64("condition_id", id),
				zap.Error(fmt.Errorf("panic: %v", r)))
			result = cv.DetectionResult{}
		}
	}()

	frame := e.frames.Frame()
	minSimilarity := c.MinSimilarity()
	switch c.DetectionType {
	case scenario.DetectionWholeScreen:
		return e.matcher.MatchAnywhere(ref, frame, minSimilarity)
	case scenario.DetectionInArea:
		return e.matcher.MatchInArea(ref, frame, c.DetectionArea, minSimilarity)
	default:
		return e.matcher.MatchInArea(ref, frame, c.Area, minSimilarity)
	}
}

// evaluateCounter is unsatisfied when either side reads an untracked counter
func (e *ConditionEvaluator) evaluateCounter(c *scenario.CounterCondition) bool {
	if c == nil {
		return false
	}
	left, ok := e.state.Counter(c.CounterName)
	if !ok {
		return false
	}
	right, ok := e.state.Resolve(c.Value)
	if !ok {
		return false
	}
	return c.Comparison.Compare(left, right)
}

func (e *ConditionEvaluator) evaluateTimer(id int64, c *scenario.TimerCondition) bool {
	if c == nil || !e.state.TimerReached(id, c.Duration) {
		return false
	}
	if c.RestartWhenReached {
		e.state.RestartTimer(id)
	}
	return true
}
