package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/logging"
	"jordanella.com/scenario-detector/internal/processing"
	"jordanella.com/scenario-detector/internal/scenario"
)

const (
	jitterPixels = 5
	jitterMillis = 5
)

var (
	ErrNoPosition = errors.New("no detected position for click")
	ErrNoSink     = errors.New("no sink configured")
)

// MatchContext carries what the executor needs from the evaluation that fired the event
type MatchContext struct {
	EventID     int64
	ConditionID int64
	Results     map[int64]cv.DetectionResult
}

// NewMatchContext builds the context of a matched outcome
func NewMatchContext(eventID int64, outcome MatchOutcome) *MatchContext {
	mc := &MatchContext{EventID: eventID, Results: outcome.Results}
	if outcome.Condition != nil {
		mc.ConditionID = outcome.Condition.ID
	}
	return mc
}

// position returns the detected position of a condition, or of the triggering condition
// when conditionID is zero
func (mc *MatchContext) position(conditionID int64) (image.Point, bool) {
	if mc == nil {
		return image.Point{}, false
	}
	if conditionID == 0 {
		conditionID = mc.ConditionID
	}
	result, ok := mc.Results[conditionID]
	if !ok || !result.Detected {
		return image.Point{}, false
	}
	return result.Position, true
}

// ActionExecutor runs action lists in order
type ActionExecutor struct {
	state    *processing.State
	sinks    Sinks
	observer Observer
	logger   *zap.Logger

	randomize bool
	rng       *rand.Rand
}

// NewActionExecutor creates an executor. Randomize adds jitter to gesture positions and
// durations.
func NewActionExecutor(state *processing.State, sinks Sinks, observer Observer, randomize bool) *ActionExecutor {
	if observer == nil {
		observer = NopObserver{}
	}
	return &ActionExecutor{
		state:     state,
		sinks:     sinks,
		observer:  observer,
		logger:    logging.NewLogger("ActionExecutor"),
		randomize: randomize,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Execute runs the actions strictly in order. A failing or skipped action is reported
// and the list continues. Once ctx is cancelled the running action completes but no new
// action starts, and ctx.Err() is returned.
func (x *ActionExecutor) Execute(ctx context.Context, actions []scenario.Action, match *MatchContext) error {
	var eventID int64
	if match != nil {
		eventID = match.EventID
	}

	for i := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}

		action := &actions[i]
		err := x.execute(ctx, action, match)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, ErrNoPosition), errors.Is(err, ErrNoSink):
			x.logger.Warn("Action skipped",
				zap.Int64("event_id", eventID),
				zap.Int64("action_id", action.ID),
				zap.Stringer("type", action.Type),
				zap.Error(err))
			x.observer.OnActionAnomaly(ActionAnomaly{EventID: eventID, ActionID: action.ID, Skipped: true, Reason: err.Error(), Err: err})
		default:
			x.logger.Warn("Action failed",
				zap.Int64("event_id", eventID),
				zap.Int64("action_id", action.ID),
				zap.Stringer("type", action.Type),
				zap.Error(err))
			x.observer.OnActionAnomaly(ActionAnomaly{EventID: eventID, ActionID: action.ID, Reason: "failed", Err: err})
		}
	}
	return nil
}

func (x *ActionExecutor) execute(ctx context.Context, a *scenario.Action, match *MatchContext) error {
	switch a.Type {
	case scenario.ActionTypeClick:
		return x.click(ctx, a.Click, match)
	case scenario.ActionTypeSwipe:
		return x.swipe(ctx, a.Swipe)
	case scenario.ActionTypePause:
		if a.Pause == nil {
			return fmt.Errorf("pause action %d: missing payload", a.ID)
		}
		return sleep(ctx, a.Pause.Duration)
	case scenario.ActionTypeToggleEvent:
		return x.toggle(a.ToggleEvent)
	case scenario.ActionTypeChangeCounter:
		return x.changeCounter(a.ChangeCounter)
	case scenario.ActionTypeIntent:
		if a.Intent == nil {
			return fmt.Errorf("intent action %d: missing payload", a.ID)
		}
		if x.sinks.Intents == nil {
			return fmt.Errorf("intent: %w", ErrNoSink)
		}
		return x.sinks.Intents.SendIntent(ctx, *a.Intent)
	case scenario.ActionTypeNotification:
		if a.Notification == nil {
			return fmt.Errorf("notification action %d: missing payload", a.ID)
		}
		if x.sinks.Notifications == nil {
			return fmt.Errorf("notification: %w", ErrNoSink)
		}
		return x.sinks.Notifications.Notify(ctx, a.Notification.Title, a.Notification.Message)
	default:
		return fmt.Errorf("unknown action type %v", a.Type)
	}
}

func (x *ActionExecutor) click(ctx context.Context, c *scenario.ClickAction, match *MatchContext) error {
	if c == nil {
		return errors.New("click action: missing payload")
	}
	if x.sinks.Gestures == nil {
		return fmt.Errorf("click: %w", ErrNoSink)
	}

	at := c.Position
	if c.PositionType == scenario.ClickOnDetectedCondition {
		detected, ok := match.position(c.ConditionID)
		if !ok {
			return fmt.Errorf("condition %d: %w", c.ConditionID, ErrNoPosition)
		}
		at = detected.Add(c.Offset)
	}

	at = x.jitterPoint(at)
	press := x.jitterDuration(c.PressDuration)
	if err := x.sinks.Gestures.Click(ctx, at, press); err != nil {
		return fmt.Errorf("click at %v: %w", at, err)
	}
	return sleep(ctx, press)
}

func (x *ActionExecutor) swipe(ctx context.Context, s *scenario.SwipeAction) error {
	if s == nil {
		return errors.New("swipe action: missing payload")
	}
	if x.sinks.Gestures == nil {
		return fmt.Errorf("swipe: %w", ErrNoSink)
	}

	from, to := x.jitterPoint(s.From), x.jitterPoint(s.To)
	duration := x.jitterDuration(s.Duration)
	if err := x.sinks.Gestures.Swipe(ctx, from, to, duration); err != nil {
		return fmt.Errorf("swipe %v -> %v: %w", from, to, err)
	}
	return sleep(ctx, duration)
}

func (x *ActionExecutor) toggle(t *scenario.ToggleEventAction) error {
	if t == nil {
		return errors.New("toggle action: missing payload")
	}
	if t.ToggleAll {
		x.state.ApplyToggleAll(t.ToggleAllType)
		return nil
	}
	for _, target := range t.Toggles {
		if !x.state.ApplyToggle(target.TargetEventID, target.Type) {
			x.logger.Debug("Toggle target not found", zap.Int64("event_id", target.TargetEventID))
		}
	}
	return nil
}

func (x *ActionExecutor) changeCounter(c *scenario.ChangeCounterAction) error {
	if c == nil {
		return errors.New("change counter action: missing payload")
	}
	value, ok := x.state.Resolve(c.Value)
	if !ok {
		x.logger.Debug("Counter value not tracked", zap.String("counter", c.Value.Counter))
		return nil
	}

	var written bool
	switch c.Operation {
	case scenario.CounterAdd:
		written = x.state.AddCounter(c.CounterName, value)
	case scenario.CounterMinus:
		written = x.state.SubtractCounter(c.CounterName, value)
	case scenario.CounterSet:
		written = x.state.SetCounter(c.CounterName, value)
	default:
		return fmt.Errorf("unknown counter operation %v", c.Operation)
	}
	if !written {
		x.logger.Debug("Counter not tracked", zap.String("counter", c.CounterName))
	}
	return nil
}

func (x *ActionExecutor) jitterPoint(p image.Point) image.Point {
	if !x.randomize {
		return p
	}
	return image.Pt(
		max(0, p.X+x.rng.IntN(2*jitterPixels+1)-jitterPixels),
		max(0, p.Y+x.rng.IntN(2*jitterPixels+1)-jitterPixels),
	)
}

func (x *ActionExecutor) jitterDuration(d time.Duration) time.Duration {
	if !x.randomize || d <= 0 {
		return d
	}
	offset := time.Duration(x.rng.IntN(2*jitterMillis+1)-jitterMillis) * time.Millisecond
	return max(time.Millisecond, d+offset)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
