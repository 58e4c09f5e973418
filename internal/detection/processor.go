package detection

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/logging"
	"jordanella.com/scenario-detector/internal/processing"
	"jordanella.com/scenario-detector/internal/scenario"
)

// ProcessorConfig wires a ScenarioProcessor
type ProcessorConfig struct {
	Scenario *scenario.Scenario
	State    *processing.State
	Frames   *cv.FrameCache
	Matcher  cv.Matcher
	Sinks    Sinks
	Observer Observer
	// OnStop is called once when the end conditions are reached
	OnStop func()
}

// ScenarioProcessor runs one frame pass over the events of a scenario
type ScenarioProcessor struct {
	scenario      *scenario.Scenario
	imageEvents   []*scenario.Event
	triggerEvents []*scenario.Event

	state     *processing.State
	frames    *cv.FrameCache
	evaluator *ConditionEvaluator
	executor  *ActionExecutor
	verifier  *EndConditionVerifier
	observer  Observer
	onStop    func()
	logger    *zap.Logger
}

// NewScenarioProcessor creates the processor of a session
func NewScenarioProcessor(cfg ProcessorConfig) *ScenarioProcessor {
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	onStop := cfg.OnStop
	if onStop == nil {
		onStop = func() {}
	}

	return &ScenarioProcessor{
		scenario:      cfg.Scenario,
		imageEvents:   cfg.Scenario.SortedImageEvents(),
		triggerEvents: cfg.Scenario.SortedTriggerEvents(),
		state:         cfg.State,
		frames:        cfg.Frames,
		evaluator:     NewConditionEvaluator(cfg.Frames, cfg.Matcher, cfg.State),
		executor:      NewActionExecutor(cfg.State, cfg.Sinks, observer, cfg.Scenario.Randomize),
		verifier:      NewEndConditionVerifier(cfg.Scenario.EndConditions, cfg.Scenario.EndConditionOperator),
		observer:      observer,
		onStop:        onStop,
		logger:        logging.NewLogger("ScenarioProcessor"),
	}
}

// Verifier exposes the end condition progress
func (p *ScenarioProcessor) Verifier() *EndConditionVerifier {
	return p.verifier
}

// Ended reports whether the end conditions were reached
func (p *ScenarioProcessor) Ended() bool {
	return p.verifier.Reached()
}

// Process runs one pass: trigger events first, then image events against frame in
// ascending priority. The first matching image event ends the pass unless it keeps
// detecting. Returns ctx.Err() when the pass was cancelled.
func (p *ScenarioProcessor) Process(ctx context.Context, frame *image.RGBA) error {
	if p.verifier.Reached() {
		return nil
	}

	start := time.Now()
	summary := PassSummary{}
	defer func() {
		summary.Duration = time.Since(start)
		summary.EndReached = p.verifier.Reached()
		p.observer.OnPassCompleted(summary)
	}()

	hasFrame := false
	if frame != nil && p.frames != nil {
		if _, err := p.frames.Refresh(frame); err != nil {
			p.logger.Warn("Frame rejected", zap.Error(err))
		} else {
			hasFrame = true
		}
	}

	for _, event := range p.triggerEvents {
		fired, err := p.processEvent(ctx, event, &summary)
		if err != nil {
			return err
		}
		if fired && p.verifier.Reached() {
			return nil
		}
	}

	if hasFrame {
		for _, event := range p.imageEvents {
			fired, err := p.processEvent(ctx, event, &summary)
			if err != nil {
				return err
			}
			if fired && (p.verifier.Reached() || !event.KeepDetecting) {
				break
			}
		}
	}

	p.state.ClearIterationState()
	return nil
}

// processEvent evaluates one event and runs its actions when it matches
func (p *ScenarioProcessor) processEvent(ctx context.Context, event *scenario.Event, summary *PassSummary) (bool, error) {
	if !p.state.IsEnabled(event.ID) || len(event.Conditions) == 0 {
		return false, nil
	}

	outcome, err := p.evaluator.Evaluate(ctx, event)
	if err != nil {
		return false, err
	}

	evaluation := Evaluation{
		EventID:    event.ID,
		EventName:  event.Name,
		Matched:    outcome.Matched,
		Detections: outcome.Results,
		At:         time.Now(),
	}
	if outcome.Condition != nil {
		evaluation.ConditionID = outcome.Condition.ID
	}
	p.observer.OnEvaluation(evaluation)

	if !outcome.Matched {
		return false, nil
	}

	p.logger.Debug("Event matched",
		zap.Int64("event_id", event.ID),
		zap.String("event", event.Name),
		zap.Int64("condition_id", evaluation.ConditionID))

	if err := p.executor.Execute(ctx, event.Actions, NewMatchContext(event.ID, outcome)); err != nil {
		return true, err
	}
	summary.Triggered = append(summary.Triggered, event.ID)

	if p.verifier.OnEventTriggered(event.ID) {
		p.logger.Info("End conditions reached", zap.Int64("event_id", event.ID))
		p.onStop()
	}
	return true, nil
}
