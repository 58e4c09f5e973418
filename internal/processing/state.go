// Package processing holds the mutable state of one detection session: which events are
// enabled, counter values, timer start instants and the broadcasts received since the
// last frame pass.
package processing

import (
	"math"
	"sort"
	"sync"
	"time"

	"jordanella.com/scenario-detector/internal/scenario"
)

// State is session scoped. It is created for a scenario when detection starts and kept
// across capture resizes.
type State struct {
	mu sync.RWMutex

	eventIDs   []int64
	enabled    map[int64]bool
	counters   map[string]int64
	timers     map[int64]time.Time // Zero value means never started
	broadcasts map[string]struct{}

	now func() time.Time
}

// Option configures a State
type Option func(*State)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

// NewState builds the state for a scenario. Only counters referenced by both a
// condition and an action are tracked; every other name is pruned.
func NewState(sc *scenario.Scenario, opts ...Option) *State {
	s := &State{
		enabled:    make(map[int64]bool),
		counters:   make(map[string]int64),
		timers:     make(map[int64]time.Time),
		broadcasts: make(map[string]struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, event := range sc.AllEvents() {
		s.eventIDs = append(s.eventIDs, event.ID)
		s.enabled[event.ID] = event.EnabledOnStart

		for _, c := range event.Conditions {
			if c.Type == scenario.ConditionTypeTimer {
				s.timers[c.ID] = time.Time{}
			}
		}
	}

	actionCounters := sc.ActionCounterNames()
	for name := range sc.ConditionCounterNames() {
		if _, ok := actionCounters[name]; ok {
			s.counters[name] = 0
		}
	}
	return s
}

// Start marks the session start: every timer starts now
func (s *State) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id := range s.timers {
		s.timers[id] = now
	}
}

// Stop resets every timer to never and drops pending broadcasts
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.timers {
		s.timers[id] = time.Time{}
	}
	clear(s.broadcasts)
}

// Now returns the state's clock reading
func (s *State) Now() time.Time {
	return s.now()
}

// Event enablement

func (s *State) IsEnabled(eventID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[eventID]
}

// ApplyToggle changes one event. Unknown ids are ignored and return false.
func (s *State) ApplyToggle(eventID int64, t scenario.ToggleType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyToggleLocked(eventID, t)
}

// ApplyToggleAll changes every event of the scenario
func (s *State) ApplyToggleAll(t scenario.ToggleType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.eventIDs {
		s.applyToggleLocked(id, t)
	}
}

func (s *State) applyToggleLocked(eventID int64, t scenario.ToggleType) bool {
	current, ok := s.enabled[eventID]
	if !ok {
		return false
	}
	switch t {
	case scenario.ToggleEnable:
		s.enabled[eventID] = true
	case scenario.ToggleDisable:
		s.enabled[eventID] = false
	case scenario.ToggleInvert:
		s.enabled[eventID] = !current
	default:
		return false
	}
	return true
}

// EnabledEvents returns the ids of enabled events in ascending order
func (s *State) EnabledEvents() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.enabled))
	for id, on := range s.enabled {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counters

// Counter returns a tracked counter. Pruned names return (0, false).
func (s *State) Counter(name string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.counters[name]
	return v, ok
}

// Resolve returns the value of a literal or counter reference
func (s *State) Resolve(v scenario.CounterValue) (int64, bool) {
	if !v.IsCounter() {
		return v.Literal, true
	}
	return s.Counter(v.Counter)
}

// SetCounter assigns a tracked counter. Pruned names are not written.
func (s *State) SetCounter(name string, value int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[name]; !ok {
		return false
	}
	s.counters[name] = value
	return true
}

// AddCounter adds delta, saturating at the int64 bounds
func (s *State) AddCounter(name string, delta int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.counters[name]
	if !ok {
		return false
	}
	s.counters[name] = saturatingAdd(current, delta)
	return true
}

// SubtractCounter subtracts delta, saturating at the int64 bounds
func (s *State) SubtractCounter(name string, delta int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.counters[name]
	if !ok {
		return false
	}
	s.counters[name] = saturatingSub(current, delta)
	return true
}

// Counters returns a copy of every tracked counter
func (s *State) Counters() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if b > 0 && sum < a {
		return math.MaxInt64
	}
	if b < 0 && sum > a {
		return math.MinInt64
	}
	return sum
}

func saturatingSub(a, b int64) int64 {
	diff := a - b
	if b < 0 && diff < a {
		return math.MaxInt64
	}
	if b > 0 && diff > a {
		return math.MinInt64
	}
	return diff
}

// Timers

// TimerStart returns when the timer of a condition started. The zero time means the
// timer never started.
func (s *State) TimerStart(conditionID int64) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, ok := s.timers[conditionID]
	return start, ok
}

// TimerReached reports whether d elapsed since the timer started. A timer that never
// started is never reached.
func (s *State) TimerReached(conditionID int64, d time.Duration) bool {
	start, ok := s.TimerStart(conditionID)
	if !ok || start.IsZero() {
		return false
	}
	return s.now().Sub(start) >= d
}

// RestartTimer sets the timer start to now
func (s *State) RestartTimer(conditionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[conditionID]; ok {
		s.timers[conditionID] = s.now()
	}
}

// Broadcasts

// ReceiveBroadcast records an external signal for the next frame pass
func (s *State) ReceiveBroadcast(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts[action] = struct{}{}
}

func (s *State) BroadcastReceived(action string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.broadcasts[action]
	return ok
}

// ClearIterationState forgets the broadcasts consumed by the finished frame pass
func (s *State) ClearIterationState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.broadcasts)
}
