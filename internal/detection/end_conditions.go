package detection

import (
	"jordanella.com/scenario-detector/internal/scenario"
)

// ExecutionInfo tracks one end condition
type ExecutionInfo struct {
	EventID    int64
	Executions int
	Threshold  int
}

// Completed reports whether the threshold was reached
func (e ExecutionInfo) Completed() bool {
	return e.Executions >= e.Threshold
}

// EndConditionVerifier decides when a session is over. It moves from active to reached
// once and is not reused afterwards.
type EndConditionVerifier struct {
	operator  scenario.Operator
	infos     []ExecutionInfo
	completed map[int]struct{}
	reached   bool
}

// NewEndConditionVerifier creates a verifier. Without end conditions it never reaches.
func NewEndConditionVerifier(conditions []scenario.EndCondition, operator scenario.Operator) *EndConditionVerifier {
	v := &EndConditionVerifier{
		operator:  operator,
		completed: make(map[int]struct{}),
	}
	for _, c := range conditions {
		v.infos = append(v.infos, ExecutionInfo{EventID: c.EventID, Threshold: c.Executions})
	}
	return v
}

// OnEventTriggered counts one execution of eventID and reports whether the end is
// reached. OR needs one completed condition, AND needs all of them.
func (v *EndConditionVerifier) OnEventTriggered(eventID int64) bool {
	if v.reached {
		return true
	}
	if len(v.infos) == 0 {
		return false
	}

	for i := range v.infos {
		info := &v.infos[i]
		if info.EventID != eventID {
			continue
		}
		info.Executions++
		if info.Completed() {
			v.completed[i] = struct{}{}
		}
	}

	switch v.operator {
	case scenario.OperatorOr:
		v.reached = len(v.completed) > 0
	default:
		v.reached = len(v.completed) == len(v.infos)
	}
	return v.reached
}

// Reached reports whether the session end was reached
func (v *EndConditionVerifier) Reached() bool {
	return v.reached
}

// Progress returns a copy of every end condition's state
func (v *EndConditionVerifier) Progress() []ExecutionInfo {
	out := make([]ExecutionInfo, len(v.infos))
	copy(out, v.infos)
	return out
}
