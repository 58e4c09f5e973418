package detector

import "errors"

// DetectorState is the lifecycle state of an Engine
type DetectorState int

const (
	StateCreated DetectorState = iota
	StateTransitioning
	StateRecording
	StateDetecting
	StateDestroyed
)

func (s DetectorState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateTransitioning:
		return "TRANSITIONING"
	case StateRecording:
		return "RECORDING"
	case StateDetecting:
		return "DETECTING"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrInvalidState is returned for an operation not allowed in the current state
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrTransitioning is returned while another lifecycle operation is running
	ErrTransitioning = errors.New("engine is transitioning")
	// ErrDestroyed is returned by every operation after Destroy
	ErrDestroyed = errors.New("engine destroyed")
	// ErrInvalidRecordRequest is returned by StartScreenRecord before any state change
	ErrInvalidRecordRequest = errors.New("invalid record request")
	// ErrNoFrame is returned by CaptureArea when no frame arrived in time
	ErrNoFrame = errors.New("no frame available")
)
