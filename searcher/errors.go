package searcher

import (
	"errors"
	"fmt"

	"alloc/decision"
)

// EvaluationError wraps a failure from the Evaluator collaborator with the
// failing state and action so the caller can reproduce the call. During
// expansion it aborts the whole search; during simulation it aborts only the
// offending rollout.
type EvaluationError struct {
	StateHash decision.StateHash
	Action    decision.Action
	Err       error
}

func (e *EvaluationError) Error() string {
	if e.Action != nil {
		return fmt.Sprintf("evaluating action %q from state %#x: %v", e.Action, uint64(e.StateHash), e.Err)
	}
	return fmt.Sprintf("evaluating state %#x: %v", uint64(e.StateHash), e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid engine parameter. It is raised
// before any iteration runs.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

var (
	// ErrInsufficientSearch is returned when the risk synthesizer is asked
	// to report on a root with zero completed rollouts.
	ErrInsufficientSearch = errors.New("insufficient search: root has no completed rollouts")

	// ErrDeadlineExceeded is returned when the context expires before a
	// single episode completes.
	ErrDeadlineExceeded = errors.New("deadline exceeded before any episode completed")
)
