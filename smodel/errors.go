package smodel

import "fmt"

// ValidationError is returned when a hyperparameter or a parameter
// vector is outside of its domain. It is always fatal.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

// ReferenceError is returned when an assignment refers to a neuron or
// an event which does not exist. It is always fatal.
type ReferenceError struct {
	Spike  int
	Neuron int
	Event  int
	Reason string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("spike %d (neuron=%d, event=%d): %s", e.Spike, e.Neuron, e.Event, e.Reason)
}

// DegeneracyError is returned when a resampled parameter is
// non-finite or a variance is not positive. The sweep which produced
// it can be retried once.
type DegeneracyError struct {
	Parameter string
	Value     float64
}

func (e *DegeneracyError) Error() string {
	return fmt.Sprintf("numeric degeneracy: %s=%v", e.Parameter, e.Value)
}

// ConvergenceWarning records a window of sweeps without a single
// accepted split-merge move.
type ConvergenceWarning struct {
	Phase  string `json:"phase"`
	Sweep  int    `json:"sweep"`
	Window int    `json:"window"`
}

func (w ConvergenceWarning) String() string {
	return fmt.Sprintf("no accepted split-merge moves in %d sweeps (%s, sweep %d)", w.Window, w.Phase, w.Sweep)
}
