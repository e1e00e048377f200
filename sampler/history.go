package sampler

import (
	"bitbucket.org/Davydov/ppseq/smodel"
)

// Snapshot is a deep copy of the chain state.
type Snapshot struct {
	Sweep         int                `json:"sweep"`
	Temperature   float64            `json:"temperature"`
	LogLikelihood float64            `json:"logLikelihood"`
	Globals       *smodel.Globals    `json:"globals"`
	Events        []smodel.Event     `json:"events"`
	Assignments   smodel.Assignments `json:"assignments"`
}

func newSnapshot(sweep int, temp, ll float64, state *State) Snapshot {
	return Snapshot{
		Sweep:         sweep,
		Temperature:   temp,
		LogLikelihood: ll,
		Globals:       state.Globals.Copy(),
		Events:        state.Events.Values(),
		Assignments:   state.Assignments.Copy(),
	}
}

// Trace stores per-sweep values.
type Trace struct {
	LogLikelihood []float64 `json:"logLikelihood"`
	LogJoint      []float64 `json:"logJoint"`
	// HeldOut is only filled when masking.
	HeldOut     []float64 `json:"heldOut,omitempty"`
	NumEvents   []int     `json:"numEvents"`
	Temperature []float64 `json:"temperature"`
	Proposed    []int     `json:"proposed"`
	Accepted    []int     `json:"accepted"`
}

// Len returns number of recorded sweeps.
func (t *Trace) Len() int {
	return len(t.LogLikelihood)
}

// Diagnostics collects counters of the whole run.
type Diagnostics struct {
	SplitProposed     int                         `json:"splitProposed"`
	SplitAccepted     int                         `json:"splitAccepted"`
	MergeProposed     int                         `json:"mergeProposed"`
	MergeAccepted     int                         `json:"mergeAccepted"`
	SupportRejections int                         `json:"supportRejections"`
	Retries           int                         `json:"retries"`
	Warnings          []smodel.ConvergenceWarning `json:"warnings,omitempty"`
}

func (d *Diagnostics) add(s SweepStats) {
	d.SplitProposed += s.SplitProposed
	d.SplitAccepted += s.SplitAccepted
	d.MergeProposed += s.MergeProposed
	d.MergeAccepted += s.MergeAccepted
	d.SupportRejections += s.SupportRejections
}

// History is the result of a run.
type History struct {
	RunID       string      `json:"runID"`
	Seed        uint64      `json:"seed"`
	Anneal      []Snapshot  `json:"anneal"`
	Post        []Snapshot  `json:"post"`
	AnnealTrace Trace       `json:"annealTrace"`
	PostTrace   Trace       `json:"postTrace"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Last returns the last saved snapshot or nil.
func (h *History) Last() *Snapshot {
	if len(h.Post) > 0 {
		return &h.Post[len(h.Post)-1]
	}
	if len(h.Anneal) > 0 {
		return &h.Anneal[len(h.Anneal)-1]
	}
	return nil
}
