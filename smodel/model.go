// Package smodel implements the point-process sequence model:
// configuration, global parameters, latent events, the likelihood and
// the conjugate posterior updates.
//
// Spikes are either background spikes, generated by a homogeneous
// Poisson process for every neuron, or spikes of a latent sequence
// event. An event has a type, a warp, a time and an amplitude; a type
// defines which neurons participate (NeuronAmplitudes) and at which
// offsets from the event time (OffsetMeans, OffsetVariances).
package smodel

import (
	"fmt"
	"math/rand/v2"

	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("smodel")

// Model binds a validated configuration to a recording.
type Model struct {
	Config     Config
	Kernel     WarpKernel
	NumNeurons int
	MaxTime    float64
	Masks      Masks

	// Initial state.
	Globals *Globals
	Events  *EventSet

	ampShape, ampRate float64
}

// ConstructModel validates the configuration and creates a model with
// global parameters drawn from the prior and no events.
func ConstructModel(cfg Config, maxTime float64, numNeurons int, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if numNeurons <= 0 {
		return nil, &ValidationError{Field: "num_neurons", Value: numNeurons, Reason: "should be > 0"}
	}
	if !(maxTime > 0) {
		return nil, &ValidationError{Field: "max_time", Value: maxTime, Reason: "should be > 0"}
	}
	masks := cfg.ActiveMasks()
	for i, mk := range masks {
		if mk.Neuron >= numNeurons {
			return nil, &ValidationError{Field: fmt.Sprintf("masks[%d].neuron", i), Value: mk.Neuron,
				Reason: fmt.Sprintf("should be < %d", numNeurons)}
		}
	}
	kernel, err := NewWarpKernel(cfg.WarpType)
	if err != nil {
		return nil, err
	}
	m := &Model{
		Config:     cfg,
		Kernel:     kernel,
		NumNeurons: numNeurons,
		MaxTime:    maxTime,
		Masks:      masks,
		Events:     NewEventSet(cfg.MaxSequenceLength),
	}
	m.ampShape, m.ampRate = cfg.AmplitudeShapeRate()
	m.Globals = SamplePriorGlobals(rng, &m.Config, kernel, numNeurons)
	log.Infof("Model: %d neurons, T=%v, %d sequence types, %d warp values (%s)",
		numNeurons, maxTime, cfg.NumSequenceTypes, len(m.Globals.WarpValues), kernel.Type())
	return m, nil
}

// AmplitudePrior returns shape and rate of the event amplitude prior.
func (m *Model) AmplitudePrior() (shape, rate float64) {
	return m.ampShape, m.ampRate
}
