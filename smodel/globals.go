package smodel

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/ppseq/dist"
)

// probTolerance is the allowed deviation of a probability vector sum
// from one.
const probTolerance = 1e-9

// Globals stores the global parameters shared by all events.
type Globals struct {
	// TypeProportions is the probability of each sequence type.
	TypeProportions []float64 `json:"typeProportions"`
	// NeuronAmplitudes[r][n] is the share of type r events spikes
	// emitted by neuron n. Every row sums to one.
	NeuronAmplitudes [][]float64 `json:"neuronAmplitudes"`
	// OffsetMeans[r][n] and OffsetVariances[r][n] describe the
	// canonical (unwarped) spike offset relative to the event time.
	OffsetMeans     [][]float64 `json:"offsetMeans"`
	OffsetVariances [][]float64 `json:"offsetVariances"`
	// BackgroundRate is the total background spike rate.
	BackgroundRate float64 `json:"backgroundRate"`
	// BackgroundShares splits the background rate between neurons.
	BackgroundShares []float64 `json:"backgroundShares"`
	// WarpValues is the grid of warp values, WarpLogProportions
	// are their log prior probabilities.
	WarpValues         []float64 `json:"warpValues"`
	WarpLogProportions []float64 `json:"warpLogProportions"`
}

// NumTypes returns number of sequence types.
func (g *Globals) NumTypes() int {
	return len(g.TypeProportions)
}

// NumNeurons returns number of neurons.
func (g *Globals) NumNeurons() int {
	return len(g.BackgroundShares)
}

// BackgroundRates returns per-neuron background rates.
func (g *Globals) BackgroundRates() []float64 {
	res := make([]float64, len(g.BackgroundShares))
	for n, s := range g.BackgroundShares {
		res[n] = s * g.BackgroundRate
	}
	return res
}

func copyMatrix(m [][]float64) [][]float64 {
	res := make([][]float64, len(m))
	for i, row := range m {
		res[i] = append([]float64(nil), row...)
	}
	return res
}

func newMatrix(r, c int) [][]float64 {
	res := make([][]float64, r)
	for i := range res {
		res[i] = make([]float64, c)
	}
	return res
}

// Copy returns a deep copy.
func (g *Globals) Copy() *Globals {
	return &Globals{
		TypeProportions:    append([]float64(nil), g.TypeProportions...),
		NeuronAmplitudes:   copyMatrix(g.NeuronAmplitudes),
		OffsetMeans:        copyMatrix(g.OffsetMeans),
		OffsetVariances:    copyMatrix(g.OffsetVariances),
		BackgroundRate:     g.BackgroundRate,
		BackgroundShares:   append([]float64(nil), g.BackgroundShares...),
		WarpValues:         append([]float64(nil), g.WarpValues...),
		WarpLogProportions: append([]float64(nil), g.WarpLogProportions...),
	}
}

func checkProb(field string, p []float64) error {
	for _, x := range p {
		if !(x >= 0) || math.IsInf(x, 1) {
			return &ValidationError{Field: field, Value: x, Reason: "should be a probability"}
		}
	}
	if s := floats.Sum(p); math.Abs(s-1) > probTolerance {
		return &ValidationError{Field: field, Value: s, Reason: "should sum to 1"}
	}
	return nil
}

// Validate checks dimensions and domains of all the parameters.
func (g *Globals) Validate() error {
	r := len(g.TypeProportions)
	n := len(g.BackgroundShares)
	if r == 0 || n == 0 {
		return &ValidationError{Field: "globals", Value: fmt.Sprintf("R=%d, N=%d", r, n), Reason: "empty"}
	}
	if err := checkProb("type_proportions", g.TypeProportions); err != nil {
		return err
	}
	if err := checkProb("background_shares", g.BackgroundShares); err != nil {
		return err
	}
	if !(g.BackgroundRate > 0) || math.IsInf(g.BackgroundRate, 1) {
		return &ValidationError{Field: "background_rate", Value: g.BackgroundRate, Reason: "should be positive and finite"}
	}
	if len(g.NeuronAmplitudes) != r || len(g.OffsetMeans) != r || len(g.OffsetVariances) != r {
		return &ValidationError{Field: "globals", Value: r, Reason: "per-type parameters have wrong dimension"}
	}
	for i := 0; i < r; i++ {
		if len(g.NeuronAmplitudes[i]) != n || len(g.OffsetMeans[i]) != n || len(g.OffsetVariances[i]) != n {
			return &ValidationError{Field: "globals", Value: n, Reason: "per-neuron parameters have wrong dimension"}
		}
		if err := checkProb(fmt.Sprintf("neuron_amplitudes[%d]", i), g.NeuronAmplitudes[i]); err != nil {
			return err
		}
		for j := 0; j < n; j++ {
			if v := g.OffsetVariances[i][j]; !(v > 0) || math.IsInf(v, 1) {
				return &ValidationError{Field: fmt.Sprintf("offset_variances[%d][%d]", i, j), Value: v, Reason: "should be positive and finite"}
			}
			if m := g.OffsetMeans[i][j]; math.IsNaN(m) || math.IsInf(m, 0) {
				return &ValidationError{Field: fmt.Sprintf("offset_means[%d][%d]", i, j), Value: m, Reason: "should be finite"}
			}
		}
	}
	if len(g.WarpValues) == 0 || len(g.WarpValues) != len(g.WarpLogProportions) {
		return &ValidationError{Field: "warp_values", Value: len(g.WarpValues), Reason: "wrong dimension"}
	}
	return nil
}

func fill(n int, v float64) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = v
	}
	return res
}

// SamplePriorGlobals draws all the global parameters from the prior.
func SamplePriorGlobals(rng *rand.Rand, cfg *Config, kernel WarpKernel, numNeurons int) *Globals {
	r := cfg.NumSequenceTypes
	g := &Globals{
		TypeProportions:  dist.SampleDirichlet(rng, fill(r, cfg.SeqTypeConcParam)),
		NeuronAmplitudes: make([][]float64, r),
		OffsetMeans:      newMatrix(r, numNeurons),
		OffsetVariances:  newMatrix(r, numNeurons),
		BackgroundShares: dist.SampleDirichlet(rng, fill(numNeurons, cfg.BkgdSpikesConcParam)),
	}
	shape, rate := cfg.BackgroundShapeRate()
	g.BackgroundRate = dist.SampleGamma(rng, shape, rate)
	for i := 0; i < r; i++ {
		g.NeuronAmplitudes[i] = dist.SampleDirichlet(rng, fill(numNeurons, cfg.NeuronResponseConcParam))
		for n := 0; n < numNeurons; n++ {
			g.OffsetMeans[i][n], g.OffsetVariances[i][n] = dist.SampleNormalInvChiSquared(rng,
				0, cfg.NeuronOffsetPseudoObs, cfg.NeuronWidthPseudoObs, cfg.NeuronWidthPrior)
		}
	}
	g.WarpValues, g.WarpLogProportions = kernel.Grid(cfg.MaxWarp, cfg.NumWarpValues, cfg.WarpVariance)
	return g
}
