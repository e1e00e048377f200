// Package mcmc provides Metropolis-Hastings building blocks: log
// priors, acceptance tests, annealing schedules and acceptance
// bookkeeping.
package mcmc

import (
	"math"

	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("mcmc")

// UniformPrior returns log density of the uniform distribution.
func UniformPrior(min, max float64, incmin, incmax bool) func(float64) float64 {
	if max <= min {
		panic("max <= min")
	}
	return func(x float64) float64 {
		if (incmin && x < min) ||
			(!incmin && x <= min) ||
			(incmax && x > max) ||
			(!incmax && x >= max) {
			return math.Inf(-1)
		}
		return -math.Log(max - min)
	}
}

// GammaPrior returns log density of the gamma distribution with given
// shape and rate.
func GammaPrior(shape, rate float64, inczero bool) func(float64) float64 {
	if shape <= 0 || rate <= 0 {
		panic("shape and rate of gamma distribution must be > 0")
	}
	g, _ := math.Lgamma(shape)
	return func(x float64) float64 {
		if x < 0 || (x == 0 && !inczero) {
			return math.Inf(-1)
		}
		return (shape-1)*math.Log(x) - x*rate + shape*math.Log(rate) - g
	}
}
