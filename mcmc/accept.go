package mcmc

import (
	"math"
	"math/rand/v2"
)

// Accept performs the Metropolis-Hastings test for a move with the
// given log acceptance ratio.
func Accept(rng *rand.Rand, logRatio float64) bool {
	if math.IsNaN(logRatio) {
		return false
	}
	if logRatio >= 0 {
		return true
	}
	return rng.Float64() < math.Exp(logRatio)
}

// AcceptanceCounter keeps track of proposed and accepted moves. It
// reports acceptance rate every AccPeriod sweeps and counts how many
// consecutive sweeps had no accepted moves at all.
type AcceptanceCounter struct {
	// Name is used in the log messages.
	Name string
	// AccPeriod is the reporting period in sweeps, 0 disables
	// reporting.
	AccPeriod int

	proposed int
	accepted int
	sweeps   int
	zeroRun  int
}

// NewAcceptanceCounter creates a new AcceptanceCounter.
func NewAcceptanceCounter(name string, accPeriod int) *AcceptanceCounter {
	return &AcceptanceCounter{
		Name:      name,
		AccPeriod: accPeriod,
	}
}

// EndSweep records the result of one sweep.
func (c *AcceptanceCounter) EndSweep(proposed, accepted int) {
	c.proposed += proposed
	c.accepted += accepted
	c.sweeps++
	if accepted == 0 && proposed > 0 {
		c.zeroRun++
	} else if accepted > 0 {
		c.zeroRun = 0
	}
	if c.AccPeriod > 0 && c.sweeps%c.AccPeriod == 0 {
		if c.proposed > 0 {
			log.Infof("%s acceptance rate %.2f%%", c.Name, 100*float64(c.accepted)/float64(c.proposed))
		}
		c.proposed = 0
		c.accepted = 0
	}
}

// ZeroRun returns the number of consecutive sweeps without accepted
// moves.
func (c *AcceptanceCounter) ZeroRun() int {
	return c.zeroRun
}

// ResetZeroRun restarts the zero-acceptance window.
func (c *AcceptanceCounter) ResetZeroRun() {
	c.zeroRun = 0
}

// SetZeroRun sets the zero-acceptance window, e.g. when resuming from
// a checkpoint.
func (c *AcceptanceCounter) SetZeroRun(n int) {
	c.zeroRun = n
}
