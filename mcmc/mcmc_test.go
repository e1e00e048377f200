package mcmc

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedule(tst *testing.T) {
	s := Schedule(40, 5)
	if len(s) != 5 {
		tst.Fatalf("Expected 5 temperatures, got %v", len(s))
	}
	assert.InDelta(tst, 40, s[0], 1e-9)
	assert.Equal(tst, 1.0, s[4])
	for i := 1; i < len(s); i++ {
		if s[i] >= s[i-1] {
			tst.Errorf("Temperatures are not decreasing: %v", s)
		}
	}
	// geometric interpolation
	assert.InDelta(tst, s[1]/s[0], s[2]/s[1], 1e-9)
}

func TestScheduleDegenerate(tst *testing.T) {
	assert.Nil(tst, Schedule(10, 0))
	assert.Equal(tst, []float64{10}, Schedule(10, 1))
}

func TestAccept(tst *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	assert.True(tst, Accept(rng, 0.1))
	assert.False(tst, Accept(rng, math.Inf(-1)))
	assert.False(tst, Accept(rng, math.NaN()))
	n := 0
	for i := 0; i < 10000; i++ {
		if Accept(rng, math.Log(0.3)) {
			n++
		}
	}
	assert.InDelta(tst, 0.3, float64(n)/10000, 0.02)
}

func TestAcceptanceCounterZeroRun(tst *testing.T) {
	c := NewAcceptanceCounter("split-merge", 0)
	c.EndSweep(5, 0)
	c.EndSweep(5, 0)
	assert.Equal(tst, 2, c.ZeroRun())
	// sweeps without proposals do not extend nor reset the run
	c.EndSweep(0, 0)
	assert.Equal(tst, 2, c.ZeroRun())
	c.EndSweep(5, 1)
	assert.Equal(tst, 0, c.ZeroRun())
}

func TestPriors(tst *testing.T) {
	u := UniformPrior(0, 10, false, true)
	assert.InDelta(tst, -math.Log(10), u(10), 1e-12)
	assert.True(tst, math.IsInf(u(0), -1))
	g := GammaPrior(1, 2, false)
	// exponential with rate 2
	assert.InDelta(tst, math.Log(2)-2, g(1), 1e-12)
}
