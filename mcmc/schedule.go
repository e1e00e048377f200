package mcmc

import "math"

// Schedule returns annealing temperatures for n steps, decreasing
// geometrically from maxT to 1. A single step uses maxT.
func Schedule(maxT float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	res := make([]float64, n)
	if n == 1 {
		res[0] = maxT
		return res
	}
	lmax := math.Log(maxT)
	for i := range res {
		res[i] = math.Exp(lmax * float64(n-1-i) / float64(n-1))
	}
	// avoid rounding
	res[n-1] = 1
	return res
}
