// Package dist implements distribution helpers used by the sequence
// model: log densities, conjugate draws and a few special functions.
//
// All the random draws take an explicit *rand.Rand, so that a single
// generator stream can be threaded through the whole sampler.
package dist

import (
	"math"
	"math/rand/v2"

	"github.com/gonum/mathext"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// Log of sqrt(2*pi).
	lnSqrt2Pi = 0.91893853320467274178
	// Number of attempts before TruncatedNormal gives up on
	// inverse-CDF sampling and clamps.
	maxTruncAttempts = 16
)

// QuantileNormal returns quantile for the standard normal distribution.
func QuantileNormal(prob float64) float64 {
	return mathext.NormalQuantile(prob)
}

// CDFNormal returns the standard normal distribution function.
func CDFNormal(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// LnGamma returns log of the gamma function.
func LnGamma(x float64) float64 {
	g, _ := math.Lgamma(x)
	return g
}

// GammaShapeRate converts mean and variance of a gamma distribution
// into its shape and rate.
func GammaShapeRate(mean, variance float64) (shape, rate float64) {
	shape = mean * mean / variance
	rate = mean / variance
	return
}

// NormalLogProb returns log density of N(mean, variance) at x.
func NormalLogProb(x, mean, variance float64) float64 {
	d := x - mean
	return -lnSqrt2Pi - 0.5*math.Log(variance) - 0.5*d*d/variance
}

// GammaLogProb returns log density of Gamma(shape, rate) at x.
func GammaLogProb(x, shape, rate float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return shape*math.Log(rate) - LnGamma(shape) + (shape-1)*math.Log(x) - rate*x
}

// SampleGamma draws from Gamma(shape, rate).
func SampleGamma(rng *rand.Rand, shape, rate float64) float64 {
	return distuv.Gamma{Alpha: shape, Beta: rate, Src: rng}.Rand()
}

// SampleNormal draws from N(mean, sd^2).
func SampleNormal(rng *rand.Rand, mean, sd float64) float64 {
	return distuv.Normal{Mu: mean, Sigma: sd, Src: rng}.Rand()
}

// SampleInvChiSquared draws from the scaled inverse chi-squared
// distribution with nu degrees of freedom and scale s2.
func SampleInvChiSquared(rng *rand.Rand, nu, s2 float64) float64 {
	x := distuv.ChiSquared{K: nu, Src: rng}.Rand()
	return nu * s2 / x
}

// SampleNormalInvChiSquared draws (mean, variance) from the
// normal-inverse-chi-squared distribution NIX(mu, kappa, nu, s2).
func SampleNormalInvChiSquared(rng *rand.Rand, mu, kappa, nu, s2 float64) (mean, variance float64) {
	variance = SampleInvChiSquared(rng, nu, s2)
	mean = SampleNormal(rng, mu, math.Sqrt(variance/kappa))
	return
}

// NIXPosterior returns the parameters of a normal-inverse-chi-squared
// posterior given n observations with sum sx and sum of squares sxx.
func NIXPosterior(mu, kappa, nu, s2 float64, n, sx, sxx float64) (muN, kappaN, nuN, s2N float64) {
	if n == 0 {
		return mu, kappa, nu, s2
	}
	mean := sx / n
	ss := sxx - n*mean*mean
	if ss < 0 {
		// rounding
		ss = 0
	}
	kappaN = kappa + n
	nuN = nu + n
	muN = (kappa*mu + sx) / kappaN
	s2N = (nu*s2 + ss + kappa*n*(mean-mu)*(mean-mu)/kappaN) / nuN
	return
}

// SampleDirichlet draws a probability vector from Dirichlet(alpha).
// The result is renormalized, so it sums to one up to rounding.
func SampleDirichlet(rng *rand.Rand, alpha []float64) []float64 {
	d := distmv.NewDirichlet(alpha, rng)
	x := d.Rand(nil)
	s := floats.Sum(x)
	if s <= 0 || math.IsNaN(s) {
		// Very small concentrations underflow all the gamma
		// draws; fall back to a single category.
		for i := range x {
			x[i] = 0
		}
		x[rng.IntN(len(x))] = 1
		return x
	}
	floats.Scale(1/s, x)
	return x
}

// SampleCategoricalLog draws an index with probability proportional
// to exp(logp[i]). logp is not modified.
func SampleCategoricalLog(rng *rand.Rand, logp []float64) int {
	if len(logp) == 1 {
		return 0
	}
	z := floats.LogSumExp(logp)
	u := rng.Float64()
	c := 0.0
	for i, lp := range logp {
		c += math.Exp(lp - z)
		if u < c {
			return i
		}
	}
	// u is within rounding of 1
	for i := len(logp) - 1; i >= 0; i-- {
		if !math.IsInf(logp[i], -1) {
			return i
		}
	}
	return len(logp) - 1
}

// LogNormalize returns log probabilities normalized to sum to one.
func LogNormalize(logp []float64) []float64 {
	z := floats.LogSumExp(logp)
	res := make([]float64, len(logp))
	for i, lp := range logp {
		res[i] = lp - z
	}
	return res
}

// TruncatedNormal draws from N(mean, sd^2) truncated to [lo, hi]
// using inverse-CDF sampling. If the interval is too far in the tail
// for the normal quantile to be accurate, the value is clamped.
func TruncatedNormal(rng *rand.Rand, mean, sd, lo, hi float64) float64 {
	a := CDFNormal((lo - mean) / sd)
	b := CDFNormal((hi - mean) / sd)
	if b-a > 1e-12 {
		for i := 0; i < maxTruncAttempts; i++ {
			u := a + rng.Float64()*(b-a)
			if u <= 0 || u >= 1 {
				continue
			}
			x := mean + sd*QuantileNormal(u)
			if x >= lo && x <= hi {
				return x
			}
		}
	}
	return math.Min(math.Max(mean, lo), hi)
}
