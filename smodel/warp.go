package smodel

import (
	"fmt"
	"math"

	"bitbucket.org/Davydov/ppseq/dist"
)

// WarpKernel describes how a warp value transforms the offset
// distribution N(mean, variance) of a neuron relative to the event
// onset. There are exactly two implementations, MultiplicativeWarp
// and AdditiveWarp.
type WarpKernel interface {
	// Type returns the warp type name.
	Type() WarpType
	// Grid returns the warp values and their log prior proportions
	// (normalized).
	Grid(maxWarp float64, n int, variance float64) (values, logProps []float64)
	// Moments returns mean and variance of the warped offset.
	Moments(mean, variance, warp float64) (float64, float64)
	// Canonical maps an observed offset back to the unwarped scale.
	Canonical(offset, warp float64) float64
	// OffsetDensity returns density of the warped offset.
	OffsetDensity(offset, mean, variance, warp float64) float64
}

// NewWarpKernel returns the kernel for a warp type.
func NewWarpKernel(wt WarpType) (WarpKernel, error) {
	switch wt {
	case WarpMultiplicative, "":
		return MultiplicativeWarp{}, nil
	case WarpAdditive:
		return AdditiveWarp{}, nil
	}
	return nil, &ValidationError{Field: "warp_type", Value: wt, Reason: fmt.Sprintf("should be %q or %q", WarpMultiplicative, WarpAdditive)}
}

// logOffsetDensity returns log density of an offset under a kernel.
func logOffsetDensity(k WarpKernel, offset, mean, variance, warp float64) float64 {
	m, v := k.Moments(mean, variance, warp)
	return dist.NormalLogProb(offset, m, v)
}

// warpLogProps computes normalized log proportions -(x-center)^2/(2*variance).
func warpLogProps(values []float64, center, variance float64) []float64 {
	lp := make([]float64, len(values))
	for i, v := range values {
		lp[i] = -0.5 * (v - center) * (v - center) / variance
	}
	return dist.LogNormalize(lp)
}

// MultiplicativeWarp dilates time: the offset mean is multiplied by
// the warp and the width by the warp squared. Warp values form a
// geometric grid over [1/maxWarp, maxWarp].
type MultiplicativeWarp struct{}

// Type returns WarpMultiplicative.
func (MultiplicativeWarp) Type() WarpType { return WarpMultiplicative }

// Grid returns a geometric grid centered at 1.
func (MultiplicativeWarp) Grid(maxWarp float64, n int, variance float64) (values, logProps []float64) {
	if n == 1 || maxWarp == 1 {
		return []float64{1}, []float64{0}
	}
	values = make([]float64, n)
	lmax := math.Log(maxWarp)
	for i := range values {
		values[i] = math.Exp(-lmax + 2*lmax*float64(i)/float64(n-1))
	}
	return values, warpLogProps(values, 1, variance)
}

// Moments returns (warp*mean, warp^2*variance).
func (MultiplicativeWarp) Moments(mean, variance, warp float64) (float64, float64) {
	return warp * mean, warp * warp * variance
}

// Canonical returns offset/warp.
func (MultiplicativeWarp) Canonical(offset, warp float64) float64 {
	return offset / warp
}

// OffsetDensity returns density of the warped offset.
func (k MultiplicativeWarp) OffsetDensity(offset, mean, variance, warp float64) float64 {
	return math.Exp(logOffsetDensity(k, offset, mean, variance, warp))
}

// AdditiveWarp shifts time: the warp value is added to the offset
// mean, the width is unchanged. Warp values form a uniform grid of
// shifts over [-(maxWarp-1), maxWarp-1].
type AdditiveWarp struct{}

// Type returns WarpAdditive.
func (AdditiveWarp) Type() WarpType { return WarpAdditive }

// Grid returns a uniform grid of shifts centered at 0.
func (AdditiveWarp) Grid(maxWarp float64, n int, variance float64) (values, logProps []float64) {
	if n == 1 || maxWarp == 1 {
		return []float64{0}, []float64{0}
	}
	values = make([]float64, n)
	s := maxWarp - 1
	for i := range values {
		values[i] = -s + 2*s*float64(i)/float64(n-1)
	}
	return values, warpLogProps(values, 0, variance)
}

// Moments returns (mean+warp, variance).
func (AdditiveWarp) Moments(mean, variance, warp float64) (float64, float64) {
	return mean + warp, variance
}

// Canonical returns offset-warp.
func (AdditiveWarp) Canonical(offset, warp float64) float64 {
	return offset - warp
}

// OffsetDensity returns density of the shifted offset.
func (k AdditiveWarp) OffsetDensity(offset, mean, variance, warp float64) float64 {
	return math.Exp(logOffsetDensity(k, offset, mean, variance, warp))
}
