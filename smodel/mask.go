package smodel

import (
	"math"
	"sort"

	"bitbucket.org/Davydov/ppseq/spikes"
)

// Masks is a list of held-out regions.
type Masks []Mask

// Contains reports whether a spike of neuron at time t is held out.
func (ms Masks) Contains(neuron int, t float64) bool {
	for _, m := range ms {
		if m.Neuron == neuron && t >= m.Start && t < m.End {
			return true
		}
	}
	return false
}

// Intervals returns non-overlapping masked intervals of a neuron
// clipped to [0, maxTime] in increasing order.
func (ms Masks) Intervals(neuron int, maxTime float64) [][2]float64 {
	var iv [][2]float64
	for _, m := range ms {
		if m.Neuron != neuron {
			continue
		}
		s := math.Max(m.Start, 0)
		e := math.Min(m.End, maxTime)
		if e > s {
			iv = append(iv, [2]float64{s, e})
		}
	}
	if len(iv) < 2 {
		return iv
	}
	sort.Slice(iv, func(i, j int) bool {
		return iv[i][0] < iv[j][0]
	})
	res := iv[:1]
	for _, x := range iv[1:] {
		last := &res[len(res)-1]
		if x[0] <= last[1] {
			last[1] = math.Max(last[1], x[1])
		} else {
			res = append(res, x)
		}
	}
	return res
}

// Duration returns total masked time of a neuron within [0, maxTime].
func (ms Masks) Duration(neuron int, maxTime float64) float64 {
	d := 0.0
	for _, x := range ms.Intervals(neuron, maxTime) {
		d += x[1] - x[0]
	}
	return d
}

// Flags returns for every spike of the store whether it is masked.
// It returns nil if there are no masks.
func (ms Masks) Flags(st *spikes.Store) []bool {
	if len(ms) == 0 {
		return nil
	}
	res := make([]bool, st.Len())
	for i := range res {
		s := st.At(i)
		res[i] = ms.Contains(s.Neuron, s.Time)
	}
	return res
}
