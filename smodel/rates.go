package smodel

import (
	"sort"

	"github.com/gonum/matrix/mat64"
)

// FiringRates returns the firing rate of every neuron (rows) at every
// time of the grid (columns).
func (m *Model) FiringRates(g *Globals, events []Event, grid []float64) *mat64.Dense {
	res := mat64.NewDense(m.NumNeurons, len(grid), nil)
	bkg := g.BackgroundRates()
	for n := 0; n < m.NumNeurons; n++ {
		for j, t := range grid {
			rate := bkg[n]
			for k := range events {
				rate += m.eventIntensity(g, &events[k], n, t)
			}
			res.Set(n, j, rate)
		}
	}
	return res
}

// SortNeurons returns neuron ids ordered for display: neurons are
// grouped by the type with the largest amplitude share and ordered by
// the offset mean within a group.
func SortNeurons(g *Globals) []int {
	N := g.NumNeurons()
	pref := make([]int, N)
	for n := 0; n < N; n++ {
		best := 0
		for r := 1; r < g.NumTypes(); r++ {
			if g.NeuronAmplitudes[r][n] > g.NeuronAmplitudes[best][n] {
				best = r
			}
		}
		pref[n] = best
	}
	order := make([]int, N)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if pref[a] != pref[b] {
			return pref[a] < pref[b]
		}
		return g.OffsetMeans[pref[a]][a] < g.OffsetMeans[pref[b]][b]
	})
	return order
}
