package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gonum/matrix/mat64"
	"gonum.org/v1/gonum/stat"

	"bitbucket.org/Davydov/ppseq/smodel"
)

// DriverBuilder creates the driver of a chain given its seed. Every
// chain must get its own model state.
type DriverBuilder func(chain int, seed uint64) (*Driver, error)

// RunChains runs n independent chains in parallel. Chain i uses seed
// seed+i. All drivers are built before any chain starts; a build error
// is returned without running anything. Histories are returned in chain
// order; failed chains have a partial or nil history and the joined
// errors are returned.
func RunChains(ctx context.Context, n int, seed uint64, build DriverBuilder) ([]*History, error) {
	drivers := make([]*Driver, n)
	for i := range drivers {
		d, err := build(i, seed+uint64(i))
		if err != nil {
			return nil, fmt.Errorf("building chain %d: %w", i, err)
		}
		drivers[i] = d
	}
	hists := make([]*History, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, d := range drivers {
		wg.Add(1)
		go func(i int, d *Driver) {
			defer wg.Done()
			hists[i], errs[i] = d.Run(ctx)
			if errs[i] != nil {
				log.Errorf("Chain %d: %v", i, errs[i])
			}
		}(i, d)
	}
	wg.Wait()
	return hists, errors.Join(errs...)
}

// GelmanRubin returns the potential scale reduction factor of a scalar
// traced by several chains. Chains are truncated to the shortest one.
// It returns NaN with less than two chains or two values per chain.
func GelmanRubin(chains [][]float64) float64 {
	m := len(chains)
	if m < 2 {
		return math.NaN()
	}
	n := len(chains[0])
	for _, c := range chains {
		if len(c) < n {
			n = len(c)
		}
	}
	if n < 2 {
		return math.NaN()
	}
	means := make([]float64, m)
	w := 0.0
	for i, c := range chains {
		mean, variance := stat.MeanVariance(c[:n], nil)
		means[i] = mean
		w += variance / float64(m)
	}
	b := float64(n) * stat.Variance(means, nil)
	if w == 0 {
		return math.NaN()
	}
	v := float64(n-1)/float64(n)*w + b/float64(n)
	return math.Sqrt(v / w)
}

// MeanFiringRates averages firing rates over snapshots.
func MeanFiringRates(m *smodel.Model, snaps []Snapshot, grid []float64) *mat64.Dense {
	res := mat64.NewDense(m.NumNeurons, len(grid), nil)
	if len(snaps) == 0 {
		return res
	}
	for _, s := range snaps {
		res.Add(res, m.FiringRates(s.Globals, s.Events, grid))
	}
	res.Scale(1/float64(len(snaps)), res)
	return res
}
