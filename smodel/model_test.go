package smodel

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/ppseq/spikes"
)

func init() {
	logging.SetLevel(logging.WARNING, "smodel")
}

func newRng(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0x5eed))
}

// testData returns three neurons firing in order (offsets 0, 0.5, 1)
// every 10 time units plus a few background spikes.
func testData(tst *testing.T) *spikes.Store {
	var sp []spikes.Spike
	for i := 0; i < 10; i++ {
		t := 5 + 10*float64(i)
		sp = append(sp, spikes.Spike{Neuron: 0, Time: t}, spikes.Spike{Neuron: 1, Time: t + 0.5}, spikes.Spike{Neuron: 2, Time: t + 1})
	}
	sp = append(sp, spikes.Spike{Neuron: 0, Time: 12.3}, spikes.Spike{Neuron: 1, Time: 37.1},
		spikes.Spike{Neuron: 2, Time: 61.7}, spikes.Spike{Neuron: 1, Time: 88.8}, spikes.Spike{Neuron: 0, Time: 99})
	st, err := spikes.NewStore(sp, 3, 100)
	require.NoError(tst, err)
	return st
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumSequenceTypes = 1
	cfg.MeanEventAmplitude = 3
	cfg.VarEventAmplitude = 3
	cfg.MeanBkgdSpikeRate = 0.05
	cfg.VarBkgdSpikeRate = 0.01
	cfg.SeqEventRate = 0.1
	cfg.NeuronWidthPrior = 0.05
	cfg.MaxSequenceLength = 5
	return cfg
}

// sequenceState places one event per triple and assigns the triples to
// it.
func sequenceState(tst *testing.T, m *Model, st *spikes.Store) (*EventSet, Assignments) {
	es := NewEventSet(m.Config.MaxSequenceLength)
	assign := NewAssignments(st.Len())
	for i := 0; i < st.Len(); i++ {
		s := st.At(i)
		if s.Neuron != 0 || math.Mod(s.Time-5, 10) != 0 {
			continue
		}
		ev := es.Add(Event{Time: s.Time, Amplitude: 3})
		for j := i; j < st.Len() && st.At(j).Time <= s.Time+1; j++ {
			sj := st.At(j)
			if sj.Time-s.Time == 0.5*float64(sj.Neuron) {
				assign[j] = ev.ID
				es.AddSpike(ev.ID, j)
			}
		}
	}
	require.NoError(tst, CheckAssignments(st, m.NumNeurons, assign, es, nil))
	return es, assign
}

func TestConstructModel(tst *testing.T) {
	m, err := ConstructModel(testConfig(), 100, 3, newRng(1))
	require.NoError(tst, err)
	require.NoError(tst, m.Globals.Validate())
	assert.Equal(tst, 0, m.Events.Len())
	assert.Equal(tst, []float64{1}, m.Globals.WarpValues)

	cfg := testConfig()
	cfg.AreWeMasking = true
	cfg.Masks = []Mask{{3, 0, 1}}
	_, err = ConstructModel(cfg, 100, 3, newRng(1))
	var verr *ValidationError
	assert.True(tst, errors.As(err, &verr))

	_, err = ConstructModel(testConfig(), 0, 3, newRng(1))
	assert.True(tst, errors.As(err, &verr))
}

func TestBackgroundLikelihood(tst *testing.T) {
	st := testData(tst)
	m, err := ConstructModel(testConfig(), 100, 3, newRng(2))
	require.NoError(tst, err)
	g := m.Globals
	exp := 0.0
	for i := 0; i < st.Len(); i++ {
		exp += math.Log(g.BackgroundRate * g.BackgroundShares[st.At(i).Neuron])
	}
	exp -= g.BackgroundRate * 100
	assert.InDelta(tst, exp, m.LogLikelihood(st, m.Events, g), 1e-9)
	assert.Zero(tst, m.HeldOutLogLikelihood(st, m.Events, g))
}

func TestMaskedLikelihood(tst *testing.T) {
	st := testData(tst)
	cfg := testConfig()
	m, err := ConstructModel(cfg, 100, 3, newRng(3))
	require.NoError(tst, err)
	es, _ := sequenceState(tst, m, st)
	full := m.LogLikelihood(st, es, m.Globals)

	cfg.AreWeMasking = true
	cfg.Masks = []Mask{{1, 20, 40}, {2, 50, 52}, {1, 30, 45}}
	mm, err := ConstructModel(cfg, 100, 3, newRng(3))
	require.NoError(tst, err)
	train := mm.LogLikelihood(st, es, m.Globals)
	test := mm.HeldOutLogLikelihood(st, es, m.Globals)
	assert.NotEqual(tst, full, train)
	// masked and unmasked parts add up to the full likelihood
	assert.InDelta(tst, full, train+test, 1e-8)
}

func TestLogJoint(tst *testing.T) {
	st := testData(tst)
	m, err := ConstructModel(testConfig(), 100, 3, newRng(4))
	require.NoError(tst, err)
	es, _ := sequenceState(tst, m, st)
	lj := m.LogJoint(st, es, m.Globals)
	assert.False(tst, math.IsNaN(lj) || math.IsInf(lj, 0))
	assert.NotEqual(tst, m.LogLikelihood(st, es, m.Globals), lj)
}

func TestFiringRates(tst *testing.T) {
	m, err := ConstructModel(testConfig(), 100, 3, newRng(5))
	require.NoError(tst, err)
	g := m.Globals
	events := []Event{{ID: 0, Time: 50, Amplitude: 4}}
	grid := make([]float64, 20001)
	dt := 100.0 / float64(len(grid)-1)
	for i := range grid {
		grid[i] = float64(i) * dt
	}
	rates := m.FiringRates(g, events, grid)
	r, c := rates.Dims()
	require.Equal(tst, 3, r)
	require.Equal(tst, len(grid), c)

	bkg := g.BackgroundRates()
	for n := 0; n < 3; n++ {
		integral := 0.0
		for j := 0; j < c; j++ {
			v := rates.At(n, j)
			if v < 0 {
				tst.Fatalf("negative rate %v", v)
			}
			w := dt
			if j == 0 || j == c-1 {
				w = dt / 2
			}
			integral += v * w
		}
		mass := m.kernelMass(g, &events[0], n, 0, 100)
		exp := bkg[n]*100 + 4*g.NeuronAmplitudes[0][n]*mass
		assert.InDelta(tst, exp, integral, 1e-3*exp+1e-6)
	}
}

func TestSortNeurons(tst *testing.T) {
	g := &Globals{
		TypeProportions:  []float64{0.5, 0.5},
		NeuronAmplitudes: [][]float64{{0.1, 0.5, 0.1, 0.3}, {0.4, 0.1, 0.4, 0.1}},
		OffsetMeans:      [][]float64{{0, 2, 0, 1}, {3, 0, -1, 0}},
		BackgroundShares: []float64{0.25, 0.25, 0.25, 0.25},
	}
	assert.Equal(tst, []int{3, 1, 2, 0}, SortNeurons(g))
}

func TestResampleGlobals(tst *testing.T) {
	st := testData(tst)
	cfg := testConfig()
	cfg.NumSequenceTypes = 2
	cfg.NumWarpValues = 3
	cfg.MaxWarp = 1.2
	m, err := ConstructModel(cfg, 100, 3, newRng(6))
	require.NoError(tst, err)
	es, assign := sequenceState(tst, m, st)
	rng := newRng(7)
	g := m.Globals
	for i := 0; i < 20; i++ {
		ng, err := m.ResampleGlobals(rng, st, assign, es, g, false)
		require.NoError(tst, err)
		require.NoError(tst, ng.Validate())
		assert.InDelta(tst, 1, floats.Sum(ng.TypeProportions), 1e-9)
		assert.InDelta(tst, 1, floats.Sum(ng.BackgroundShares), 1e-9)
		for r := range ng.NeuronAmplitudes {
			assert.InDelta(tst, 1, floats.Sum(ng.NeuronAmplitudes[r]), 1e-9)
		}
		assert.Equal(tst, g.WarpValues, ng.WarpValues)
		g = ng
	}
}

func TestSharesLogRatio(tst *testing.T) {
	old := []float64{0.2, 0.3, 0.5}
	proposed := []float64{0.5, 0.2, 0.3}
	m, err := ConstructModel(testConfig(), 100, 3, newRng(8))
	require.NoError(tst, err)
	assert.InDelta(tst, 0, m.sharesLogRatio(2, old, proposed), 1e-9)

	cfg := testConfig()
	cfg.AreWeMasking = true
	cfg.Masks = []Mask{{1, 20, 40}}
	mm, err := ConstructModel(cfg, 100, 3, newRng(8))
	require.NoError(tst, err)
	// 0.3*100 - 0.1*80 - 0.2*100 = 2
	assert.InDelta(tst, -4, mm.sharesLogRatio(2, old, proposed), 1e-9)
	assert.InDelta(tst, 4, mm.sharesLogRatio(2, proposed, old), 1e-9)

	st := testData(tst)
	es, assign := sequenceState(tst, mm, st)
	rng := newRng(9)
	g := mm.Globals
	kept := 0
	for i := 0; i < 50; i++ {
		ng, err := mm.ResampleGlobals(rng, st, assign, es, g, false)
		require.NoError(tst, err)
		require.NoError(tst, ng.Validate())
		assert.InDelta(tst, 1, floats.Sum(ng.BackgroundShares), 1e-9)
		if floats.Equal(ng.BackgroundShares, g.BackgroundShares) {
			kept++
		}
		g = ng
	}
	assert.Less(tst, kept, 50)
}

func TestOffsetPosterior(tst *testing.T) {
	st := testData(tst)
	cfg := testConfig()
	cfg.NeuronOffsetPseudoObs = 0.01
	m, err := ConstructModel(cfg, 100, 3, newRng(8))
	require.NoError(tst, err)
	es, assign := sequenceState(tst, m, st)
	rng := newRng(9)
	mean := make([]float64, 3)
	const iter = 200
	for i := 0; i < iter; i++ {
		g, err := m.ResampleGlobals(rng, st, assign, es, m.Globals, false)
		require.NoError(tst, err)
		for n := range mean {
			mean[n] += g.OffsetMeans[0][n] / iter
		}
	}
	for n, exp := range []float64{0, 0.5, 1} {
		assert.InDelta(tst, exp, mean[n], 0.05)
	}
}

func TestProposeEvent(tst *testing.T) {
	st := testData(tst)
	cfg := testConfig()
	cfg.NumSequenceTypes = 2
	cfg.NumWarpValues = 3
	cfg.MaxWarp = 1.3
	m, err := ConstructModel(cfg, 100, 3, newRng(10))
	require.NoError(tst, err)
	es, _ := sequenceState(tst, m, st)
	ev := es.Get(es.IDs()[2])
	rng := newRng(11)
	for i := 0; i < 10; i++ {
		p := m.ProposeEvent(rng, st, ev.Members(), m.Globals)
		assert.True(tst, p.Time > 0 && p.Time <= 100)
		lq := m.ProposalLogDensity(st, ev.Members(), m.Globals, p.Type, p.Warp, p.Time)
		assert.InDelta(tst, p.LogDensity, lq, 1e-9)
		lj := m.EventLogJoint(st, ev.Members(), m.Globals, p.Type, p.Warp, p.Time)
		assert.False(tst, math.IsNaN(lj))
	}
	assert.True(tst, math.IsInf(m.EventLogJoint(st, ev.Members(), m.Globals, 0, 0, -1), -1))
}

func TestResampleEvent(tst *testing.T) {
	st := testData(tst)
	m, err := ConstructModel(testConfig(), 100, 3, newRng(12))
	require.NoError(tst, err)
	es, _ := sequenceState(tst, m, st)
	rng := newRng(13)
	g := m.Globals
	g.OffsetMeans[0] = []float64{0, 0.5, 1}
	g.OffsetVariances[0] = []float64{0.01, 0.01, 0.01}
	id := es.IDs()[3]
	ev := es.Get(id)
	es.Move(id, 40)
	for i := 0; i < 20; i++ {
		assert.True(tst, m.ResampleEvent(rng, st, es, id, g))
		assert.InDelta(tst, 35, ev.Time, 0.5)
		assert.True(tst, ev.Amplitude > 0)
	}
	// the event is found at its new time
	var buf []*Event
	assert.Contains(tst, ids(es.EventsNear(35, buf)), id)

	sacred := es.Get(es.IDs()[0])
	sacred.Sacred = true
	t0, a0 := sacred.Time, sacred.Amplitude
	m.ResampleEvent(rng, st, es, sacred.ID, g)
	assert.Equal(tst, t0, sacred.Time)
	assert.Equal(tst, a0, sacred.Amplitude)
}

func TestDegeneracyFallback(tst *testing.T) {
	st := testData(tst)
	cfg := testConfig()
	m, err := ConstructModel(cfg, 100, 3, newRng(14))
	require.NoError(tst, err)
	es, assign := sequenceState(tst, m, st)
	// an event far outside of the recording produces infinite offsets
	es.Get(es.IDs()[0]).Time = math.Inf(-1)
	_, err = m.ResampleGlobals(newRng(15), st, assign, es, m.Globals, false)
	var derr *DegeneracyError
	require.True(tst, errors.As(err, &derr))

	g, err := m.ResampleGlobals(newRng(15), st, assign, es, m.Globals, true)
	require.NoError(tst, err)
	assert.NoError(tst, g.Validate())
}
