// Package sampler implements the Markov chain over the sequence model
// state: Gibbs updates of spike assignments, split-merge moves, event
// and global parameter updates, and the annealing driver.
package sampler

import (
	"math"
	"math/rand/v2"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/ppseq/dist"
	"bitbucket.org/Davydov/ppseq/smodel"
	"bitbucket.org/Davydov/ppseq/spikes"
)

// log is the global logging variable.
var log = logging.MustGetLogger("sampler")

// maxSingletonDraws is the number of attempts to place a new event
// within the recording and the maximum sequence length.
const maxSingletonDraws = 8

// State is the mutable state of a chain.
type State struct {
	Globals     *smodel.Globals
	Events      *smodel.EventSet
	Assignments smodel.Assignments
}

// Copy returns a deep copy of the state.
func (s *State) Copy() *State {
	return &State{
		Globals:     s.Globals.Copy(),
		Events:      s.Events.Copy(),
		Assignments: s.Assignments.Copy(),
	}
}

// SweepStats summarizes the moves of a single sweep.
type SweepStats struct {
	SplitProposed     int
	SplitAccepted     int
	MergeProposed     int
	MergeAccepted     int
	SupportRejections int
}

// Proposed returns number of proposed split-merge moves.
func (s SweepStats) Proposed() int {
	return s.SplitProposed + s.MergeProposed
}

// Accepted returns number of accepted split-merge moves.
func (s SweepStats) Accepted() int {
	return s.SplitAccepted + s.MergeAccepted
}

type globalsResampler func(rng *rand.Rand, st *spikes.Store, assign smodel.Assignments, es *smodel.EventSet,
	g *smodel.Globals, fallback bool) (*smodel.Globals, error)

// Sampler performs the elementary updates of a state. It is not safe
// for concurrent use.
type Sampler struct {
	model  *smodel.Model
	store  *spikes.Store
	masked []bool
	rng    *rand.Rand

	resampleGlobals globalsResampler

	// scratch buffers
	buf  []*smodel.Event
	logw []float64
	near []int
}

// NewSampler creates a new sampler drawing from rng.
func NewSampler(m *smodel.Model, st *spikes.Store, rng *rand.Rand) *Sampler {
	return &Sampler{
		model:           m,
		store:           st,
		masked:          m.Masks.Flags(st),
		rng:             rng,
		resampleGlobals: m.ResampleGlobals,
	}
}

// Masked reports whether spike i is held out.
func (s *Sampler) Masked(i int) bool {
	return s.masked != nil && s.masked[i]
}

// Sweep performs a full update of the state: split-merge moves, a
// Gibbs sweep over assignments, event and global parameter updates.
// Log acceptance ratios and assignment weights are divided by temp.
func (s *Sampler) Sweep(state *State, temp float64, splitMergeMoves int, fallback bool) (SweepStats, error) {
	stats := s.SplitMerge(state, temp, splitMergeMoves)
	stats.SupportRejections += s.ResampleAssignments(state, temp)
	stats.SupportRejections += s.ResampleEvents(state)
	if err := s.ResampleGlobals(state, fallback); err != nil {
		return stats, err
	}
	return stats, nil
}

// ResampleAssignments performs a Gibbs sweep over the spike
// assignments with event amplitudes integrated out. Masked spikes and
// spikes of sacred events are not moved. An event left without spikes
// is removed. It returns the number of new events which could not be
// placed within the support.
func (s *Sampler) ResampleAssignments(state *State, temp float64) (rejections int) {
	m := s.model
	g := state.Globals
	es := state.Events
	a := state.Assignments
	alpha, beta := m.AmplitudePrior()
	logNew := math.Log(m.Config.SeqEventRate) + math.Log(alpha) + alpha*(math.Log(beta)-math.Log1p(beta))
	logBkg := math.Log1p(beta)
	bkg := g.BackgroundRates()

	for i := 0; i < s.store.Len(); i++ {
		if s.Masked(i) {
			continue
		}
		sp := s.store.At(i)
		if z := a[i]; z != smodel.Background {
			ev := es.Get(z)
			if ev.Sacred {
				continue
			}
			es.RemoveSpike(z, i)
			a[i] = smodel.Background
			if ev.Size() == 0 {
				es.Remove(z)
			}
		}

		s.buf = es.EventsNear(sp.Time, s.buf)
		cands := s.buf[:0]
		for _, ev := range s.buf {
			if !ev.Sacred {
				cands = append(cands, ev)
			}
		}
		s.logw = append(s.logw[:0], logBkg+math.Log(bkg[sp.Neuron]))
		for _, ev := range cands {
			s.logw = append(s.logw, math.Log(float64(ev.Size())+alpha)+m.LogSpikeDensity(g, ev, sp.Neuron, sp.Time))
		}
		s.logw = append(s.logw, logNew+m.LogTypeWeight(g, sp.Neuron))
		if temp != 1 {
			for k := range s.logw {
				s.logw[k] /= temp
			}
		}

		k := dist.SampleCategoricalLog(s.rng, s.logw)
		switch {
		case k == 0:
		case k <= len(cands):
			id := cands[k-1].ID
			a[i] = id
			es.AddSpike(id, i)
		default:
			p, ok := s.singleton(g, sp)
			if !ok {
				rejections++
				continue
			}
			ev := es.Add(smodel.Event{Type: p.Type, Warp: p.Warp, Time: p.Time, Amplitude: m.SampleAmplitude(s.rng, 1)})
			a[i] = ev.ID
			es.AddSpike(ev.ID, i)
		}
	}
	return
}

// singleton proposes a new event for a single spike.
func (s *Sampler) singleton(g *smodel.Globals, sp spikes.Spike) (smodel.EventProposal, bool) {
	L := s.model.Config.MaxSequenceLength
	for k := 0; k < maxSingletonDraws; k++ {
		p := s.model.ProposeSingleton(s.rng, g, sp.Neuron, sp.Time)
		if p.Time > 0 && p.Time <= s.model.MaxTime && math.Abs(sp.Time-p.Time) <= L {
			return p, true
		}
	}
	return smodel.EventProposal{}, false
}

// ResampleEvents updates every non-sacred event. It returns the number
// of updates rejected by the support bound.
func (s *Sampler) ResampleEvents(state *State) (rejections int) {
	for _, id := range state.Events.IDs() {
		if !s.model.ResampleEvent(s.rng, s.store, state.Events, id, state.Globals) {
			rejections++
		}
	}
	return
}

// ResampleGlobals replaces the global parameters with a draw from
// their conditional posterior.
func (s *Sampler) ResampleGlobals(state *State, fallback bool) error {
	g, err := s.resampleGlobals(s.rng, s.store, state.Assignments, state.Events, state.Globals, fallback)
	if err != nil {
		return err
	}
	state.Globals = g
	return nil
}
