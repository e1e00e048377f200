package sampler

import (
	"math"

	"bitbucket.org/Davydov/ppseq/mcmc"
	"bitbucket.org/Davydov/ppseq/smodel"
)

// params returns event type, warp and time.
func params(ev *smodel.Event) smodel.EventProposal {
	return smodel.EventProposal{Type: ev.Type, Warp: ev.Warp, Time: ev.Time}
}

// pool returns spikes which can anchor a split-merge move: not masked
// and assigned to a non-sacred event.
func (s *Sampler) pool(state *State) ([]int, []bool) {
	var pool []int
	in := make([]bool, len(state.Assignments))
	for i, z := range state.Assignments {
		if z == smodel.Background || s.Masked(i) || state.Events.Get(z).Sacred {
			continue
		}
		pool = append(pool, i)
		in[i] = true
	}
	return pool, in
}

// SplitMerge performs a number of split-merge moves. A move picks a
// spike i uniformly and a spike j uniformly among the spikes within
// the split-merge window of i. If both belong to the same event, the
// event is split, otherwise the two events are merged.
func (s *Sampler) SplitMerge(state *State, temp float64, moves int) (stats SweepStats) {
	if moves == 0 {
		return
	}
	// split and merge do not change the pool
	pool, in := s.pool(state)
	if len(pool) < 2 {
		return
	}
	window := s.model.Config.SplitMergeWindow
	for k := 0; k < moves; k++ {
		i := pool[s.rng.IntN(len(pool))]
		ti := s.store.At(i).Time
		lo, hi := s.store.Window(ti-window, ti+window)
		s.near = s.near[:0]
		for j := lo; j < hi; j++ {
			if j != i && in[j] {
				s.near = append(s.near, j)
			}
		}
		if len(s.near) == 0 {
			continue
		}
		j := s.near[s.rng.IntN(len(s.near))]
		var accepted, rejected bool
		if state.Assignments[i] == state.Assignments[j] {
			stats.SplitProposed++
			accepted, rejected = s.split(state, i, j, temp)
			if accepted {
				stats.SplitAccepted++
			}
		} else {
			stats.MergeProposed++
			accepted, rejected = s.merge(state, i, j, temp)
			if accepted {
				stats.MergeAccepted++
			}
		}
		if rejected {
			stats.SupportRejections++
		}
	}
	return
}

// splitLogRatio returns log acceptance ratio of splitting spikes S of
// an event with parameters parent into S1 and S2 with parameters c1
// and c2.
func (s *Sampler) splitLogRatio(g *smodel.Globals, S, S1, S2 []int, parent, c1, c2 smodel.EventProposal, temp float64) float64 {
	m, st := s.model, s.store
	dE := m.EventLogJoint(st, S1, g, c1.Type, c1.Warp, c1.Time) +
		m.EventLogJoint(st, S2, g, c2.Type, c2.Warp, c2.Time) -
		m.EventLogJoint(st, S, g, parent.Type, parent.Warp, parent.Time)
	// random allocation of all the spikes but the two anchors
	logAlloc := -float64(len(S)-2) * math.Ln2
	reverse := m.ProposalLogDensity(st, S, g, parent.Type, parent.Warp, parent.Time)
	forward := logAlloc + c1.LogDensity + c2.LogDensity
	return dE/temp + reverse - forward
}

// mergeLogRatio returns log acceptance ratio of merging events with
// spikes S1 and S2 (parameters e1 and e2) into a single event with
// parameters p.
func (s *Sampler) mergeLogRatio(g *smodel.Globals, S, S1, S2 []int, e1, e2, p smodel.EventProposal, temp float64) float64 {
	m, st := s.model, s.store
	dE := m.EventLogJoint(st, S, g, p.Type, p.Warp, p.Time) -
		m.EventLogJoint(st, S1, g, e1.Type, e1.Warp, e1.Time) -
		m.EventLogJoint(st, S2, g, e2.Type, e2.Warp, e2.Time)
	logAlloc := -float64(len(S)-2) * math.Ln2
	reverse := logAlloc +
		m.ProposalLogDensity(st, S1, g, e1.Type, e1.Warp, e1.Time) +
		m.ProposalLogDensity(st, S2, g, e2.Type, e2.Warp, e2.Time)
	return dE/temp + reverse - p.LogDensity
}

// split tries to split the event of spikes i and j. rejected is set if
// a proposed event violated the support bound.
func (s *Sampler) split(state *State, i, j int, temp float64) (accepted, rejected bool) {
	es := state.Events
	g := state.Globals
	ev := es.Get(state.Assignments[i])
	S := append([]int(nil), ev.Members()...)
	var S1, S2 []int
	for _, x := range S {
		switch {
		case x == i:
			S1 = append(S1, x)
		case x == j:
			S2 = append(S2, x)
		case s.rng.IntN(2) == 0:
			S1 = append(S1, x)
		default:
			S2 = append(S2, x)
		}
	}
	c1 := s.model.ProposeEvent(s.rng, s.store, S1, g)
	c2 := s.model.ProposeEvent(s.rng, s.store, S2, g)
	if !es.Admissible(s.store, S1, c1.Time) || !es.Admissible(s.store, S2, c2.Time) {
		return false, true
	}
	lr := s.splitLogRatio(g, S, S1, S2, params(ev), c1, c2, temp)
	if !mcmc.Accept(s.rng, lr) {
		return false, false
	}
	es.Remove(ev.ID)
	s.place(state, S1, c1)
	s.place(state, S2, c2)
	return true, false
}

// merge tries to merge the events of spikes i and j.
func (s *Sampler) merge(state *State, i, j int, temp float64) (accepted, rejected bool) {
	es := state.Events
	g := state.Globals
	e1 := es.Get(state.Assignments[i])
	e2 := es.Get(state.Assignments[j])
	S1 := append([]int(nil), e1.Members()...)
	S2 := append([]int(nil), e2.Members()...)
	S := mergeSorted(S1, S2)
	p := s.model.ProposeEvent(s.rng, s.store, S, g)
	if !es.Admissible(s.store, S, p.Time) {
		return false, true
	}
	lr := s.mergeLogRatio(g, S, S1, S2, params(e1), params(e2), p, temp)
	if !mcmc.Accept(s.rng, lr) {
		return false, false
	}
	es.Remove(e1.ID)
	es.Remove(e2.ID)
	s.place(state, S, p)
	return true, false
}

// place creates a new event for spikes S.
func (s *Sampler) place(state *State, S []int, p smodel.EventProposal) *smodel.Event {
	ev := state.Events.Add(smodel.Event{
		Type:      p.Type,
		Warp:      p.Warp,
		Time:      p.Time,
		Amplitude: s.model.SampleAmplitude(s.rng, len(S)),
	})
	for _, x := range S {
		state.Assignments[x] = ev.ID
		state.Events.AddSpike(ev.ID, x)
	}
	return ev
}

func mergeSorted(a, b []int) []int {
	res := make([]int, 0, len(a)+len(b))
	for len(a) > 0 && len(b) > 0 {
		if a[0] < b[0] {
			res = append(res, a[0])
			a = a[1:]
		} else {
			res = append(res, b[0])
			b = b[1:]
		}
	}
	res = append(res, a...)
	return append(res, b...)
}
