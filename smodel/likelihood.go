package smodel

import (
	"math"

	"bitbucket.org/Davydov/ppseq/dist"
	"bitbucket.org/Davydov/ppseq/mcmc"
	"bitbucket.org/Davydov/ppseq/spikes"
)

// kernelMass returns the integral of the (type, neuron) offset density
// of an event over [lo, hi].
func (m *Model) kernelMass(g *Globals, ev *Event, n int, lo, hi float64) float64 {
	mean, v := m.Kernel.Moments(g.OffsetMeans[ev.Type][n], g.OffsetVariances[ev.Type][n], g.WarpValues[ev.Warp])
	sd := math.Sqrt(v)
	return dist.CDFNormal((hi-ev.Time-mean)/sd) - dist.CDFNormal((lo-ev.Time-mean)/sd)
}

// eventIntensity returns the rate contribution of an event to neuron n
// at time t.
func (m *Model) eventIntensity(g *Globals, ev *Event, n int, t float64) float64 {
	a := g.NeuronAmplitudes[ev.Type][n]
	if a == 0 {
		return 0
	}
	return ev.Amplitude * a * m.Kernel.OffsetDensity(t-ev.Time,
		g.OffsetMeans[ev.Type][n], g.OffsetVariances[ev.Type][n], g.WarpValues[ev.Warp])
}

// Intensity returns the firing rate of neuron n at time t given the
// events.
func (m *Model) Intensity(g *Globals, events []*Event, n int, t float64) float64 {
	rate := g.BackgroundRate * g.BackgroundShares[n]
	for _, ev := range events {
		rate += m.eventIntensity(g, ev, n, t)
	}
	return rate
}

// spikeTerm sums the log intensity over spikes which are masked
// (heldOut) or not masked (!heldOut).
func (m *Model) spikeTerm(st *spikes.Store, es *EventSet, g *Globals, heldOut bool) float64 {
	ll := 0.0
	var buf []*Event
	for i := 0; i < st.Len(); i++ {
		s := st.At(i)
		if m.Masks.Contains(s.Neuron, s.Time) != heldOut {
			continue
		}
		buf = es.EventsNear(s.Time, buf)
		ll += math.Log(m.Intensity(g, buf, s.Neuron, s.Time))
	}
	return ll
}

// LogLikelihood returns the Poisson process log-likelihood of all the
// spikes outside of masked regions.
func (m *Model) LogLikelihood(st *spikes.Store, es *EventSet, g *Globals) float64 {
	ll := m.spikeTerm(st, es, g, false)
	T := m.MaxTime
	for n := 0; n < m.NumNeurons; n++ {
		ll -= g.BackgroundRate * g.BackgroundShares[n] * (T - m.Masks.Duration(n, T))
	}
	for _, id := range es.ids {
		ev := es.events[id]
		for n := 0; n < m.NumNeurons; n++ {
			a := g.NeuronAmplitudes[ev.Type][n]
			if a == 0 {
				continue
			}
			mass := m.kernelMass(g, ev, n, 0, T)
			for _, iv := range m.Masks.Intervals(n, T) {
				mass -= m.kernelMass(g, ev, n, iv[0], iv[1])
			}
			ll -= ev.Amplitude * a * mass
		}
	}
	return ll
}

// HeldOutLogLikelihood returns the log-likelihood of the masked spikes
// restricted to the masked regions. It is zero without masks.
func (m *Model) HeldOutLogLikelihood(st *spikes.Store, es *EventSet, g *Globals) float64 {
	if len(m.Masks) == 0 {
		return 0
	}
	ll := m.spikeTerm(st, es, g, true)
	T := m.MaxTime
	for n := 0; n < m.NumNeurons; n++ {
		ivs := m.Masks.Intervals(n, T)
		if len(ivs) == 0 {
			continue
		}
		ll -= g.BackgroundRate * g.BackgroundShares[n] * m.Masks.Duration(n, T)
		for _, id := range es.ids {
			ev := es.events[id]
			a := g.NeuronAmplitudes[ev.Type][n]
			if a == 0 {
				continue
			}
			for _, iv := range ivs {
				ll -= ev.Amplitude * a * m.kernelMass(g, ev, n, iv[0], iv[1])
			}
		}
	}
	return ll
}

// LogPrior returns log prior density of the events, their amplitudes
// and the background rate.
func (m *Model) LogPrior(es *EventSet, g *Globals) float64 {
	ampPrior := mcmc.GammaPrior(m.ampShape, m.ampRate, false)
	bs, br := m.Config.BackgroundShapeRate()
	bkgPrior := mcmc.GammaPrior(bs, br, false)

	psi := m.Config.SeqEventRate
	lp := -psi*m.MaxTime + bkgPrior(g.BackgroundRate)
	for _, id := range es.ids {
		ev := es.events[id]
		lp += math.Log(psi) + math.Log(g.TypeProportions[ev.Type]) +
			g.WarpLogProportions[ev.Warp] + ampPrior(ev.Amplitude)
	}
	return lp
}

// LogJoint returns log-likelihood plus log prior.
func (m *Model) LogJoint(st *spikes.Store, es *EventSet, g *Globals) float64 {
	return m.LogLikelihood(st, es, g) + m.LogPrior(es, g)
}
