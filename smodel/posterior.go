package smodel

import (
	"math"
	"math/rand/v2"

	"bitbucket.org/Davydov/ppseq/dist"
	"bitbucket.org/Davydov/ppseq/mcmc"
	"bitbucket.org/Davydov/ppseq/spikes"
)

// timePosterior is the Gaussian posterior on the event time given
// type, warp and spikes.
type timePosterior struct {
	mean, prec float64
	// log of the (0, T] probability mass
	logZ float64
}

func (tp timePosterior) sd() float64 {
	return 1 / math.Sqrt(tp.prec)
}

func (m *Model) truncMass(mean, prec float64) float64 {
	sp := math.Sqrt(prec)
	return math.Log(dist.CDFNormal((m.MaxTime-mean)*sp) - dist.CDFNormal(-mean*sp))
}

// typeWarpPosterior returns log posterior weights of every (type, warp)
// pair, flattened as type*W+warp, with the event time integrated over
// its uniform prior on (0, T], and the time posteriors.
func (m *Model) typeWarpPosterior(st *spikes.Store, members []int, g *Globals) ([]float64, []timePosterior) {
	R, W := g.NumTypes(), len(g.WarpValues)
	logw := make([]float64, R*W)
	tps := make([]timePosterior, R*W)
	logT := math.Log(m.MaxTime)
	for r := 0; r < R; r++ {
		logPi := math.Log(g.TypeProportions[r])
		for w := 0; w < W; w++ {
			k := r*W + w
			var prec, s1, s2, lp float64
			for _, i := range members {
				s := st.At(i)
				a := g.NeuronAmplitudes[r][s.Neuron]
				mean, v := m.Kernel.Moments(g.OffsetMeans[r][s.Neuron], g.OffsetVariances[r][s.Neuron], g.WarpValues[w])
				y := s.Time - mean
				prec += 1 / v
				s1 += y / v
				s2 += y * y / v
				lp += math.Log(a) - 0.5*math.Log(2*math.Pi*v)
			}
			mu := s1 / prec
			tp := timePosterior{mean: mu, prec: prec}
			tp.logZ = m.truncMass(mu, prec)
			tps[k] = tp
			// Gaussian integral over the event time
			lp += -0.5*(s2-s1*s1/prec) + 0.5*math.Log(2*math.Pi/prec)
			logw[k] = logPi + g.WarpLogProportions[w] + lp + tp.logZ - logT
		}
	}
	return logw, tps
}

// EventProposal is a draw of event type, warp and time from their
// exact conditional distribution given the event spikes.
type EventProposal struct {
	Type int
	Warp int
	Time float64
	// LogDensity is the log proposal density of the draw.
	LogDensity float64
}

// ProposeEvent draws type and warp with the time integrated out, then
// the time from its truncated Gaussian posterior. members should not
// be empty.
func (m *Model) ProposeEvent(rng *rand.Rand, st *spikes.Store, members []int, g *Globals) EventProposal {
	logw, tps := m.typeWarpPosterior(st, members, g)
	k := dist.SampleCategoricalLog(rng, logw)
	tp := tps[k]
	W := len(g.WarpValues)
	t := dist.TruncatedNormal(rng, tp.mean, tp.sd(), 0, m.MaxTime)
	p := EventProposal{Type: k / W, Warp: k % W, Time: t}
	p.LogDensity = proposalLogDensity(logw, tp, k, t)
	return p
}

func proposalLogDensity(logw []float64, tp timePosterior, k int, t float64) float64 {
	lw := dist.LogNormalize(logw)[k]
	lt := dist.NormalLogProb(t, tp.mean, 1/tp.prec)
	if !math.IsInf(tp.logZ, -1) && !math.IsNaN(tp.logZ) {
		lt -= tp.logZ
	}
	return lw + lt
}

// ProposalLogDensity returns the log density with which ProposeEvent
// would produce (r, w, t) for the spikes.
func (m *Model) ProposalLogDensity(st *spikes.Store, members []int, g *Globals, r, w int, t float64) float64 {
	logw, tps := m.typeWarpPosterior(st, members, g)
	k := r*len(g.WarpValues) + w
	return proposalLogDensity(logw, tps[k], k, t)
}

// EventLogJoint returns the log joint density of an event of type r,
// warp w at time t together with its spikes, the amplitude being
// integrated out.
func (m *Model) EventLogJoint(st *spikes.Store, members []int, g *Globals, r, w int, t float64) float64 {
	alpha, beta := m.ampShape, m.ampRate
	u := float64(len(members))
	timePrior := mcmc.UniformPrior(0, m.MaxTime, false, true)
	lp := math.Log(m.Config.SeqEventRate) + math.Log(g.TypeProportions[r]) + g.WarpLogProportions[w] +
		math.Log(m.MaxTime) + timePrior(t) +
		alpha*math.Log(beta) - dist.LnGamma(alpha) + dist.LnGamma(u+alpha) - (u+alpha)*math.Log1p(beta)
	if math.IsInf(lp, -1) {
		return lp
	}
	for _, i := range members {
		s := st.At(i)
		lp += math.Log(g.NeuronAmplitudes[r][s.Neuron]) +
			logOffsetDensity(m.Kernel, s.Time-t, g.OffsetMeans[r][s.Neuron], g.OffsetVariances[r][s.Neuron], g.WarpValues[w])
	}
	return lp
}

// LogSpikeDensity returns log of the amplitude share and the offset
// density of a spike of neuron n at time t under an event.
func (m *Model) LogSpikeDensity(g *Globals, ev *Event, n int, t float64) float64 {
	return math.Log(g.NeuronAmplitudes[ev.Type][n]) +
		logOffsetDensity(m.Kernel, t-ev.Time, g.OffsetMeans[ev.Type][n], g.OffsetVariances[ev.Type][n], g.WarpValues[ev.Warp])
}

// LogTypeWeight returns log of sum over types of the type proportion
// times the amplitude share of neuron n.
func (m *Model) LogTypeWeight(g *Globals, n int) float64 {
	w := 0.0
	for r, p := range g.TypeProportions {
		w += p * g.NeuronAmplitudes[r][n]
	}
	return math.Log(w)
}

// ProposeSingleton draws type and warp of a new event formed by a
// single spike of neuron n at time t, and the event time given the
// offset distribution. LogDensity is not set.
func (m *Model) ProposeSingleton(rng *rand.Rand, g *Globals, n int, t float64) EventProposal {
	W := len(g.WarpValues)
	logw := make([]float64, g.NumTypes()*W)
	for r, p := range g.TypeProportions {
		for w := 0; w < W; w++ {
			logw[r*W+w] = math.Log(p) + math.Log(g.NeuronAmplitudes[r][n]) + g.WarpLogProportions[w]
		}
	}
	k := dist.SampleCategoricalLog(rng, logw)
	r, w := k/W, k%W
	mean, v := m.Kernel.Moments(g.OffsetMeans[r][n], g.OffsetVariances[r][n], g.WarpValues[w])
	return EventProposal{Type: r, Warp: w, Time: t - dist.SampleNormal(rng, mean, math.Sqrt(v))}
}

// SampleAmplitude draws an event amplitude given its number of spikes.
func (m *Model) SampleAmplitude(rng *rand.Rand, size int) float64 {
	return dist.SampleGamma(rng, m.ampShape+float64(size), m.ampRate+1)
}

// ResampleEvent draws type, warp, time and amplitude of an event from
// their conditional posterior. A new time which would put any spike of
// the event further than the maximum sequence length is rejected;
// ResampleEvent then keeps type, warp and time and returns false.
// Sacred and empty events are not changed.
func (m *Model) ResampleEvent(rng *rand.Rand, st *spikes.Store, es *EventSet, id int, g *Globals) bool {
	ev := es.Get(id)
	if ev == nil || ev.Sacred || ev.Size() == 0 {
		return true
	}
	p := m.ProposeEvent(rng, st, ev.members, g)
	ok := es.Admissible(st, ev.members, p.Time)
	if ok {
		ev.Type = p.Type
		ev.Warp = p.Warp
		es.Move(id, p.Time)
	}
	ev.Amplitude = m.SampleAmplitude(rng, ev.Size())
	return ok
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// sharesLogRatio is the log acceptance ratio of background shares
// proposed from Dir(γ+B) given the rate. Only the exposure term
// remains, and it vanishes when no neuron is masked.
func (m *Model) sharesLogRatio(rate float64, old, proposed []float64) float64 {
	T := m.MaxTime
	d := 0.0
	for n := range proposed {
		d += (proposed[n] - old[n]) * (T - m.Masks.Duration(n, T))
	}
	return -rate * d
}

type suffStat struct {
	n, s1, s2 float64
}

// ResampleGlobals draws all the global parameters from their
// conditional posterior given assignments and events. Masked spikes
// and masked time are not used. If a draw is degenerate (non-finite or
// a non-positive variance) a *DegeneracyError is returned, unless
// fallback is set; then the offending entry is drawn from the prior.
func (m *Model) ResampleGlobals(rng *rand.Rand, st *spikes.Store, assign Assignments, es *EventSet, g *Globals, fallback bool) (*Globals, error) {
	cfg := &m.Config
	N, R := m.NumNeurons, cfg.NumSequenceTypes
	T := m.MaxTime
	ng := &Globals{
		NeuronAmplitudes:   make([][]float64, R),
		OffsetMeans:        newMatrix(R, N),
		OffsetVariances:    newMatrix(R, N),
		WarpValues:         append([]float64(nil), g.WarpValues...),
		WarpLogProportions: append([]float64(nil), g.WarpLogProportions...),
	}

	// background
	bcounts := fill(N, cfg.BkgdSpikesConcParam)
	nbkg := 0.0
	for i, z := range assign {
		if z != Background {
			continue
		}
		s := st.At(i)
		if m.Masks.Contains(s.Neuron, s.Time) {
			continue
		}
		bcounts[s.Neuron]++
		nbkg++
	}
	ng.BackgroundShares = dist.SampleDirichlet(rng, bcounts)
	if len(m.Masks) > 0 && !mcmc.Accept(rng, m.sharesLogRatio(g.BackgroundRate, g.BackgroundShares, ng.BackgroundShares)) {
		ng.BackgroundShares = append([]float64(nil), g.BackgroundShares...)
	}
	exposure := 0.0
	for n := 0; n < N; n++ {
		exposure += ng.BackgroundShares[n] * (T - m.Masks.Duration(n, T))
	}
	shape, rate := cfg.BackgroundShapeRate()
	ng.BackgroundRate = dist.SampleGamma(rng, shape+nbkg, rate+exposure)
	if !(ng.BackgroundRate > 0) || !finite(ng.BackgroundRate) {
		if !fallback {
			return nil, &DegeneracyError{Parameter: "background_rate", Value: ng.BackgroundRate}
		}
		log.Warningf("Degenerate background rate %v, drawing from the prior", ng.BackgroundRate)
		ng.BackgroundRate = dist.SampleGamma(rng, shape, rate)
	}

	// types
	tcounts := fill(R, cfg.SeqTypeConcParam)
	acounts := make([][]float64, R)
	for r := range acounts {
		acounts[r] = fill(N, cfg.NeuronResponseConcParam)
	}
	stats := make([][]suffStat, R)
	for r := range stats {
		stats[r] = make([]suffStat, N)
	}
	for _, id := range es.ids {
		ev := es.events[id]
		tcounts[ev.Type]++
		wv := g.WarpValues[ev.Warp]
		for _, i := range ev.members {
			s := st.At(i)
			acounts[ev.Type][s.Neuron]++
			y := m.Kernel.Canonical(s.Time-ev.Time, wv)
			ss := &stats[ev.Type][s.Neuron]
			ss.n++
			ss.s1 += y
			ss.s2 += y * y
		}
	}
	ng.TypeProportions = dist.SampleDirichlet(rng, tcounts)
	for r := 0; r < R; r++ {
		ng.NeuronAmplitudes[r] = dist.SampleDirichlet(rng, acounts[r])
		for n := 0; n < N; n++ {
			ss := stats[r][n]
			mu, kappa, nu, s2 := dist.NIXPosterior(0, cfg.NeuronOffsetPseudoObs, cfg.NeuronWidthPseudoObs, cfg.NeuronWidthPrior,
				ss.n, ss.s1, ss.s2)
			mean, v := dist.SampleNormalInvChiSquared(rng, mu, kappa, nu, s2)
			if !(v > 0) || !finite(v) || !finite(mean) {
				if !fallback {
					return nil, &DegeneracyError{Parameter: "offset_variance", Value: v}
				}
				log.Warningf("Degenerate offset (%v, %v) for type %d neuron %d, drawing from the prior", mean, v, r, n)
				mean, v = dist.SampleNormalInvChiSquared(rng, 0, cfg.NeuronOffsetPseudoObs, cfg.NeuronWidthPseudoObs, cfg.NeuronWidthPrior)
			}
			ng.OffsetMeans[r][n] = mean
			ng.OffsetVariances[r][n] = v
		}
	}
	return ng, nil
}
