package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"bitbucket.org/Davydov/ppseq/mcmc"
	"bitbucket.org/Davydov/ppseq/smodel"
	"bitbucket.org/Davydov/ppseq/spikes"
)

// seedStream is the second word of the PCG seed.
const seedStream = 0x9e3779b97f4a7c15

// Phase is the driver phase.
type Phase int

// Driver phases.
const (
	Initializing Phase = iota
	Annealing
	Sampling
	Done
)

var phaseNames = [...]string{"initializing", "annealing", "sampling", "done"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Checkpoint is everything needed to continue a run.
type Checkpoint struct {
	RunID       string             `json:"runID"`
	Phase       Phase              `json:"phase"`
	Step        int                `json:"step"`
	Sweep       int                `json:"sweep"`
	Globals     *smodel.Globals    `json:"globals"`
	Events      []smodel.Event     `json:"events"`
	NextEventID int                `json:"nextEventID"`
	Assignments smodel.Assignments `json:"assignments"`
	RNG         []byte             `json:"rng"`
	ZeroRun     int                `json:"zeroRun"`
	History     *History           `json:"history"`
	Final       bool               `json:"final"`
}

// Checkpointer stores checkpoints. Old reports whether the last
// checkpoint was saved long enough ago to save a new one. Load returns
// nil if there is no checkpoint.
type Checkpointer interface {
	Old() bool
	Save(cp *Checkpoint) error
	Load() (*Checkpoint, error)
}

// Options are run-level settings which are not model hyperparameters.
type Options struct {
	Seed uint64
	// ReportPeriod is the number of sweeps between progress lines.
	ReportPeriod int
	// AccPeriod is the number of sweeps between acceptance rate
	// lines.
	AccPeriod int
	// Checkpointer is optional.
	Checkpointer Checkpointer
}

// Driver runs annealing followed by sampling. The driver exclusively
// owns its state.
type Driver struct {
	model   *smodel.Model
	store   *spikes.Store
	opts    Options
	pcg     *rand.PCG
	rng     *rand.Rand
	sampler *Sampler
	acc     *mcmc.AcceptanceCounter

	state *State
	phase Phase
	step  int
	sweep int
	hist  *History
}

// NewDriver creates a driver. init are initial assignments in the
// store order (nil means all spikes in the background). Initial events
// get their parameters drawn given their spikes; events listed as
// sacred in the configuration are frozen.
func NewDriver(m *smodel.Model, st *spikes.Store, init smodel.Assignments, opts Options) (*Driver, error) {
	if st.NumNeurons() > m.NumNeurons {
		return nil, &smodel.ReferenceError{Spike: -1, Neuron: st.NumNeurons() - 1, Event: -1,
			Reason: fmt.Sprintf("model has %d neurons", m.NumNeurons)}
	}
	if st.MaxTime() > m.MaxTime {
		return nil, &smodel.ValidationError{Field: "max_time", Value: st.MaxTime(),
			Reason: fmt.Sprintf("recording is longer than the model (%v)", m.MaxTime)}
	}
	if opts.ReportPeriod <= 0 {
		opts.ReportPeriod = 10
	}
	if opts.AccPeriod <= 0 {
		opts.AccPeriod = 100
	}
	pcg := rand.NewPCG(opts.Seed, seedStream)
	d := &Driver{
		model: m,
		store: st,
		opts:  opts,
		pcg:   pcg,
		rng:   rand.New(pcg),
		acc:   mcmc.NewAcceptanceCounter("Split-merge", opts.AccPeriod),
		hist: &History{
			RunID: uuid.NewString(),
			Seed:  opts.Seed,
		},
	}
	d.sampler = NewSampler(m, st, d.rng)
	if err := d.initState(init); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) initState(init smodel.Assignments) error {
	m, st := d.model, d.store
	if init == nil {
		init = smodel.NewAssignments(st.Len())
	} else {
		init = init.Copy()
	}
	if len(init) != st.Len() {
		return &smodel.ReferenceError{Spike: len(init), Neuron: -1, Event: -1,
			Reason: fmt.Sprintf("got %d initial assignments for %d spikes", len(init), st.Len())}
	}
	members := make(map[int][]int)
	nmasked := 0
	for i, z := range init {
		if z == smodel.Background {
			continue
		}
		if z < 0 {
			return &smodel.ReferenceError{Spike: i, Neuron: st.At(i).Neuron, Event: z, Reason: "negative event id"}
		}
		if d.sampler.Masked(i) {
			init[i] = smodel.Background
			nmasked++
			continue
		}
		members[z] = append(members[z], i)
	}
	if nmasked > 0 {
		log.Warningf("%d masked spikes moved to the background", nmasked)
	}
	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	g := m.Globals.Copy()
	es := m.Events.Copy()
	nsacred := 0
	for _, id := range ids {
		S := members[id]
		p, ok := d.initialEvent(S, g, es)
		if !ok {
			log.Warningf("Initial event %d: no time within %v of its %d spikes, moving them to the background",
				id, m.Config.MaxSequenceLength, len(S))
			d.hist.Diagnostics.SupportRejections++
			for _, i := range S {
				init[i] = smodel.Background
			}
			continue
		}
		ev, err := es.Insert(smodel.Event{
			ID:        id,
			Type:      p.Type,
			Warp:      p.Warp,
			Time:      p.Time,
			Amplitude: m.SampleAmplitude(d.rng, len(S)),
			Sacred:    m.Config.IsSacred(id),
		})
		if err != nil {
			return err
		}
		if ev.Sacred {
			nsacred++
		}
		for _, i := range S {
			es.AddSpike(id, i)
		}
	}
	if m.Config.SacredSequences && nsacred < len(m.Config.SacredEvents) {
		log.Warningf("Only %d of %d sacred events are present in the initial assignments", nsacred, len(m.Config.SacredEvents))
	}
	d.state = &State{Globals: g, Events: es, Assignments: init}
	if err := smodel.CheckAssignments(st, m.NumNeurons, init, es, d.sampler.masked); err != nil {
		return err
	}
	log.Infof("Initial state: %s spikes, %d events (%d sacred)", humanize.Comma(int64(st.Len())), es.Len(), nsacred)
	return nil
}

// initialEvent proposes parameters for an initial event so that all of
// its spikes are within the maximum sequence length.
func (d *Driver) initialEvent(S []int, g *smodel.Globals, es *smodel.EventSet) (smodel.EventProposal, bool) {
	for k := 0; k < maxSingletonDraws; k++ {
		p := d.model.ProposeEvent(d.rng, d.store, S, g)
		if es.Admissible(d.store, S, p.Time) {
			return p, true
		}
	}
	return smodel.EventProposal{}, false
}

// State returns the current state. It should not be modified.
func (d *Driver) State() *State {
	return d.state
}

// Phase returns the current phase.
func (d *Driver) Phase() Phase {
	return d.phase
}

// History returns the history accumulated so far.
func (d *Driver) History() *History {
	return d.hist
}

// Run performs annealing and sampling. The context is checked between
// sweeps; on cancellation the history so far is returned together with
// the context error. A sweep failing with a *smodel.DegeneracyError is
// retried once from the pre-sweep state with prior fallback; a second
// failure stops the run.
func (d *Driver) Run(ctx context.Context) (*History, error) {
	if d.phase == Initializing {
		if err := d.resume(); err != nil {
			return nil, err
		}
	}
	if d.phase == Done {
		return d.hist, nil
	}
	cfg := &d.model.Config
	temps := mcmc.Schedule(cfg.MaxTemperature, cfg.NumAnneals)
	if d.phase == Initializing {
		log.Noticef("Annealing: %d steps of %d sweeps, temperature %v to 1", len(temps), cfg.SamplesPerAnneal, cfg.MaxTemperature)
		d.phase = Annealing
	}
	for d.phase == Annealing {
		if d.step >= len(temps) {
			d.phase = Sampling
			d.sweep = 0
			log.Noticef("Sampling: %d sweeps", cfg.SamplesAfterAnneal)
			break
		}
		for d.sweep < cfg.SamplesPerAnneal {
			if err := d.iterate(ctx, temps[d.step], cfg.SplitMergeMovesDuringAnneal, cfg.SaveEveryDuringAnneal,
				&d.hist.AnnealTrace, &d.hist.Anneal); err != nil {
				return d.hist, err
			}
		}
		d.step++
		d.sweep = 0
	}
	for d.sweep < cfg.SamplesAfterAnneal {
		if err := d.iterate(ctx, 1, cfg.SplitMergeMovesAfterAnneal, cfg.SaveEveryAfterAnneal,
			&d.hist.PostTrace, &d.hist.Post); err != nil {
			return d.hist, err
		}
	}
	d.phase = Done
	d.saveCheckpoint(true, true)
	diag := d.hist.Diagnostics
	log.Noticef("Finished: %d events, split %d/%d, merge %d/%d accepted, %d support rejections",
		d.state.Events.Len(), diag.SplitAccepted, diag.SplitProposed, diag.MergeAccepted, diag.MergeProposed,
		diag.SupportRejections)
	return d.hist, nil
}

// iterate performs a single sweep and records it.
func (d *Driver) iterate(ctx context.Context, temp float64, moves, saveEvery int, trace *Trace, snaps *[]Snapshot) error {
	select {
	case <-ctx.Done():
		log.Warningf("Interrupted (%v), exiting.", ctx.Err())
		d.saveCheckpoint(true, false)
		return ctx.Err()
	default:
	}

	stats, ll, err := d.sweepOnce(temp, moves)
	if err != nil {
		return err
	}
	m, st := d.model, d.store
	es := d.state.Events
	if err := smodel.CheckAssignments(st, m.NumNeurons, d.state.Assignments, es, d.sampler.masked); err != nil {
		log.Errorf("Inconsistent state: %v", err)
		return err
	}
	d.sweep++
	total := d.hist.AnnealTrace.Len() + d.hist.PostTrace.Len()

	trace.LogLikelihood = append(trace.LogLikelihood, ll)
	trace.LogJoint = append(trace.LogJoint, ll+m.LogPrior(es, d.state.Globals))
	if len(m.Masks) > 0 {
		trace.HeldOut = append(trace.HeldOut, m.HeldOutLogLikelihood(st, es, d.state.Globals))
	}
	trace.NumEvents = append(trace.NumEvents, es.Len())
	trace.Temperature = append(trace.Temperature, temp)
	trace.Proposed = append(trace.Proposed, stats.Proposed())
	trace.Accepted = append(trace.Accepted, stats.Accepted())
	d.hist.Diagnostics.add(stats)

	if d.sweep%saveEvery == 0 {
		*snaps = append(*snaps, newSnapshot(total, temp, ll, d.state))
	}
	if total%d.opts.ReportPeriod == 0 {
		log.Debugf("%d: L=%f, T=%f, events=%d, candidates=%d", total, ll, temp, es.Len(),
			len(es.MergeCandidates(m.Config.SplitMergeWindow)))
	}

	if moves > 0 {
		d.acc.EndSweep(stats.Proposed(), stats.Accepted())
		if w := m.Config.ConvergenceWindow; w > 0 && d.acc.ZeroRun() >= w {
			cw := smodel.ConvergenceWarning{Phase: d.phase.String(), Sweep: total, Window: w}
			log.Warning(cw.String())
			d.hist.Diagnostics.Warnings = append(d.hist.Diagnostics.Warnings, cw)
			d.acc.ResetZeroRun()
		}
	}
	d.saveCheckpoint(false, false)
	return nil
}

// sweepOnce performs a sweep, retrying once on numeric degeneracy.
func (d *Driver) sweepOnce(temp float64, moves int) (SweepStats, float64, error) {
	backup := d.state.Copy()
	stats, ll, err := d.trySweep(temp, moves, false)
	var derr *smodel.DegeneracyError
	if errors.As(err, &derr) {
		log.Warningf("%v, retrying the sweep with prior fallback", err)
		d.hist.Diagnostics.Retries++
		d.state = backup
		stats, ll, err = d.trySweep(temp, moves, true)
		if err != nil {
			log.Errorf("Sweep failed after retry: %v", err)
		}
	}
	return stats, ll, err
}

func (d *Driver) trySweep(temp float64, moves int, fallback bool) (SweepStats, float64, error) {
	stats, err := d.sampler.Sweep(d.state, temp, moves, fallback)
	if err != nil {
		return stats, 0, err
	}
	ll := d.model.LogLikelihood(d.store, d.state.Events, d.state.Globals)
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return stats, ll, &smodel.DegeneracyError{Parameter: "log_likelihood", Value: ll}
	}
	return stats, ll, nil
}

// checkpoint returns the data needed to continue the run.
func (d *Driver) checkpoint(final bool) (*Checkpoint, error) {
	rng, err := d.pcg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		RunID:       d.hist.RunID,
		Phase:       d.phase,
		Step:        d.step,
		Sweep:       d.sweep,
		Globals:     d.state.Globals,
		Events:      d.state.Events.Values(),
		NextEventID: d.state.Events.NextID(),
		Assignments: d.state.Assignments,
		RNG:         rng,
		ZeroRun:     d.acc.ZeroRun(),
		History:     d.hist,
		Final:       final,
	}, nil
}

// saveCheckpoint saves a checkpoint if forced or if one is due.
// Errors are logged, the run continues.
func (d *Driver) saveCheckpoint(force, final bool) {
	cp := d.opts.Checkpointer
	if cp == nil || (!force && !cp.Old()) {
		return
	}
	data, err := d.checkpoint(final)
	if err == nil {
		err = cp.Save(data)
	}
	if err != nil {
		log.Errorf("Error saving checkpoint: %v", err)
	}
}

// resume restores the state from a checkpoint if there is one.
func (d *Driver) resume() error {
	cp := d.opts.Checkpointer
	if cp == nil {
		return nil
	}
	data, err := cp.Load()
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if data == nil {
		return nil
	}
	if data.Final {
		log.Noticef("Found finished run %s", data.RunID)
		d.phase = Done
		d.hist = data.History
		return nil
	}
	es, err := smodel.Restore(d.model.Config.MaxSequenceLength, data.Events, data.Assignments, data.NextEventID)
	if err != nil {
		return err
	}
	if err := data.Globals.Validate(); err != nil {
		return err
	}
	if err := smodel.CheckAssignments(d.store, d.model.NumNeurons, data.Assignments, es, d.sampler.masked); err != nil {
		return err
	}
	if err := d.pcg.UnmarshalBinary(data.RNG); err != nil {
		return fmt.Errorf("restoring random state: %w", err)
	}
	d.state = &State{Globals: data.Globals, Events: es, Assignments: data.Assignments}
	d.phase = data.Phase
	d.step = data.Step
	d.sweep = data.Sweep
	d.hist = data.History
	d.acc.SetZeroRun(data.ZeroRun)
	log.Noticef("Resuming run %s: %s, step %d, sweep %d", data.RunID, d.phase, d.step, d.sweep)
	return nil
}
