package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"gopkg.in/yaml.v3"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/ppseq/checkpoint"
	"bitbucket.org/Davydov/ppseq/sampler"
	"bitbucket.org/Davydov/ppseq/smodel"
	"bitbucket.org/Davydov/ppseq/spikes"
	"bitbucket.org/Davydov/ppseq/storage"
)

// modelStream is the second word of the seed of the random generator
// used for prior draws of the model.
const modelStream = 0x6d6f64656c

// readInput reads spikes and initial assignments. Assignments are
// returned in the store order.
func readInput(spikesFn, initFn string, oneBased bool, n int, T float64) (*spikes.Store, smodel.Assignments, error) {
	sp, err := spikes.ReadFile(spikesFn, oneBased)
	if err != nil {
		return nil, nil, err
	}
	if len(sp) == 0 {
		return nil, nil, fmt.Errorf("no spikes in %s", spikesFn)
	}
	bn, bt := spikes.Bounds(sp)
	if n <= 0 {
		n = bn
	}
	if T <= 0 {
		T = bt
	}
	st, err := spikes.NewStore(sp, n, T)
	if err != nil {
		return nil, nil, err
	}
	if initFn == "" {
		return st, nil, nil
	}
	init, err := spikes.ReadAssignmentsFile(initFn)
	if err != nil {
		return nil, nil, err
	}
	if len(init) != st.Len() {
		return nil, nil, &smodel.ReferenceError{Spike: len(init), Neuron: -1, Event: -1,
			Reason: fmt.Sprintf("got %d initial assignments for %d spikes", len(init), st.Len())}
	}
	return st, smodel.Assignments(st.Reorder(init)), nil
}

// writeAssignments writes assignments in the input order.
func writeAssignments(fn string, st *spikes.Store, a smodel.Assignments) error {
	res := make([]int, len(a))
	for i, z := range a {
		res[st.Original(i)] = z
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, z := range res {
		if _, err := fmt.Fprintln(f, z); err != nil {
			return err
		}
	}
	return nil
}

// summarizeChain creates a chain summary from a possibly partial
// history.
func summarizeChain(h *sampler.History) ChainSummary {
	cs := ChainSummary{RunID: h.RunID, Seed: h.Seed, Diagnostics: h.Diagnostics}
	cs.Sweeps = h.AnnealTrace.Len() + h.PostTrace.Len()
	if last := h.Last(); last != nil {
		cs.FinalLogLikelihood = last.LogLikelihood
		cs.NumEvents = len(last.Events)
		cs.NeuronOrder = smodel.SortNeurons(last.Globals)
	}
	return cs
}

// newCheckpointer opens the checkpoint database. The key depends on
// the inputs and the seed.
func newCheckpointer(fn string, cfg *smodel.Config, seed uint64) (*checkpoint.CheckpointIO, func(), error) {
	db, err := bolt.Open(fn, 0600, nil)
	if err != nil {
		return nil, nil, err
	}
	cfgB, err := yaml.Marshal(cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	key := checkpoint.Key(cfgB, []byte(*spikesFileName), []byte(*initFileName), []byte(strconv.FormatUint(seed, 10)))
	log.Infof("Checkpoint key %s", key)
	return checkpoint.NewCheckpointIO(db, key, *checkpointSec), func() { db.Close() }, nil
}

func runFit() (summary *RunSummary, err error) {
	summary = &RunSummary{}

	cfg := smodel.DefaultConfig()
	if *configFileName != "" {
		cfg, err = smodel.LoadConfig(*configFileName)
		if err != nil {
			return summary, err
		}
	}

	st, init, err := readInput(*spikesFileName, *initFileName, *oneBased, *numNeurons, *maxTime)
	if err != nil {
		return summary, err
	}
	summary.NumSpikes = st.Len()
	summary.NumNeurons = st.NumNeurons()
	summary.MaxTime = st.MaxTime()
	log.Infof("Read %d spikes of %d neurons, T=%v", st.Len(), st.NumNeurons(), st.MaxTime())

	if *chains < 1 {
		return summary, fmt.Errorf("number of chains should be positive, got %d", *chains)
	}
	if *checkpointF != "" && *chains > 1 {
		log.Warning("Checkpoints are only supported for a single chain, ignoring -checkpoint")
		*checkpointF = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var models []*smodel.Model
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	build := func(chain int, seed uint64) (*sampler.Driver, error) {
		m, err := smodel.ConstructModel(cfg, st.MaxTime(), st.NumNeurons(), rand.New(rand.NewPCG(seed, modelStream)))
		if err != nil {
			return nil, err
		}
		models = append(models, m)
		opts := sampler.Options{Seed: seed, ReportPeriod: *report, AccPeriod: *accept}
		if *checkpointF != "" {
			cp, closeDB, err := newCheckpointer(*checkpointF, &cfg, seed)
			if err != nil {
				return nil, err
			}
			closers = append(closers, closeDB)
			opts.Checkpointer = cp
		}
		return sampler.NewDriver(m, st, init, opts)
	}

	hists, runErr := sampler.RunChains(ctx, *chains, uint64(*seed), build)
	for _, h := range hists {
		if h != nil {
			summary.Chains = append(summary.Chains, summarizeChain(h))
		}
	}
	if len(hists) > 1 {
		lls := make([][]float64, 0, len(hists))
		for _, h := range hists {
			if h != nil {
				lls = append(lls, h.PostTrace.LogLikelihood)
			}
		}
		if r := sampler.GelmanRubin(lls); !math.IsNaN(r) {
			summary.Rhat = &r
			log.Noticef("Gelman-Rubin R=%.4f", r)
		}
	}

	if *storeKind != "none" {
		if err := saveHistories(*storeKind, *storePath, hists, models); err != nil {
			log.Error("Error saving runs:", err)
		} else {
			summary.Store = *storeKind
		}
	}

	if *outF != "" && len(hists) > 0 && hists[0] != nil {
		if last := hists[0].Last(); last != nil {
			if err := writeAssignments(*outF, st, last.Assignments); err != nil {
				log.Error("Error writing assignments:", err)
			}
		}
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	return summary, runErr
}

// saveHistories persists all the chains.
func saveHistories(kind, path string, hists []*sampler.History, models []*smodel.Model) error {
	s, err := storage.NewStore(kind, path)
	if err != nil {
		return err
	}
	// saving should complete even after an interrupt
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		return err
	}
	defer s.Close()
	for i, h := range hists {
		if h == nil || i >= len(models) {
			continue
		}
		if err := storage.SaveHistory(ctx, s, h, models[i]); err != nil {
			return err
		}
		log.Noticef("Run %s saved to %s", h.RunID, kind)
	}
	return nil
}
