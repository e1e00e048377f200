package storage

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/ppseq/sampler"
	"bitbucket.org/Davydov/ppseq/smodel"
)

func init() {
	logging.SetLevel(logging.WARNING, "storage")
}

func testRun() Run {
	cfg := smodel.DefaultConfig()
	cfg.MaxSequenceLength = math.Inf(1)
	cfg.Masks = []smodel.Mask{{Neuron: 1, Start: 2, End: 3}}
	return Run{
		ID:         "run-1",
		Created:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Seed:       math.MaxUint64,
		Config:     cfg,
		NumNeurons: 2,
		MaxTime:    10,
		PostTrace: sampler.Trace{
			LogLikelihood: []float64{-10.5, -9.25},
			LogJoint:      []float64{-20, -19},
			NumEvents:     []int{2, 3},
			Temperature:   []float64{1, 1},
			Proposed:      []int{4, 4},
			Accepted:      []int{1, 0},
		},
		Diagnostics: sampler.Diagnostics{
			SplitProposed: 4,
			SplitAccepted: 1,
			Warnings:      []smodel.ConvergenceWarning{{Phase: "sampling", Sweep: 1, Window: 1}},
		},
	}
}

func testSnapshots() []sampler.Snapshot {
	g := &smodel.Globals{
		TypeProportions:    []float64{1},
		NeuronAmplitudes:   [][]float64{{0.25, 0.75}},
		OffsetMeans:        [][]float64{{0, 0.5}},
		OffsetVariances:    [][]float64{{0.1, 0.2}},
		BackgroundRate:     0.3,
		BackgroundShares:   []float64{0.4, 0.6},
		WarpValues:         []float64{1},
		WarpLogProportions: []float64{0},
	}
	return []sampler.Snapshot{
		{
			Sweep:         7,
			Temperature:   1,
			LogLikelihood: -12.125,
			Globals:       g,
			Events:        []smodel.Event{{ID: 3, Time: 1.5, Amplitude: 2}},
			Assignments:   smodel.Assignments{3, -1, 3},
		},
		{
			Sweep:         8,
			Temperature:   1,
			LogLikelihood: -11,
			Globals:       g.Copy(),
			Events:        []smodel.Event{},
			Assignments:   smodel.Assignments{-1, -1, -1},
		},
	}
}

func testStores(tst *testing.T) map[string]Store {
	dir := tst.TempDir()
	return map[string]Store{
		"memory":          NewMemoryStore(),
		"bolt":            NewBoltStore(filepath.Join(dir, "runs.db")),
		"sqlite":          NewSQLiteStore(filepath.Join(dir, "runs.sqlite")),
		"badger":          NewBadgerStore(filepath.Join(dir, "badger")),
		"badger-inmemory": NewBadgerStore(""),
	}
}

func TestRoundTrip(tst *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(tst) {
		tst.Run(name, func(tst *testing.T) {
			require.NoError(tst, s.Init(ctx))
			defer s.Close()
			// repeated Init is harmless
			require.NoError(tst, s.Init(ctx))

			_, ok, err := s.GetRun(ctx, "run-1")
			require.NoError(tst, err)
			assert.False(tst, ok)
			_, ok, err = s.GetSnapshots(ctx, "run-1")
			require.NoError(tst, err)
			assert.False(tst, ok)

			run := testRun()
			require.NoError(tst, s.SaveRun(ctx, run))
			got, ok, err := s.GetRun(ctx, run.ID)
			require.NoError(tst, err)
			require.True(tst, ok)
			assert.Equal(tst, run, got)
			assert.True(tst, math.IsInf(got.Config.MaxSequenceLength, 1))

			// overwrite
			run.NumNeurons = 5
			require.NoError(tst, s.SaveRun(ctx, run))
			got, _, err = s.GetRun(ctx, run.ID)
			require.NoError(tst, err)
			assert.Equal(tst, 5, got.NumNeurons)

			snaps := testSnapshots()
			require.NoError(tst, s.SaveSnapshots(ctx, run.ID, snaps))
			gotSnaps, ok, err := s.GetSnapshots(ctx, run.ID)
			require.NoError(tst, err)
			require.True(tst, ok)
			assert.Equal(tst, snaps, gotSnaps)

			// stored values do not alias
			snaps[0].Assignments[0] = 42
			gotSnaps, _, err = s.GetSnapshots(ctx, run.ID)
			require.NoError(tst, err)
			assert.Equal(tst, 3, gotSnaps[0].Assignments[0])

			require.NoError(tst, s.Close())
			_, _, err = s.GetRun(ctx, run.ID)
			assert.ErrorIs(tst, err, ErrNotInitialized)
			assert.ErrorIs(tst, s.SaveSnapshots(ctx, run.ID, snaps), ErrNotInitialized)
		})
	}
}

func TestPersistence(tst *testing.T) {
	ctx := context.Background()
	dir := tst.TempDir()
	for _, kind := range []string{"bolt", "sqlite", "badger"} {
		tst.Run(kind, func(tst *testing.T) {
			path := filepath.Join(dir, kind)
			s, err := NewStore(kind, path)
			require.NoError(tst, err)
			require.NoError(tst, s.Init(ctx))
			require.NoError(tst, s.SaveRun(ctx, testRun()))
			require.NoError(tst, s.Close())

			s, err = NewStore(kind, path)
			require.NoError(tst, err)
			require.NoError(tst, s.Init(ctx))
			defer s.Close()
			got, ok, err := s.GetRun(ctx, "run-1")
			require.NoError(tst, err)
			require.True(tst, ok)
			assert.Equal(tst, testRun(), got)
		})
	}
}

func TestNewStore(tst *testing.T) {
	for _, kind := range Kinds {
		s, err := NewStore(kind, "")
		require.NoError(tst, err, kind)
		assert.NotNil(tst, s)
	}
	_, err := NewStore("unknown", "")
	assert.Error(tst, err)

	ctx := context.Background()
	assert.Error(tst, NewBoltStore("").Init(ctx))
	assert.Error(tst, NewSQLiteStore("").Init(ctx))
}

func TestVersionMismatch(tst *testing.T) {
	_, err := DecodeRun([]byte(`{"version": 99, "id": "x"}`))
	assert.True(tst, errors.Is(err, ErrVersionMismatch))
	_, err = DecodeSnapshots([]byte(`{"version": 0}`))
	assert.True(tst, errors.Is(err, ErrVersionMismatch))
}

func TestSaveHistory(tst *testing.T) {
	ctx := context.Background()
	cfg := smodel.DefaultConfig()
	cfg.NumSequenceTypes = 1
	m, err := smodel.ConstructModel(cfg, 10, 2, rand.New(rand.NewPCG(1, 2)))
	require.NoError(tst, err)
	s := NewMemoryStore()
	require.NoError(tst, s.Init(ctx))
	h := &sampler.History{RunID: "abc", Seed: 3, Post: testSnapshots()}
	require.NoError(tst, SaveHistory(ctx, s, h, m))
	run, ok, err := s.GetRun(ctx, "abc")
	require.NoError(tst, err)
	require.True(tst, ok)
	assert.Equal(tst, uint64(3), run.Seed)
	assert.Equal(tst, 2, run.NumNeurons)
	snaps, ok, err := s.GetSnapshots(ctx, "abc")
	require.NoError(tst, err)
	require.True(tst, ok)
	assert.Len(tst, snaps, 2)
}
