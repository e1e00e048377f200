package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/gonum/matrix/mat64"

	"bitbucket.org/Davydov/ppseq/sampler"
	"bitbucket.org/Davydov/ppseq/smodel"
	"bitbucket.org/Davydov/ppseq/storage"
)

// loadRun reads a run and its snapshots from a store.
func loadRun(kind, path, id string) (storage.Run, []sampler.Snapshot, error) {
	ctx := context.Background()
	s, err := storage.NewStore(kind, path)
	if err != nil {
		return storage.Run{}, nil, err
	}
	if err := s.Init(ctx); err != nil {
		return storage.Run{}, nil, err
	}
	defer s.Close()
	run, ok, err := s.GetRun(ctx, id)
	if err != nil {
		return storage.Run{}, nil, err
	}
	if !ok {
		return storage.Run{}, nil, fmt.Errorf("run %s not found", id)
	}
	snaps, _, err := s.GetSnapshots(ctx, id)
	if err != nil {
		return storage.Run{}, nil, err
	}
	if len(snaps) == 0 {
		return storage.Run{}, nil, fmt.Errorf("run %s has no snapshots", id)
	}
	log.Infof("Loaded run %s: %d snapshots", id, len(snaps))
	return run, snaps, nil
}

// makeGrid returns n equally spaced points on [0, maxTime].
func makeGrid(maxTime float64, n int) []float64 {
	if n < 2 {
		return []float64{maxTime / 2}
	}
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = maxTime * float64(i) / float64(n-1)
	}
	return grid
}

// writeRates writes a tab-separated table: the time column followed
// by a column per neuron in the given order.
func writeRates(w io.Writer, rates *mat64.Dense, grid []float64, order []int) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("time")
	for _, n := range order {
		fmt.Fprintf(bw, "\t%d", n)
	}
	bw.WriteString("\n")
	for j, t := range grid {
		bw.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
		for _, n := range order {
			bw.WriteString("\t")
			bw.WriteString(strconv.FormatFloat(rates.At(n, j), 'g', 8, 64))
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

func identity(n int) []int {
	res := make([]int, n)
	for i := range res {
		res[i] = i
	}
	return res
}

func runRates() error {
	run, snaps, err := loadRun(*ratesStoreKind, *ratesStorePath, *ratesRunID)
	if err != nil {
		return err
	}
	// globals drawn here are not used, only the kernel and the bounds
	m, err := smodel.ConstructModel(run.Config, run.MaxTime, run.NumNeurons, rand.New(rand.NewPCG(run.Seed, modelStream)))
	if err != nil {
		return err
	}
	grid := makeGrid(run.MaxTime, *gridSize)
	rates := sampler.MeanFiringRates(m, snaps, grid)
	order := identity(run.NumNeurons)
	if *ratesSorted {
		order = smodel.SortNeurons(snaps[len(snaps)-1].Globals)
	}

	w := os.Stdout
	if *ratesOutF != "" {
		f, err := os.Create(*ratesOutF)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return writeRates(w, rates, grid, order)
}

func runSort() error {
	_, snaps, err := loadRun(*sortStoreKind, *sortStorePath, *sortRunID)
	if err != nil {
		return err
	}
	order := smodel.SortNeurons(snaps[len(snaps)-1].Globals)
	for _, n := range order {
		fmt.Println(n)
	}
	return nil
}
