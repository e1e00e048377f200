package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gonum/matrix/mat64"

	"bitbucket.org/Davydov/ppseq/sampler"
	"bitbucket.org/Davydov/ppseq/smodel"
	"bitbucket.org/Davydov/ppseq/spikes"
)

const spikesData = `# neuron time
1 2.5
0 1.0
2 3.0
0 0.5
`

func writeFile(tst *testing.T, name, data string) string {
	fn := filepath.Join(tst.TempDir(), name)
	if err := os.WriteFile(fn, []byte(data), 0644); err != nil {
		tst.Fatal(err)
	}
	return fn
}

func TestReadInput(tst *testing.T) {
	spikesFn := writeFile(tst, "spikes.txt", spikesData)
	st, init, err := readInput(spikesFn, "", false, 0, 0)
	if err != nil {
		tst.Fatal("Error reading input:", err)
	}
	if st.Len() != 4 || st.NumNeurons() != 3 || st.MaxTime() != 3 {
		tst.Error("Wrong store:", st.Len(), st.NumNeurons(), st.MaxTime())
	}
	if init != nil {
		tst.Error("Expected no initial assignments, got", init)
	}

	// assignments are given in the file order
	initFn := writeFile(tst, "init.txt", "5\n-1\n-1\n5\n")
	st, init, err = readInput(spikesFn, initFn, false, 4, 10)
	if err != nil {
		tst.Fatal("Error reading input:", err)
	}
	if st.NumNeurons() != 4 || st.MaxTime() != 10 {
		tst.Error("Bounds are not used:", st.NumNeurons(), st.MaxTime())
	}
	// store order: 0.5, 1.0, 2.5, 3.0
	exp := smodel.Assignments{5, -1, 5, -1}
	for i := range exp {
		if init[i] != exp[i] {
			tst.Error("Wrong assignments:", init, exp)
			break
		}
	}

	short := writeFile(tst, "short.txt", "-1\n")
	if _, _, err := readInput(spikesFn, short, false, 0, 0); err == nil {
		tst.Error("Expected an error for a short assignments file")
	}
	empty := writeFile(tst, "empty.txt", "# nothing\n")
	if _, _, err := readInput(empty, "", false, 0, 0); err == nil {
		tst.Error("Expected an error for an empty spikes file")
	}
}

func TestWriteAssignments(tst *testing.T) {
	spikesFn := writeFile(tst, "spikes.txt", spikesData)
	initFn := writeFile(tst, "init.txt", "5\n-1\n-1\n7\n")
	st, init, err := readInput(spikesFn, initFn, false, 0, 0)
	if err != nil {
		tst.Fatal(err)
	}
	out := filepath.Join(tst.TempDir(), "out.txt")
	if err := writeAssignments(out, st, init); err != nil {
		tst.Fatal(err)
	}
	a, err := spikes.ReadAssignmentsFile(out)
	if err != nil {
		tst.Fatal(err)
	}
	exp := []int{5, -1, -1, 7}
	for i := range exp {
		if a[i] != exp[i] {
			tst.Error("Assignments are not in the input order:", a, exp)
			break
		}
	}
}

func TestMakeGrid(tst *testing.T) {
	grid := makeGrid(10, 5)
	exp := []float64{0, 2.5, 5, 7.5, 10}
	if len(grid) != len(exp) {
		tst.Fatal("Wrong grid length:", len(grid))
	}
	for i := range exp {
		if grid[i] != exp[i] {
			tst.Error("Wrong grid:", grid)
		}
	}
	if g := makeGrid(10, 1); len(g) != 1 || g[0] != 5 {
		tst.Error("Wrong single point grid:", g)
	}
}

func TestWriteRates(tst *testing.T) {
	rates := mat64.NewDense(2, 2, []float64{1, 2, 3, 4.5})
	var buf bytes.Buffer
	if err := writeRates(&buf, rates, []float64{0, 1}, []int{1, 0}); err != nil {
		tst.Fatal(err)
	}
	exp := "time\t1\t0\n0\t3\t1\n1\t4.5\t2\n"
	if buf.String() != exp {
		tst.Errorf("Wrong rates table:\n%q\n%q", buf.String(), exp)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		tst.Error("Wrong number of lines:", lines)
	}
}

func TestSummarizeChain(tst *testing.T) {
	h := &sampler.History{RunID: "x", Seed: 2}
	cs := summarizeChain(h)
	if cs.Sweeps != 0 || cs.NeuronOrder != nil {
		tst.Error("Wrong summary of an empty history:", cs)
	}
	h.PostTrace.LogLikelihood = []float64{-3}
	h.Post = []sampler.Snapshot{{
		LogLikelihood: -3,
		Globals: &smodel.Globals{
			TypeProportions:  []float64{1},
			NeuronAmplitudes: [][]float64{{0.5, 0.5}},
			OffsetMeans:      [][]float64{{1, -1}},
			BackgroundShares: []float64{0.5, 0.5},
		},
		Events: []smodel.Event{{ID: 1}},
	}}
	cs = summarizeChain(h)
	if cs.Sweeps != 1 || cs.NumEvents != 1 || cs.FinalLogLikelihood != -3 {
		tst.Error("Wrong summary:", cs)
	}
	if len(cs.NeuronOrder) != 2 || cs.NeuronOrder[0] != 1 {
		tst.Error("Wrong neuron order:", cs.NeuronOrder)
	}
}
