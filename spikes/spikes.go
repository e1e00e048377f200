// Package spikes stores spike-train observations and reads them from
// text files.
package spikes

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Spike is a single observation: neuron id and spike time.
type Spike struct {
	Neuron int
	Time   float64
}

// RangeError is returned when a spike is outside of the recording.
type RangeError struct {
	Index  int
	Spike  Spike
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("spike %d (neuron=%d, time=%v): %s", e.Index, e.Spike.Neuron, e.Spike.Time, e.Reason)
}

// Store is an immutable collection of spikes ordered by time.
type Store struct {
	spikes     []Spike
	times      []float64
	orig       []int
	numNeurons int
	maxTime    float64
}

// NewStore creates a new Store. Spikes are copied and sorted by time,
// ties keep the input order.
func NewStore(spikes []Spike, numNeurons int, maxTime float64) (*Store, error) {
	if numNeurons <= 0 {
		return nil, fmt.Errorf("number of neurons should be > 0, got %d", numNeurons)
	}
	if !(maxTime > 0) {
		return nil, fmt.Errorf("recording length should be > 0, got %v", maxTime)
	}
	for i, s := range spikes {
		if s.Neuron < 0 || s.Neuron >= numNeurons {
			return nil, &RangeError{i, s, fmt.Sprintf("neuron id outside [0, %d)", numNeurons)}
		}
		if s.Time < 0 || s.Time > maxTime || math.IsNaN(s.Time) {
			return nil, &RangeError{i, s, fmt.Sprintf("time outside [0, %v]", maxTime)}
		}
	}

	st := &Store{
		spikes:     make([]Spike, len(spikes)),
		times:      make([]float64, len(spikes)),
		orig:       make([]int, len(spikes)),
		numNeurons: numNeurons,
		maxTime:    maxTime,
	}
	for i := range st.orig {
		st.orig[i] = i
	}
	sort.SliceStable(st.orig, func(a, b int) bool {
		return spikes[st.orig[a]].Time < spikes[st.orig[b]].Time
	})
	for i, j := range st.orig {
		st.spikes[i] = spikes[j]
		st.times[i] = spikes[j].Time
	}
	return st, nil
}

// Len returns number of spikes.
func (st *Store) Len() int {
	return len(st.spikes)
}

// At returns i-th spike in time order.
func (st *Store) At(i int) Spike {
	return st.spikes[i]
}

// NumNeurons returns number of neurons.
func (st *Store) NumNeurons() int {
	return st.numNeurons
}

// MaxTime returns the recording length.
func (st *Store) MaxTime() float64 {
	return st.maxTime
}

// Original returns the input position of the i-th spike.
func (st *Store) Original(i int) int {
	return st.orig[i]
}

// Reorder converts a per-spike slice given in the input order into
// the store order.
func (st *Store) Reorder(v []int) []int {
	if v == nil {
		return nil
	}
	res := make([]int, len(v))
	for i, j := range st.orig {
		res[i] = v[j]
	}
	return res
}

// Window returns the range [i, j) of spikes with lo <= time <= hi.
func (st *Store) Window(lo, hi float64) (i, j int) {
	i = sort.SearchFloat64s(st.times, lo)
	j = sort.Search(len(st.times), func(k int) bool {
		return st.times[k] > hi
	})
	return
}

// CountByNeuron returns number of spikes per neuron.
func (st *Store) CountByNeuron() []int {
	res := make([]int, st.numNeurons)
	for _, s := range st.spikes {
		res[s.Neuron]++
	}
	return res
}

// Read parses spikes from a reader. Every non-empty line contains
// neuron id and spike time separated by whitespace or a comma; lines
// starting with # are skipped. Neuron ids in files may start from 1
// if oneBased is set.
func Read(rd io.Reader, oneBased bool) (spikes []Spike, err error) {
	spikes = make([]Spike, 0, 1024)
	scanner := bufio.NewScanner(rd)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected neuron and time", lineNo)
		}
		neuron, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineNo, err)
		}
		t, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineNo, err)
		}
		if oneBased {
			neuron--
		}
		spikes = append(spikes, Spike{Neuron: neuron, Time: t})
	}
	return spikes, scanner.Err()
}

// ReadFile reads spikes from a file.
func ReadFile(fn string, oneBased bool) ([]Spike, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, oneBased)
}

// Bounds returns number of neurons and the latest spike time.
func Bounds(spikes []Spike) (numNeurons int, maxTime float64) {
	for _, s := range spikes {
		if s.Neuron+1 > numNeurons {
			numNeurons = s.Neuron + 1
		}
		if s.Time > maxTime {
			maxTime = s.Time
		}
	}
	return
}

// ReadAssignments parses one integer per line: -1 for background,
// otherwise an event id.
func ReadAssignments(rd io.Reader) ([]int, error) {
	res := make([]int, 0, 1024)
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, scanner.Err()
}

// ReadAssignmentsFile reads initial assignments from a file.
func ReadAssignmentsFile(fn string) ([]int, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAssignments(f)
}
