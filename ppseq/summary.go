package main

import "bitbucket.org/Davydov/ppseq/sampler"

// CallSummary stores information on the program call.
type CallSummary struct {
	// Version stores ppseq version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// Time is the computations time in seconds.
	TotalTime float64 `json:"time"`
}

// ChainSummary is the result of a single chain.
type ChainSummary struct {
	RunID string `json:"runID"`
	Seed  uint64 `json:"seed"`
	// Sweeps is the number of completed sweeps.
	Sweeps             int                 `json:"sweeps"`
	FinalLogLikelihood float64             `json:"finalLogLikelihood"`
	NumEvents          int                 `json:"numEvents"`
	Diagnostics        sampler.Diagnostics `json:"diagnostics"`
	// NeuronOrder is the display order of neurons in the last
	// snapshot.
	NeuronOrder []int `json:"neuronOrder,omitempty"`
}

// RunSummary is storing ppseq fit summary information.
type RunSummary struct {
	CallSummary
	NumSpikes  int     `json:"numSpikes"`
	NumNeurons int     `json:"numNeurons"`
	MaxTime    float64 `json:"maxTime"`
	// Chains are summaries of all the chains.
	Chains []ChainSummary `json:"chains"`
	// Rhat is the Gelman-Rubin statistic of the post-annealing
	// log-likelihood, only computed for multiple chains.
	Rhat *float64 `json:"rhat,omitempty"`
	// Store is the backend the runs were saved to.
	Store string `json:"store,omitempty"`
	// Error is set if the run was interrupted or failed.
	Error string `json:"error,omitempty"`
}
