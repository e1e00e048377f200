/*

Ppseq finds repeated sequences of spikes in multi-neuron recordings
using the point process sequence model. Parameters are sampled with
annealed Gibbs and split-merge moves.

The basic usage of ppseq looks like this:

	ppseq fit spikes.txt

, this will run the sampler with the default configuration. A
configuration file in YAML format can be supplied:

	ppseq fit -config config.yaml -store sqlite -storepath runs.db spikes.txt

The above will also save the run into an SQLite database. Firing rates
and the neuron order can then be computed from the stored run:

	ppseq rates sqlite runs.db <run-id>
	ppseq sort sqlite runs.db <run-id>

To see all the options run:

	ppseq --help-long

*/
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/ppseq/storage"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("ppseq")
var formatter = logging.MustStringFormatter(`%{message}`)

// modules lists the loggers controlled by -loglevel.
var modules = []string{"ppseq", "sampler", "smodel", "mcmc", "checkpoint", "storage"}

// command-line options
var (
	// application
	app = kingpin.New("ppseq", "point process sequence detection").Version(version)

	// technical
	nThreads   = app.Flag("nt", "number of threads to use").Int()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()
	outLogF    = app.Flag("log", "write log to a file").String()
	logLevel   = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()

	// fit
	fitCmd         = app.Command("fit", "sample sequences from spikes").Default()
	spikesFileName = fitCmd.Arg("spikes", "spikes file, neuron and time per line").Required().ExistingFile()
	configFileName = fitCmd.Flag("config", "model and sampler configuration (YAML)").ExistingFile()
	initFileName   = fitCmd.Flag("init", "initial assignments, one event id per spike (-1 for background)").ExistingFile()
	oneBased       = fitCmd.Flag("onebased", "neuron ids in the spikes file start from 1").Bool()
	numNeurons     = fitCmd.Flag("neurons", "number of neurons, by default the largest neuron id plus one").Int()
	maxTime        = fitCmd.Flag("maxtime", "recording length, by default the last spike time").Float64()
	seed           = fitCmd.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	chains         = fitCmd.Flag("chains", "number of independent chains").Default("1").Int()
	report         = fitCmd.Flag("report", "report every N sweeps").Default("10").Int()
	accept         = fitCmd.Flag("accept", "report acceptance rate every N sweeps").Default("100").Int()
	checkpointF    = fitCmd.Flag("checkpoint", "checkpoint database file (single chain only)").String()
	checkpointSec  = fitCmd.Flag("checkpointsec", "seconds between checkpoints").Default("60").Float64()
	storeKind      = fitCmd.Flag("store", "store the run in a backend").Default("none").Enum(append([]string{"none"}, storage.Kinds...)...)
	storePath      = fitCmd.Flag("storepath", "store file or directory").String()
	outF           = fitCmd.Flag("out", "write final assignments to a file").String()

	// rates
	ratesCmd       = app.Command("rates", "mean firing rates of a stored run")
	ratesStoreKind = ratesCmd.Arg("store", "store backend").Required().Enum(storage.Kinds...)
	ratesStorePath = ratesCmd.Arg("path", "store file or directory").Required().String()
	ratesRunID     = ratesCmd.Arg("run", "run id").Required().String()
	gridSize       = ratesCmd.Flag("grid", "number of time points").Default("100").Int()
	ratesSorted    = ratesCmd.Flag("sorted", "order neurons by sequence type and offset").Bool()
	ratesOutF      = ratesCmd.Flag("out", "write rates to a file instead of stdout").String()

	// sort
	sortCmd       = app.Command("sort", "neuron order of a stored run")
	sortStoreKind = sortCmd.Arg("store", "store backend").Required().Enum(storage.Kinds...)
	sortStorePath = sortCmd.Arg("path", "store file or directory").Required().String()
	sortRunID     = sortCmd.Arg("run", "run id").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range modules {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *nThreads > 0 {
		runtime.GOMAXPROCS(*nThreads)
	}
	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	startTime := time.Now()
	var summary interface{}
	switch command {
	case fitCmd.FullCommand():
		if *seed == -1 {
			*seed = time.Now().UnixNano()
			log.Debug("Random seed from time")
		}
		log.Infof("Random seed=%v", *seed)
		s, err := runFit()
		if err != nil {
			log.Error(err)
		}
		if s != nil {
			s.CallSummary = CallSummary{
				Version:     version,
				CommandLine: os.Args,
				Seed:        *seed,
				NThreads:    effectiveNThreads,
				TotalTime:   time.Since(startTime).Seconds(),
			}
			summary = s
		}
		if err != nil {
			writeJSON(summary)
			os.Exit(1)
		}
	case ratesCmd.FullCommand():
		if err := runRates(); err != nil {
			log.Fatal(err)
		}
	case sortCmd.FullCommand():
		if err := runSort(); err != nil {
			log.Fatal(err)
		}
	}
	log.Noticef("Running time: %v", time.Since(startTime))

	writeJSON(summary)
}

// writeJSON writes the summary to the -json file if requested.
func writeJSON(summary interface{}) {
	if *jsonF == "" || summary == nil {
		return
	}
	j, err := json.Marshal(summary)
	if err != nil {
		log.Error(err)
		return
	}
	log.Debug(string(j))
	f, err := os.Create(*jsonF)
	if err != nil {
		log.Error("Error creating json output file:", err)
		return
	}
	f.Write(j)
	f.Close()
}
