package smodel

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/ppseq/dist"
)

// WarpType selects how a warp value changes the offset distribution
// of a neuron.
type WarpType string

// Warp types.
const (
	// WarpMultiplicative dilates offsets in time.
	WarpMultiplicative WarpType = "multiplicative"
	// WarpAdditive shifts offsets in time.
	WarpAdditive WarpType = "additive"
)

// Mask is a held-out region: all the spikes of a neuron within
// [Start, End) are excluded from fitting.
type Mask struct {
	Neuron int     `yaml:"neuron" json:"neuron"`
	Start  float64 `yaml:"start" json:"start"`
	End    float64 `yaml:"end" json:"end"`
}

// Config stores model hyperparameters and sampler settings. Config is
// passed by value and is never modified after validation.
type Config struct {
	// Sequence types.
	NumSequenceTypes int     `yaml:"num_sequence_types" json:"num_sequence_types"`
	SeqTypeConcParam float64 `yaml:"seq_type_conc_param" json:"seq_type_conc_param"`

	// Sequence events.
	SeqEventRate       float64 `yaml:"seq_event_rate" json:"seq_event_rate"`
	MeanEventAmplitude float64 `yaml:"mean_event_amplitude" json:"mean_event_amplitude"`
	VarEventAmplitude  float64 `yaml:"var_event_amplitude" json:"var_event_amplitude"`

	// Neuron response profiles.
	NeuronResponseConcParam float64 `yaml:"neuron_response_conc_param" json:"neuron_response_conc_param"`
	NeuronOffsetPseudoObs   float64 `yaml:"neuron_offset_pseudo_obs" json:"neuron_offset_pseudo_obs"`
	NeuronWidthPseudoObs    float64 `yaml:"neuron_width_pseudo_obs" json:"neuron_width_pseudo_obs"`
	NeuronWidthPrior        float64 `yaml:"neuron_width_prior" json:"neuron_width_prior"`

	// Time warping.
	NumWarpValues int      `yaml:"num_warp_values" json:"num_warp_values"`
	MaxWarp       float64  `yaml:"max_warp" json:"max_warp"`
	WarpVariance  float64  `yaml:"warp_variance" json:"warp_variance"`
	WarpType      WarpType `yaml:"warp_type" json:"warp_type"`

	// Background.
	MeanBkgdSpikeRate   float64 `yaml:"mean_bkgd_spike_rate" json:"mean_bkgd_spike_rate"`
	VarBkgdSpikeRate    float64 `yaml:"var_bkgd_spike_rate" json:"var_bkgd_spike_rate"`
	BkgdSpikesConcParam float64 `yaml:"bkgd_spikes_conc_param" json:"bkgd_spikes_conc_param"`

	// MaxSequenceLength bounds the distance between an event and
	// any of its spikes. May be +Inf.
	MaxSequenceLength float64 `yaml:"max_sequence_length" json:"max_sequence_length"`

	// Annealing.
	NumAnneals            int     `yaml:"num_anneals" json:"num_anneals"`
	SamplesPerAnneal      int     `yaml:"samples_per_anneal" json:"samples_per_anneal"`
	MaxTemperature        float64 `yaml:"max_temperature" json:"max_temperature"`
	SaveEveryDuringAnneal int     `yaml:"save_every_during_anneal" json:"save_every_during_anneal"`

	// Sampling after annealing.
	SamplesAfterAnneal   int `yaml:"samples_after_anneal" json:"samples_after_anneal"`
	SaveEveryAfterAnneal int `yaml:"save_every_after_anneal" json:"save_every_after_anneal"`

	// Split-merge.
	SplitMergeMovesDuringAnneal int     `yaml:"split_merge_moves_during_anneal" json:"split_merge_moves_during_anneal"`
	SplitMergeMovesAfterAnneal  int     `yaml:"split_merge_moves_after_anneal" json:"split_merge_moves_after_anneal"`
	SplitMergeWindow            float64 `yaml:"split_merge_window" json:"split_merge_window"`

	// Masking.
	AreWeMasking bool   `yaml:"are_we_masking" json:"are_we_masking"`
	Masks        []Mask `yaml:"masks,omitempty" json:"masks,omitempty"`

	// Sacred sequences: ids of initial events which are never
	// resampled, pruned, split or merged.
	SacredSequences bool  `yaml:"sacred_sequences" json:"sacred_sequences"`
	SacredEvents    []int `yaml:"sacred_events,omitempty" json:"sacred_events,omitempty"`

	// ConvergenceWindow is the number of consecutive sweeps without
	// accepted split-merge moves after which a warning is issued;
	// 0 disables the check.
	ConvergenceWindow int `yaml:"convergence_window" json:"convergence_window"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		NumSequenceTypes: 2,
		SeqTypeConcParam: 1,

		SeqEventRate:       1,
		MeanEventAmplitude: 100,
		VarEventAmplitude:  1000,

		NeuronResponseConcParam: 0.1,
		NeuronOffsetPseudoObs:   1,
		NeuronWidthPseudoObs:    1,
		NeuronWidthPrior:        0.5,

		NumWarpValues: 1,
		MaxWarp:       1,
		WarpVariance:  1,
		WarpType:      WarpMultiplicative,

		MeanBkgdSpikeRate:   30,
		VarBkgdSpikeRate:    30,
		BkgdSpikesConcParam: 0.3,

		MaxSequenceLength: math.Inf(1),

		NumAnneals:            10,
		SamplesPerAnneal:      100,
		MaxTemperature:        40,
		SaveEveryDuringAnneal: 10,

		SamplesAfterAnneal:   2000,
		SaveEveryAfterAnneal: 10,

		SplitMergeMovesDuringAnneal: 10,
		SplitMergeMovesAfterAnneal:  10,
		SplitMergeWindow:            1,

		ConvergenceWindow: 200,
	}
}

// LoadConfig reads YAML configuration from a file. Missing options
// keep their default values. The result is validated.
func LoadConfig(fn string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(fn)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", fn, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// positive checks that x > 0 (NaN is rejected).
func positive(field string, x float64) error {
	if !(x > 0) {
		return &ValidationError{Field: field, Value: x, Reason: "should be > 0"}
	}
	return nil
}

// nonNegative checks integer settings.
func nonNegative(field string, x int) error {
	if x < 0 {
		return &ValidationError{Field: field, Value: x, Reason: "should be >= 0"}
	}
	return nil
}

// Validate checks that all the hyperparameters are within their
// domains. It returns the first *ValidationError found.
func (cfg *Config) Validate() error {
	if cfg.NumSequenceTypes <= 0 {
		return &ValidationError{Field: "num_sequence_types", Value: cfg.NumSequenceTypes, Reason: "should be > 0"}
	}
	if cfg.NumWarpValues <= 0 {
		return &ValidationError{Field: "num_warp_values", Value: cfg.NumWarpValues, Reason: "should be > 0"}
	}
	if !(cfg.MaxWarp >= 1) {
		return &ValidationError{Field: "max_warp", Value: cfg.MaxWarp, Reason: "should be >= 1"}
	}
	if !(cfg.MaxTemperature >= 1) {
		return &ValidationError{Field: "max_temperature", Value: cfg.MaxTemperature, Reason: "should be >= 1"}
	}
	if _, err := NewWarpKernel(cfg.WarpType); err != nil {
		return err
	}

	pos := []struct {
		name string
		v    float64
	}{
		{"seq_type_conc_param", cfg.SeqTypeConcParam},
		{"seq_event_rate", cfg.SeqEventRate},
		{"mean_event_amplitude", cfg.MeanEventAmplitude},
		{"var_event_amplitude", cfg.VarEventAmplitude},
		{"neuron_response_conc_param", cfg.NeuronResponseConcParam},
		{"neuron_offset_pseudo_obs", cfg.NeuronOffsetPseudoObs},
		{"neuron_width_pseudo_obs", cfg.NeuronWidthPseudoObs},
		{"neuron_width_prior", cfg.NeuronWidthPrior},
		{"warp_variance", cfg.WarpVariance},
		{"mean_bkgd_spike_rate", cfg.MeanBkgdSpikeRate},
		{"var_bkgd_spike_rate", cfg.VarBkgdSpikeRate},
		{"bkgd_spikes_conc_param", cfg.BkgdSpikesConcParam},
		{"max_sequence_length", cfg.MaxSequenceLength},
		{"split_merge_window", cfg.SplitMergeWindow},
	}
	for _, p := range pos {
		if err := positive(p.name, p.v); err != nil {
			return err
		}
	}

	nonneg := []struct {
		name string
		v    int
	}{
		{"num_anneals", cfg.NumAnneals},
		{"samples_per_anneal", cfg.SamplesPerAnneal},
		{"samples_after_anneal", cfg.SamplesAfterAnneal},
		{"split_merge_moves_during_anneal", cfg.SplitMergeMovesDuringAnneal},
		{"split_merge_moves_after_anneal", cfg.SplitMergeMovesAfterAnneal},
		{"convergence_window", cfg.ConvergenceWindow},
	}
	for _, p := range nonneg {
		if err := nonNegative(p.name, p.v); err != nil {
			return err
		}
	}
	if cfg.SaveEveryDuringAnneal <= 0 {
		return &ValidationError{Field: "save_every_during_anneal", Value: cfg.SaveEveryDuringAnneal, Reason: "should be > 0"}
	}
	if cfg.SaveEveryAfterAnneal <= 0 {
		return &ValidationError{Field: "save_every_after_anneal", Value: cfg.SaveEveryAfterAnneal, Reason: "should be > 0"}
	}

	if cfg.AreWeMasking {
		if len(cfg.Masks) == 0 {
			return &ValidationError{Field: "masks", Value: 0, Reason: "masking is enabled but no masks given"}
		}
		for i, m := range cfg.Masks {
			if m.Neuron < 0 {
				return &ValidationError{Field: fmt.Sprintf("masks[%d].neuron", i), Value: m.Neuron, Reason: "should be >= 0"}
			}
			if !(m.End > m.Start) {
				return &ValidationError{Field: fmt.Sprintf("masks[%d]", i), Value: m, Reason: "end should be > start"}
			}
		}
	}
	if cfg.SacredSequences {
		for i, id := range cfg.SacredEvents {
			if id < 0 {
				return &ValidationError{Field: fmt.Sprintf("sacred_events[%d]", i), Value: id, Reason: "should be >= 0"}
			}
		}
	}
	return nil
}

// AmplitudeShapeRate returns shape and rate of the event amplitude
// gamma prior.
func (cfg *Config) AmplitudeShapeRate() (shape, rate float64) {
	return dist.GammaShapeRate(cfg.MeanEventAmplitude, cfg.VarEventAmplitude)
}

// BackgroundShapeRate returns shape and rate of the gamma prior on
// the total background rate.
func (cfg *Config) BackgroundShapeRate() (shape, rate float64) {
	return dist.GammaShapeRate(cfg.MeanBkgdSpikeRate, cfg.VarBkgdSpikeRate)
}

// ActiveMasks returns masks if masking is enabled.
func (cfg *Config) ActiveMasks() Masks {
	if !cfg.AreWeMasking {
		return nil
	}
	return Masks(cfg.Masks)
}

// IsSacred reports whether an initial event id is frozen.
func (cfg *Config) IsSacred(id int) bool {
	if !cfg.SacredSequences {
		return false
	}
	for _, s := range cfg.SacredEvents {
		if s == id {
			return true
		}
	}
	return false
}
