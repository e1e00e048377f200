package smodel

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(tst *testing.T) {
	cfg := DefaultConfig()
	require.NoError(tst, cfg.Validate())
	assert.True(tst, math.IsInf(cfg.MaxSequenceLength, 1))
	shape, rate := cfg.AmplitudeShapeRate()
	assert.InDelta(tst, 10, shape, 1e-12)
	assert.InDelta(tst, 0.1, rate, 1e-12)
}

func TestConfigValidation(tst *testing.T) {
	tests := []struct {
		field string
		mod   func(*Config)
	}{
		{"num_sequence_types", func(c *Config) { c.NumSequenceTypes = 0 }},
		{"seq_type_conc_param", func(c *Config) { c.SeqTypeConcParam = 0 }},
		{"seq_event_rate", func(c *Config) { c.SeqEventRate = -1 }},
		{"mean_event_amplitude", func(c *Config) { c.MeanEventAmplitude = math.NaN() }},
		{"var_event_amplitude", func(c *Config) { c.VarEventAmplitude = 0 }},
		{"neuron_response_conc_param", func(c *Config) { c.NeuronResponseConcParam = 0 }},
		{"neuron_offset_pseudo_obs", func(c *Config) { c.NeuronOffsetPseudoObs = 0 }},
		{"neuron_width_pseudo_obs", func(c *Config) { c.NeuronWidthPseudoObs = 0 }},
		{"neuron_width_prior", func(c *Config) { c.NeuronWidthPrior = 0 }},
		{"num_warp_values", func(c *Config) { c.NumWarpValues = 0 }},
		{"max_warp", func(c *Config) { c.MaxWarp = 0.5 }},
		{"warp_variance", func(c *Config) { c.WarpVariance = 0 }},
		{"warp_type", func(c *Config) { c.WarpType = "bent" }},
		{"mean_bkgd_spike_rate", func(c *Config) { c.MeanBkgdSpikeRate = 0 }},
		{"var_bkgd_spike_rate", func(c *Config) { c.VarBkgdSpikeRate = 0 }},
		{"bkgd_spikes_conc_param", func(c *Config) { c.BkgdSpikesConcParam = 0 }},
		{"max_sequence_length", func(c *Config) { c.MaxSequenceLength = 0 }},
		{"num_anneals", func(c *Config) { c.NumAnneals = -1 }},
		{"max_temperature", func(c *Config) { c.MaxTemperature = 0.5 }},
		{"save_every_during_anneal", func(c *Config) { c.SaveEveryDuringAnneal = 0 }},
		{"save_every_after_anneal", func(c *Config) { c.SaveEveryAfterAnneal = 0 }},
		{"split_merge_window", func(c *Config) { c.SplitMergeWindow = 0 }},
		{"split_merge_moves_after_anneal", func(c *Config) { c.SplitMergeMovesAfterAnneal = -2 }},
		{"masks", func(c *Config) { c.AreWeMasking = true }},
		{"masks[0]", func(c *Config) {
			c.AreWeMasking = true
			c.Masks = []Mask{{0, 2, 1}}
		}},
	}
	for _, t := range tests {
		cfg := DefaultConfig()
		t.mod(&cfg)
		err := cfg.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			tst.Errorf("%s: expected ValidationError, got %v", t.field, err)
			continue
		}
		if verr.Field != t.field {
			tst.Errorf("Wrong field. Expected: %v, got %v", t.field, verr.Field)
		}
	}
}

func TestLoadConfig(tst *testing.T) {
	fn := filepath.Join(tst.TempDir(), "config.yaml")
	data := `num_sequence_types: 3
max_sequence_length: 5
warp_type: additive
are_we_masking: true
masks:
  - {neuron: 1, start: 0, end: 10}
`
	require.NoError(tst, os.WriteFile(fn, []byte(data), 0644))
	cfg, err := LoadConfig(fn)
	require.NoError(tst, err)
	assert.Equal(tst, 3, cfg.NumSequenceTypes)
	assert.Equal(tst, 5.0, cfg.MaxSequenceLength)
	assert.Equal(tst, WarpAdditive, cfg.WarpType)
	assert.Equal(tst, Masks{{1, 0, 10}}, cfg.ActiveMasks())
	// untouched defaults
	assert.Equal(tst, 0.3, cfg.BkgdSpikesConcParam)

	require.NoError(tst, os.WriteFile(fn, []byte("seq_event_rate: 0\n"), 0644))
	_, err = LoadConfig(fn)
	var verr *ValidationError
	assert.True(tst, errors.As(err, &verr))
}

func TestSacred(tst *testing.T) {
	cfg := DefaultConfig()
	cfg.SacredEvents = []int{3}
	assert.False(tst, cfg.IsSacred(3))
	cfg.SacredSequences = true
	assert.True(tst, cfg.IsSacred(3))
	assert.False(tst, cfg.IsSacred(4))
}
