// Package storage persists finished runs: the run summary with its
// traces and the saved snapshots.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/ppseq/sampler"
	"bitbucket.org/Davydov/ppseq/smodel"
)

// log is the global logging variable.
var log = logging.MustGetLogger("storage")

// ErrNotInitialized is returned by the operations of a store which was
// not initialized or is closed.
var ErrNotInitialized = errors.New("store is not initialized")

// Run is a stored run.
type Run struct {
	ID         string        `json:"id"`
	Created    time.Time     `json:"created"`
	Seed       uint64        `json:"seed"`
	Config     smodel.Config `json:"-"`
	NumNeurons int           `json:"numNeurons"`
	MaxTime    float64       `json:"maxTime"`

	AnnealTrace sampler.Trace       `json:"annealTrace"`
	PostTrace   sampler.Trace       `json:"postTrace"`
	Diagnostics sampler.Diagnostics `json:"diagnostics"`
}

// NewRun creates a run record from a history.
func NewRun(h *sampler.History, m *smodel.Model) Run {
	return Run{
		ID:          h.RunID,
		Created:     time.Now().UTC(),
		Seed:        h.Seed,
		Config:      m.Config,
		NumNeurons:  m.NumNeurons,
		MaxTime:     m.MaxTime,
		AnnealTrace: h.AnnealTrace,
		PostTrace:   h.PostTrace,
		Diagnostics: h.Diagnostics,
	}
}

// Store persists runs and their post-annealing snapshots. Get
// operations report whether the record exists.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	SaveSnapshots(ctx context.Context, runID string, snaps []sampler.Snapshot) error
	GetSnapshots(ctx context.Context, runID string) ([]sampler.Snapshot, bool, error)
	Close() error
}

// SaveHistory stores the run and its post-annealing snapshots.
func SaveHistory(ctx context.Context, s Store, h *sampler.History, m *smodel.Model) error {
	if err := s.SaveRun(ctx, NewRun(h, m)); err != nil {
		return err
	}
	if err := s.SaveSnapshots(ctx, h.RunID, h.Post); err != nil {
		return err
	}
	log.Infof("Saved run %s with %d snapshots", h.RunID, len(h.Post))
	return nil
}
