package storage

import (
	"context"
	"sync"

	"bitbucket.org/Davydov/ppseq/sampler"
)

// MemoryStore keeps encoded records in maps, so that stored values do
// not alias the caller's.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string][]byte
	snapshots map[string][]byte
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs == nil {
		s.runs = make(map[string][]byte)
		s.snapshots = make(map[string][]byte)
	}
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run Run) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs == nil {
		return ErrNotInitialized
	}
	s.runs[run.ID] = payload
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.runs == nil {
		return Run{}, false, ErrNotInitialized
	}
	payload, ok := s.runs[id]
	if !ok {
		return Run{}, false, nil
	}
	run, err := DecodeRun(payload)
	return run, err == nil, err
}

func (s *MemoryStore) SaveSnapshots(_ context.Context, runID string, snaps []sampler.Snapshot) error {
	payload, err := EncodeSnapshots(snaps)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshots == nil {
		return ErrNotInitialized
	}
	s.snapshots[runID] = payload
	return nil
}

func (s *MemoryStore) GetSnapshots(_ context.Context, runID string) ([]sampler.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshots == nil {
		return nil, false, ErrNotInitialized
	}
	payload, ok := s.snapshots[runID]
	if !ok {
		return nil, false, nil
	}
	snaps, err := DecodeSnapshots(payload)
	return snaps, err == nil, err
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = nil
	s.snapshots = nil
	return nil
}
