package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"bitbucket.org/Davydov/ppseq/sampler"
)

// BadgerStore keeps records in a badger key-value store. Keys are
// prefixed by the record kind.
type BadgerStore struct {
	dir      string
	inMemory bool

	mu sync.RWMutex
	db *badger.DB
}

// NewBadgerStore creates a new BadgerStore in a directory. An empty
// directory keeps the data in memory.
func NewBadgerStore(dir string) *BadgerStore {
	return &BadgerStore{dir: dir, inMemory: dir == ""}
}

func runKey(id string) []byte {
	return []byte("run:" + id)
}

func snapshotsKey(id string) []byte {
	return []byte("snapshots:" + id)
}

func (s *BadgerStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := badger.DefaultOptions(s.dir).
		WithInMemory(s.inMemory).
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)
	db, err := badger.Open(opts)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *BadgerStore) set(ctx context.Context, key, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payload)
	})
}

func (s *BadgerStore) get(ctx context.Context, key []byte) ([]byte, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	return payload, err
}

func (s *BadgerStore) SaveRun(ctx context.Context, run Run) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.set(ctx, runKey(run.ID), payload)
}

func (s *BadgerStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	payload, err := s.get(ctx, runKey(id))
	if err != nil || payload == nil {
		return Run{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (s *BadgerStore) SaveSnapshots(ctx context.Context, runID string, snaps []sampler.Snapshot) error {
	payload, err := EncodeSnapshots(snaps)
	if err != nil {
		return err
	}
	return s.set(ctx, snapshotsKey(runID), payload)
}

func (s *BadgerStore) GetSnapshots(ctx context.Context, runID string) ([]sampler.Snapshot, bool, error) {
	payload, err := s.get(ctx, snapshotsKey(runID))
	if err != nil || payload == nil {
		return nil, false, err
	}
	snaps, err := DecodeSnapshots(payload)
	if err != nil {
		return nil, false, err
	}
	return snaps, true, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) getDB() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}
