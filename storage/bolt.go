package storage

import (
	"context"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/ppseq/sampler"
)

var (
	runsBucket      = []byte("runs")
	snapshotsBucket = []byte("snapshots")
)

// BoltStore keeps records in a bolt database file.
type BoltStore struct {
	path string

	mu sync.RWMutex
	db *bolt.DB
}

// NewBoltStore creates a new BoltStore. The file is created by Init.
func NewBoltStore(path string) *BoltStore {
	return &BoltStore{path: path}
}

func (s *BoltStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errPathRequired("bolt")
	}
	if s.db != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{runsBucket, snapshotsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	return nil
}

func (s *BoltStore) put(ctx context.Context, bucket []byte, key string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), payload)
	})
}

func (s *BoltStore) get(ctx context.Context, bucket []byte, key string) ([]byte, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var payload []byte
	err = db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	return payload, err
}

func (s *BoltStore) SaveRun(ctx context.Context, run Run) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(ctx, runsBucket, run.ID, payload)
}

func (s *BoltStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	payload, err := s.get(ctx, runsBucket, id)
	if err != nil || payload == nil {
		return Run{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (s *BoltStore) SaveSnapshots(ctx context.Context, runID string, snaps []sampler.Snapshot) error {
	payload, err := EncodeSnapshots(snaps)
	if err != nil {
		return err
	}
	return s.put(ctx, snapshotsBucket, runID, payload)
}

func (s *BoltStore) GetSnapshots(ctx context.Context, runID string) ([]sampler.Snapshot, bool, error) {
	payload, err := s.get(ctx, snapshotsBucket, runID)
	if err != nil || payload == nil {
		return nil, false, err
	}
	snaps, err := DecodeSnapshots(payload)
	if err != nil {
		return nil, false, err
	}
	return snaps, true, nil
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BoltStore) getDB() (*bolt.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}
