package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"bitbucket.org/Davydov/ppseq/sampler"
)

// SQLiteStore keeps records in an SQLite database.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore. The database is opened by
// Init.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errPathRequired("sqlite")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, codec_version, seed, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			codec_version = excluded.codec_version,
			seed = excluded.seed,
			payload = excluded.payload
	`, run.ID, CodecVersion, fmt.Sprint(run.Seed), payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}

	run, err := DecodeRun(payload)
	if err != nil {
		return Run{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) SaveSnapshots(ctx context.Context, runID string, snaps []sampler.Snapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSnapshots(snaps)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, count, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			count = excluded.count,
			payload = excluded.payload
	`, runID, len(snaps), payload)
	return err
}

func (s *SQLiteStore) GetSnapshots(ctx context.Context, runID string) ([]sampler.Snapshot, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	snaps, err := DecodeSnapshots(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode snapshots %s: %w", runID, err)
	}
	return snaps, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			codec_version INTEGER NOT NULL,
			seed TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
