package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/ppseq/sampler"
)

// CodecVersion is the version of the stored records.
const CodecVersion = 1

// ErrVersionMismatch is returned for records written by another codec
// version.
var ErrVersionMismatch = errors.New("record version mismatch")

// runRecord keeps the configuration as YAML, which unlike JSON can
// represent an infinite maximum sequence length.
type runRecord struct {
	Version int `json:"version"`
	Run
	Config string `json:"config"`
}

type snapshotsRecord struct {
	Version   int                `json:"version"`
	Snapshots []sampler.Snapshot `json:"snapshots"`
}

// EncodeRun serializes a run.
func EncodeRun(r Run) ([]byte, error) {
	cfg, err := yaml.Marshal(&r.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(runRecord{Version: CodecVersion, Run: r, Config: string(cfg)})
}

// DecodeRun deserializes a run.
func DecodeRun(data []byte) (Run, error) {
	var rec runRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Run{}, err
	}
	if rec.Version != CodecVersion {
		return Run{}, fmt.Errorf("%w: %d", ErrVersionMismatch, rec.Version)
	}
	if err := yaml.Unmarshal([]byte(rec.Config), &rec.Run.Config); err != nil {
		return Run{}, fmt.Errorf("decode config of run %s: %w", rec.ID, err)
	}
	return rec.Run, nil
}

// EncodeSnapshots serializes snapshots.
func EncodeSnapshots(snaps []sampler.Snapshot) ([]byte, error) {
	return json.Marshal(snapshotsRecord{Version: CodecVersion, Snapshots: snaps})
}

// DecodeSnapshots deserializes snapshots.
func DecodeSnapshots(data []byte) ([]sampler.Snapshot, error) {
	var rec snapshotsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Version != CodecVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, rec.Version)
	}
	return rec.Snapshots, nil
}
