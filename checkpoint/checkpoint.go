// checkpoint creates CheckpointIO which stores sampler checkpoints in a
// bolt database.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/ppseq/sampler"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all the checkpoints.
var MAIN = []byte("main")

// CheckpointIO saves and loads checkpoints of a single run.
type CheckpointIO struct {
	db      *bolt.DB
	key     []byte
	last    time.Time
	seconds float64
}

// NewCheckpointIO creates a new CheckpointIO. A checkpoint is due
// every given number of seconds.
func NewCheckpointIO(db *bolt.DB, key []byte, seconds float64) (s *CheckpointIO) {
	s = &CheckpointIO{
		db:      db,
		key:     key,
		seconds: seconds,
	}
	return
}

// Key returns a checkpoint key identifying the run inputs, e.g.
// configuration, spikes and seed.
func Key(inputs ...[]byte) []byte {
	var b []byte
	for _, in := range inputs {
		b = append(b, in...)
		b = append(b, 0)
	}
	return []byte(uuid.NewSHA1(uuid.NameSpaceOID, b).String())
}

// Save saves a checkpoint.
func (s *CheckpointIO) Save(data *sampler.Checkpoint) error {
	// Even if saving fails, we do not want to run this code too often.
	s.SetNow()
	dataB, err := json.Marshal(data)
	if err != nil {
		log.Error("Error serializing checkpoint", err)
		return err
	}
	err = SaveData(s.db, s.key, dataB)
	if err != nil {
		log.Error("Error saving checkpoint", err)
	}
	return err
}

// Load returns the saved checkpoint or nil.
func (s *CheckpointIO) Load() (*sampler.Checkpoint, error) {
	var data *sampler.Checkpoint

	b, err := LoadData(s.db, s.key)

	if err != nil || b == nil {
		return nil, err
	}

	err = json.Unmarshal(b, &data)

	if err != nil {
		return nil, err
	}

	if data == nil || data.Globals == nil {
		return nil, nil
	}

	if data.Final {
		log.Noticef("Found finished run checkpoint (run=%v)", data.RunID)
	} else {
		log.Noticef("Found unfinished run checkpoint (run=%v, phase=%v, step=%v, sweep=%v)",
			data.RunID, data.Phase, data.Step, data.Sweep)
	}

	return data, nil
}

// Old returns true if last checkpoint save time too long ago.
func (s *CheckpointIO) Old() bool {
	return time.Since(s.last).Seconds() > s.seconds
}

// SetNow sets last checkpoint time to now.
func (s *CheckpointIO) SetNow() {
	s.last = time.Now()
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}

		err = b.Put(key, data)
		return err
	})
	return err
}

// LoadData loads data from bolt database.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}

		// v is only valid within the transaction
		if v := b.Get(key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
