// Package ledger persists the set of contest ids that were already announced
// as "new", so a restart does not re-announce the whole upcoming list.
//
// The set only grows. A crash between poll cycles loses at most the in-flight
// cycle's additions, which re-announces those contests once; duplicate
// announcement is the fail-safe direction.
package ledger

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	logx "cfbot/pkg/logx"
)

const bucketAnnounced = "announced"

// Ledger is a durable contest-id set backed by a bbolt file.
type Ledger struct {
	db *bolt.DB
}

func Open(path string, log logx.Logger) (*Ledger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	opts := &bolt.Options{Timeout: time.Second}
	db, err := bolt.Open(path, 0o600, opts)
	if err != nil && !errors.Is(err, bolt.ErrTimeout) {
		// A corrupt file should not brick startup; move it aside and start
		// empty. Re-announcing once is the fail-safe direction.
		if rerr := os.Rename(path, path+".corrupt"); rerr != nil {
			return nil, err
		}
		log.Warn("announced-contest ledger unreadable; starting empty",
			logx.String("path", path), logx.Err(err))
		db, err = bolt.Open(path, 0o600, opts)
	}
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketAnnounced))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Load returns the full announced set. Called once at scheduler startup;
// the in-memory copy is the scheduler's working set between saves.
func (l *Ledger) Load() (map[int64]struct{}, error) {
	out := map[int64]struct{}{}
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAnnounced))
		return b.ForEach(func(k, _ []byte) error {
			if len(k) == 8 {
				out[int64(binary.BigEndian.Uint64(k))] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save overwrites the stored set with ids. Entries are never removed in
// practice (the working set only grows), but overwrite semantics keep the
// file an exact mirror of the scheduler's view.
func (l *Ledger) Save(ids map[int64]struct{}) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketAnnounced)); err != nil {
			return err
		}
		b, err := tx.CreateBucket([]byte(bucketAnnounced))
		if err != nil {
			return err
		}
		for id := range ids {
			var k [8]byte
			binary.BigEndian.PutUint64(k[:], uint64(id))
			if err := b.Put(k[:], nil); err != nil {
				return err
			}
		}
		return nil
	})
}
