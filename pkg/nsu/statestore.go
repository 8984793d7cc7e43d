package nsu

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/cuemby/nsu-agent/pkg/types"
)

var tombstoneBucket = []byte("completed-containers")

// BoltStateStore is the recovery state store spec.md's Non-goals describe:
// the NSU "does not persist the container catalogue (it only annotates a
// state store with completion-tracking tombstones)". It is opened only
// when nsuconfig.Config.RecoveryEnabled is set and a store path is
// configured; LocalContainment.RemoveFromStateStore is a no-op without
// one, matching a node that does not participate in work-preserving
// restart.
type BoltStateStore struct {
	db *bbolt.DB
}

// OpenBoltStateStore opens (creating if absent) the bolt file at path and
// ensures the tombstone bucket exists.
func OpenBoltStateStore(path string) (*BoltStateStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("nsu: failed to open recovery state store %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tombstoneBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("nsu: failed to initialize recovery state store %s: %w", path, err)
	}

	return &BoltStateStore{db: db}, nil
}

// Close releases the underlying bolt file.
func (s *BoltStateStore) Close() error {
	return s.db.Close()
}

// RemoveFromStateStore writes a completion tombstone for id, recording
// that the controller instructed this node to forget it. The value is
// unused; presence of the key is the tombstone.
func (s *BoltStateStore) RemoveFromStateStore(id types.ContainerID) error {
	key := stateStoreKey(id)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tombstoneBucket).Put(key, []byte{1})
	})
}

// HasTombstone reports whether id has already been marked forgotten.
// Exposed for tests and for a real recovery path deciding whether to
// re-admit a container found in the runtime but absent from the last
// heartbeat's containersToBeRemovedFromNM.
func (s *BoltStateStore) HasTombstone(id types.ContainerID) bool {
	key := stateStoreKey(id)
	var found bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(tombstoneBucket).Get(key) != nil
		return nil
	})
	return found
}

func stateStoreKey(id types.ContainerID) []byte {
	return []byte(fmt.Sprintf("%s/%d/%d", id.AttemptID.ApplicationID, id.AttemptID.AttemptNumber, id.Sequence))
}
