package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/matryer/try"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/log"
	bolt "go.etcd.io/bbolt"
)

const (
	openAttempts = 5
	openTimeout  = time.Second
)

// Snapshot is the storm record for one slot.
type Snapshot struct {
	Key       string `storm:"id"`
	Data      []byte
	UpdatedAt time.Time
}

// StormStore keeps snapshots in a bbolt file through storm.
type StormStore struct {
	DB *storm.DB
}

// OpenStorm opens the cache file at path. The file lock is held by one
// process at a time, so opening is retried while another process holds it.
func OpenStorm(path string, debug bool) (*StormStore, error) {
	var db *storm.DB

	err := try.Do(func(attempt int) (bool, error) {
		var err error

		db, err = storm.Open(path, storm.BoltOptions(0o600, &bolt.Options{Timeout: openTimeout}))
		if err != nil {
			log.DebugPrint(debug, fmt.Sprintf("OpenStorm | attempt %d: %v", attempt, err), common.MaxDebugChars)
		}

		return attempt < openAttempts, err
	})
	if err != nil {
		return nil, fmt.Errorf("OpenStorm | %w", err)
	}

	return &StormStore{DB: db}, nil
}

func (s *StormStore) Load(userID, collection string) ([]byte, error) {
	var snap Snapshot

	err := s.DB.One("Key", SlotKey(userID, collection), &snap)
	if errors.Is(err, storm.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if snap.Data == nil {
		return []byte{}, nil
	}

	return snap.Data, nil
}

func (s *StormStore) Save(userID, collection string, data []byte) error {
	return s.DB.Save(&Snapshot{
		Key:       SlotKey(userID, collection),
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *StormStore) Delete(userID, collection string) error {
	err := s.DB.DeleteStruct(&Snapshot{Key: SlotKey(userID, collection)})
	if errors.Is(err, storm.ErrNotFound) {
		return nil
	}

	return err
}

func (s *StormStore) Close() error {
	return s.DB.Close()
}
