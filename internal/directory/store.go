package directory

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Entry is one federated coordinator endpoint.
type Entry struct {
	ServerID     string    `json:"serverId"`
	Endpoint     string    `json:"endpoint"`
	PublicKey    string    `json:"publicKey,omitempty"`
	Region       string    `json:"region,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Store persists the directory's entry set across restarts.
type Store interface {
	Save(e Entry) error
	Delete(serverID string) error
	Load() ([]Entry, error)
	Close() error
}

var serversBucket = []byte("servers")

func storeKey(serverID string) []byte {
	return []byte("server:" + serverID)
}

// BoltStore keeps entries in a bbolt key-value file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the directory database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(serversBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init directory db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Save(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(serversBucket).Put(storeKey(e.ServerID), data)
	})
}

func (s *BoltStore) Delete(serverID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(serversBucket).Delete(storeKey(serverID))
	})
}

func (s *BoltStore) Load() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(serversBucket).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemStore is the in-memory store for tests and throwaway deployments.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]Entry)}
}

func (s *MemStore) Save(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ServerID] = e
	return nil
}

func (s *MemStore) Delete(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, serverID)
	return nil
}

func (s *MemStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *MemStore) Close() error { return nil }
