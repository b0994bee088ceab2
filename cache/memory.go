package cache

import (
	"bytes"
	"sync"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

func (m *MemoryStore) Load(userID, collection string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.slots[SlotKey(userID, collection)]
	if !ok {
		return nil, nil
	}

	return bytes.Clone(v), nil
}

func (m *MemoryStore) Save(userID, collection string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data == nil {
		data = []byte{}
	}

	m.slots[SlotKey(userID, collection)] = bytes.Clone(data)
	m.saves++

	return nil
}

func (m *MemoryStore) Delete(userID, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.slots, SlotKey(userID, collection))

	return nil
}

// Saves counts Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.saves
}

func (m *MemoryStore) Close() error {
	return nil
}
