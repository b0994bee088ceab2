package session

import "sync"

// MemoryStore keeps the session in process memory only.
type MemoryStore struct {
	Broker

	mu   sync.RWMutex
	sess Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sess.AccessToken
}

func (m *MemoryStore) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sess.RefreshToken
}

func (m *MemoryStore) User() (User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sess.User, m.sess.Valid()
}

func (m *MemoryStore) Session() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sess, m.sess.Valid()
}

// SetSession replaces the session. An empty access token clears it.
func (m *MemoryStore) SetSession(access, refresh string, user User) error {
	if access == "" {
		return m.ClearSession()
	}

	m.mu.Lock()
	next := Session{AccessToken: access, RefreshToken: refresh, User: user}
	kind := transition(m.sess, next)
	m.sess = next
	m.mu.Unlock()

	m.Publish(Event{Kind: kind, User: user})

	return nil
}

func (m *MemoryStore) ClearSession() error {
	m.mu.Lock()
	had := m.sess.Valid()
	m.sess = Session{}
	m.mu.Unlock()

	if had {
		m.Publish(Event{Kind: Logout})
	}

	return nil
}

// load replaces the session without publishing.
func (m *MemoryStore) load(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sess = s
}
