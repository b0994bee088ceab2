package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type MockKeyRingDodgy struct{}

func (k MockKeyRingDodgy) Set(service, user, password string) error {
	return fmt.Errorf("failed to set Session")
}

func (k MockKeyRingDodgy) Get(service, user string) (r string, err error) {
	return "an invalid Session", nil
}

func (k MockKeyRingDodgy) Delete(service, user string) error {
	return nil
}

func (k MockKeyRingDodgy) DeleteAll(service string) error {
	return fmt.Errorf("failed to delete all sessions")
}

// MockKeyRingDefined is a map backed keyring.
type MockKeyRingDefined map[string]string

func (k MockKeyRingDefined) Set(service, user, password string) error {
	k[service+"/"+user] = password
	return nil
}

func (k MockKeyRingDefined) Get(service, user string) (string, error) {
	v, ok := k[service+"/"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}

	return v, nil
}

func (k MockKeyRingDefined) Delete(service, user string) error {
	if _, ok := k[service+"/"+user]; !ok {
		return keyring.ErrNotFound
	}

	delete(k, service+"/"+user)

	return nil
}

func (k MockKeyRingDefined) DeleteAll(service string) error {
	for key := range k {
		delete(k, key)
	}

	return nil
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  1,
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	return tok
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()

	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	return Event{}
}

func TestExpired(t *testing.T) {
	now := time.Now()

	require.True(t, Session{AccessToken: signedToken(t, now.Add(-time.Minute))}.Expired(now))
	require.False(t, Session{AccessToken: signedToken(t, now.Add(time.Hour))}.Expired(now))
	require.False(t, Session{AccessToken: "opaque-token"}.Expired(now))
	require.False(t, Session{}.Expired(now))

	exp, ok := AccessExpiry(signedToken(t, now.Add(time.Hour)))
	require.True(t, ok)
	require.Equal(t, now.Add(time.Hour).Unix(), exp.Unix())
}

func TestMemoryStoreTransitions(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Session()
	require.False(t, ok)
	require.Empty(t, s.AccessToken())

	events, cancel := s.Subscribe()
	defer cancel()

	alice := User{ID: "1", Username: "alice"}
	require.NoError(t, s.SetSession("a1", "r1", alice))
	require.Equal(t, Event{Kind: Login, User: alice}, recv(t, events))

	require.NoError(t, s.SetSession("a2", "r2", alice))
	require.Equal(t, Refresh, recv(t, events).Kind)
	require.Equal(t, "a2", s.AccessToken())
	require.Equal(t, "r2", s.RefreshToken())

	bob := User{ID: "2", Username: "bob"}
	require.NoError(t, s.SetSession("b1", "rb", bob))
	require.Equal(t, Event{Kind: Login, User: bob}, recv(t, events))

	u, ok := s.User()
	require.True(t, ok)
	require.Equal(t, "bob", u.Username)

	require.NoError(t, s.ClearSession())
	require.Equal(t, Logout, recv(t, events).Kind)

	_, ok = s.User()
	require.False(t, ok)

	// clearing an absent session is silent
	require.NoError(t, s.ClearSession())
	select {
	case e := <-events:
		t.Fatalf("unexpected event %v", e.Kind)
	default:
	}
}

func TestBrokerDoesNotBlock(t *testing.T) {
	var b Broker

	slow, cancelSlow := b.Subscribe()
	defer cancelSlow()

	for i := 0; i < subscriberBuffer*3; i++ {
		b.Publish(Event{Kind: Refresh})
	}

	require.Len(t, slow, subscriberBuffer)

	fast, cancelFast := b.Subscribe()
	cancelFast()
	cancelFast()

	_, open := <-fast
	require.False(t, open)
}

func TestKeyringStoreRoundTrip(t *testing.T) {
	k := MockKeyRingDefined{}
	user := User{ID: "3", Username: "carol", IsPremium: true}

	s := NewKeyringStore(k, "", false)
	_, ok := s.Session()
	require.False(t, ok)

	require.NoError(t, s.SetSession("access", "refresh", user))
	require.Contains(t, k[KeyringService+"/"+KeyringApplicationName], `"access_token":"access"`)

	loaded := NewKeyringStore(k, "", false)
	sess, ok := loaded.Session()
	require.True(t, ok)
	require.Equal(t, Session{AccessToken: "access", RefreshToken: "refresh", User: user}, sess)

	require.NoError(t, loaded.ClearSession())
	require.Empty(t, k)

	_, ok = NewKeyringStore(k, "", false).Session()
	require.False(t, ok)
}

func TestKeyringStoreSealed(t *testing.T) {
	k := MockKeyRingDefined{}

	s := NewKeyringStore(k, "session-key", false)
	require.NoError(t, s.SetSession("access", "refresh", User{ID: "1"}))
	require.NotContains(t, k[KeyringService+"/"+KeyringApplicationName], "access")

	sess, ok := NewKeyringStore(k, "session-key", false).Session()
	require.True(t, ok)
	require.Equal(t, "access", sess.AccessToken)

	_, ok = NewKeyringStore(k, "wrong-key", false).Session()
	require.False(t, ok)

	_, ok = NewKeyringStore(k, "", false).Session()
	require.False(t, ok)
}

func TestKeyringStoreDodgy(t *testing.T) {
	s := NewKeyringStore(MockKeyRingDodgy{}, "", false)

	_, ok := s.Session()
	require.False(t, ok)

	require.Error(t, s.SetSession("access", "refresh", User{ID: "1"}))

	// the in-memory session is still usable for this process
	require.Equal(t, "access", s.AccessToken())
}
