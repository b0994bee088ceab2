package tmsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taskmaster-app/tmsync/session"
	keyring "github.com/zalando/go-keyring"
)

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

func TestAddSession(t *testing.T) {
	srv := newServer(t)

	cfg := testConfig(srv)
	cfg.Viper.Set("username", "alice")
	cfg.Viper.Set("password", "secret")

	c := newTestClient(t, cfg, Options{})

	msg, err := c.AddSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, MsgSessionAdded, msg)

	c.Wait()

	u, ok := c.Session.User()
	require.True(t, ok)
	require.Equal(t, "alice", u.Username)

	msg, err = c.AddSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, MsgSessionExists, msg)
	require.Equal(t, 1, srv.Calls("POST /login"))
}

func TestAddSessionBadCredentials(t *testing.T) {
	srv := newServer(t)

	cfg := testConfig(srv)
	cfg.Viper.Set("username", "alice")
	cfg.Viper.Set("password", "nope")

	c := newTestClient(t, cfg, Options{})

	_, err := c.AddSession(context.Background())
	require.Error(t, err)

	_, ok := c.Session.Session()
	require.False(t, ok)
}

func TestKeyringSessionPersists(t *testing.T) {
	srv := newServer(t)
	k := MockKeyRingDefined{}

	cfg := testConfig(srv)
	cfg.Keyring = true
	cfg.SessionKey = "sealing key"

	c := newTestClient(t, cfg, Options{Keyring: k})
	require.IsType(t, &session.KeyringStore{}, c.Session)

	_, err := c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	c.Wait()

	stored, err := k.Get(session.KeyringService, session.KeyringApplicationName)
	require.NoError(t, err)
	require.NotContains(t, stored, "refresh")

	again := newTestClient(t, cfg, Options{Keyring: k})
	u, ok := again.Session.User()
	require.True(t, ok)
	require.Equal(t, "alice", u.Username)

	msg, err := again.Logout()
	require.NoError(t, err)
	require.Equal(t, MsgSessionRemovalSuccess, msg)

	_, err = k.Get(session.KeyringService, session.KeyringApplicationName)
	require.ErrorIs(t, err, keyring.ErrNotFound)
}
