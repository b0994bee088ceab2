package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/items"
	"github.com/taskmaster-app/tmsync/session"
	"github.com/taskmaster-app/tmsync/testutil"
)

func TestLogin(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	id := srv.AddUser("alice", "secret")
	store := session.NewMemoryStore()

	out, err := Login(context.Background(), LoginInput{
		HTTPClient: testutil.NewHTTPClient(),
		APIServer:  srv.URL,
		Username:   "alice",
		Password:   "secret",
		Store:      store,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Token)
	require.NotEmpty(t, out.RefreshToken)
	require.Equal(t, items.ID(id), out.User.ID)

	sess, ok := store.Session()
	require.True(t, ok)
	require.Equal(t, out.Token, sess.AccessToken)
	require.Equal(t, "alice", sess.User.Username)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	srv.AddUser("alice", "secret")

	_, err := Login(context.Background(), LoginInput{
		HTTPClient: testutil.NewHTTPClient(),
		APIServer:  srv.URL,
		Username:   "alice",
		Password:   "wrong",
	})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
	require.Equal(t, "Invalid credentials", se.Message)

	_, err = Login(context.Background(), LoginInput{APIServer: srv.URL})
	require.Error(t, err)
}

func TestLoginUnreachable(t *testing.T) {
	_, err := Login(context.Background(), LoginInput{
		HTTPClient: testutil.NewHTTPClient(),
		APIServer:  "http://127.0.0.1:1",
		Username:   "alice",
		Password:   "secret",
	})
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestSignupFallsBackToLogin(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	store := session.NewMemoryStore()

	out, err := Signup(context.Background(), SignupInput{
		HTTPClient: testutil.NewHTTPClient(),
		APIServer:  srv.URL,
		Username:   "bob",
		Password:   "pw",
		Name:       "Bob",
		Store:      store,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Token)
	require.Equal(t, 1, srv.Calls("POST /signup"))
	require.Equal(t, 1, srv.Calls("POST /login"))
	require.Equal(t, out.Token, store.AccessToken())
}

func TestSignupWithToken(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	srv.SignupReturnsToken = true

	out, err := Signup(context.Background(), SignupInput{
		HTTPClient: testutil.NewHTTPClient(),
		APIServer:  srv.URL,
		Username:   "bob",
		Password:   "pw",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Token)
	require.Equal(t, 0, srv.Calls("POST /login"))

	_, err = Signup(context.Background(), SignupInput{
		HTTPClient: testutil.NewHTTPClient(),
		APIServer:  srv.URL,
		Username:   "bob",
		Password:   "pw",
	})
	require.Error(t, err)
}

func newRefresher(t *testing.T, srv *testutil.Server, store session.Store) *Refresher {
	t.Helper()

	return NewRefresher(testutil.NewHTTPClient(), srv.URL, store, false)
}

func TestRefresh(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	srv.RotateRefreshTokens = true
	srv.AddUser("alice", "secret")
	srv.AuthorizeRefresh("r0", "alice")

	store := session.NewMemoryStore()
	require.NoError(t, store.SetSession("a0", "r0", session.User{ID: "1", Username: "alice"}))

	events, cancel := store.Subscribe()
	defer cancel()

	r := newRefresher(t, srv, store)

	token, err := r.Refresh(context.Background(), "a0")
	require.NoError(t, err)
	require.NotEqual(t, "a0", token)
	require.Equal(t, token, store.AccessToken())
	require.NotEqual(t, "r0", store.RefreshToken())
	require.Equal(t, session.Refresh, (<-events).Kind)

	// a caller holding the old token gets the new one without a request
	again, err := r.Refresh(context.Background(), "a0")
	require.NoError(t, err)
	require.Equal(t, token, again)
	require.Equal(t, 1, srv.Calls("POST /refresh-token"))
}

func TestRefreshMinimalResponseKeepsSession(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	srv.MinimalRefresh = true
	srv.AddUser("alice", "secret")
	srv.AuthorizeRefresh("r0", "alice")

	store := session.NewMemoryStore()
	user := session.User{ID: "1", Username: "alice", IsPremium: true}
	require.NoError(t, store.SetSession("a0", "r0", user))

	token, err := newRefresher(t, srv, store).Refresh(context.Background(), "a0")
	require.NoError(t, err)

	sess, ok := store.Session()
	require.True(t, ok)
	require.Equal(t, token, sess.AccessToken)
	require.Equal(t, "r0", sess.RefreshToken)
	require.Equal(t, user, sess.User)
}

func TestRefreshRejectedClearsSession(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	store := session.NewMemoryStore()
	require.NoError(t, store.SetSession("a0", "revoked", session.User{ID: "1"}))

	events, cancel := store.Subscribe()
	defer cancel()

	_, err := newRefresher(t, srv, store).Refresh(context.Background(), "a0")
	require.ErrorIs(t, err, ErrRefreshFailed)

	_, ok := store.Session()
	require.False(t, ok)
	require.Equal(t, session.Logout, (<-events).Kind)
}

func TestRefreshUnavailableKeepsSession(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.SetSession("a0", "r0", session.User{ID: "1"}))

	r := NewRefresher(testutil.NewHTTPClient(), "http://127.0.0.1:1", store, false)

	_, err := r.Refresh(context.Background(), "a0")
	require.ErrorIs(t, err, ErrRefreshUnavailable)
	require.Equal(t, "a0", store.AccessToken())
}

func TestRefreshIsNotResentAfterServerError(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	srv.RotateRefreshTokens = true
	srv.AddUser("alice", "secret")
	srv.AuthorizeRefresh("r0", "alice")
	srv.FailNext("POST /refresh-token", http.StatusBadGateway, 1)

	store := session.NewMemoryStore()
	require.NoError(t, store.SetSession("a0", "r0", session.User{ID: "1"}))

	// the production client, retries enabled
	r := NewRefresher(common.NewHTTPClient(), srv.URL, store, false)

	_, err := r.Refresh(context.Background(), "a0")
	require.ErrorIs(t, err, ErrRefreshUnavailable)
	require.Equal(t, 1, srv.Calls("POST /refresh-token"))

	sess, ok := store.Session()
	require.True(t, ok)
	require.Equal(t, "r0", sess.RefreshToken)

	// the refresh token was never spent, so the next attempt succeeds
	token, err := r.Refresh(context.Background(), "a0")
	require.NoError(t, err)
	require.Equal(t, token, store.AccessToken())
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	store := session.NewMemoryStore()
	require.NoError(t, store.SetSession("a0", "", session.User{ID: "1"}))

	_, err := newRefresher(t, srv, store).Refresh(context.Background(), "a0")
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.Equal(t, 0, srv.Calls("POST /refresh-token"))

	_, err = newRefresher(t, srv, store).Refresh(context.Background(), "a0")
	require.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRefreshConcurrentCallersShareOneRequest(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()

	srv.RotateRefreshTokens = true
	srv.AddUser("alice", "secret")
	srv.AuthorizeRefresh("r0", "alice")

	store := session.NewMemoryStore()
	require.NoError(t, store.SetSession("a0", "r0", session.User{ID: "1"}))

	r := newRefresher(t, srv, store)

	const callers = 8

	var wg sync.WaitGroup

	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			tokens[i], errs[i] = r.Refresh(context.Background(), "a0")
		}(i)
	}

	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, store.AccessToken(), tokens[i])
	}

	// rotation would reject a second request with the spent refresh token
	require.Equal(t, 1, srv.Calls("POST /refresh-token"))
	_, ok := store.Session()
	require.True(t, ok)
}

func TestGetCredentials(t *testing.T) {
	v := viper.New()
	v.Set("username", "alice")
	v.Set("password", "secret")

	u, p, s, err := GetCredentials(v, "")
	require.NoError(t, err)
	require.Equal(t, "alice", u)
	require.Equal(t, "secret", p)
	require.Equal(t, "http://localhost:3000", s)

	v.Set("api_url", "http://example.com")
	_, _, s, err = GetCredentials(v, "")
	require.NoError(t, err)
	require.Equal(t, "http://example.com", s)

	_, _, s, err = GetCredentials(v, "http://override")
	require.NoError(t, err)
	require.Equal(t, "http://override", s)
}
