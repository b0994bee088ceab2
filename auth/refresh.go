package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/log"
	"github.com/taskmaster-app/tmsync/session"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrRefreshFailed means the server rejected the refresh token. The
	// session has been cleared.
	ErrRefreshFailed = errors.New("refresh token rejected")
	// ErrRefreshUnavailable means the refresh could not be completed (network
	// or server error). The session is left in place.
	ErrRefreshUnavailable = errors.New("token refresh unavailable")
)

// Refresher renews the access token in a session.Store. Concurrent callers
// share a single request.
type Refresher struct {
	HTTPClient *retryablehttp.Client
	APIServer  string
	Store      session.Store
	Debug      bool

	group singleflight.Group
}

func NewRefresher(client *retryablehttp.Client, apiServer string, store session.Store, debug bool) *Refresher {
	return &Refresher{
		HTTPClient: client,
		APIServer:  apiServer,
		Store:      store,
		Debug:      debug,
	}
}

// Refresh returns an access token newer than stale. If the stored token
// already differs from stale another caller has refreshed it and no request
// is made.
func (r *Refresher) Refresh(ctx context.Context, stale string) (string, error) {
	if cur := r.Store.AccessToken(); cur != "" && cur != stale {
		return cur, nil
	}

	v, err, shared := r.group.Do("refresh", func() (interface{}, error) {
		return r.refresh(context.WithoutCancel(ctx), stale)
	})

	log.DebugPrint(r.Debug, fmt.Sprintf("Refresh | shared: %t err: %v", shared, err), common.MaxDebugChars)

	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (r *Refresher) refresh(ctx context.Context, stale string) (string, error) {
	sess, ok := r.Store.Session()
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, session.ErrNoSession)
	}

	if sess.AccessToken != stale {
		return sess.AccessToken, nil
	}

	if sess.RefreshToken == "" {
		r.clear()

		return "", fmt.Errorf("%w: no refresh token available", ErrRefreshFailed)
	}

	out, err := RequestRefreshToken(ctx, r.HTTPClient, r.APIServer, sess.RefreshToken, r.Debug)

	// the session may have been replaced while the request was in flight, in
	// which case this result is stale whatever it is
	cur, curOK := r.Store.Session()
	if changed(sess, cur, curOK) {
		if !curOK {
			return "", fmt.Errorf("%w: %v", ErrRefreshFailed, session.ErrNoSession)
		}

		log.DebugPrint(r.Debug, "Refresh | session changed during refresh, using current session", common.MaxDebugChars)

		return cur.AccessToken, nil
	}

	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Rejected() {
			r.clear()

			return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}

		return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}

	if out.Token == "" {
		return "", fmt.Errorf("%w: response did not include a token", ErrRefreshUnavailable)
	}

	refreshToken := out.RefreshToken
	if refreshToken == "" {
		refreshToken = sess.RefreshToken
	}

	user := out.User
	if user.ID == "" {
		user = sess.User
	}

	if err = r.Store.SetSession(out.Token, refreshToken, user); err != nil {
		log.DebugPrint(r.Debug, fmt.Sprintf("Refresh | failed to persist session: %v", err), common.MaxDebugChars)
	}

	return out.Token, nil
}

func (r *Refresher) clear() {
	if err := r.Store.ClearSession(); err != nil {
		log.DebugPrint(r.Debug, fmt.Sprintf("Refresh | failed to clear session: %v", err), common.MaxDebugChars)
	}
}

func changed(before, after session.Session, ok bool) bool {
	return !ok || before.AccessToken != after.AccessToken || before.RefreshToken != after.RefreshToken
}
