package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/taskmaster-app/tmsync/items"
)

const (
	KeyringApplicationName = "Session"
	KeyringService         = "TaskMaster"
)

var ErrNoSession = errors.New("no session")

// User is the profile returned by the auth endpoints.
type User struct {
	ID          items.ID       `json:"id"`
	Username    string         `json:"username"`
	Name        string         `json:"name,omitempty"`
	IsAdmin     bool           `json:"isAdmin,omitempty"`
	IsPremium   bool           `json:"isPremium,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// Session is the tuple written and cleared as a whole by a Store.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

func (s Session) Valid() bool {
	return s.AccessToken != ""
}

// Expired reports whether the access token's exp claim is before now. Tokens
// that can't be parsed as a JWT, or that carry no exp, are never expired.
func (s Session) Expired(now time.Time) bool {
	exp, ok := AccessExpiry(s.AccessToken)
	if !ok {
		return false
	}

	return !exp.After(now)
}

// AccessExpiry reads the exp claim without verifying the signature. The
// server is the only party that can verify the token.
func AccessExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

// Store holds the current session. Reads never fail; writes replace the
// whole tuple and emit an Event to subscribers.
type Store interface {
	AccessToken() string
	RefreshToken() string
	User() (User, bool)
	Session() (Session, bool)
	SetSession(access, refresh string, user User) error
	ClearSession() error
	Subscribe() (<-chan Event, func())
}

// transition returns the kind of event emitted when next replaces prev.
func transition(prev, next Session) EventKind {
	if !prev.Valid() || prev.User.ID != next.User.ID {
		return Login
	}

	return Refresh
}
