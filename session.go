package tmsync

import (
	"context"
	"fmt"

	"github.com/taskmaster-app/tmsync/auth"
	"github.com/taskmaster-app/tmsync/session"
)

const (
	MsgSessionAdded          = "session added successfully"
	MsgSessionExists         = "session already exists"
	MsgSessionRemovalSuccess = "session removed successfully"
	MsgSessionRemovalFailure = "failed to remove session"
)

// Login signs in and switches every collection to the user.
func (c *Client) Login(ctx context.Context, username, password string) (session.User, error) {
	resp, err := auth.Login(ctx, auth.LoginInput{
		HTTPClient: c.HTTPClient,
		APIServer:  c.Config.APIURL,
		Username:   username,
		Password:   password,
		Store:      c.Session,
		Debug:      c.Config.Debug,
	})
	if err != nil {
		return session.User{}, err
	}

	c.signedIn(ctx, resp.User)

	return resp.User, nil
}

// Signup registers a user and signs them in.
func (c *Client) Signup(ctx context.Context, username, password, name string) (session.User, error) {
	resp, err := auth.Signup(ctx, auth.SignupInput{
		HTTPClient: c.HTTPClient,
		APIServer:  c.Config.APIURL,
		Username:   username,
		Password:   password,
		Name:       name,
		Store:      c.Session,
		Debug:      c.Config.Debug,
	})
	if err != nil {
		return session.User{}, err
	}

	c.signedIn(ctx, resp.User)

	return resp.User, nil
}

// signedIn initializes the collections for u unless the running
// coordinators already do so on the login event.
func (c *Client) signedIn(ctx context.Context, u session.User) {
	if c.running() {
		return
	}

	c.initialize(ctx, u.ID)
}

// AddSession signs in with credentials from the configuration, prompting on
// the terminal for any that are missing. An existing session is kept.
func (c *Client) AddSession(ctx context.Context) (string, error) {
	if _, ok := c.Session.Session(); ok {
		return MsgSessionExists, nil
	}

	username, password, _, err := auth.GetCredentials(c.Config.Viper, c.Config.APIURL)
	if err != nil {
		return "", fmt.Errorf("AddSession | %w", err)
	}

	if _, err = c.Login(ctx, username, password); err != nil {
		return "", fmt.Errorf("AddSession | %w", err)
	}

	return MsgSessionAdded, nil
}

// Logout forgets the session. Cached collections are kept for the next
// sign in.
func (c *Client) Logout() (string, error) {
	if err := c.Session.ClearSession(); err != nil {
		return MsgSessionRemovalFailure, fmt.Errorf("Logout | %w", err)
	}

	return MsgSessionRemovalSuccess, nil
}
