package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/log"
	"github.com/taskmaster-app/tmsync/session"
)

// ErrUnreachable wraps transport failures talking to the auth endpoints.
var ErrUnreachable = errors.New("auth server unreachable")

// ErrorResponse is the body the API returns with a non-2xx status.
type ErrorResponse struct {
	Message string `json:"error"`
}

// StatusError is returned for a non-2xx response from an auth endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}

	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Rejected reports whether the server refused the request itself, as opposed
// to failing to process it. Timeouts and rate limiting are not rejections.
func (e *StatusError) Rejected() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}

	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Response is returned by login, signup and refresh. Signup and refresh may
// omit fields depending on the server version.
type Response struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	User         session.User `json:"user"`
	Message      string       `json:"message,omitempty"`
}

type LoginInput struct {
	HTTPClient *retryablehttp.Client
	APIServer  string
	Username   string
	Password   string
	// Store receives the session on success when set.
	Store session.Store
	Debug bool
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a session.
func Login(ctx context.Context, input LoginInput) (Response, error) {
	if input.APIServer == "" {
		input.APIServer = common.APIServer
	}

	if strings.TrimSpace(input.Username) == "" || input.Password == "" {
		return Response{}, fmt.Errorf("Login | username and password are required")
	}

	var out Response

	if err := postJSON(ctx, input.HTTPClient, input.APIServer+common.LoginPath, loginRequest{
		Username: input.Username,
		Password: input.Password,
	}, &out, input.Debug); err != nil {
		return Response{}, fmt.Errorf("Login | %w", err)
	}

	if out.Token == "" {
		return Response{}, fmt.Errorf("Login | response did not include a token")
	}

	if input.Store != nil {
		if err := input.Store.SetSession(out.Token, out.RefreshToken, out.User); err != nil {
			log.DebugPrint(input.Debug, fmt.Sprintf("Login | failed to persist session: %v", err), common.MaxDebugChars)
		}
	}

	return out, nil
}

type SignupInput struct {
	HTTPClient *retryablehttp.Client
	APIServer  string
	Username   string
	Password   string
	Name       string
	Store      session.Store
	Debug      bool
}

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// Signup registers a user. Servers that answer without a token get a
// follow-up login with the same credentials.
func Signup(ctx context.Context, input SignupInput) (Response, error) {
	if input.APIServer == "" {
		input.APIServer = common.APIServer
	}

	if strings.TrimSpace(input.Username) == "" || input.Password == "" {
		return Response{}, fmt.Errorf("Signup | username and password are required")
	}

	var out Response

	if err := postJSON(ctx, input.HTTPClient, input.APIServer+common.SignupPath, signupRequest{
		Username: input.Username,
		Password: input.Password,
		Name:     input.Name,
	}, &out, input.Debug); err != nil {
		return Response{}, fmt.Errorf("Signup | %w", err)
	}

	if out.Token == "" {
		log.DebugPrint(input.Debug, "Signup | no token returned, signing in", common.MaxDebugChars)

		return Login(ctx, LoginInput{
			HTTPClient: input.HTTPClient,
			APIServer:  input.APIServer,
			Username:   input.Username,
			Password:   input.Password,
			Store:      input.Store,
			Debug:      input.Debug,
		})
	}

	if input.Store != nil {
		if err := input.Store.SetSession(out.Token, out.RefreshToken, out.User); err != nil {
			log.DebugPrint(input.Debug, fmt.Sprintf("Signup | failed to persist session: %v", err), common.MaxDebugChars)
		}
	}

	return out, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RequestRefreshToken exchanges a refresh token for a new access token. The
// response may not carry a rotated refresh token or the user.
func RequestRefreshToken(ctx context.Context, client *retryablehttp.Client, apiServer, refreshToken string, debug bool) (Response, error) {
	if apiServer == "" {
		apiServer = common.APIServer
	}

	var out Response

	if err := postJSON(ctx, client, apiServer+common.RefreshPath, refreshRequest{RefreshToken: refreshToken}, &out, debug); err != nil {
		return Response{}, fmt.Errorf("RequestRefreshToken | %w", err)
	}

	return out, nil
}

func postJSON(ctx context.Context, client *retryablehttp.Client, reqURL string, body, out any, debug bool) error {
	if client == nil {
		client = common.NewHTTPClient()
	}

	reqBodyBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(common.WithoutRetry(ctx), http.MethodPost, reqURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return err
	}

	req.Header.Set(common.HeaderContentType, common.APIContentType)

	start := time.Now()
	resp, err := client.Do(req)
	log.DebugPrint(debug, fmt.Sprintf("POST %s | request took: %v", reqURL, time.Since(start)), common.MaxDebugChars)

	if err != nil {
		return processConnectionFailure(err, reqURL)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	log.DebugPrint(debug, fmt.Sprintf("POST %s | status %d | %s", reqURL, resp.StatusCode, respBody), common.MaxDebugChars)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		_ = json.Unmarshal(respBody, &errResp)

		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}

	if err = json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

func processConnectionFailure(i error, reqURL string) error {
	switch {
	case strings.Contains(i.Error(), "no such host"):
		urlBits, pErr := url.Parse(reqURL)
		if pErr != nil {
			break
		}

		return fmt.Errorf("%w: %s cannot be resolved", ErrUnreachable, urlBits.Hostname())
	case strings.Contains(i.Error(), "unsupported protocol scheme"):
		return fmt.Errorf("%w: protocol is missing from API server URL: %s", ErrUnreachable, reqURL)
	case strings.Contains(i.Error(), "i/o timeout"), strings.Contains(i.Error(), "deadline exceeded"):
		return fmt.Errorf("%w: timed out connecting to %s", ErrUnreachable, reqURL)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, i)
}
