package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/taskmaster-app/tmsync/auth"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/log"
	"github.com/taskmaster-app/tmsync/session"
)

// do sends an authenticated request. The call gets at most one token
// refresh: either up front for an access token that has already expired, or
// after a 401. A 401 after that refresh clears the session.
func (c *Client[T, P]) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody []byte

	if body != nil {
		var err error

		if reqBody, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("%s %s | %w", method, path, err)
		}
	}

	token := c.cfg.Store.AccessToken()
	if token == "" {
		return nil, ErrAuthRequired
	}

	refreshed := false

	if c.cfg.Refresher != nil && (session.Session{AccessToken: token}).Expired(c.cfg.Now()) {
		log.DebugPrint(c.cfg.Debug, fmt.Sprintf("%s %s | access token expired, refreshing", method, path), common.MaxDebugChars)

		var err error

		if token, err = c.refresh(ctx, token); err != nil {
			return nil, err
		}

		refreshed = true
	}

	status, respBody, err := c.send(ctx, method, path, reqBody, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if refreshed || c.cfg.Refresher == nil {
			c.expire()

			return nil, fmt.Errorf("%s %s | %w", method, path, ErrAuthExpired)
		}

		if token, err = c.refresh(ctx, token); err != nil {
			return nil, err
		}

		if status, respBody, err = c.send(ctx, method, path, reqBody, token); err != nil {
			return nil, err
		}

		if status == http.StatusUnauthorized {
			c.expire()

			return nil, fmt.Errorf("%s %s | %w", method, path, ErrAuthExpired)
		}
	}

	if status < 200 || status > 299 {
		return nil, &RequestError{
			Method:     method,
			Path:       path,
			StatusCode: status,
			Body:       string(respBody),
		}
	}

	return respBody, nil
}

func (c *Client[T, P]) send(ctx context.Context, method, path string, reqBody []byte, token string) (int, []byte, error) {
	var rawBody interface{}
	if reqBody != nil {
		rawBody = bytes.NewReader(reqBody)
	}

	if method == http.MethodPost {
		ctx = common.WithoutRetry(ctx)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.cfg.APIServer+path, rawBody)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s | %w", method, path, err)
	}

	if reqBody != nil {
		req.Header.Set(common.HeaderContentType, common.APIContentType)
	}

	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	log.DebugPrint(c.cfg.Debug, fmt.Sprintf("%s %s | request took: %v", method, path, time.Since(start)), common.MaxDebugChars)

	if err != nil {
		return 0, nil, fmt.Errorf("%s %s | %w: %v", method, path, ErrNetwork, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s | %w: %v", method, path, ErrNetwork, err)
	}

	log.DebugPrint(c.cfg.Debug, fmt.Sprintf("%s %s | status %d | %s", method, path, resp.StatusCode, respBody), common.MaxDebugChars)

	return resp.StatusCode, respBody, nil
}

func (c *Client[T, P]) refresh(ctx context.Context, stale string) (string, error) {
	token, err := c.cfg.Refresher.Refresh(ctx, stale)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, auth.ErrRefreshUnavailable):
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	default:
		return "", fmt.Errorf("%w: %w", ErrAuthExpired, err)
	}
}

// expire clears a session the server keeps rejecting.
func (c *Client[T, P]) expire() {
	if err := c.cfg.Store.ClearSession(); err != nil {
		log.DebugPrint(c.cfg.Debug, fmt.Sprintf("failed to clear session: %v", err), common.MaxDebugChars)
	}
}
