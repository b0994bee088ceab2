package common

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// API.
	APIServer = "http://localhost:3000"

	// Collections.
	TasksPath    = "/tasks"
	NotesPath    = "/notes"
	ProjectsPath = "/projects"
	BackupPath   = "/notes/backup" // bulk upload of notes, deduplicated server side
	ChildTasks   = "/tasks"        // appended to a project's path to list its tasks

	// Authentication.
	LoginPath   = "/login"
	SignupPath  = "/signup"
	RefreshPath = "/refresh-token"

	// Cache collection keys.
	CollectionTasks    = "tasks"
	CollectionNotes    = "notes"
	CollectionProjects = "projects"
	CollectionSettings = "settings"

	// Legacy unscoped cache keys written by earlier clients.
	LegacyTasksKey    = "tasks"
	LegacyNotesKey    = "stickyNotes"
	LegacyProjectsKey = "projects"
	LegacySettingsKey = "userSettings"
	LegacyDarkMode    = "darkMode"
	LegacyAccentColor = "accentColor"

	// Sync.
	DefaultSyncInterval = 30 * time.Second

	// LOGGING.
	LibName       = "tmsync" // name of library used in logging
	MaxDebugChars = 120      // number of characters to display when logging API response body

	// HTTP.
	RequestTimeout    = 30 // seconds
	MaxRequestRetries = 3
)

// NewHTTPClient returns a retrying client that hands non-2xx responses back
// to the caller once retries are exhausted, so status codes stay visible.
// POST requests are never resent, see CheckRetry.
func NewHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = MaxRequestRetries
	c.CheckRetry = CheckRetry
	c.Backoff = retryablehttp.DefaultBackoff
	c.HTTPClient.Timeout = RequestTimeout * time.Second
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = nil

	return c
}

type noRetryKey struct{}

// WithoutRetry marks requests made with ctx as unsafe to resend.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

// CheckRetry is retryablehttp.DefaultRetryPolicy except that a request is
// sent once when its context is marked by WithoutRetry or its method is
// POST. A connection error carries no response, so only the mark covers it.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	if !retry {
		return false, checkErr
	}

	if marked, _ := ctx.Value(noRetryKey{}).(bool); marked {
		return false, nil
	}

	if resp != nil && resp.Request != nil && resp.Request.Method == http.MethodPost {
		return false, nil
	}

	return true, checkErr
}

const HeaderContentType = "Content-Type"

const (
	APIContentType = "application/json"
)
