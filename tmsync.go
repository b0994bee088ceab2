// Package tmsync keeps TaskMaster tasks, notes and projects usable offline.
// A Client caches each collection per user, applies edits locally at once
// and synchronizes them with the API in the background.
package tmsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/taskmaster-app/tmsync/auth"
	"github.com/taskmaster-app/tmsync/cache"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/config"
	"github.com/taskmaster-app/tmsync/items"
	"github.com/taskmaster-app/tmsync/remote"
	"github.com/taskmaster-app/tmsync/schemas"
	"github.com/taskmaster-app/tmsync/session"
	"github.com/taskmaster-app/tmsync/syncer"
	keyring "github.com/zalando/go-keyring"
)

// Options replace parts of the stack built from the configuration.
type Options struct {
	// Keyring backs the session when cfg.Keyring is set. Nil uses the OS
	// keyring.
	Keyring keyring.Keyring
	// Cache replaces the cache opened from the configuration.
	Cache cache.Store
	// SessionStore replaces the session store built from the configuration.
	SessionStore session.Store
	HTTPClient   *retryablehttp.Client
	Now          func() time.Time
}

type Client struct {
	Config     config.Config
	HTTPClient *retryablehttp.Client
	Session    session.Store
	Cache      cache.Store
	Refresher  *auth.Refresher

	Tasks    *syncer.Tasks
	Notes    *syncer.Notes
	Projects *syncer.Projects

	mu      sync.Mutex
	started bool

	settingsMu sync.Mutex
}

// New builds a client from cfg. Nothing is loaded or requested until
// Initialize or Start.
func New(cfg config.Config, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("New | %w", err)
	}

	c := &Client{Config: cfg}

	c.HTTPClient = opts.HTTPClient
	if c.HTTPClient == nil {
		c.HTTPClient = common.NewHTTPClient()
		c.HTTPClient.RetryMax = cfg.RetryMax
		c.HTTPClient.HTTPClient.Timeout = cfg.RequestTimeout
	}

	switch {
	case opts.SessionStore != nil:
		c.Session = opts.SessionStore
	case cfg.Keyring:
		c.Session = session.NewKeyringStore(opts.Keyring, cfg.SessionKey, cfg.Debug)
	default:
		c.Session = session.NewMemoryStore()
	}

	c.Cache = opts.Cache
	if c.Cache == nil {
		var err error

		if c.Cache, err = openCache(cfg); err != nil {
			return nil, fmt.Errorf("New | %w", err)
		}
	}

	var compiled map[string]*jsonschema.Schema

	if cfg.SchemaValidation {
		var err error

		if compiled, err = schemas.LoadSchemas(); err != nil {
			_ = c.Cache.Close()

			return nil, fmt.Errorf("New | %w", err)
		}
	}

	c.Refresher = auth.NewRefresher(c.HTTPClient, cfg.APIURL, c.Session, cfg.Debug)

	rcfg := remote.Config{
		HTTPClient: c.HTTPClient,
		APIServer:  cfg.APIURL,
		Store:      c.Session,
		Refresher:  c.Refresher,
		Schemas:    compiled,
		Debug:      cfg.Debug,
		Now:        opts.Now,
	}

	c.Tasks = syncer.NewTasks(syncer.Config[*items.Task, items.TaskPatch]{
		Remote:   remote.New[*items.Task, items.TaskPatch](remote.Tasks, rcfg),
		Cache:    c.Cache,
		Session:  c.Session,
		Interval: cfg.SyncInterval,
		Debug:    cfg.Debug,
		Now:      opts.Now,
	})

	c.Notes = syncer.NewNotes(syncer.Config[*items.Note, items.NotePatch]{
		Remote:   remote.New[*items.Note, items.NotePatch](remote.Notes, rcfg),
		Cache:    c.Cache,
		Session:  c.Session,
		Interval: cfg.SyncInterval,
		Debug:    cfg.Debug,
		Now:      opts.Now,
	})

	c.Projects = syncer.NewProjects(syncer.Config[*items.Project, items.ProjectPatch]{
		Remote:   remote.New[*items.Project, items.ProjectPatch](remote.Projects, rcfg),
		Cache:    c.Cache,
		Session:  c.Session,
		Interval: cfg.SyncInterval,
		Debug:    cfg.Debug,
		Now:      opts.Now,
	})

	return c, nil
}

func openCache(cfg config.Config) (cache.Store, error) {
	if cfg.CacheBackend == cache.BackendMemory {
		return cache.NewMemoryStore(), nil
	}

	path, err := cache.GenCacheDBPath(cfg.APIURL, cfg.CacheDir, common.LibName)
	if err != nil {
		return nil, err
	}

	return cache.Open(cfg.CacheBackend, path, cfg.Debug)
}

// Initialize loads every collection of the session user, or of the legacy
// unscoped cache when signed out, and starts a refresh of each.
func (c *Client) Initialize(ctx context.Context) {
	u, _ := c.Session.User()

	c.initialize(ctx, u.ID)
}

func (c *Client) initialize(ctx context.Context, userID items.ID) {
	c.Tasks.Initialize(ctx, userID)
	c.Notes.Initialize(ctx, userID)
	c.Projects.Initialize(ctx, userID)
}

// Start initializes the collections and keeps them synchronized until ctx
// is done or Stop is called.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}

	c.started = true

	c.Initialize(ctx)
	c.Tasks.Start(ctx)
	c.Notes.Start(ctx)
	c.Projects.Start(ctx)
}

func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Tasks.Stop()
	c.Notes.Stop()
	c.Projects.Stop()

	c.started = false
}

func (c *Client) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.started
}

// Wait blocks until background requests have finished.
func (c *Client) Wait() {
	c.Tasks.Wait()
	c.Notes.Wait()
	c.Projects.Wait()
}

// Close stops synchronization, waits for requests in flight and closes the
// cache.
func (c *Client) Close() error {
	c.Stop()
	c.Wait()

	if err := c.Cache.Close(); err != nil {
		return fmt.Errorf("Close | %w", err)
	}

	return nil
}

// Status returns the sync status of each collection.
func (c *Client) Status() map[string]syncer.Status {
	return map[string]syncer.Status{
		common.CollectionTasks:    c.Tasks.Status(),
		common.CollectionNotes:    c.Notes.Status(),
		common.CollectionProjects: c.Projects.Status(),
	}
}

// Err returns the failures behind the current statuses, joined.
func (c *Client) Err() error {
	return errors.Join(c.Tasks.LastError(), c.Notes.LastError(), c.Projects.LastError())
}

// Settings returns the preferences of the session user, or of the signed
// out device.
func (c *Client) Settings() (cache.Settings, error) {
	u, _ := c.Session.User()

	return cache.LoadSettings(c.Cache, u.ID)
}

// UpdateSettings applies fn to the current preferences and saves them.
func (c *Client) UpdateSettings(fn func(*cache.Settings)) (cache.Settings, error) {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()

	u, _ := c.Session.User()

	s, err := cache.LoadSettings(c.Cache, u.ID)
	if err != nil {
		return s, fmt.Errorf("UpdateSettings | %w", err)
	}

	fn(&s)

	if err = cache.SaveSettings(c.Cache, u.ID, s); err != nil {
		return s, fmt.Errorf("UpdateSettings | %w", err)
	}

	return s, nil
}
