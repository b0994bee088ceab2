package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/items"
	"github.com/taskmaster-app/tmsync/log"
	"github.com/taskmaster-app/tmsync/schemas"
	"github.com/taskmaster-app/tmsync/session"
)

var (
	// ErrAuthRequired is returned when there is no session to authenticate
	// the request with.
	ErrAuthRequired = errors.New("authentication required")
	// ErrAuthExpired is returned when the server rejected the access token
	// and it could not be renewed.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrNetwork wraps transport failures.
	ErrNetwork = errors.New("network failure")
	// ErrUnsupported is returned for an operation the resource lacks.
	ErrUnsupported = errors.New("operation not supported by resource")
)

// RequestError is a non-2xx response other than an authentication failure.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Resource describes a collection endpoint.
type Resource struct {
	Name         string
	Path         string
	UpdateMethod string
	Schema       string
	// BackupPath accepts a bulk upload when set.
	BackupPath string
	// TasksSuffix, when set, is appended to an item path to list the tasks
	// belonging to that item.
	TasksSuffix string
}

var (
	Tasks = Resource{
		Name:         common.CollectionTasks,
		Path:         common.TasksPath,
		UpdateMethod: http.MethodPatch,
		Schema:       schemas.Task,
	}
	Notes = Resource{
		Name:         common.CollectionNotes,
		Path:         common.NotesPath,
		UpdateMethod: http.MethodPut,
		Schema:       schemas.Note,
		BackupPath:   common.BackupPath,
	}
	Projects = Resource{
		Name:         common.CollectionProjects,
		Path:         common.ProjectsPath,
		UpdateMethod: http.MethodPut,
		Schema:       schemas.Project,
		TasksSuffix:  common.ChildTasks,
	}
)

// TokenRefresher renews an access token rejected by the server.
type TokenRefresher interface {
	Refresh(ctx context.Context, staleAccessToken string) (string, error)
}

type Config struct {
	HTTPClient *retryablehttp.Client
	APIServer  string
	Store      session.Store
	Refresher  TokenRefresher
	// Schemas enables validation of responses when set.
	Schemas map[string]*jsonschema.Schema
	Debug   bool
	Now     func() time.Time
}

// Client performs the CRUD calls for one Resource.
type Client[T items.Record[T], P any] struct {
	cfg    Config
	res    Resource
	schema *jsonschema.Schema
}

func New[T items.Record[T], P any](res Resource, cfg Config) *Client[T, P] {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = common.NewHTTPClient()
	}

	if cfg.APIServer == "" {
		cfg.APIServer = common.APIServer
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Client[T, P]{cfg: cfg, res: res}

	if cfg.Schemas != nil {
		c.schema = cfg.Schemas[res.Schema]
	}

	return c
}

func (c *Client[T, P]) Resource() Resource {
	return c.res
}

// List returns every item of the resource owned by the session user. With
// schema validation enabled, invalid elements are dropped.
func (c *Client[T, P]) List(ctx context.Context) ([]T, error) {
	body, err := c.do(ctx, http.MethodGet, c.res.Path, nil)
	if err != nil {
		return nil, err
	}

	return decodeList[T](c.schema, "List", c.res.Name, body, c.cfg.Debug)
}

// ProjectTasks lists the tasks belonging to the item id. Only resources with
// a TasksSuffix serve it.
func (c *Client[T, P]) ProjectTasks(ctx context.Context, id items.ID) ([]*items.Task, error) {
	if c.res.TasksSuffix == "" {
		return nil, fmt.Errorf("ProjectTasks | %s: %w", c.res.Name, ErrUnsupported)
	}

	body, err := c.do(ctx, http.MethodGet, c.itemPath(id)+c.res.TasksSuffix, nil)
	if err != nil {
		return nil, err
	}

	var schema *jsonschema.Schema
	if c.cfg.Schemas != nil {
		schema = c.cfg.Schemas[schemas.Task]
	}

	return decodeList[*items.Task](schema, "ProjectTasks", common.CollectionTasks, body, c.cfg.Debug)
}

// decodeList decodes a list response, dropping elements that fail schema
// when it is set.
func decodeList[E items.Record[E]](schema *jsonschema.Schema, op, name string, body []byte, debug bool) ([]E, error) {
	if schema != nil {
		var (
			invalid []error
			err     error
		)

		body, invalid, err = schemas.FilterValid(schema, body)
		if err != nil {
			return nil, fmt.Errorf("%s | %s: %w", op, name, err)
		}

		for _, e := range invalid {
			log.DebugPrint(debug, fmt.Sprintf("%s | %s: dropping invalid item: %v", op, name, e), common.MaxDebugChars)
		}
	}

	out, skipped, err := items.DecodeAll[E](body)
	if err != nil {
		return nil, fmt.Errorf("%s | %s: %w", op, name, err)
	}

	if skipped > 0 {
		log.DebugPrint(debug, fmt.Sprintf("%s | %s: skipped %d undecodable items", op, name, skipped), common.MaxDebugChars)
	}

	for _, v := range out {
		markSynced(v.Common())
	}

	return out, nil
}

// Create posts the item's payload and returns the server's copy.
func (c *Client[T, P]) Create(ctx context.Context, item T) (T, error) {
	body, err := c.do(ctx, http.MethodPost, c.res.Path, item.Payload())
	if err != nil {
		var zero T
		return zero, err
	}

	return c.decodeItem("Create", body)
}

// Update sends a partial update and returns the server's copy.
func (c *Client[T, P]) Update(ctx context.Context, id items.ID, patch P) (T, error) {
	body, err := c.do(ctx, c.res.UpdateMethod, c.itemPath(id), patch)
	if err != nil {
		var zero T
		return zero, err
	}

	return c.decodeItem("Update", body)
}

// Remove deletes the item. An item the server no longer has counts as
// removed.
func (c *Client[T, P]) Remove(ctx context.Context, id items.ID) error {
	_, err := c.do(ctx, http.MethodDelete, c.itemPath(id), nil)

	var re *RequestError
	if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
		return nil
	}

	return err
}

// Backup uploads in for server side deduplication.
func (c *Client[T, P]) Backup(ctx context.Context, in []T) error {
	if c.res.BackupPath == "" {
		return fmt.Errorf("Backup | %s: %w", c.res.Name, ErrUnsupported)
	}

	if in == nil {
		in = []T{}
	}

	_, err := c.do(ctx, http.MethodPost, c.res.BackupPath, map[string][]T{c.res.Name: in})

	return err
}

func (c *Client[T, P]) itemPath(id items.ID) string {
	return c.res.Path + "/" + id.String()
}

func (c *Client[T, P]) decodeItem(op string, body []byte) (T, error) {
	if c.schema != nil {
		if err := schemas.Validate(c.schema, body); err != nil {
			var zero T
			return zero, fmt.Errorf("%s | %s: invalid response: %w", op, c.res.Name, err)
		}
	}

	out, err := items.DecodeOne[T](body)
	if err != nil {
		return out, fmt.Errorf("%s | %s: %w", op, c.res.Name, err)
	}

	markSynced(out.Common())

	return out, nil
}

// markSynced resets the local sync fields of a server copy. The server
// stores whatever it is sent, including these fields from a backup.
func markSynced(c *items.ItemCommon) {
	c.SyncState = items.Synced
	c.Dirty = false
}
