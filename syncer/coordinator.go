package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/taskmaster-app/tmsync/cache"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/items"
	"github.com/taskmaster-app/tmsync/log"
	"github.com/taskmaster-app/tmsync/reconcile"
	"github.com/taskmaster-app/tmsync/remote"
	"github.com/taskmaster-app/tmsync/session"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusSyncing      Status = "syncing"
	StatusOnline       Status = "online"
	StatusOffline      Status = "offline"
	StatusAuthRequired Status = "auth_required"
	StatusFailed       Status = "failed"
)

// maxConcurrentPushes bounds the requests a single push cycle has in flight.
const maxConcurrentPushes = 4

// Remote is the server side of a collection. *remote.Client satisfies it.
type Remote[T items.Record[T], P any] interface {
	Resource() remote.Resource
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, id items.ID, patch P) (T, error)
	Remove(ctx context.Context, id items.ID) error
}

type Config[T items.Record[T], P any] struct {
	Remote  Remote[T, P]
	Cache   cache.Store
	Session session.Store
	// Interval between periodic refreshes once started. Defaults to
	// common.DefaultSyncInterval.
	Interval time.Duration
	Debug    bool
	Now      func() time.Time
}

// Coordinator keeps one collection of the signed in user in memory, in the
// local cache and on the server. Writes apply locally and return at once;
// the requests they cause run in the background. Failures never reach the
// caller and are reported through Status.
type Coordinator[T items.Item[T, P], P any] struct {
	cfg  Config[T, P]
	name string

	mu     sync.Mutex
	gen    uint64
	userID items.ID
	items  []T
	status Status
	err    error

	// server ids whose remove is in flight
	tombstones map[items.ID]struct{}
	// local ids whose create is in flight
	creating map[items.ID]struct{}
	// local ids deleted while their create was in flight
	orphaned map[items.ID]struct{}
	// in flight updates per server id
	updating map[items.ID]int

	lastDeleted    T
	hasLastDeleted bool

	wg sync.WaitGroup

	loopMu sync.Mutex
	stop   context.CancelFunc
	done   chan struct{}
}

func New[T items.Item[T, P], P any](cfg Config[T, P]) *Coordinator[T, P] {
	if cfg.Interval <= 0 {
		cfg.Interval = common.DefaultSyncInterval
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryStore()
	}

	if cfg.Session == nil {
		cfg.Session = session.NewMemoryStore()
	}

	c := &Coordinator[T, P]{
		cfg:    cfg,
		name:   cfg.Remote.Resource().Name,
		status: StatusIdle,
	}
	c.reset()

	return c
}

func (c *Coordinator[T, P]) reset() {
	c.items = nil
	c.tombstones = make(map[items.ID]struct{})
	c.creating = make(map[items.ID]struct{})
	c.orphaned = make(map[items.ID]struct{})
	c.updating = make(map[items.ID]int)

	var zero T

	c.lastDeleted = zero
	c.hasLastDeleted = false
}

// Initialize switches the coordinator to userID, loads the cached
// collection and starts a refresh from the server. The cached items are
// returned.
func (c *Coordinator[T, P]) Initialize(ctx context.Context, userID items.ID) []T {
	c.mu.Lock()

	// items created while signed out go to whoever signs in
	var carried []T

	if c.userID == "" && userID != "" {
		for _, it := range c.items {
			if ic := it.Common(); ic.OwnerID == "" && ic.IsLocalOnly() {
				carried = append(carried, it)
			}
		}
	}

	c.gen++
	c.reset()
	c.userID = userID
	c.status = StatusIdle
	c.err = nil

	cached, err := cache.LoadCollection[T](c.cfg.Cache, userID, c.name, c.cfg.Debug)
	if err != nil {
		c.debug("Initialize", fmt.Sprintf("cache unavailable: %v", err))
	}

	for _, it := range carried {
		if items.FindByID(cached, it.Common().ID) < 0 {
			cached = append(cached, it)
		}
	}

	claimed := false

	if userID != "" {
		for _, it := range cached {
			if ic := it.Common(); ic.OwnerID == "" {
				ic.OwnerID = userID
				claimed = true
			}
		}
	}

	c.items = items.DeDupeByID(cached)
	reconcile.Sort(c.items)

	if claimed {
		c.persistLocked("Initialize")
	}

	out := items.CloneAll(c.items)

	c.mu.Unlock()

	c.async(func() {
		c.RefreshFromServer(context.WithoutCancel(ctx))
	})

	return out
}

// RefreshFromServer reconciles the collection with the server's copy and
// then pushes unsynced items. Without a session for the current user it
// does nothing beyond reporting auth_required.
func (c *Coordinator[T, P]) RefreshFromServer(ctx context.Context) {
	c.mu.Lock()
	gen := c.gen

	if !c.authorizedLocked() {
		c.setStatusLocked(StatusAuthRequired, nil)
		c.mu.Unlock()

		return
	}

	c.setStatusLocked(StatusSyncing, nil)
	c.mu.Unlock()

	server, err := c.cfg.Remote.List(ctx)

	c.mu.Lock()

	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.failLocked("RefreshFromServer", err)
		c.mu.Unlock()

		return
	}

	res := reconcile.Merge(c.items, server, reconcile.Options{
		Skip: c.tombstones,
		Hold: c.creating,
	})

	for local, adopted := range res.Adopted {
		c.debug("RefreshFromServer", fmt.Sprintf("%s matched server item %s", local, adopted))
	}

	c.items = res.Items
	c.persistLocked("RefreshFromServer")
	c.setStatusLocked(StatusOnline, nil)
	c.mu.Unlock()

	c.PushUnsyncedItems(ctx)
}

// PushUnsyncedItems creates every local only item on the server and resends
// edits the server has not acknowledged. Items already being pushed are
// skipped.
func (c *Coordinator[T, P]) PushUnsyncedItems(ctx context.Context) {
	c.mu.Lock()
	gen := c.gen

	if !c.authorizedLocked() {
		c.mu.Unlock()
		return
	}

	var creates, updates []T

	for _, it := range c.items {
		ic := it.Common()

		switch {
		case ic.IsLocalOnly():
			if _, busy := c.creating[ic.ID]; busy {
				continue
			}

			c.creating[ic.ID] = struct{}{}
			creates = append(creates, it.Clone())
		case ic.Dirty:
			if c.updating[ic.ID] > 0 {
				continue
			}

			c.updating[ic.ID]++
			updates = append(updates, it.Clone())
		}
	}

	c.mu.Unlock()

	if len(creates)+len(updates) == 0 {
		return
	}

	c.debug("PushUnsyncedItems", fmt.Sprintf("creating %d, updating %d", len(creates), len(updates)))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentPushes)

	for _, it := range creates {
		g.Go(func() error {
			return c.pushCreate(ctx, gen, it)
		})
	}

	for _, it := range updates {
		g.Go(func() error {
			ic := it.Common()

			return c.pushUpdate(ctx, gen, ic.ID, it.Patch(), ic.UpdatedAt)
		})
	}

	if err := g.Wait(); err == nil {
		c.mu.Lock()
		if gen == c.gen {
			c.setStatusLocked(StatusOnline, nil)
		}
		c.mu.Unlock()
	}
}

// CreateItem adds item as a local only item and creates it on the server in
// the background. The stored copy is returned.
func (c *Coordinator[T, P]) CreateItem(ctx context.Context, item T) T {
	now := c.cfg.Now()

	it := item.Clone()
	it.Normalize()

	ic := it.Common()
	if !ic.ID.IsLocal() {
		ic.ID = items.NewLocalID()
	}

	ic.SyncState = items.LocalOnly
	ic.Dirty = false

	if ic.CreatedAt.IsZero() {
		ic.CreatedAt = now
	}

	ic.Touch(now)

	c.mu.Lock()
	gen := c.gen

	ic.OwnerID = c.userID
	c.items = append(c.items, it)
	reconcile.Sort(c.items)
	c.persistLocked("CreateItem")

	push := c.authorizedLocked()
	if push {
		c.creating[ic.ID] = struct{}{}
	} else {
		c.setStatusLocked(StatusAuthRequired, nil)
	}

	out := it.Clone()
	c.mu.Unlock()

	if push {
		sent := it.Clone()

		c.async(func() {
			_ = c.pushCreate(context.WithoutCancel(ctx), gen, sent)
		})
	}

	return out
}

// UpdateItem applies patch to the item with id. Edits to a local only item
// stay local until it is created. It reports false when no such item
// exists.
func (c *Coordinator[T, P]) UpdateItem(ctx context.Context, id items.ID, patch P) (T, bool) {
	c.mu.Lock()
	gen := c.gen

	idx := items.FindByID(c.items, id)
	if idx < 0 {
		c.mu.Unlock()

		var zero T

		return zero, false
	}

	it := c.items[idx]
	it.Apply(patch)

	ic := it.Common()
	ic.Touch(c.cfg.Now())

	local := ic.IsLocalOnly()
	if !local {
		ic.Dirty = true
	}

	reconcile.Sort(c.items)
	c.persistLocked("UpdateItem")

	push := !local && c.authorizedLocked()
	if push {
		c.updating[id]++
	}

	out := it.Clone()
	sentAt := ic.UpdatedAt
	c.mu.Unlock()

	if push {
		c.async(func() {
			_ = c.pushUpdate(context.WithoutCancel(ctx), gen, id, patch, sentAt)
		})
	}

	return out, true
}

// DeleteItem removes the item with id. Items known to the server are removed
// there in the background, once. It reports false when no such item exists.
func (c *Coordinator[T, P]) DeleteItem(ctx context.Context, id items.ID) bool {
	c.mu.Lock()
	gen := c.gen

	idx := items.FindByID(c.items, id)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}

	it := c.items[idx]
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.lastDeleted = it.Clone()
	c.hasLastDeleted = true
	c.persistLocked("DeleteItem")

	if it.Common().IsLocalOnly() {
		if _, busy := c.creating[id]; busy {
			c.orphaned[id] = struct{}{}
		}

		c.mu.Unlock()

		return true
	}

	push := c.authorizedLocked()
	if push {
		c.tombstones[id] = struct{}{}
	}

	c.mu.Unlock()

	if push {
		c.async(func() {
			_ = c.pushRemove(context.WithoutCancel(ctx), gen, id)
		})
	}

	return true
}

// UndoDelete restores the most recently deleted item as a new local only
// item.
func (c *Coordinator[T, P]) UndoDelete(ctx context.Context) (T, bool) {
	c.mu.Lock()

	if !c.hasLastDeleted {
		c.mu.Unlock()

		var zero T

		return zero, false
	}

	it := c.lastDeleted
	c.hasLastDeleted = false

	var zero T

	c.lastDeleted = zero
	c.mu.Unlock()

	ic := it.Common()
	ic.ID = items.NewLocalID()

	return c.CreateItem(ctx, it), true
}

// Items returns a copy of the collection, pinned items first then newest
// first.
func (c *Coordinator[T, P]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	return items.CloneAll(c.items)
}

func (c *Coordinator[T, P]) Get(id items.ID) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := items.FindByID(c.items, id); idx >= 0 {
		return c.items[idx].Clone(), true
	}

	var zero T

	return zero, false
}

func (c *Coordinator[T, P]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// LastError returns the failure behind the current status, if any.
func (c *Coordinator[T, P]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

func (c *Coordinator[T, P]) UserID() items.ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.userID
}

// Wait blocks until background requests started so far have finished.
func (c *Coordinator[T, P]) Wait() {
	c.wg.Wait()
}

func (c *Coordinator[T, P]) pushCreate(ctx context.Context, gen uint64, sent T) error {
	localID := sent.Common().ID

	created, err := c.cfg.Remote.Create(ctx, sent)

	c.mu.Lock()

	delete(c.creating, localID)

	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}

	if err != nil {
		c.failLocked("pushCreate", err)
		c.mu.Unlock()

		return err
	}

	sid := created.Common().ID

	idx := items.FindByID(c.items, localID)
	if idx < 0 {
		_, orphan := c.orphaned[localID]
		delete(c.orphaned, localID)

		if !orphan {
			c.mu.Unlock()
			return nil
		}

		// a refresh may have listed the server copy meanwhile
		if n := len(c.items); len(removeID(&c.items, sid)) != n {
			c.persistLocked("pushCreate")
		}

		c.tombstones[sid] = struct{}{}
		c.mu.Unlock()

		c.debug("pushCreate", fmt.Sprintf("%s deleted while being created, removing %s", localID, sid))

		return c.pushRemove(ctx, gen, sid)
	}

	current := c.items[idx]
	cc := current.Common()

	// edited while the create was in flight
	edited := cc.UpdatedAt.After(sent.Common().UpdatedAt)

	var next T

	if edited {
		next = current.Clone()
		nc := next.Common()
		nc.ID = sid
		nc.OwnerID = created.Common().OwnerID
		nc.SyncState = items.Synced
		nc.Dirty = true
	} else {
		next = created
		next.Common().SyncState = items.Synced
	}

	removeID(&c.items, localID)
	// a refresh may already have listed the new server item
	removeID(&c.items, sid)
	c.items = append(c.items, next)

	reconcile.Sort(c.items)
	c.persistLocked("pushCreate")

	var patch P

	sentAt := next.Common().UpdatedAt
	if edited {
		c.updating[sid]++
		patch = next.Patch()
	}

	c.mu.Unlock()

	c.debug("pushCreate", fmt.Sprintf("%s is now %s", localID, sid))

	if edited {
		return c.pushUpdate(ctx, gen, sid, patch, sentAt)
	}

	return nil
}

// pushUpdate sends patch and adopts the server copy unless the item was
// edited again after sentAt.
func (c *Coordinator[T, P]) pushUpdate(ctx context.Context, gen uint64, id items.ID, patch P, sentAt time.Time) error {
	updated, err := c.cfg.Remote.Update(ctx, id, patch)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return nil
	}

	if c.updating[id]--; c.updating[id] <= 0 {
		delete(c.updating, id)
	}

	if err != nil {
		c.failLocked("pushUpdate", err)
		return err
	}

	idx := items.FindByID(c.items, id)
	if idx < 0 {
		return nil
	}

	if c.items[idx].Common().UpdatedAt.After(sentAt) {
		return nil
	}

	updated.Common().SyncState = items.Synced
	c.items[idx] = updated
	reconcile.Sort(c.items)
	c.persistLocked("pushUpdate")

	return nil
}

func (c *Coordinator[T, P]) pushRemove(ctx context.Context, gen uint64, id items.ID) error {
	err := c.cfg.Remote.Remove(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return nil
	}

	delete(c.tombstones, id)

	if err != nil {
		c.failLocked("pushRemove", err)
	}

	return err
}

// removeID deletes every entry with id from *in and returns the result.
func removeID[T items.Record[T]](in *[]T, id items.ID) []T {
	out := (*in)[:0]

	for _, v := range *in {
		if v.Common().ID != id {
			out = append(out, v)
		}
	}

	*in = out

	return out
}

// authorizedLocked reports whether requests may be made for the current
// user: a session exists and belongs to them.
func (c *Coordinator[T, P]) authorizedLocked() bool {
	u, ok := c.cfg.Session.User()
	if !ok {
		return false
	}

	return c.userID == "" || u.ID == "" || u.ID == c.userID
}

func (c *Coordinator[T, P]) persistLocked(op string) {
	if err := cache.SaveCollection(c.cfg.Cache, c.userID, c.name, c.items); err != nil {
		c.debug(op, fmt.Sprintf("failed to write cache: %v", err))
	}
}

func (c *Coordinator[T, P]) setStatusLocked(s Status, err error) {
	c.status = s
	c.err = err
}

func (c *Coordinator[T, P]) failLocked(op string, err error) {
	c.debug(op, err.Error())
	c.setStatusLocked(statusFor(err), err)
}

func statusFor(err error) Status {
	switch {
	case errors.Is(err, remote.ErrNetwork):
		return StatusOffline
	case errors.Is(err, remote.ErrAuthRequired), errors.Is(err, remote.ErrAuthExpired):
		return StatusAuthRequired
	default:
		return StatusFailed
	}
}

func (c *Coordinator[T, P]) async(fn func()) {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Coordinator[T, P]) debug(op, msg string) {
	log.DebugPrint(c.cfg.Debug, fmt.Sprintf("%s | %s | %s", c.name, op, msg), common.MaxDebugChars)
}
