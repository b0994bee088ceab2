package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmaster-app/tmsync/session"
)

// Start refreshes on every Interval and reacts to session changes until ctx
// is done or Stop is called. Calling Start on a running coordinator does
// nothing.
func (c *Coordinator[T, P]) Start(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	events, unsubscribe := c.cfg.Session.Subscribe()

	c.stop = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		defer unsubscribe()

		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RefreshFromServer(ctx)
			case ev, ok := <-events:
				if !ok {
					return
				}

				c.handle(ctx, ev)
			}
		}
	}(c.done)
}

// Stop ends the loop started by Start and waits for it to exit. Background
// requests already started keep running; use Wait to drain them.
func (c *Coordinator[T, P]) Stop() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.stop == nil {
		return
	}

	c.stop()
	<-c.done

	c.stop = nil
	c.done = nil
}

func (c *Coordinator[T, P]) handle(ctx context.Context, ev session.Event) {
	c.debug("session", fmt.Sprintf("%s user=%s", ev.Kind, ev.User.ID))

	switch ev.Kind {
	case session.Login:
		if ev.User.ID != "" && ev.User.ID != c.UserID() {
			c.Initialize(ctx, ev.User.ID)
			return
		}

		c.RefreshFromServer(ctx)
	case session.Refresh:
		// a renewed token is a good moment to retry a sync that failed
		switch c.Status() {
		case StatusOffline, StatusFailed, StatusAuthRequired:
			c.RefreshFromServer(ctx)
		}
	case session.Logout:
		c.mu.Lock()
		c.setStatusLocked(StatusAuthRequired, nil)
		c.mu.Unlock()
	}
}
