package syncer

import (
	"context"
	"fmt"

	"github.com/taskmaster-app/tmsync/items"
	"github.com/taskmaster-app/tmsync/remote"
)

type Tasks struct {
	*Coordinator[*items.Task, items.TaskPatch]
}

func NewTasks(cfg Config[*items.Task, items.TaskPatch]) *Tasks {
	return &Tasks{Coordinator: New[*items.Task, items.TaskPatch](cfg)}
}

// Add creates a task with the default priority and category.
func (t *Tasks) Add(ctx context.Context, title string) *items.Task {
	return t.CreateItem(ctx, items.NewTask(t.UserID(), title, t.cfg.Now()))
}

func (t *Tasks) ToggleCompleted(ctx context.Context, id items.ID) (*items.Task, bool) {
	cur, ok := t.Get(id)
	if !ok {
		return nil, false
	}

	done := !cur.Completed

	return t.UpdateItem(ctx, id, items.TaskPatch{Completed: &done})
}

// ClearCompleted deletes every completed task and returns how many there
// were.
func (t *Tasks) ClearCompleted(ctx context.Context) int {
	var n int

	for _, task := range t.Items() {
		if task.Completed && t.DeleteItem(ctx, task.ID) {
			n++
		}
	}

	return n
}

func (t *Tasks) Counts() items.TaskCounts {
	return items.CountTasks(t.Items())
}

// InProject returns the local tasks belonging to project id.
func (t *Tasks) InProject(id items.ID) []*items.Task {
	return items.TasksInProject(t.Items(), id)
}

// View returns the tasks matching f ordered by s.
func (t *Tasks) View(f items.TaskFilter, s items.TaskSort) []*items.Task {
	return items.FilterTasks(t.Items(), f, s)
}

type Notes struct {
	*Coordinator[*items.Note, items.NotePatch]
}

func NewNotes(cfg Config[*items.Note, items.NotePatch]) *Notes {
	return &Notes{Coordinator: New[*items.Note, items.NotePatch](cfg)}
}

// Add creates a note in the default color.
func (n *Notes) Add(ctx context.Context, text string) *items.Note {
	return n.CreateItem(ctx, items.NewNote(n.UserID(), text, n.cfg.Now()))
}

func (n *Notes) TogglePinned(ctx context.Context, id items.ID) (*items.Note, bool) {
	cur, ok := n.Get(id)
	if !ok {
		return nil, false
	}

	pinned := !cur.Pinned

	return n.UpdateItem(ctx, id, items.NotePatch{Pinned: &pinned})
}

type backupRemote interface {
	Backup(ctx context.Context, in []*items.Note) error
}

// Backup uploads every note for server side deduplication and then
// refreshes, so the local copies pick up server ids. Unlike the other
// operations it runs in the foreground and returns its error.
func (n *Notes) Backup(ctx context.Context) error {
	b, ok := n.cfg.Remote.(backupRemote)
	if !ok {
		return fmt.Errorf("Backup | %w", remote.ErrUnsupported)
	}

	n.mu.Lock()
	authorized := n.authorizedLocked()
	n.mu.Unlock()

	if !authorized {
		return fmt.Errorf("Backup | %w", remote.ErrAuthRequired)
	}

	if err := b.Backup(ctx, n.Items()); err != nil {
		n.mu.Lock()
		n.failLocked("Backup", err)
		n.mu.Unlock()

		return fmt.Errorf("Backup | %w", err)
	}

	n.RefreshFromServer(ctx)

	return nil
}

type Projects struct {
	*Coordinator[*items.Project, items.ProjectPatch]
}

func NewProjects(cfg Config[*items.Project, items.ProjectPatch]) *Projects {
	return &Projects{Coordinator: New[*items.Project, items.ProjectPatch](cfg)}
}

func (p *Projects) Add(ctx context.Context, name string) *items.Project {
	return p.CreateItem(ctx, items.NewProject(p.UserID(), name, p.cfg.Now()))
}

func (p *Projects) ToggleCompleted(ctx context.Context, id items.ID) (*items.Project, bool) {
	cur, ok := p.Get(id)
	if !ok {
		return nil, false
	}

	done := !cur.Completed

	return p.UpdateItem(ctx, id, items.ProjectPatch{Completed: &done})
}

type projectTasksRemote interface {
	ProjectTasks(ctx context.Context, id items.ID) ([]*items.Task, error)
}

// Tasks asks the server for the tasks of project id. Like Notes.Backup it
// runs in the foreground and returns its error; Tasks.InProject answers
// from the local collection.
func (p *Projects) Tasks(ctx context.Context, id items.ID) ([]*items.Task, error) {
	r, ok := p.cfg.Remote.(projectTasksRemote)
	if !ok {
		return nil, fmt.Errorf("Tasks | %w", remote.ErrUnsupported)
	}

	if id.IsLocal() {
		return nil, nil
	}

	p.mu.Lock()
	authorized := p.authorizedLocked()
	p.mu.Unlock()

	if !authorized {
		return nil, fmt.Errorf("Tasks | %w", remote.ErrAuthRequired)
	}

	out, err := r.ProjectTasks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Tasks | %w", err)
	}

	return out, nil
}
