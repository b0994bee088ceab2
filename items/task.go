package items

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"

	DefaultTaskCategory = "personal"
)

type Task struct {
	ItemCommon
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority,omitempty"`
	Category    string     `json:"category,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	// ProjectID is the project the task belongs to, if any.
	ProjectID *ID `json:"projectId,omitempty"`

	// Text is the title field used by earlier clients.
	Text string `json:"text,omitempty"`
}

// TaskPatch is a partial update. Only non-nil fields are sent and applied.
// ClearDueDate and ClearProject unset their field when it is nil in the
// patch, and are sent as null.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Category    *string    `json:"category,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ProjectID   *ID        `json:"projectId,omitempty"`

	ClearDueDate bool `json:"-"`
	ClearProject bool `json:"-"`
}

func (p TaskPatch) MarshalJSON() ([]byte, error) {
	type plain TaskPatch

	return marshalClearing(plain(p), map[string]bool{
		"dueDate":   p.ClearDueDate && p.DueDate == nil,
		"projectId": p.ClearProject && p.ProjectID == nil,
	})
}

type taskPayload struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority,omitempty"`
	Category    string     `json:"category,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ProjectID   *ID        `json:"projectId,omitempty"`
}

func NewTask(ownerID ID, title string, now time.Time) *Task {
	return &Task{
		ItemCommon: NewCommon(ownerID, now),
		Title:      title,
		Priority:   PriorityMedium,
		Category:   DefaultTaskCategory,
	}
}

func (t *Task) Clone() *Task {
	c := *t
	c.DueDate = cloneTime(t.DueDate)
	c.ProjectID = cloneID(t.ProjectID)

	return &c
}

// InProject reports whether the task belongs to project id.
func (t *Task) InProject(id ID) bool {
	return t.ProjectID != nil && *t.ProjectID == id
}

func (t *Task) Apply(p TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}

	if p.Description != nil {
		t.Description = *p.Description
	}

	if p.Completed != nil {
		t.Completed = *p.Completed
	}

	if p.Priority != nil {
		t.Priority = *p.Priority
	}

	if p.Category != nil {
		t.Category = *p.Category
	}

	switch {
	case p.DueDate != nil:
		t.DueDate = cloneTime(p.DueDate)
	case p.ClearDueDate:
		t.DueDate = nil
	}

	switch {
	case p.ProjectID != nil:
		t.ProjectID = cloneID(p.ProjectID)
	case p.ClearProject:
		t.ProjectID = nil
	}
}

func (t *Task) Patch() TaskPatch {
	c := t.Clone()

	return TaskPatch{
		Title:       &c.Title,
		Description: &c.Description,
		Completed:   &c.Completed,
		Priority:    &c.Priority,
		Category:    &c.Category,
		DueDate:     c.DueDate,
		ProjectID:   c.ProjectID,

		ClearDueDate: c.DueDate == nil,
		ClearProject: c.ProjectID == nil,
	}
}

func (t *Task) Payload() any {
	return taskPayload{
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    t.Priority,
		Category:    t.Category,
		DueDate:     t.DueDate,
		ProjectID:   t.ProjectID,
	}
}

func (t *Task) Signature() string {
	return strings.Join([]string{
		"task",
		strings.ToLower(strings.TrimSpace(t.Title)),
		strings.TrimSpace(t.Description),
		timeSig(t.DueDate),
	}, "|")
}

func (t *Task) Normalize() {
	t.ItemCommon.Normalize()

	if t.Title == "" && t.Text != "" {
		t.Title = t.Text
	}

	t.Text = ""
}

// TaskFilter selects tasks by completion.
type TaskFilter string

const (
	FilterAll       TaskFilter = "all"
	FilterActive    TaskFilter = "active"
	FilterCompleted TaskFilter = "completed"
)

// TaskSort orders a task view.
type TaskSort string

const (
	SortByDate         TaskSort = "date"
	SortByPriority     TaskSort = "priority"
	SortByAlphabetical TaskSort = "alphabetical"
	SortByDueDate      TaskSort = "dueDate"
)

var priorityRank = map[Priority]int{
	PriorityHigh:   3,
	PriorityMedium: 2,
	PriorityLow:    1,
}

// FilterTasks returns the tasks matching f, ordered by s. The input is not
// modified.
func FilterTasks(in []*Task, f TaskFilter, s TaskSort) []*Task {
	out := make([]*Task, 0, len(in))

	for _, t := range in {
		switch f {
		case FilterActive:
			if t.Completed {
				continue
			}
		case FilterCompleted:
			if !t.Completed {
				continue
			}
		}

		out = append(out, t)
	}

	SortTasks(out, s)

	return out
}

// SortTasks sorts in place. Ties keep their existing order.
func SortTasks(in []*Task, s TaskSort) {
	var less func(a, b *Task) bool

	switch s {
	case SortByPriority:
		less = func(a, b *Task) bool {
			return priorityRank[a.Priority] > priorityRank[b.Priority]
		}
	case SortByAlphabetical:
		less = func(a, b *Task) bool {
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		}
	case SortByDueDate:
		// tasks without a due date go last
		less = func(a, b *Task) bool {
			switch {
			case a.DueDate == nil:
				return false
			case b.DueDate == nil:
				return true
			default:
				return a.DueDate.Before(*b.DueDate)
			}
		}
	case SortByDate, "":
		less = func(a, b *Task) bool {
			return a.CreatedAt.After(b.CreatedAt)
		}
	default:
		return
	}

	stableSort(in, less)
}

// TasksInProject returns the tasks belonging to project id, in order.
func TasksInProject(in []*Task, id ID) []*Task {
	var out []*Task

	for _, t := range in {
		if t.InProject(id) {
			out = append(out, t)
		}
	}

	return out
}

type TaskCounts struct {
	Total     int
	Active    int
	Completed int
}

func CountTasks(in []*Task) TaskCounts {
	c := TaskCounts{Total: len(in)}

	for _, t := range in {
		if t.Completed {
			c.Completed++
		} else {
			c.Active++
		}
	}

	return c
}
