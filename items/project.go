package items

import (
	"strings"
	"time"
)

type ProjectPriority string

const (
	ProjectPriorityNormal ProjectPriority = "normal"
	ProjectPriorityHigh   ProjectPriority = "high"
	ProjectPriorityUrgent ProjectPriority = "urgent"
)

type Project struct {
	ItemCommon
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Completed   bool            `json:"completed"`
	Priority    ProjectPriority `json:"priority,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
}

type ProjectPatch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Completed   *bool            `json:"completed,omitempty"`
	Priority    *ProjectPriority `json:"priority,omitempty"`
	DueDate     *time.Time       `json:"dueDate,omitempty"`

	// ClearDueDate unsets the due date when DueDate is nil.
	ClearDueDate bool `json:"-"`
}

func (u ProjectPatch) MarshalJSON() ([]byte, error) {
	type plain ProjectPatch

	return marshalClearing(plain(u), map[string]bool{
		"dueDate": u.ClearDueDate && u.DueDate == nil,
	})
}

type projectPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Completed   bool            `json:"completed"`
	Priority    ProjectPriority `json:"priority,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
}

func NewProject(ownerID ID, name string, now time.Time) *Project {
	return &Project{
		ItemCommon: NewCommon(ownerID, now),
		Name:       name,
		Priority:   ProjectPriorityNormal,
	}
}

func (p *Project) Clone() *Project {
	c := *p
	c.DueDate = cloneTime(p.DueDate)

	return &c
}

func (p *Project) Apply(u ProjectPatch) {
	if u.Name != nil {
		p.Name = *u.Name
	}

	if u.Description != nil {
		p.Description = *u.Description
	}

	if u.Completed != nil {
		p.Completed = *u.Completed
	}

	if u.Priority != nil {
		p.Priority = *u.Priority
	}

	switch {
	case u.DueDate != nil:
		p.DueDate = cloneTime(u.DueDate)
	case u.ClearDueDate:
		p.DueDate = nil
	}
}

func (p *Project) Patch() ProjectPatch {
	c := p.Clone()

	return ProjectPatch{
		Name:        &c.Name,
		Description: &c.Description,
		Completed:   &c.Completed,
		Priority:    &c.Priority,
		DueDate:     c.DueDate,

		ClearDueDate: c.DueDate == nil,
	}
}

func (p *Project) Payload() any {
	return projectPayload{
		Name:        p.Name,
		Description: p.Description,
		Completed:   p.Completed,
		Priority:    p.Priority,
		DueDate:     p.DueDate,
	}
}

func (p *Project) Signature() string {
	return strings.Join([]string{
		"project",
		strings.ToLower(strings.TrimSpace(p.Name)),
		timeSig(p.DueDate),
	}, "|")
}

func (p *Project) Normalize() {
	p.ItemCommon.Normalize()
}
