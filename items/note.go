package items

import (
	"fmt"
	"strings"
	"time"
)

const DefaultNoteColor = "#f8e16c"

type Note struct {
	ItemCommon
	Text      string  `json:"text"`
	Color     string  `json:"color,omitempty"`
	TextColor string  `json:"textColor,omitempty"`
	Font      string  `json:"font,omitempty"`
	Rotation  float64 `json:"rotation"`
	Pinned    bool    `json:"pinned"`
}

type NotePatch struct {
	Text      *string  `json:"text,omitempty"`
	Color     *string  `json:"color,omitempty"`
	TextColor *string  `json:"textColor,omitempty"`
	Font      *string  `json:"font,omitempty"`
	Rotation  *float64 `json:"rotation,omitempty"`
	Pinned    *bool    `json:"pinned,omitempty"`
}

type notePayload struct {
	Text      string  `json:"text"`
	Color     string  `json:"color,omitempty"`
	TextColor string  `json:"textColor,omitempty"`
	Font      string  `json:"font,omitempty"`
	Rotation  float64 `json:"rotation"`
	Pinned    bool    `json:"pinned"`
}

func NewNote(ownerID ID, text string, now time.Time) *Note {
	return &Note{
		ItemCommon: NewCommon(ownerID, now),
		Text:       text,
		Color:      DefaultNoteColor,
	}
}

func (n *Note) Clone() *Note {
	c := *n

	return &c
}

func (n *Note) Apply(p NotePatch) {
	if p.Text != nil {
		n.Text = *p.Text
	}

	if p.Color != nil {
		n.Color = *p.Color
	}

	if p.TextColor != nil {
		n.TextColor = *p.TextColor
	}

	if p.Font != nil {
		n.Font = *p.Font
	}

	if p.Rotation != nil {
		n.Rotation = *p.Rotation
	}

	if p.Pinned != nil {
		n.Pinned = *p.Pinned
	}
}

func (n *Note) Patch() NotePatch {
	c := n.Clone()

	return NotePatch{
		Text:      &c.Text,
		Color:     &c.Color,
		TextColor: &c.TextColor,
		Font:      &c.Font,
		Rotation:  &c.Rotation,
		Pinned:    &c.Pinned,
	}
}

func (n *Note) Payload() any {
	return notePayload{
		Text:      n.Text,
		Color:     n.Color,
		TextColor: n.TextColor,
		Font:      n.Font,
		Rotation:  n.Rotation,
		Pinned:    n.Pinned,
	}
}

func (n *Note) Signature() string {
	return strings.Join([]string{
		"note",
		strings.TrimSpace(n.Text),
		strings.ToLower(n.Color),
		fmt.Sprintf("%t", n.Pinned),
	}, "|")
}

func (n *Note) IsPinned() bool {
	return n.Pinned
}

func (n *Note) Normalize() {
	n.ItemCommon.Normalize()
}
