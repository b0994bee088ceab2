package items

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix marks ids generated on the client before the server has
// acknowledged the item.
const LocalIDPrefix = "local-"

// ID identifies an item. Server ids are the backend's integer keys, local
// ids carry LocalIDPrefix.
type ID string

func NewLocalID() ID {
	return ID(LocalIDPrefix + uuid.NewString())
}

func (id ID) IsLocal() bool {
	return strings.HasPrefix(string(id), LocalIDPrefix)
}

func (id ID) String() string {
	return string(id)
}

// MarshalJSON writes numeric ids as JSON numbers so they round trip with the
// backend's integer primary keys.
func (id ID) MarshalJSON() ([]byte, error) {
	if isDigits(string(id)) {
		return []byte(id), nil
	}

	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*id = ID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}

	*id = ID(n.String())

	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return len(s) > 0
}

// SyncState records how far an item has got towards the server.
type SyncState string

const (
	LocalOnly     SyncState = "local_only"
	Synced        SyncState = "synced"
	PendingDelete SyncState = "pending_delete"
)

// Record is implemented by pointers to the collection types (*Task, *Note,
// *Project), where T is the implementing type itself.
type Record[T any] interface {
	Common() *ItemCommon
	Clone() T
	// Payload is the request body used to create the item on the server.
	Payload() any
	// Signature summarises user visible content for duplicate detection.
	Signature() string
	IsPinned() bool
	Normalize()
}

// Item is a Record that can be modified by its patch type P.
type Item[T any, P any] interface {
	Record[T]
	Apply(P)
	// Patch returns a patch setting every user editable field.
	Patch() P
}

// ItemCommon contains the fields common to all collection items.
type ItemCommon struct {
	ID        ID        `json:"id,omitempty"`
	OwnerID   ID        `json:"userId,omitempty"`
	SyncState SyncState `json:"syncState,omitempty"`
	Dirty     bool      `json:"dirty,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// flags written by earlier clients, folded into SyncState by Normalize
	LegacyLocalOnly  bool `json:"_isLocalOnly,omitempty"`
	LegacyOptimistic bool `json:"_isOptimistic,omitempty"`
}

func (c *ItemCommon) Common() *ItemCommon {
	return c
}

func (c *ItemCommon) IsLocalOnly() bool {
	return c.SyncState == LocalOnly || c.ID.IsLocal()
}

func (c *ItemCommon) IsPinned() bool {
	return false
}

// Normalize folds the legacy optimistic flags into SyncState and defaults an
// unset state to Synced for items holding a server id.
func (c *ItemCommon) Normalize() {
	if c.LegacyLocalOnly || c.LegacyOptimistic {
		c.SyncState = LocalOnly
		c.LegacyLocalOnly = false
		c.LegacyOptimistic = false
	}

	if c.SyncState == "" {
		if c.ID.IsLocal() {
			c.SyncState = LocalOnly
		} else {
			c.SyncState = Synced
		}
	}
}

// Touch stamps the item as modified at now.
func (c *ItemCommon) Touch(now time.Time) {
	c.UpdatedAt = now
}

// NewCommon returns the common fields for an optimistically created item.
func NewCommon(ownerID ID, now time.Time) ItemCommon {
	return ItemCommon{
		ID:        NewLocalID(),
		OwnerID:   ownerID,
		SyncState: LocalOnly,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FindByID returns the index of the item with the given id, or -1.
func FindByID[T Record[T]](in []T, id ID) int {
	for x := range in {
		if in[x].Common().ID == id {
			return x
		}
	}

	return -1
}

// DeDupeByID returns a new slice containing only the first occurrence of each
// item as identified by its id.
func DeDupeByID[T Record[T]](in []T) []T {
	encountered := make(map[ID]struct{})
	out := make([]T, 0, len(in))

	for _, v := range in {
		id := v.Common().ID
		if _, ok := encountered[id]; ok {
			continue
		}

		encountered[id] = struct{}{}
		out = append(out, v)
	}

	return out
}

// CloneAll deep copies a collection.
func CloneAll[T Record[T]](in []T) []T {
	if in == nil {
		return nil
	}

	out := make([]T, len(in))
	for x := range in {
		out[x] = in[x].Clone()
	}

	return out
}

// DecodeAll decodes a JSON array of items, skipping null and undecodable
// elements, and normalizes what it keeps. skipped counts the dropped elements.
func DecodeAll[T Record[T]](data []byte) (out []T, skipped int, err error) {
	var raw []json.RawMessage
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, 0, err
	}

	out = make([]T, 0, len(raw))

	for _, r := range raw {
		if bytes.Equal(bytes.TrimSpace(r), []byte("null")) {
			skipped++
			continue
		}

		var v T
		if uErr := json.Unmarshal(r, &v); uErr != nil {
			skipped++
			continue
		}

		v.Normalize()
		out = append(out, v)
	}

	return out, skipped, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}

func cloneID(id *ID) *ID {
	if id == nil {
		return nil
	}

	c := *id

	return &c
}

// marshalClearing encodes v and then writes null for every key in nulls
// that is true.
func marshalClearing(v any, nulls map[string]bool) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err = json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}

	for k, null := range nulls {
		if null {
			fields[k] = json.RawMessage("null")
		}
	}

	return json.Marshal(fields)
}

func timeSig(t *time.Time) string {
	if t == nil {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

func stableSort[T any](in []T, less func(a, b T) bool) {
	sort.SliceStable(in, func(i, j int) bool {
		return less(in[i], in[j])
	})
}

var (
	_ Item[*Task, TaskPatch]       = (*Task)(nil)
	_ Item[*Note, NotePatch]       = (*Note)(nil)
	_ Item[*Project, ProjectPatch] = (*Project)(nil)
)

// DecodeOne decodes a single item returned by the server. The item must
// carry an id.
func DecodeOne[T Record[T]](data []byte) (T, error) {
	var v T

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return v, fmt.Errorf("empty item")
	}

	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, err
	}

	if v.Common().ID == "" {
		return v, fmt.Errorf("item has no id")
	}

	v.Normalize()

	return v, nil
}
