package reconcile

import (
	"sort"

	"github.com/taskmaster-app/tmsync/items"
)

type Options struct {
	// Skip holds ids whose delete is in flight. The server may still list
	// them; they are not added back.
	Skip map[items.ID]struct{}
	// Hold holds local ids whose create is in flight. They are kept as they
	// are and never replaced by a server item with the same signature.
	Hold map[items.ID]struct{}
}

type Result[T any] struct {
	Items []T
	// NeedsCreate lists kept items that have no server id yet.
	NeedsCreate []items.ID
	// NeedsUpdate lists server items whose local copy won and carries an
	// edit the server has not acknowledged.
	NeedsUpdate []items.ID
	// Adopted maps a local id to the server id of the copy that replaced it
	// after a content signature match.
	Adopted map[items.ID]items.ID
}

// Merge reconciles a cached collection with a fresh server listing. Both
// inputs are left unmodified; Result.Items holds clones.
//
// Items present on both sides keep the newer UpdatedAt, the local copy on a
// tie. Local items without a server id are kept unless an unclaimed server
// item has the same content signature, which is then adopted in their
// place. Local items with a server id the server no longer lists are
// dropped. Server items with no local counterpart are added.
func Merge[T items.Record[T]](local, server []T, opts Options) Result[T] {
	local = items.DeDupeByID(local)
	server = items.DeDupeByID(server)

	res := Result[T]{
		Items:   make([]T, 0, len(local)+len(server)),
		Adopted: make(map[items.ID]items.ID),
	}

	serverByID := make(map[items.ID]T, len(server))
	for _, s := range server {
		serverByID[s.Common().ID] = s
	}

	localIDs := make(map[items.ID]struct{}, len(local))
	for _, l := range local {
		localIDs[l.Common().ID] = struct{}{}
	}

	claimed := make(map[items.ID]struct{}, len(server))

	// server items a local only item may turn out to be
	bySignature := make(map[string][]T)

	for _, s := range server {
		id := s.Common().ID
		if _, ok := localIDs[id]; ok {
			continue
		}

		if skipped(opts, id) {
			continue
		}

		bySignature[s.Signature()] = append(bySignature[s.Signature()], s)
	}

	for _, l := range local {
		lc := l.Common()

		if lc.SyncState == items.PendingDelete || skipped(opts, lc.ID) {
			continue
		}

		if s, ok := serverByID[lc.ID]; ok {
			claimed[lc.ID] = struct{}{}

			merged, pending := pick(l, s)
			res.Items = append(res.Items, merged)

			if pending {
				res.NeedsUpdate = append(res.NeedsUpdate, lc.ID)
			}

			if merged.Common().IsLocalOnly() {
				res.NeedsCreate = append(res.NeedsCreate, lc.ID)
			}

			continue
		}

		if !lc.IsLocalOnly() {
			// deleted on the server
			continue
		}

		if _, held := opts.Hold[lc.ID]; held {
			res.Items = append(res.Items, l.Clone())
			res.NeedsCreate = append(res.NeedsCreate, lc.ID)

			continue
		}

		if s, ok := takeBySignature(bySignature, claimed, l.Signature()); ok {
			sid := s.Common().ID
			claimed[sid] = struct{}{}
			res.Adopted[lc.ID] = sid
			res.Items = append(res.Items, s.Clone())

			continue
		}

		res.Items = append(res.Items, l.Clone())
		res.NeedsCreate = append(res.NeedsCreate, lc.ID)
	}

	for _, s := range server {
		id := s.Common().ID

		if _, ok := claimed[id]; ok {
			continue
		}

		if _, ok := localIDs[id]; ok {
			continue
		}

		if skipped(opts, id) {
			continue
		}

		res.Items = append(res.Items, s.Clone())
	}

	Sort(res.Items)

	return res
}

// pick returns the winner of a local and server copy of the same item, and
// whether the local edit still has to be pushed.
func pick[T items.Record[T]](l, s T) (T, bool) {
	lc, sc := l.Common(), s.Common()

	if sc.UpdatedAt.After(lc.UpdatedAt) {
		return s.Clone(), false
	}

	kept := l.Clone()
	kc := kept.Common()

	pending := !kc.IsLocalOnly() && (kc.Dirty || lc.UpdatedAt.After(sc.UpdatedAt))
	if !kc.IsLocalOnly() {
		kc.SyncState = items.Synced
	}

	if pending {
		kc.Dirty = true
	}

	return kept, pending
}

func takeBySignature[T items.Record[T]](bySig map[string][]T, claimed map[items.ID]struct{}, sig string) (T, bool) {
	for _, s := range bySig[sig] {
		if _, ok := claimed[s.Common().ID]; ok {
			continue
		}

		return s, true
	}

	var zero T

	return zero, false
}

func skipped(opts Options, id items.ID) bool {
	_, ok := opts.Skip[id]

	return ok
}

// Sort orders pinned items first, then newest CreatedAt first.
func Sort[T items.Record[T]](in []T) {
	sort.SliceStable(in, func(i, j int) bool {
		a, b := in[i], in[j]

		if a.IsPinned() != b.IsPinned() {
			return a.IsPinned()
		}

		return a.Common().CreatedAt.After(b.Common().CreatedAt)
	})
}
