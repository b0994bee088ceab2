package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskmaster-app/tmsync/items"
)

var (
	t1 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
	t3 = t2.Add(time.Hour)
)

func task(id items.ID, title string, updated time.Time) *items.Task {
	t := items.NewTask("1", title, t1)
	t.ID = id
	t.UpdatedAt = updated

	if !id.IsLocal() {
		t.SyncState = items.Synced
	}

	return t
}

func ids[T items.Record[T]](in []T) []items.ID {
	out := make([]items.ID, 0, len(in))
	for _, v := range in {
		out = append(out, v.Common().ID)
	}

	return out
}

func TestMergeServerNewerAndLocalOnlyKept(t *testing.T) {
	local := []*items.Task{
		task("5", "old", t1),
		task("local-tmp-1", "B", t1),
	}
	server := []*items.Task{
		task("5", "new", t2),
	}

	res := Merge(local, server, Options{})
	require.Len(t, res.Items, 2)

	byID := map[items.ID]*items.Task{}
	for _, it := range res.Items {
		byID[it.ID] = it
	}

	require.Equal(t, "new", byID["5"].Title)
	require.Equal(t, "B", byID["local-tmp-1"].Title)
	require.Equal(t, items.LocalOnly, byID["local-tmp-1"].SyncState)
	require.Equal(t, []items.ID{"local-tmp-1"}, res.NeedsCreate)
	require.Empty(t, res.NeedsUpdate)
}

func TestMergeLocalEditWinsUntilPushed(t *testing.T) {
	local := []*items.Task{task("5", "edited", t3)}
	server := []*items.Task{task("5", "stale", t1)}

	res := Merge(local, server, Options{})
	require.Len(t, res.Items, 1)
	require.Equal(t, "edited", res.Items[0].Title)
	require.Equal(t, t3, res.Items[0].UpdatedAt)
	require.True(t, res.Items[0].Dirty)
	require.Equal(t, []items.ID{"5"}, res.NeedsUpdate)
}

func TestMergeTieKeepsLocal(t *testing.T) {
	l := task("5", "local", t2)
	res := Merge([]*items.Task{l}, []*items.Task{task("5", "server", t2)}, Options{})
	require.Equal(t, "local", res.Items[0].Title)
	require.Empty(t, res.NeedsUpdate)

	l.Dirty = true
	res = Merge([]*items.Task{l}, []*items.Task{task("5", "server", t2)}, Options{})
	require.Equal(t, "local", res.Items[0].Title)
	require.Equal(t, []items.ID{"5"}, res.NeedsUpdate)
}

func TestMergeIdempotent(t *testing.T) {
	c := []*items.Task{
		task("1", "a", t1),
		task("2", "b", t2),
		task("local-3", "c", t3),
	}

	res := Merge(c, c, Options{})
	require.ElementsMatch(t, ids(c), ids(res.Items))

	again := Merge(res.Items, res.Items, Options{})
	require.ElementsMatch(t, ids(c), ids(again.Items))
}

func TestMergeDropsServerDeleted(t *testing.T) {
	res := Merge([]*items.Task{task("1", "gone", t1), task("2", "kept", t1)}, []*items.Task{task("2", "kept", t1)}, Options{})
	require.Equal(t, []items.ID{"2"}, ids(res.Items))
}

func TestMergeAddsServerItems(t *testing.T) {
	res := Merge(nil, []*items.Task{task("1", "a", t1), task("1", "dup", t1), task("2", "b", t1)}, Options{})
	require.ElementsMatch(t, []items.ID{"1", "2"}, ids(res.Items))
}

func TestMergeAdoptsLostCreate(t *testing.T) {
	local := []*items.Task{task("local-x", "Call Bob", t1)}
	server := []*items.Task{task("9", "call bob", t2)}

	res := Merge(local, server, Options{})
	require.Equal(t, []items.ID{"9"}, ids(res.Items))
	require.Empty(t, res.NeedsCreate)
	require.Equal(t, items.ID("9"), res.Adopted["local-x"])

	// a server item already held under its own id is not claimed twice
	local = []*items.Task{task("9", "call bob", t2), task("local-y", "call bob", t3)}
	res = Merge(local, server, Options{})
	require.ElementsMatch(t, []items.ID{"9", "local-y"}, ids(res.Items))
	require.Equal(t, []items.ID{"local-y"}, res.NeedsCreate)

	// two pending creates with the same content and one server copy
	local = []*items.Task{task("local-a", "call bob", t1), task("local-b", "call bob", t1)}
	res = Merge(local, server, Options{})
	require.Len(t, res.Items, 2)
	require.Len(t, res.Adopted, 1)
	require.Len(t, res.NeedsCreate, 1)
}

func TestMergeSkipsInFlightDeletes(t *testing.T) {
	skip := map[items.ID]struct{}{"7": {}}

	res := Merge(nil, []*items.Task{task("7", "deleting", t1), task("8", "other", t1)}, Options{Skip: skip})
	require.Equal(t, []items.ID{"8"}, ids(res.Items))

	tomb := task("8", "other", t1)
	tomb.SyncState = items.PendingDelete
	res = Merge([]*items.Task{tomb}, []*items.Task{task("8", "other", t1)}, Options{})
	require.Empty(t, res.Items)
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	l := task("5", "edited", t3)
	s := task("5", "stale", t1)

	res := Merge([]*items.Task{l}, []*items.Task{s}, Options{})
	res.Items[0].Title = "changed"

	require.Equal(t, "edited", l.Title)
	require.False(t, l.Dirty)
}

func TestSortPinnedFirst(t *testing.T) {
	mk := func(id items.ID, pinned bool, created time.Time) *items.Note {
		n := items.NewNote("1", string(id), created)
		n.ID = id
		n.Pinned = pinned

		return n
	}

	notes := []*items.Note{
		mk("a", false, t3),
		mk("b", true, t1),
		mk("c", false, t1),
		mk("d", true, t2),
	}

	Sort(notes)
	require.Equal(t, []items.ID{"d", "b", "a", "c"}, ids(notes))
}

func TestMergeHeldCreateIsNotAdopted(t *testing.T) {
	local := []*items.Task{task("local-x", "call bob", t1)}
	server := []*items.Task{task("9", "call bob", t2)}

	res := Merge(local, server, Options{Hold: map[items.ID]struct{}{"local-x": {}}})
	require.ElementsMatch(t, []items.ID{"local-x", "9"}, ids(res.Items))
	require.Empty(t, res.Adopted)
}
