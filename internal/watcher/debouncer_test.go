package watcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitEvent(t *testing.T, d *Debouncer, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-d.Output():
		require.True(t, ok, "output channel closed")
		return ev
	case <-time.After(timeout):
		t.Fatal("timeout waiting for settled event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, d *Debouncer, window time.Duration) {
	t.Helper()
	select {
	case ev := <-d.Output():
		t.Fatalf("unexpected event: %v %s", ev.Kind, ev.Path)
	case <-time.After(window):
	}
}

func TestDebouncer_SingleModify_SettlesAsChanged(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50*time.Millisecond, nil)
	defer d.Stop()

	// When: a single modification is reported
	d.Add(RawEvent{Kind: RawModified, Path: "notes.txt", Time: time.Now()})

	// Then: one Changed event settles after the window
	ev := waitEvent(t, d, 500*time.Millisecond)
	assert.Equal(t, Changed, ev.Kind)
	assert.Equal(t, "notes.txt", ev.Path)
}

func TestDebouncer_BurstForSamePath_CoalescesToOne(t *testing.T) {
	// Given: a debouncer with a window longer than the burst spacing
	d := NewDebouncer(100*time.Millisecond, nil)
	defer d.Stop()

	// When: many modifications land within the window
	for i := 0; i < 10; i++ {
		d.Add(RawEvent{Kind: RawModified, Path: "draft.md", Time: time.Now()})
		time.Sleep(5 * time.Millisecond)
	}

	// Then: exactly one Changed event settles
	ev := waitEvent(t, d, time.Second)
	assert.Equal(t, Changed, ev.Kind)
	assert.Equal(t, "draft.md", ev.Path)

	assertNoEvent(t, d, 300*time.Millisecond)
}

func TestDebouncer_CreateThenDelete_EmitsNothing(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50*time.Millisecond, nil)
	defer d.Stop()

	// When: a file is created and deleted within the window
	d.Add(RawEvent{Kind: RawCreated, Path: "tmp.txt", Time: time.Now()})
	d.Add(RawEvent{Kind: RawDeleted, Path: "tmp.txt", Time: time.Now()})

	// Then: nothing settles; the file never really existed
	assertNoEvent(t, d, 300*time.Millisecond)
}

func TestDebouncer_DeleteThenCreate_SettlesAsChanged(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50*time.Millisecond, nil)
	defer d.Stop()

	// When: a file is replaced (delete then create) within the window
	d.Add(RawEvent{Kind: RawDeleted, Path: "swap.txt", Time: time.Now()})
	d.Add(RawEvent{Kind: RawCreated, Path: "swap.txt", Time: time.Now()})

	// Then: a single Changed event settles
	ev := waitEvent(t, d, 500*time.Millisecond)
	assert.Equal(t, Changed, ev.Kind)
	assert.Equal(t, "swap.txt", ev.Path)
}

func TestDebouncer_Delete_SettlesAsRemoved(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50*time.Millisecond, nil)
	defer d.Stop()

	// When: a deletion is reported
	d.Add(RawEvent{Kind: RawDeleted, Path: "gone.txt", Time: time.Now()})

	// Then: a Removed event settles
	ev := waitEvent(t, d, 500*time.Millisecond)
	assert.Equal(t, Removed, ev.Kind)
	assert.Equal(t, "gone.txt", ev.Path)
}

func TestDebouncer_MatchedRename_SettlesAsMoved(t *testing.T) {
	// Given: a matcher that pairs the expected old and new paths
	matcher := func(oldPath, newPath string) bool {
		return oldPath == "a.txt" && newPath == "b.txt"
	}
	d := NewDebouncer(50*time.Millisecond, matcher)
	defer d.Stop()

	// When: moved-from and moved-to arrive within the window
	d.Add(RawEvent{Kind: RawMovedFrom, Path: "a.txt", Time: time.Now()})
	d.Add(RawEvent{Kind: RawMovedTo, Path: "b.txt", Time: time.Now()})

	// Then: a single Moved event carries both paths
	ev := waitEvent(t, d, 500*time.Millisecond)
	assert.Equal(t, Moved, ev.Kind)
	assert.Equal(t, "b.txt", ev.Path)
	assert.Equal(t, "a.txt", ev.OldPath)

	assertNoEvent(t, d, 200*time.Millisecond)
}

func TestDebouncer_UnpairedMovedFrom_SettlesAsRemoved(t *testing.T) {
	// Given: a matcher that never pairs
	matcher := func(oldPath, newPath string) bool { return false }
	d := NewDebouncer(50*time.Millisecond, matcher)
	defer d.Stop()

	// When: a moved-from arrives with no matching destination
	d.Add(RawEvent{Kind: RawMovedFrom, Path: "a.txt", Time: time.Now()})
	d.Add(RawEvent{Kind: RawMovedTo, Path: "elsewhere.txt", Time: time.Now()})

	// Then: the source settles as Removed, the destination as Changed
	var kinds = map[string]Kind{}
	for i := 0; i < 2; i++ {
		ev := waitEvent(t, d, 500*time.Millisecond)
		kinds[ev.Path] = ev.Kind
	}
	assert.Equal(t, Removed, kinds["a.txt"])
	assert.Equal(t, Changed, kinds["elsewhere.txt"])
}

func TestDebouncer_RenameDestinationDeleted_RemovedKeepsOldPath(t *testing.T) {
	// Given: a matcher that pairs a.txt with b.txt
	matcher := func(oldPath, newPath string) bool {
		return oldPath == "a.txt" && newPath == "b.txt"
	}
	d := NewDebouncer(50*time.Millisecond, matcher)
	defer d.Stop()

	// When: the rename destination is deleted before settling
	d.Add(RawEvent{Kind: RawMovedFrom, Path: "a.txt", Time: time.Now()})
	d.Add(RawEvent{Kind: RawMovedTo, Path: "b.txt", Time: time.Now()})
	d.Add(RawEvent{Kind: RawDeleted, Path: "b.txt", Time: time.Now()})

	// Then: the Removed event still names the original path
	ev := waitEvent(t, d, 500*time.Millisecond)
	assert.Equal(t, Removed, ev.Kind)
	assert.Equal(t, "b.txt", ev.Path)
	assert.Equal(t, "a.txt", ev.OldPath)
}

func TestDebouncer_IndependentPaths_SettleIndependently(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50*time.Millisecond, nil)
	defer d.Stop()

	// When: two different paths are modified
	d.Add(RawEvent{Kind: RawModified, Path: "one.txt", Time: time.Now()})
	d.Add(RawEvent{Kind: RawModified, Path: "two.txt", Time: time.Now()})

	// Then: each settles with its own event
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := waitEvent(t, d, 500*time.Millisecond)
		assert.Equal(t, Changed, ev.Kind)
		seen[ev.Path] = true
	}
	assert.True(t, seen["one.txt"])
	assert.True(t, seen["two.txt"])
}

func TestDebouncer_StopDuringSettlement_DoesNotPanic(t *testing.T) {
	// Given: many paths whose windows elapse at the same moment Stop runs
	for round := 0; round < 50; round++ {
		d := NewDebouncer(time.Millisecond, nil)
		for i := 0; i < 32; i++ {
			d.Add(RawEvent{Kind: RawModified, Path: fmt.Sprintf("f%02d.txt", i), Time: time.Now()})
		}
		time.Sleep(time.Millisecond)

		// When: Stop races the settlement burst
		d.Stop()

		// Then: no send hits the closed channel and the output drains
		for range d.Output() {
		}
	}
}

func TestDebouncer_Stop_DropsPending(t *testing.T) {
	// Given: a debouncer with a long window and a pending path
	d := NewDebouncer(time.Second, nil)
	d.Add(RawEvent{Kind: RawModified, Path: "pending.txt", Time: time.Now()})

	// When: the debouncer stops before the window elapses
	d.Stop()
	d.Stop() // idempotent

	// Then: the output channel closes without delivering the pending event
	select {
	case ev, ok := <-d.Output():
		assert.False(t, ok, "expected closed channel, got event %v", ev)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("output channel not closed after Stop")
	}
}
