package hub

import (
	"container/heap"
	"time"
)

// timerItem is a (due_time, action) pair, plus a sequence number used
// only as the heap tie-break for equal due times (ties are arbitrary)
// and a tombstone flag for lazy deletion.
type timerItem struct {
	due        time.Time
	seq        int64
	action     func()
	tombstoned bool
	index      int // maintained by container/heap, needed for Remove
}

// timerHeap is a min-heap on due time, implementing container/heap.Interface.
// No third-party heap library in the retrieved corpus offers anything
// container/heap doesn't (see DESIGN.md) — this is the one place this
// repository reaches for the standard library over a third-party package.
type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	item := x.(*timerItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// timerWheel owns the min-heap plus a monotonic sequence counter. The hub
// calls add and remove with its mutex held; the run loop and Stats call
// len, timeout and pop without it (see hub.go). len, timeout and pop prune
// tombstoned entries off the top before looking at it, so a removed timer
// never lingers as the next due entry.
type timerWheel struct {
	h   timerHeap
	seq int64
}

func newTimerWheel() *timerWheel {
	return &timerWheel{}
}

// add schedules action to run at now+delay, returning the item so it can
// later be passed to remove for tombstoning.
func (w *timerWheel) add(delay time.Duration, action func()) *timerItem {
	w.seq++
	item := &timerItem{due: time.Now().Add(delay), seq: w.seq, action: action}
	heap.Push(&w.h, item)
	return item
}

// remove tombstones item; it is not removed from the heap until it
// reaches the top and is pruned.
func (w *timerWheel) remove(item *timerItem) {
	if item == nil || item.index < 0 {
		return
	}
	item.tombstoned = true
}

// prune discards tombstoned entries from the top of the heap.
func (w *timerWheel) prune() {
	for len(w.h) > 0 && w.h[0].tombstoned {
		heap.Pop(&w.h)
	}
}

// len returns the authoritative live count: heap size after pruning.
func (w *timerWheel) len() int {
	w.prune()
	return len(w.h)
}

// timeout returns the duration until the next due timer and true, or
// (0, false) if the heap has no live entries. The bounds check guards
// against faulting on a heap left with only tombstoned entries.
func (w *timerWheel) timeout() (time.Duration, bool) {
	w.prune()
	if len(w.h) == 0 {
		return 0, false
	}
	return time.Until(w.h[0].due), true
}

// pop removes and returns the earliest live timer's action, or nil if the
// heap is empty.
func (w *timerWheel) pop() func() {
	w.prune()
	if len(w.h) == 0 {
		return nil
	}
	item := heap.Pop(&w.h).(*timerItem)
	return item.action
}
