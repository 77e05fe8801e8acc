package ingest

import (
	"container/list"
	"sync"
)

// seenWindow remembers the last K message ids in LRU order. At-least-once
// delivery means duplicates arrive close together (redelivery, reclaim), so
// a bounded recency window catches them without unbounded memory. A
// duplicate older than the window is re-applied instead, which is safe
// because applies are idempotent.
type seenWindow struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newSeenWindow(capacity int) *seenWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &seenWindow{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen reports whether id is in the window and refreshes its recency.
func (w *seenWindow) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	elem, ok := w.index[id]
	if ok {
		w.order.MoveToFront(elem)
	}
	return ok
}

// Mark records id as processed, evicting the least recently seen id when the
// window is full.
func (w *seenWindow) Mark(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if elem, ok := w.index[id]; ok {
		w.order.MoveToFront(elem)
		return
	}
	w.index[id] = w.order.PushFront(id)
	for w.order.Len() > w.capacity {
		oldest := w.order.Back()
		w.order.Remove(oldest)
		delete(w.index, oldest.Value.(string))
	}
}

// Len returns the number of remembered ids.
func (w *seenWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}
