package edf

import "github.com/itskum47/FluxForge/internal/kernel"

const noIndex = -1

// node is one arena slot. generation is bumped every time a freed slot is
// reused, counting how many occupants the slot has had; links between
// nodes are plain arena indices and nothing in this package compares
// generations. A flat arena with index links stands in for raw prev/next
// pointers, which is where a dangling-pointer bug class like "missing next
// link on tail append" tends to live.
type node struct {
	rec        TaskRecord
	generation int
	prev, next int
	inUse      bool
}

// ActiveList is the Active task container: doubly linked in spirit,
// arena-backed with index links in practice, kept sorted ascending by
// TaskRecord.AbsoluteDeadline at all times outside a single Insert/Remove
// call.
type ActiveList struct {
	arena []node
	free  []int
	head  int
	count int
}

// NewActiveList returns an empty Active list.
func NewActiveList() *ActiveList {
	return &ActiveList{head: noIndex}
}

// Len returns the number of records currently in the list.
func (l *ActiveList) Len() int { return l.count }

func (l *ActiveList) alloc(rec TaskRecord) int {
	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		l.arena[idx].rec = rec
		l.arena[idx].generation++
		l.arena[idx].inUse = true
		l.arena[idx].prev = noIndex
		l.arena[idx].next = noIndex
		return idx
	}
	l.arena = append(l.arena, node{rec: rec, inUse: true, prev: noIndex, next: noIndex})
	return len(l.arena) - 1
}

// Insert places rec into sorted position by AbsoluteDeadline (ties by
// CreationTick then TaskID) and returns true if rec became the new head.
//
// Every insertion path below — empty list, new head, middle, tail —
// explicitly sets both the prev and next link of the new node and of both
// neighbours it touches to the correct value or to noIndex. A tail append
// in particular must set its own next to noIndex explicitly: leaving it at
// whatever the arena slot last held is how a dangling-next bug gets in.
func (l *ActiveList) Insert(rec TaskRecord) (becameHead bool) {
	idx := l.alloc(rec)
	l.count++

	if l.head == noIndex {
		l.arena[idx].prev = noIndex
		l.arena[idx].next = noIndex
		l.head = idx
		return true
	}

	if less(rec, l.arena[l.head].rec) {
		oldHead := l.head
		l.arena[idx].prev = noIndex
		l.arena[idx].next = oldHead
		l.arena[oldHead].prev = idx
		l.head = idx
		return true
	}

	cursor := l.head
	for l.arena[cursor].next != noIndex && !less(rec, l.arena[l.arena[cursor].next].rec) {
		cursor = l.arena[cursor].next
	}

	nxt := l.arena[cursor].next
	l.arena[cursor].next = idx
	l.arena[idx].prev = cursor
	l.arena[idx].next = nxt
	if nxt != noIndex {
		l.arena[nxt].prev = idx
	}
	return false
}

// unlink removes the node at idx from the list, patching both neighbours,
// and returns whether idx was the head.
func (l *ActiveList) unlink(idx int) (wasHead bool) {
	n := &l.arena[idx]
	if n.prev != noIndex {
		l.arena[n.prev].next = n.next
	} else {
		l.head = n.next
		wasHead = true
	}
	if n.next != noIndex {
		l.arena[n.next].prev = n.prev
	}
	n.inUse = false
	n.prev = noIndex
	n.next = noIndex
	l.free = append(l.free, idx)
	l.count--
	return wasHead
}

// RemoveByTask removes and returns the record with the given TaskID.
// wasHead reports whether the removed record was the head (so the
// caller knows to promote whatever is now at the head, if anything).
func (l *ActiveList) RemoveByTask(id kernel.TaskID) (rec TaskRecord, wasHead bool, ok bool) {
	for idx := l.head; idx != noIndex; idx = l.arena[idx].next {
		if l.arena[idx].rec.TaskID == id {
			rec = l.arena[idx].rec
			wasHead = l.unlink(idx)
			return rec, wasHead, true
		}
	}
	return TaskRecord{}, false, false
}

// RemoveByTimer removes and returns the record owning the given TimerID.
func (l *ActiveList) RemoveByTimer(id kernel.TimerID) (rec TaskRecord, wasHead bool, ok bool) {
	for idx := l.head; idx != noIndex; idx = l.arena[idx].next {
		if l.arena[idx].rec.TimerID == id {
			rec = l.arena[idx].rec
			wasHead = l.unlink(idx)
			return rec, wasHead, true
		}
	}
	return TaskRecord{}, false, false
}

// Head returns the current EDF head, if any.
func (l *ActiveList) Head() (TaskRecord, bool) {
	if l.head == noIndex {
		return TaskRecord{}, false
	}
	return l.arena[l.head].rec, true
}

// Snapshot returns a fresh, self-contained, front-to-back copy of every
// record currently in the list. Callers never see arena links.
func (l *ActiveList) Snapshot() []TaskRecord {
	out := make([]TaskRecord, 0, l.count)
	for idx := l.head; idx != noIndex; idx = l.arena[idx].next {
		out = append(out, l.arena[idx].rec)
	}
	return out
}

// OverdueList holds tasks whose deadline timer fired before self-delete.
// It is insertion-ordered, never searched by key, and is bounded to retain
// the most recent `capacity` records as a ring, so a deployment that keeps
// missing deadlines doesn't grow this list without bound.
type OverdueList struct {
	buf      []TaskRecord
	capacity int
	start    int // index of the oldest retained record within buf
	count    int
	dropped  uint64
}

// DefaultOverdueRetention is the default ring capacity.
const DefaultOverdueRetention = 500

// NewOverdueList returns an empty Overdue list retaining at most capacity
// records. capacity <= 0 means DefaultOverdueRetention.
func NewOverdueList(capacity int) *OverdueList {
	if capacity <= 0 {
		capacity = DefaultOverdueRetention
	}
	return &OverdueList{buf: make([]TaskRecord, capacity), capacity: capacity}
}

// Push appends rec, evicting the oldest record once the ring is full.
func (o *OverdueList) Push(rec TaskRecord) {
	if o.count < o.capacity {
		idx := (o.start + o.count) % o.capacity
		o.buf[idx] = rec
		o.count++
		return
	}
	o.buf[o.start] = rec
	o.start = (o.start + 1) % o.capacity
	o.dropped++
}

// Len returns the number of records currently retained.
func (o *OverdueList) Len() int { return o.count }

// Dropped returns the number of records evicted over the list's lifetime.
func (o *OverdueList) Dropped() uint64 { return o.dropped }

// Snapshot returns a fresh copy of the retained records, oldest first.
func (o *OverdueList) Snapshot() []TaskRecord {
	out := make([]TaskRecord, o.count)
	for i := 0; i < o.count; i++ {
		out[i] = o.buf[(o.start+i)%o.capacity]
	}
	return out
}
