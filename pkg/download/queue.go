package download

import "container/heap"

// taskQueue orders pending tasks by priority (lower value first), ties broken
// by submission order. Removal is a logical mark rather than heap surgery:
// removed entries stay in the heap and next() skips them. Inert entries cost
// a little memory until they surface, which is cheaper than O(n) removal.
type taskQueue struct {
	heap    entryHeap
	removed map[string]struct{}
	seq     uint64
}

type entry struct {
	st       *taskState
	priority int
	seq      uint64
}

func newTaskQueue() *taskQueue {
	return &taskQueue{removed: make(map[string]struct{})}
}

func (q *taskQueue) add(st *taskState) {
	delete(q.removed, st.task.ID)
	q.seq++
	heap.Push(&q.heap, entry{st: st, priority: st.task.Priority, seq: q.seq})
}

// next pops the most urgent live entry, skipping logically removed ones.
func (q *taskQueue) next() (*taskState, bool) {
	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(entry)
		if _, gone := q.removed[e.st.task.ID]; gone {
			delete(q.removed, e.st.task.ID)
			continue
		}
		return e.st, true
	}
	return nil, false
}

// remove marks a queued task so next() will skip it. Returns false if no
// live entry with that id is queued.
func (q *taskQueue) remove(id string) bool {
	for _, e := range q.heap {
		if e.st.task.ID == id {
			if _, gone := q.removed[id]; gone {
				return false
			}
			q.removed[id] = struct{}{}
			return true
		}
	}
	return false
}

func (q *taskQueue) len() int {
	return q.heap.Len() - len(q.removed)
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
