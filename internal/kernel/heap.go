package kernel

import "container/heap"

// readyHeap orders threads by descending effective priority, breaking ties
// by ascending seq (FIFO among equals) — the same weight-then-arrival
// ordering as a container/heap priority queue keyed on an explicit weight
// field (see the priority-semaphore pattern this is grounded on).
type readyHeap []*Thread

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].effPriority != h[j].effPriority {
		return h[i].effPriority > h[j].effPriority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*Thread)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

func (h *readyHeap) push(t *Thread) { heap.Push(h, t) }

func (h *readyHeap) pop() *Thread {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Thread)
}

func (h readyHeap) peek() *Thread {
	if len(h) == 0 {
		return nil
	}
	top := 0
	for i := 1; i < len(h); i++ {
		if h.Less(i, top) {
			top = i
		}
	}
	return h[top]
}

// remove drops t from the heap if present. Nothing in the package calls
// it: a Ready thread whose priority changes stays in the heap, and
// reheapifyIfReadyLocked restores the ordering with heap.Init.
func (h *readyHeap) remove(t *Thread) bool {
	for i, cand := range *h {
		if cand == t {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}

// sleepHeap orders sleeping threads by ascending wake tick, so the front of
// the heap is always the next thread due to wake — the sleeping-threads
// list of spec.md §4.2, implemented as a priority queue instead of a sorted
// list to keep AdvanceTick's scan O(woken) rather than O(n).
type sleepHeap []*Thread

func (h sleepHeap) Len() int { return len(h) }

func (h sleepHeap) Less(i, j int) bool {
	if h[i].wakeAt != h[j].wakeAt {
		return h[i].wakeAt < h[j].wakeAt
	}
	return h[i].seq < h[j].seq
}

func (h sleepHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sleepHeap) Push(x any) { *h = append(*h, x.(*Thread)) }

func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

func (h *sleepHeap) push(t *Thread) { heap.Push(h, t) }

func (h sleepHeap) peek() *Thread {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

func (h *sleepHeap) pop() *Thread {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Thread)
}
