package kernel

import "container/list"

// Semaphore is a non-negative counter with an ordered waiter list, exactly
// spec.md §4.1. The waiter list is an intrusive container/list.List of
// *Thread, re-scanned for the highest effective priority at pop time
// rather than kept sorted — the same choice the donation engine's own
// waiter lists make, and the one spec.md §4.3 calls out explicitly.
type Semaphore struct {
	sched   *Scheduler
	value   int
	waiters list.List
}

// NewSemaphore constructs a semaphore with the given non-negative initial
// value, bound to sched for blocking/waking its waiters.
func NewSemaphore(sched *Scheduler, value int) *Semaphore {
	if value < 0 {
		panic("kernel: negative semaphore initial value")
	}
	return &Semaphore{sched: sched, value: value}
}

// Down blocks the calling thread while value == 0; once it returns, value
// has been decremented by exactly this call.
func (sm *Semaphore) Down() {
	sm.sched.mu.Lock()
	for sm.value == 0 {
		t := sm.sched.current
		el := sm.waiters.PushBack(t)
		// blockLocked marks t Blocked and dispatches away in the same
		// critical section as the PushBack above, so a concurrent Up
		// can never observe t before it is actually Blocked.
		sm.sched.blockLocked(t)
		sm.sched.mu.Lock()
		// The waiter element is removed by whoever wakes us (Up); if we
		// were woken for some other reason it would still be present,
		// so defensively drop it to avoid a duplicate entry.
		if el.Value != nil {
			sm.waiters.Remove(el)
		}
	}
	sm.value--
	sm.sched.mu.Unlock()
}

// TryDown attempts a non-blocking decrement, returning whether it
// succeeded.
func (sm *Semaphore) TryDown() bool {
	sm.sched.mu.Lock()
	defer sm.sched.mu.Unlock()
	if sm.value == 0 {
		return false
	}
	sm.value--
	return true
}

// Up increments value and, if any thread is waiting, wakes the one with
// the highest effective priority (FIFO among equals), then yields the
// caller if that waiter now outranks the currently running thread.
func (sm *Semaphore) Up() {
	sm.sched.mu.Lock()
	sm.value++
	woken := sm.popHighestWaiterLocked()
	if woken == nil {
		sm.sched.mu.Unlock()
		return
	}
	sm.sched.unblockLocked(woken)
	shouldYield := woken.effPriority > sm.sched.current.effPriority
	sm.sched.mu.Unlock()
	if shouldYield {
		sm.sched.Yield()
	}
}

// popHighestWaiterLocked removes and returns the waiting thread with the
// highest effective priority, breaking ties in FIFO (list) order. Must be
// called with sm.sched.mu held.
func (sm *Semaphore) popHighestWaiterLocked() *Thread {
	var best *list.Element
	for e := sm.waiters.Front(); e != nil; e = e.Next() {
		t := e.Value.(*Thread)
		if best == nil || t.effPriority > best.Value.(*Thread).effPriority {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	t := best.Value.(*Thread)
	best.Value = nil
	sm.waiters.Remove(best)
	return t
}

// highestWaiterPriorityLocked returns the highest effective priority among
// the semaphore's current waiters, or basePriority sentinel PriMin-1 if
// there are none. Must be called with sm.sched.mu held.
func (sm *Semaphore) highestWaiterPriorityLocked() int {
	best := PriMin - 1
	for e := sm.waiters.Front(); e != nil; e = e.Next() {
		if p := e.Value.(*Thread).effPriority; p > best {
			best = p
		}
	}
	return best
}

// Len reports the number of threads currently waiting on the semaphore.
func (sm *Semaphore) Len() int {
	sm.sched.mu.Lock()
	defer sm.sched.mu.Unlock()
	return sm.waiters.Len()
}

// Value reports the semaphore's current count.
func (sm *Semaphore) Value() int {
	sm.sched.mu.Lock()
	defer sm.sched.mu.Unlock()
	return sm.value
}
