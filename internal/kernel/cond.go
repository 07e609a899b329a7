package kernel

import "container/list"

// Cond is a condition variable with a waiter list of per-wait semaphores,
// exactly spec.md §4.1: Wait atomically releases the associated lock and
// blocks on a fresh one-shot semaphore; Signal/Broadcast wake one or all
// waiters by effective priority.
type Cond struct {
	sched   *Scheduler
	waiters list.List // of *Semaphore, one per waiter, each with value 0
}

// NewCond constructs a condition variable bound to sched.
func NewCond(sched *Scheduler) *Cond {
	return &Cond{sched: sched}
}

// Wait releases lock, blocks until signalled, then re-acquires lock before
// returning. The caller must hold lock.
func (c *Cond) Wait(lock *Lock) {
	waiterSema := NewSemaphore(c.sched, 0)
	c.sched.mu.Lock()
	el := c.waiters.PushBack(waiterSema)
	c.sched.mu.Unlock()

	lock.Release()
	waiterSema.Down()
	lock.Acquire()

	c.sched.mu.Lock()
	if el.Value != nil {
		c.waiters.Remove(el)
	}
	c.sched.mu.Unlock()
}

// Signal wakes the waiter whose thread currently has the highest
// effective priority, if any are waiting.
func (c *Cond) Signal() {
	c.sched.mu.Lock()
	best := c.popHighestLocked()
	c.sched.mu.Unlock()
	if best != nil {
		best.Up()
	}
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	for {
		c.sched.mu.Lock()
		best := c.popHighestLocked()
		c.sched.mu.Unlock()
		if best == nil {
			return
		}
		best.Up()
	}
}

// popHighestLocked removes and returns the waiter semaphore whose single
// blocked thread has the highest effective priority. Must be called with
// c.sched.mu held.
func (c *Cond) popHighestLocked() *Semaphore {
	var best *list.Element
	var bestPriority int
	for e := c.waiters.Front(); e != nil; e = e.Next() {
		sm := e.Value.(*Semaphore)
		p := sm.highestWaiterPriorityLocked()
		if best == nil || p > bestPriority {
			best = e
			bestPriority = p
		}
	}
	if best == nil {
		return nil
	}
	sm := best.Value.(*Semaphore)
	best.Value = nil
	c.waiters.Remove(best)
	return sm
}
