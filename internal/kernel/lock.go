package kernel

// Lock is a binary semaphore with an explicit owner, exactly spec.md
// §4.1's Lock: "Owner (thread, possibly null), inner binary semaphore with
// its own waiter list". Acquiring a held lock donates priority up the
// holder chain (donation.go); releasing recomputes the releaser's own
// effective priority from whatever locks it still holds.
type Lock struct {
	sema  Semaphore
	owner *Thread
}

// NewLock constructs an unheld lock bound to sched.
func NewLock(sched *Scheduler) *Lock {
	return &Lock{sema: Semaphore{sched: sched, value: 1}}
}

// Held reports whether the lock currently has an owner.
func (l *Lock) Held() bool {
	l.sema.sched.mu.Lock()
	defer l.sema.sched.mu.Unlock()
	return l.owner != nil
}

// Owner returns the lock's current holder, or nil.
func (l *Lock) Owner() *Thread {
	l.sema.sched.mu.Lock()
	defer l.sema.sched.mu.Unlock()
	return l.owner
}

// Acquire implements spec.md §4.1's two-path acquire: the uncontended fast
// path sets ownership directly; the contended path records waitingOn,
// performs the priority-donation walk, then blocks on the inner
// semaphore, becoming owner only once it is woken and granted the slot.
func (l *Lock) Acquire() {
	sched := l.sema.sched
	sched.mu.Lock()
	t := sched.current
	if t.waitingOn != nil {
		panic("kernel: thread already waiting on a lock")
	}
	if l.owner == nil {
		sched.mu.Unlock()
		l.sema.Down()
		sched.mu.Lock()
		l.owner = t
		sched.lockAcquired(t, l)
		sched.mu.Unlock()
		return
	}

	t.waitingOn = l
	donateChainLocked(sched, t, l)
	sched.mu.Unlock()

	l.sema.Down()

	sched.mu.Lock()
	t.waitingOn = nil
	l.owner = t
	sched.lockAcquired(t, l)
	sched.mu.Unlock()
}

// Release may only be called by the lock's current owner. It drops the
// lock from the owner's held set, recomputes the owner's effective
// priority from whatever it still holds (never below base), then ups the
// inner semaphore — which may immediately wake and potentially preempt the
// releaser in favor of the highest-priority waiter.
func (l *Lock) Release() {
	sched := l.sema.sched
	sched.mu.Lock()
	t := sched.current
	if l.owner != t {
		sched.mu.Unlock()
		panic("kernel: lock released by non-owner")
	}
	l.owner = nil
	sched.lockReleased(t, l)
	recomputeEffectiveLocked(sched, t)
	sched.mu.Unlock()

	l.sema.Up()
}
