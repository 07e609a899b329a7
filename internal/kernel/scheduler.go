package kernel

import (
	"errors"
	"sync"
)

// ErrThreadAllocFailed is returned by Create when a new thread could not be
// allocated — the simulated stand-in for palloc_get_page returning NULL.
var ErrThreadAllocFailed = errors.New("kernel: thread allocation failed")

// timeSlice is the number of ticks a thread may run before the scheduler
// requests it yield at its next safe point, mirroring pintos's TIME_SLICE.
const timeSlice = 4

// Scheduler owns every piece of global mutable scheduling state named in
// spec.md §9: the all-threads registry, the ready set, and the
// sleeping-threads list. All of it is guarded by mu, which stands in for
// "interrupts disabled": every exported method that touches this state
// takes mu for the duration of its critical section and never blocks while
// holding it.
//
// There is no real hardware preemption available to a Go process, so
// quantum-based preemption is approximated rather than exact: Tick sets a
// yieldPending flag on the running thread instead of interrupting it
// mid-instruction, and the flag takes effect only when a caller invokes
// CheckPreempt. No code in this module calls CheckPreempt, so an exhausted
// time slice does not by itself cause a yield.
type Scheduler struct {
	mu sync.Mutex

	ready    readyHeap
	sleeping sleepHeap
	all      map[ThreadID]*Thread
	allOrder []*Thread

	current *Thread
	idle    *Thread

	nextID  ThreadID
	nextSeq uint64
	tick    uint64

	halted bool
}

// New creates a scheduler and adopts the calling goroutine as its initial
// ("main") thread — the same role thread_init gives the already-executing
// boot code in the reference kernel, before thread_start ever creates the
// idle thread. Every subsequent call the caller's goroutine makes directly
// into this Scheduler (Block, Yield, SleepUntil, ...) is that main
// thread's own behavior; no separate goroutine is spawned for it.
func New() *Scheduler {
	s := &Scheduler{
		all: make(map[ThreadID]*Thread),
	}
	main, _ := s.newThread("main", PriDefault, nil)
	main.state = Running
	s.current = main

	idle, _ := s.newThread("idle", PriMin-1, nil)
	s.idle = idle
	idle.fn = func() {
		for {
			s.Yield()
		}
	}
	s.startThreadGoroutine(idle)
	s.Unblock(idle)
	return s
}

func (s *Scheduler) newThread(name string, priority int, entry func(*Thread)) (*Thread, error) {
	id := s.nextID
	s.nextID++
	t := &Thread{
		id:           id,
		name:         truncateName(name),
		state:        Blocked,
		basePriority: priority,
		effPriority:  priority,
		resume:       make(chan struct{}, 1),
		entry:        entry,
		sched:        s,
	}
	s.nextSeq++
	t.seq = s.nextSeq
	s.all[id] = t
	s.allOrder = append(s.allOrder, t)
	return t, nil
}

func (s *Scheduler) startThreadGoroutine(t *Thread) {
	go func() {
		<-t.resume
		if t.fn != nil {
			t.fn()
		} else if t.entry != nil {
			t.entry(t)
			s.Exit()
		}
	}()
}

// Create allocates a new thread, registers it, and unblocks it onto the
// ready set. If the new thread's effective priority exceeds the creating
// thread's, the creator yields immediately after unblocking it, per
// spec.md §4.2.
func (s *Scheduler) Create(name string, priority int, entry func(*Thread)) (*Thread, error) {
	if entry == nil {
		return nil, ErrThreadAllocFailed
	}
	s.mu.Lock()
	t, err := s.newThread(name, priority, entry)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	creator := s.current
	s.mu.Unlock()

	s.startThreadGoroutine(t)
	s.Unblock(t)

	if creator != nil && t.effPriority > creator.effPriority {
		s.Yield()
	}
	return t, nil
}

// Current returns the thread the scheduler currently considers Running.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Idle returns the scheduler's idle thread.
func (s *Scheduler) Idle() *Thread { return s.idle }

// Tick holds the ids of the threads woken by one timer tick. AdvanceTick
// returns those ids as a plain slice rather than as a Tick.
type Tick struct {
	Woken []ThreadID
}

// AllThreads returns a snapshot of every thread ever created, in creation
// order, mirroring the all-threads list.
func (s *Scheduler) AllThreads() []*Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Thread, len(s.allOrder))
	copy(out, s.allOrder)
	return out
}

// pickNextLocked pops the highest-priority ready thread, or falls back to
// idle when the ready set is empty. Must be called with mu held.
func (s *Scheduler) pickNextLocked() *Thread {
	if next := s.ready.pop(); next != nil {
		return next
	}
	return s.idle
}

// dispatchLocked assigns the CPU to the next ready thread and hands mu
// back before waking it, so the newly running thread observes a
// consistent, unlocked scheduler when it resumes. Must be called with mu
// held; returns with mu unlocked. It always signals next's resume channel,
// even when next is the calling thread itself (idle re-dispatching
// itself, or a thread racing its own wakeup) — the channel is buffered so
// that round-trip is instant rather than a deadlock.
func (s *Scheduler) dispatchLocked() {
	next := s.pickNextLocked()
	next.state = Running
	s.current = next
	s.mu.Unlock()
	next.resume <- struct{}{}
}

// Block puts the calling thread (which must be the current thread) into
// the Blocked state and schedules the next ready thread. Block takes mu
// itself, so the caller must not hold it; primitives that already hold mu
// use blockLocked instead.
func (s *Scheduler) Block() {
	s.mu.Lock()
	s.blockLocked(s.current)
}

// blockLocked is Block's implementation for callers (Semaphore, Lock,
// Cond) that must mark the thread Blocked and enqueue it onto their own
// waiter list atomically with the state transition, so that a concurrent
// Up/Unblock in the gap can never observe a not-yet-Blocked thread. Must
// be called with mu held; returns with mu unlocked and the calling
// goroutine parked until rescheduled.
func (s *Scheduler) blockLocked(t *Thread) {
	t.state = Blocked
	s.dispatchLocked()
	<-t.resume
}

// Unblock transitions a Blocked thread to Ready and inserts it into the
// ready set at its priority. It never schedules directly — spec.md §4.2 is
// explicit that the caller decides whether to yield.
func (s *Scheduler) Unblock(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unblockLocked(t)
}

func (s *Scheduler) unblockLocked(t *Thread) {
	if t.state != Blocked {
		panic("kernel: unblock of thread not Blocked")
	}
	t.state = Ready
	s.nextSeq++
	t.seq = s.nextSeq
	s.ready.push(t)
}

// Yield moves the current thread from Running to Ready and dispatches the
// highest-priority Ready thread. The idle thread is re-enqueued like any
// other; at priority PriMin-1 it is picked only when nothing else is
// ready. Threads sharing the top
// priority round-robin because the ready heap breaks ties by arrival
// order and Yield always re-enqueues at the back of that order.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	t := s.current
	t.state = Ready
	s.nextSeq++
	t.seq = s.nextSeq
	s.ready.push(t)
	t.yieldPending = false
	t.ticksRun = 0
	s.dispatchLocked()
	<-t.resume
}

// Exit marks the calling thread Dying and schedules away from it
// permanently; the thread's backing goroutine stays parked inside Exit
// forever, so Exit never returns to its caller.
func (s *Scheduler) Exit() {
	s.mu.Lock()
	t := s.current
	t.state = Dying
	delete(s.all, t.id)
	s.dispatchLocked()
	// A Dying thread's goroutine must not park on resume again: it is
	// not rescheduled, so block it forever instead of returning into the
	// caller's code.
	select {}
}

// SleepUntil blocks the calling thread until the scheduler's tick counter
// reaches wake, resolving to the timer's tick period. Per spec.md §4.2 a
// thread sleeping until T is never observed Ready before tick T.
func (s *Scheduler) SleepUntil(wake uint64) {
	s.mu.Lock()
	if s.tick >= wake {
		s.mu.Unlock()
		return
	}
	t := s.current
	t.wakeAt = wake
	s.nextSeq++
	t.seq = s.nextSeq
	s.sleeping.push(t)
	s.blockLocked(t)
	t.wakeAt = 0
}

// SetPriority updates t's base priority, recomputes its effective
// priority, and yields the caller if doing so drops the caller below the
// current maximum ready priority.
func (s *Scheduler) SetPriority(t *Thread, newBase int) {
	if newBase < PriMin {
		newBase = PriMin
	}
	if newBase > PriMax {
		newBase = PriMax
	}
	s.mu.Lock()
	t.basePriority = newBase
	recomputeEffectiveLocked(s, t)
	isCurrent := t == s.current
	topPriority := -1
	if top := s.ready.peek(); top != nil {
		topPriority = top.effPriority
	}
	s.mu.Unlock()
	if isCurrent && t.effPriority < topPriority {
		s.Yield()
	}
}

// CheckPreempt yields the calling thread if the timer has marked it for
// preemption since it last ran. It is the hook for yielding at a safe
// point, since this simulation cannot interrupt a goroutine
// mid-instruction; neither the syscall dispatcher nor the synchronization
// primitives call it.
func (s *Scheduler) CheckPreempt() {
	s.mu.Lock()
	t := s.current
	pending := t.yieldPending
	s.mu.Unlock()
	if pending {
		s.Yield()
	}
}

// AdvanceTick advances the global tick counter by one, wakes every sleeper
// whose wake time has passed, and marks the running thread for preemption
// once its slice is exhausted. It is the simulated timer/PIT ISR of
// spec.md §5; callers drive it from outside the thread model (a real
// ticker in cmd/pintos, or directly from test code), never from inside a
// running kernel thread's own goroutine.
func (s *Scheduler) AdvanceTick() []ThreadID {
	s.mu.Lock()
	s.tick++
	now := s.tick

	var woken []ThreadID
	for {
		next := s.sleeping.peek()
		if next == nil || next.wakeAt > now {
			break
		}
		s.sleeping.pop()
		s.unblockLocked(next)
		woken = append(woken, next.id)
	}

	t := s.current
	t.ticksRun++
	if t != s.idle && t.ticksRun >= timeSlice {
		t.ticksRun = 0
		t.yieldPending = true
	}
	if top := s.ready.peek(); top != nil && top.effPriority > t.effPriority {
		t.yieldPending = true
	}
	s.mu.Unlock()
	return woken
}

// CurrentTick returns the scheduler's tick counter.
func (s *Scheduler) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// lockAcquired is called by Lock.Acquire under the scheduler's mu once a
// lock has been granted, to record held-lock bookkeeping used by the
// donation engine.
func (s *Scheduler) lockAcquired(t *Thread, l *Lock) {
	t.heldLocks = append(t.heldLocks, l)
}

func (s *Scheduler) lockReleased(t *Thread, l *Lock) {
	for i, held := range t.heldLocks {
		if held == l {
			t.heldLocks = append(t.heldLocks[:i], t.heldLocks[i+1:]...)
			break
		}
	}
}
