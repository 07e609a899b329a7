// Package kernel implements the single-CPU, priority-preemptive thread
// layer: thread control blocks, the ready/sleep queues, the synchronization
// primitives built on top of them, and the priority donation engine.
//
// There is no real hardware underneath this package, so "running" a thread
// means handing it a CPU token (see Scheduler) rather than switching a real
// stack pointer; everything else — state transitions, wakeup ordering,
// donation bookkeeping — follows the contract a bare-metal kernel would
// have to uphold.
package kernel

import "fmt"

// ThreadID uniquely identifies a thread for its lifetime.
type ThreadID int

// TidError is returned in place of a ThreadID when thread creation fails.
const TidError ThreadID = -1

// Priority bounds, per the kernel's scheduling contract.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

// State is a thread's position in its lifecycle.
type State int

const (
	Running State = iota
	Ready
	Blocked
	Dying
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	case Dying:
		return "dying"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// maxNameLen mirrors the 15-character (plus NUL) thread name field of the
// reference kernel's struct thread.
const maxNameLen = 15

// Thread is the kernel's thread control block (TCB). One value exists per
// kernel thread for its whole lifetime; the scheduler's all-threads
// registry owns it.
type Thread struct {
	id   ThreadID
	name string

	state State

	basePriority int
	effPriority  int

	// waitingOn is the lock this thread is currently blocked trying to
	// acquire, or nil. Non-nil iff state == Blocked on a lock.
	waitingOn *Lock

	// heldLocks is the set of locks this thread currently owns. Order
	// does not matter; it is walked in full whenever effective priority
	// is recomputed on release.
	heldLocks []*Lock

	// wakeAt is the absolute tick at which a sleeping thread should be
	// woken, or zero when the thread is not sleeping.
	wakeAt uint64

	// ticksRun counts ticks observed while this thread was current,
	// reset whenever it yields; yieldPending is the deferred-preemption
	// flag AdvanceTick sets once the slice is exhausted or a
	// higher-priority thread becomes ready (see Scheduler.CheckPreempt).
	ticksRun     int
	yieldPending bool

	// seq breaks ties in FIFO order between threads of equal effective
	// priority in the ready heap, and between equal wake ticks in the
	// sleep heap. Waiter lists rely on their own list order instead.
	seq uint64

	// resume is the channel the thread's backing goroutine parks on
	// while Blocked or Ready-but-not-yet-scheduled. The scheduler closes
	// over a fresh channel value each time it readies the thread isn't
	// necessary — the same channel is reused for the thread's whole
	// life, signalled once per "you may run now" event.
	resume chan struct{}

	// entry is invoked by the thread's backing goroutine once, at
	// start, then the goroutine runs Exit on return.
	entry func(*Thread)

	fn func()

	sched *Scheduler

	// Process-layer fields, populated only for user-process threads by
	// package process via the Extra hook below. The kernel package never
	// interprets them; they ride along on the TCB exactly as the
	// reference kernel's struct thread carries them behind #ifdef
	// USERPROG.
	Extra any
}

// ID returns the thread's identifier.
func (t *Thread) ID() ThreadID { return t.id }

// Name returns the thread's (possibly truncated) name.
func (t *Thread) Name() string { return t.name }

// State returns the thread's current lifecycle state.
func (t *Thread) State() State { return t.state }

// Priority returns the thread's current effective priority.
func (t *Thread) Priority() int { return t.effPriority }

// BasePriority returns the thread's base (undonated) priority.
func (t *Thread) BasePriority() int { return t.basePriority }

func truncateName(name string) string {
	if len(name) > maxNameLen {
		return name[:maxNameLen]
	}
	return name
}
