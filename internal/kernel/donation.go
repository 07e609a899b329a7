package kernel

import "container/heap"

// maxDonationChainDepth bounds the donation walk so a pathological lock
// graph (a cycle, which callers are expected never to construct) cannot
// hang the thread performing the walk — spec.md §4.3's "bound the walk
// length by a small constant".
const maxDonationChainDepth = 8

// donateChainLocked implements spec.md §4.3's acquire-time donation walk:
// starting from the lock T is about to block on, walk T → L → H →
// L'=H.waitingOn → H'=L'.owner → ..., boosting each visited holder's
// effective priority to at most T's, stopping as soon as a holder already
// meets T's priority or has nothing of its own to wait on. Must be called
// with sched.mu held.
func donateChainLocked(sched *Scheduler, t *Thread, l *Lock) {
	donor := t.effPriority
	holder := l.owner
	for depth := 0; holder != nil && depth < maxDonationChainDepth; depth++ {
		if holder.effPriority >= donor {
			return
		}
		holder.effPriority = donor
		reheapifyIfReadyLocked(sched, holder)
		next := holder.waitingOn
		if next == nil {
			return
		}
		holder = next.owner
	}
}

// recomputeEffectiveLocked recomputes t's effective priority from scratch
// as max(base, max over held locks of the highest waiter priority on
// each) — spec.md §4.1's definition, and the release-time step that may
// lower a thread's priority back down (never below base). Must be called
// with sched.mu held.
func recomputeEffectiveLocked(sched *Scheduler, t *Thread) {
	best := t.basePriority
	for _, l := range t.heldLocks {
		if w := l.sema.highestWaiterPriorityLocked(); w > best {
			best = w
		}
	}
	t.effPriority = best
	reheapifyIfReadyLocked(sched, t)
}

// reheapifyIfReadyLocked repairs the ready heap's ordering after a
// thread's priority changes while it is sitting Ready in it. spec.md §4.3
// allows waiter lists to be re-sorted at pick time instead, but the ready
// set is a real container/heap structure, so its invariant must be
// restored explicitly whenever a queued thread's key changes.
func reheapifyIfReadyLocked(sched *Scheduler, t *Thread) {
	if t.state != Ready {
		return
	}
	heap.Init(&sched.ready)
}
