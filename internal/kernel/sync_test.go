package kernel_test

import (
	"testing"

	"github.com/go-pintos/kernel/internal/kernel"
)

func TestSemaphoreBlocksUntilUp(t *testing.T) {
	sched := kernel.New()
	main := sched.Current()
	sem := kernel.NewSemaphore(sched, 0)

	var ran bool
	sched.Create("waiter", 10, func(*kernel.Thread) {
		sem.Down()
		ran = true
	})

	stepWorkers(sched, main)
	if ran {
		t.Fatal("waiter ran before Up")
	}

	sem.Up()
	stepWorkers(sched, main)
	if !ran {
		t.Fatal("waiter did not run after Up")
	}
}

func TestLockMutualExclusion(t *testing.T) {
	sched := kernel.New()
	lock := kernel.NewLock(sched)

	if lock.Held() {
		t.Fatal("fresh lock reports held")
	}

	lock.Acquire()
	if got := lock.Owner(); got != sched.Current() {
		t.Fatalf("lock owner = %v, want current thread", got)
	}
	lock.Release()
	if lock.Held() {
		t.Fatal("lock still held after Release")
	}
}

func TestCondSignalWakesWaiter(t *testing.T) {
	sched := kernel.New()
	main := sched.Current()
	lock := kernel.NewLock(sched)
	cond := kernel.NewCond(sched)

	ready := false
	consumed := false
	sched.Create("consumer", 10, func(*kernel.Thread) {
		lock.Acquire()
		for !ready {
			cond.Wait(lock)
		}
		consumed = true
		lock.Release()
	})

	stepWorkers(sched, main)
	if consumed {
		t.Fatal("consumer ran past Wait before condition was signalled")
	}

	lock.Acquire()
	ready = true
	cond.Signal()
	lock.Release()

	stepWorkers(sched, main)
	if !consumed {
		t.Fatal("consumer did not resume after Signal")
	}
}

func TestCondBroadcastWakesAllWaiters(t *testing.T) {
	sched := kernel.New()
	main := sched.Current()
	lock := kernel.NewLock(sched)
	cond := kernel.NewCond(sched)

	ready := false
	var woke int
	for i := 0; i < 3; i++ {
		sched.Create("consumer", 10, func(*kernel.Thread) {
			lock.Acquire()
			for !ready {
				cond.Wait(lock)
			}
			woke++
			lock.Release()
		})
	}

	stepWorkers(sched, main)
	if woke != 0 {
		t.Fatalf("woke = %d before signalling, want 0", woke)
	}

	lock.Acquire()
	ready = true
	cond.Broadcast()
	lock.Release()

	stepWorkers(sched, main)
	if woke != 3 {
		t.Fatalf("woke = %d after Broadcast, want 3", woke)
	}
}
