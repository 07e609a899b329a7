package kernel_test

import (
	"testing"

	"github.com/go-pintos/kernel/internal/kernel"
)

// stepWorkers temporarily drops main below every worker's priority and
// yields, so the highest-ready worker (and whatever it transitively
// dispatches to) runs until every worker has either blocked again or
// exited, then restores main's priority and returns control to the test.
func stepWorkers(sched *kernel.Scheduler, main *kernel.Thread) {
	sched.SetPriority(main, kernel.PriMin)
	sched.Yield()
	sched.SetPriority(main, kernel.PriDefault)
}

func TestDonationBasic(t *testing.T) {
	sched := kernel.New()
	lockA := kernel.NewLock(sched)
	lockA.Acquire()

	release := kernel.NewSemaphore(sched, 0)
	high, err := sched.Create("high", 40, func(*kernel.Thread) {
		lockA.Acquire()
		release.Down()
		lockA.Release()
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Creating a higher-priority thread yields immediately; high blocks
	// trying to acquire lockA and donates to main before control returns.
	if got := sched.Current().Priority(); got != 40 {
		t.Fatalf("main priority after donation = %d, want 40", got)
	}

	lockA.Release()

	if got := lockA.Owner(); got != high {
		t.Fatalf("lockA owner = %v, want high", got)
	}
	if got := sched.Current().Priority(); got != 31 {
		t.Fatalf("main priority after release = %d, want 31 (base)", got)
	}

	release.Up()
}

func TestNestedDonation(t *testing.T) {
	sched := kernel.New()
	main := sched.Current()
	l1 := kernel.NewLock(sched)
	l2 := kernel.NewLock(sched)

	releaseLow := kernel.NewSemaphore(sched, 0)
	low, err := sched.Create("low", 10, func(*kernel.Thread) {
		l1.Acquire()
		releaseLow.Down()
		l1.Release()
	})
	if err != nil {
		t.Fatalf("Create(low): %v", err)
	}
	stepWorkers(sched, main)
	if got := low.Priority(); got != 10 {
		t.Fatalf("low priority after acquiring l1 = %d, want 10", got)
	}

	releaseMid := kernel.NewSemaphore(sched, 0)
	mid, err := sched.Create("mid", 20, func(*kernel.Thread) {
		l2.Acquire()
		l1.Acquire()
		releaseMid.Down()
		l1.Release()
		l2.Release()
	})
	if err != nil {
		t.Fatalf("Create(mid): %v", err)
	}
	stepWorkers(sched, main)
	if got := low.Priority(); got != 20 {
		t.Fatalf("low priority after mid blocks on l1 = %d, want 20 (donated)", got)
	}

	_, err = sched.Create("high", 30, func(*kernel.Thread) {
		l2.Acquire()
		l2.Release()
	})
	if err != nil {
		t.Fatalf("Create(high): %v", err)
	}
	stepWorkers(sched, main)
	if got := mid.Priority(); got != 30 {
		t.Fatalf("mid priority after high blocks on l2 = %d, want 30 (donated)", got)
	}
	if got := low.Priority(); got != 30 {
		t.Fatalf("low priority after high's chain donation = %d, want 30 (transitive)", got)
	}

	releaseLow.Up()
	stepWorkers(sched, main)
	if got := low.Priority(); got != 10 {
		t.Fatalf("low priority after releasing l1 = %d, want back to base 10", got)
	}

	releaseMid.Up()
	stepWorkers(sched, main)
	if got := mid.Priority(); got != 20 {
		t.Fatalf("mid priority after releasing l1/l2 = %d, want back to base 20", got)
	}
}
