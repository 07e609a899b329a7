package kernel_test

import (
	"testing"

	"github.com/go-pintos/kernel/internal/kernel"
)

func TestNewAdoptsCallerAsMainThread(t *testing.T) {
	sched := kernel.New()
	main := sched.Current()
	if main == nil {
		t.Fatal("New did not adopt a current thread")
	}
	if got := main.BasePriority(); got != kernel.PriDefault {
		t.Fatalf("main base priority = %d, want %d", got, kernel.PriDefault)
	}
	if got := len(sched.AllThreads()); got != 2 {
		t.Fatalf("AllThreads len = %d, want 2 (main, idle)", got)
	}
}

func TestReadyQueueOrdersByPriority(t *testing.T) {
	sched := kernel.New()
	main := sched.Current()

	var order []string
	gate := kernel.NewSemaphore(sched, 0)
	for _, spec := range []struct {
		name string
		pri  int
	}{
		{"low", 10}, {"high", 25}, {"mid", 20},
	} {
		spec := spec
		sched.Create(spec.name, spec.pri, func(*kernel.Thread) {
			order = append(order, spec.name)
			gate.Down()
		})
	}

	sched.SetPriority(main, kernel.PriMin)
	// This one Yield runs every worker, in strictly descending priority
	// order, until each has blocked on gate.
	sched.Yield()
	sched.SetPriority(main, kernel.PriDefault)

	want := []string{"high", "mid", "low"}
	if len(order) != len(want) {
		t.Fatalf("ran %d workers before all blocked, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("run order = %v, want %v", order, want)
		}
	}

	for range want {
		gate.Up()
	}
}

func TestSleepOrdering(t *testing.T) {
	sched := kernel.New()
	main := sched.Current()

	a, _ := sched.Create("A", 20, func(*kernel.Thread) {
		sched.SleepUntil(200)
	})
	b, _ := sched.Create("B", 20, func(*kernel.Thread) {
		sched.SleepUntil(100)
	})

	sched.SetPriority(main, kernel.PriMin)
	sched.Yield()
	sched.SetPriority(main, kernel.PriDefault)

	var wokeAAt, wokeBAt uint64
	for tick := uint64(1); tick <= 200; tick++ {
		for _, id := range sched.AdvanceTick() {
			switch id {
			case a.ID():
				wokeAAt = tick
			case b.ID():
				wokeBAt = tick
			}
		}
	}

	if wokeBAt != 100 {
		t.Fatalf("B woke at tick %d, want exactly 100", wokeBAt)
	}
	if wokeAAt != 200 {
		t.Fatalf("A woke at tick %d, want exactly 200", wokeAAt)
	}
}

func TestExitMarksThreadDying(t *testing.T) {
	sched := kernel.New()
	main := sched.Current()

	th, _ := sched.Create("ephemeral", 10, func(*kernel.Thread) {})

	sched.SetPriority(main, kernel.PriMin)
	sched.Yield()
	sched.SetPriority(main, kernel.PriDefault)

	if got := th.State(); got != kernel.Dying {
		t.Fatalf("ephemeral thread state = %v, want Dying", got)
	}
}
