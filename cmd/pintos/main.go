// Command pintos drives the kernel simulation end to end: it boots a
// scheduler and process manager, seeds a tiny in-memory file system with
// stub executables, runs a command line to completion, and drives the
// timer tick loop alongside it.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/go-pintos/kernel/internal/collaborators"
	"github.com/go-pintos/kernel/internal/kernel"
	"github.com/go-pintos/kernel/internal/process"
)

// Options are the harness's command-line flags.
type Options struct {
	Command string        `short:"c" long:"command" default:"echo hello world" description:"initial command line to execute"`
	Tick    time.Duration `short:"t" long:"tick" default:"1ms" description:"simulated timer period"`
	Ticks   int           `long:"ticks" default:"1000" description:"number of timer ticks to drive before giving up"`
}

func main() {
	log.SetFlags(0)

	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		log.Fatalf("invalid arguments: %s", err)
	}

	sched := kernel.New()
	fs := collaborators.NewFakeFileSystem()
	console := collaborators.NewFakeConsole()
	machine := &collaborators.FakeMachine{}

	mgr := process.NewManager(sched, fs, console, machine, func() collaborators.PageDirectory {
		return collaborators.NewFakePageDirectory()
	})
	registerDemoPrograms(mgr)
	seedDemoExecutables(fs)

	// AdvanceTick is driven from a dedicated goroutine outside the thread
	// model, exactly as the kernel package documents: it only ever touches
	// the scheduler through its own mutex, never through a thread's
	// resume channel. Every other call below (Execute, Wait, ...) must run
	// on the same goroutine that called kernel.New(), since that goroutine
	// *is* the adopted "main" kernel thread the baton model hands the CPU
	// token to and from.
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(opts.Tick)
		defer ticker.Stop()
		for i := 0; i < opts.Ticks; i++ {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				sched.AdvanceTick()
				if machine.IsPoweredOff() {
					return nil
				}
			}
		}
		return nil
	})

	tid, err := mgr.Execute(opts.Command)
	if err != nil {
		cancel()
		_ = g.Wait()
		log.Fatalf("exec %q: %s", opts.Command, err)
	}
	status := mgr.Wait(tid)
	fmt.Printf("%s", console.Output())
	fmt.Printf("process %d exited with status %d\n", tid, status)

	cancel()
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

// registerDemoPrograms binds the names seedDemoExecutables installs to
// Program bodies, standing in for what their compiled code would do.
func registerDemoPrograms(mgr *process.Manager) {
	mgr.RegisterProgram("echo", func(m *process.Manager, info *process.Info, argv []string) {
		for i, a := range argv {
			if i > 0 {
				m.Write(info, 1, []byte(" "))
			}
			m.Write(info, 1, []byte(a))
		}
		m.Write(info, 1, []byte("\n"))
	})
}

// seedDemoExecutables installs a stub ELF image under every name the demo
// harness's registered programs answer to.
func seedDemoExecutables(fs *collaborators.FakeFileSystem) {
	stub := process.BuildStubELF()
	fs.Seed("echo", stub)
}
