// Package process implements the user-process layer: spawning a process
// from a command line, loading its ELF executable into a fresh address
// space, building its initial stack, and the parent/child wait/exit
// handshake. It has no notion of traps or user pointers — that validation
// lives in internal/syscall, which calls back into the exported Manager
// methods here.
package process

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-pintos/kernel/internal/collaborators"
	"github.com/go-pintos/kernel/internal/kernel"
)

// ErrEmptyCommand is returned by Execute when the command line has no
// tokens.
var ErrEmptyCommand = errors.New("process: empty command line")

// ErrLoadFailed is returned by Execute when the child process could not
// load its executable.
var ErrLoadFailed = errors.New("process: executable failed to load")

// Program is a registered user program's body: what it does once loaded,
// standing in for compiled user-mode machine code, which this simulation
// has no way to execute directly. A Program issues its "system calls" by
// calling back into the supplied Manager against its own Info.
type Program func(m *Manager, info *Info, argv []string)

// Info carries every user-process field spec.md §3 adds to a TCB: page
// directory, parent/children links, fd table, executable handle, and the
// rendezvous semaphore and load/exit status slots used during the
// exec/wait/exit handshake.
type Info struct {
	thread *kernel.Thread
	name   string

	pagedir  collaborators.PageDirectory
	execFile collaborators.File
	fds      *FDTable

	parent   *Info
	children []*Info

	rendezvous      *kernel.Semaphore
	childLoadStatus int32
	childExitStatus int32
	exitStatus      int32

	entryPoint   uint32
	stackPointer uint32
}

// Thread returns the kernel thread backing this process.
func (info *Info) Thread() *kernel.Thread { return info.thread }

// Name returns the process's executable name.
func (info *Info) Name() string { return info.name }

// FDs returns the process's file-descriptor table.
func (info *Info) FDs() *FDTable { return info.fds }

// PageDir returns the process's page directory, or nil before load
// completes.
func (info *Info) PageDir() collaborators.PageDirectory { return info.pagedir }

// EntryPoint and StackPointer return the values load() produced, for tests
// inspecting a freshly-loaded process without running its program body.
func (info *Info) EntryPoint() uint32   { return info.entryPoint }
func (info *Info) StackPointer() uint32 { return info.stackPointer }

// Manager owns every process-layer dependency: the scheduler, the file
// system and console collaborators, the single global file-system lock,
// and the registry of loaded process Infos and runnable Programs.
type Manager struct {
	sched      *kernel.Scheduler
	fs         collaborators.FileSystem
	fsLock     *kernel.Lock
	console    collaborators.Console
	machine    collaborators.Machine
	newPageDir func() collaborators.PageDirectory

	mu       sync.Mutex
	infos    map[kernel.ThreadID]*Info
	programs map[string]Program
}

// NewManager constructs a process manager bound to sched. newPageDir
// builds a fresh, empty page directory for each loaded process.
func NewManager(sched *kernel.Scheduler, fs collaborators.FileSystem, console collaborators.Console, machine collaborators.Machine, newPageDir func() collaborators.PageDirectory) *Manager {
	return &Manager{
		sched:      sched,
		fs:         fs,
		fsLock:     kernel.NewLock(sched),
		console:    console,
		machine:    machine,
		newPageDir: newPageDir,
		infos:      make(map[kernel.ThreadID]*Info),
		programs:   make(map[string]Program),
	}
}

// RegisterProgram binds name to the body a spawned process of that name
// runs after it finishes loading, in place of real executable bytes. A
// program with no registered body simply runs to completion immediately
// (as if it called exit(0)).
func (m *Manager) RegisterProgram(name string, prog Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[name] = prog
}

func (m *Manager) lookupProgram(name string) (Program, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prog, ok := m.programs[name]
	return prog, ok
}

// CurrentInfo returns the process Info for the scheduler's current thread,
// lazily creating a parentless root Info the first time a thread not
// spawned through Execute (the adopted "main" thread) calls into the
// process layer.
func (m *Manager) CurrentInfo() *Info {
	t := m.sched.Current()
	return m.infoFor(t, nil)
}

func (m *Manager) infoFor(t *kernel.Thread, parent *Info) *Info {
	if info, ok := t.Extra.(*Info); ok {
		return info
	}
	info := m.newInfo(t, t.Name(), parent)
	t.Extra = info
	return info
}

func (m *Manager) newInfo(t *kernel.Thread, name string, parent *Info) *Info {
	info := &Info{
		thread:          t,
		name:            name,
		parent:          parent,
		fds:             NewFDTable(),
		rendezvous:      kernel.NewSemaphore(m.sched, 0),
		childLoadStatus: -1,
	}
	m.mu.Lock()
	m.infos[t.ID()] = info
	if parent != nil {
		parent.children = append(parent.children, info)
	}
	m.mu.Unlock()
	return info
}

// Execute implements process_execute: tokenizes cmdLine, spawns a new
// thread that loads the named executable, blocks until that thread reports
// load success or failure, and returns the child's id, or the sentinel
// error if the load failed.
func (m *Manager) Execute(cmdLine string) (kernel.ThreadID, error) {
	fields := strings.Fields(cmdLine)
	if len(fields) == 0 {
		return kernel.TidError, ErrEmptyCommand
	}
	name, args := fields[0], fields[1:]
	parent := m.CurrentInfo()

	_, err := m.sched.Create(name, parent.thread.Priority(), func(t *kernel.Thread) {
		info := m.newInfo(t, name, parent)
		t.Extra = info
		m.runChild(info, name, args)
	})
	if err != nil {
		return kernel.TidError, err
	}

	parent.rendezvous.Down()

	m.mu.Lock()
	status := parent.childLoadStatus
	m.mu.Unlock()
	if status < 0 {
		return kernel.TidError, ErrLoadFailed
	}
	return kernel.ThreadID(status), nil
}

// runChild is the child thread's entry trampoline: load, report to the
// parent, wait to be released, run the program body (if any), then exit.
func (m *Manager) runChild(info *Info, name string, args []string) {
	entry, sp, err := m.load(info, name, args)
	if err != nil {
		if info.parent != nil {
			m.mu.Lock()
			info.parent.childLoadStatus = -1
			m.mu.Unlock()
			// No explicit signal here: ExitProcess's parent-teardown
			// step below always ups the parent's rendezvous, exactly as
			// process_exit does regardless of how the thread got there.
		}
		m.ExitProcess(info, -1)
		return
	}
	info.entryPoint = entry
	info.stackPointer = sp

	if info.parent != nil {
		m.mu.Lock()
		info.parent.childLoadStatus = int32(info.thread.ID())
		m.mu.Unlock()
		info.parent.rendezvous.Up()
	}

	// Block until released by our parent's wait() or its exit, exactly
	// as start_process does before ever reaching user code.
	info.rendezvous.Down()

	m.fsLock.Acquire()
	execFile, err := m.fs.Open(name)
	m.fsLock.Release()
	if err == nil {
		execFile.DenyWrite()
		info.execFile = execFile
	}

	if prog, ok := m.lookupProgram(name); ok {
		prog(m, info, args)
	}
	m.ExitProcess(info, 0)
}

// load creates a fresh page directory, opens and parses the named
// executable, maps its PT_LOAD segments, and builds the initial stack.
func (m *Manager) load(info *Info, name string, args []string) (uint32, uint32, error) {
	pd := m.newPageDir()
	info.pagedir = pd

	m.fsLock.Acquire()
	f, openErr := m.fs.Open(name)
	m.fsLock.Release()
	if openErr != nil {
		return 0, 0, ErrLoadFailed
	}
	defer f.Close()

	m.fsLock.Acquire()
	entry, err := loadELF(f, pd)
	m.fsLock.Release()
	if err != nil {
		return 0, 0, err
	}

	sp, err := buildStack(pd, name, args)
	if err != nil {
		return 0, 0, err
	}
	return entry, sp, nil
}

// Wait implements process_wait: looks up childTid among the caller's
// children, releases it to run (or to die, if it was already blocked
// waiting to be released), blocks until it reports its exit status, and
// returns that status. Returns -1 if childTid is not a direct child — this
// also covers "already waited on", since a child removes itself from its
// parent's children list as part of its own exit teardown.
func (m *Manager) Wait(childTid kernel.ThreadID) int32 {
	cur := m.CurrentInfo()

	m.mu.Lock()
	var child *Info
	for _, c := range cur.children {
		if c.thread.ID() == childTid {
			child = c
			break
		}
	}
	m.mu.Unlock()
	if child == nil {
		return -1
	}

	child.rendezvous.Up()
	cur.rendezvous.Down()

	m.mu.Lock()
	status := cur.childExitStatus
	m.mu.Unlock()
	return status
}

// ExitProcess implements the syscall exit handler's side effects together
// with process_exit's teardown: prints the exit message, records the
// status for the parent, closes every fd and the executable file, signals
// the parent and every child's rendezvous semaphore, tears down the page
// directory, and finally terminates the calling thread. It never returns.
func (m *Manager) ExitProcess(info *Info, status int32) {
	if m.console != nil {
		m.console.PutBuf([]byte(fmt.Sprintf("%s: exit(%d)\n", info.name, status)))
	}

	if info.fds != nil {
		info.fds.CloseAll()
	}
	if info.execFile != nil {
		info.execFile.Close()
	}

	m.mu.Lock()
	info.exitStatus = status
	parent := info.parent
	children := append([]*Info(nil), info.children...)
	if parent != nil {
		for i, c := range parent.children {
			if c == info {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
		parent.childExitStatus = status
	}
	delete(m.infos, info.thread.ID())
	m.mu.Unlock()

	if parent != nil {
		parent.rendezvous.Up()
	}
	for _, c := range children {
		c.rendezvous.Up()
	}

	if info.pagedir != nil {
		info.pagedir.Destroy()
		info.pagedir = nil
	}

	m.sched.Exit()
}

// Halt implements the halt system call: it powers off the machine
// collaborator and then returns to its caller.
func (m *Manager) Halt() {
	if m.machine != nil {
		m.machine.PowerOff()
	}
}

// Create implements the create system call, serialized by the global
// file-system lock.
func (m *Manager) Create(name string, initialSize uint32) error {
	m.fsLock.Acquire()
	defer m.fsLock.Release()
	return m.fs.Create(name, initialSize)
}

// Remove implements the remove system call.
func (m *Manager) Remove(name string) error {
	m.fsLock.Acquire()
	defer m.fsLock.Release()
	return m.fs.Remove(name)
}

// Open implements the open system call: opens name through the file
// system and registers it in info's fd table, returning the new fd.
func (m *Manager) Open(info *Info, name string) (int32, error) {
	m.fsLock.Acquire()
	f, err := m.fs.Open(name)
	m.fsLock.Release()
	if err != nil {
		return -1, err
	}
	return info.fds.Open(f), nil
}

// Close implements the close system call.
func (m *Manager) Close(info *Info, fd int32) {
	m.fsLock.Acquire()
	defer m.fsLock.Release()
	info.fds.Close(fd)
}

// Filesize implements the filesize system call.
func (m *Manager) Filesize(info *Info, fd int32) (int32, bool) {
	f, ok := info.fds.Get(fd)
	if !ok {
		return 0, false
	}
	m.fsLock.Acquire()
	defer m.fsLock.Release()
	return int32(f.Length()), true
}

// Seek implements the seek system call.
func (m *Manager) Seek(info *Info, fd int32, pos uint32) {
	f, ok := info.fds.Get(fd)
	if !ok {
		return
	}
	m.fsLock.Acquire()
	defer m.fsLock.Release()
	f.Seek(pos)
}

// Tell implements the tell system call.
func (m *Manager) Tell(info *Info, fd int32) (uint32, bool) {
	f, ok := info.fds.Get(fd)
	if !ok {
		return 0, false
	}
	m.fsLock.Acquire()
	defer m.fsLock.Release()
	return f.Tell(), true
}

// Read implements the read system call: fd 0 reads from the keyboard a
// byte at a time until buf is full or input stops; any other fd reads
// through the file system under the global lock.
func (m *Manager) Read(info *Info, fd int32, buf []byte) int32 {
	if fd == stdinFd {
		if m.console == nil {
			return 0
		}
		var n int
		for n < len(buf) {
			c := m.console.GetC()
			if c == 0 {
				break
			}
			buf[n] = c
			n++
		}
		return int32(n)
	}
	f, ok := info.fds.Get(fd)
	if !ok {
		return -1
	}
	m.fsLock.Acquire()
	defer m.fsLock.Release()
	n, err := f.Read(buf)
	if err != nil {
		return -1
	}
	return int32(n)
}

// Write implements the write system call: fd 1 sends buf to the console in
// one call; any other fd writes through the file system under the global
// lock.
func (m *Manager) Write(info *Info, fd int32, buf []byte) int32 {
	if fd == stdoutFd {
		if m.console == nil {
			return 0
		}
		m.console.PutBuf(buf)
		return int32(len(buf))
	}
	f, ok := info.fds.Get(fd)
	if !ok {
		return -1
	}
	m.fsLock.Acquire()
	defer m.fsLock.Release()
	n, err := f.Write(buf)
	if err != nil {
		return -1
	}
	return int32(n)
}
