package syscall

import (
	"github.com/go-pintos/kernel/internal/collaborators"
	"github.com/go-pintos/kernel/internal/kernel"
	"github.com/go-pintos/kernel/internal/process"
)

// maxStringScan bounds the NUL-scan validateUserString performs, so a
// buffer that is mapped but never contains a NUL cannot hang the
// dispatcher — there is no hardware page fault here to bound the loop for
// us, so the bound is explicit.
const maxStringScan = 4096

// TrapFrame is the simulated interrupt frame for a SYS entry: the user
// stack pointer at trap time. The call number and arguments are read out
// of the calling process's mapped memory at esp, esp+4, esp+8, esp+12.
type TrapFrame struct {
	ESP uint32
}

// Dispatcher decodes and dispatches system calls against a process.Manager.
// It never holds process state itself.
type Dispatcher struct {
	mgr *process.Manager
}

// New constructs a dispatcher bound to mgr.
func New(mgr *process.Manager) *Dispatcher {
	return &Dispatcher{mgr: mgr}
}

// validateUserPointer implements the user-pointer contract of §4.5:
// non-null, strictly below PHYS_BASE, and currently mapped in pd.
func validateUserPointer(pd collaborators.PageDirectory, addr uint32) bool {
	return addr != 0 && addr < process.PhysBase && process.IsMapped(pd, addr)
}

// validateUserBuffer checks a buffer of length n at both its first and
// last byte, per §4.5's "checked at both buf and buf+n-1".
func validateUserBuffer(pd collaborators.PageDirectory, addr, n uint32) bool {
	if n == 0 {
		return validateUserPointer(pd, addr)
	}
	return validateUserPointer(pd, addr) && validateUserPointer(pd, addr+n-1)
}

// validateUserString walks addr byte by byte, validating each one, until it
// finds a NUL or exceeds maxStringScan — a bounded stand-in for the
// reference kernel's per-byte get_user loop, since this simulation has no
// page fault to terminate an unbounded scan for us.
func validateUserString(pd collaborators.PageDirectory, addr uint32) (string, bool) {
	var out []byte
	for i := uint32(0); i < maxStringScan; i++ {
		cur := addr + i
		if !validateUserPointer(pd, cur) {
			return "", false
		}
		page, _ := pd.GetPage(cur)
		b := page[cur%collaborators.PageSize]
		if b == 0 {
			return string(out), true
		}
		out = append(out, b)
	}
	return "", false
}

// Dispatch validates frame's trap arguments, decodes the call number, and
// invokes the corresponding process.Manager operation, returning the value
// that belongs in the trap frame's eax. Any pointer-validation failure
// terminates the calling process with exit(-1), matching §4.5 exactly;
// Dispatch itself then returns 0 since the caller (the exited thread's own
// goroutine) never resumes past ExitProcess.
func (d *Dispatcher) Dispatch(info *process.Info, frame TrapFrame) int32 {
	pd := info.PageDir()
	esp := frame.ESP
	if !validateUserPointer(pd, esp) || !validateUserPointer(pd, esp+4) ||
		!validateUserPointer(pd, esp+8) || !validateUserPointer(pd, esp+12) {
		d.mgr.ExitProcess(info, -1)
		return 0
	}

	num, _ := process.ReadUint32(pd, esp)
	arg0, _ := process.ReadUint32(pd, esp+4)
	arg1, _ := process.ReadUint32(pd, esp+8)
	arg2, _ := process.ReadUint32(pd, esp+12)

	switch num {
	case SysHalt:
		d.mgr.Halt()
		return 0

	case SysExit:
		d.mgr.ExitProcess(info, int32(arg0))
		return 0

	case SysExec:
		cmdLine, ok := validateUserString(pd, arg0)
		if !ok {
			d.mgr.ExitProcess(info, -1)
			return 0
		}
		tid, err := d.mgr.Execute(cmdLine)
		if err != nil {
			return -1
		}
		return int32(tid)

	case SysWait:
		return d.mgr.Wait(kernel.ThreadID(int32(arg0)))

	case SysCreate:
		name, ok := d.validateFilename(info, pd, arg0)
		if !ok {
			return 0
		}
		if err := d.mgr.Create(name, arg1); err != nil {
			return 0
		}
		return 1

	case SysRemove:
		name, ok := d.validateFilename(info, pd, arg0)
		if !ok {
			return 0
		}
		if err := d.mgr.Remove(name); err != nil {
			return 0
		}
		return 1

	case SysOpen:
		name, ok := d.validateFilename(info, pd, arg0)
		if !ok {
			return -1
		}
		fd, err := d.mgr.Open(info, name)
		if err != nil {
			return -1
		}
		return fd

	case SysFilesize:
		size, ok := d.mgr.Filesize(info, int32(arg0))
		if !ok {
			return -1
		}
		return size

	case SysRead:
		if !validateUserBuffer(pd, arg1, arg2) {
			d.mgr.ExitProcess(info, -1)
			return 0
		}
		buf := make([]byte, arg2)
		n := d.mgr.Read(info, int32(arg0), buf)
		if n > 0 {
			writeUserBuffer(pd, arg1, buf[:n])
		}
		return n

	case SysWrite:
		if !validateUserBuffer(pd, arg1, arg2) {
			d.mgr.ExitProcess(info, -1)
			return 0
		}
		buf := readUserBuffer(pd, arg1, arg2)
		return d.mgr.Write(info, int32(arg0), buf)

	case SysSeek:
		d.mgr.Seek(info, int32(arg0), arg1)
		return 0

	case SysTell:
		pos, ok := d.mgr.Tell(info, int32(arg0))
		if !ok {
			return 0
		}
		return int32(pos)

	case SysClose:
		d.mgr.Close(info, int32(arg0))
		return 0

	default:
		return 0
	}
}

// validateFilename checks the pointer, then the length constraint of §6:
// a pointer failure exits the process; a length failure returns false so
// the caller can report its own false/-1 without terminating.
func (d *Dispatcher) validateFilename(info *process.Info, pd collaborators.PageDirectory, addr uint32) (string, bool) {
	name, ok := validateUserString(pd, addr)
	if !ok {
		d.mgr.ExitProcess(info, -1)
		return "", false
	}
	if len(name) < minFilenameLen || len(name) > maxFilenameLen {
		return "", false
	}
	return name, true
}

func readUserBuffer(pd collaborators.PageDirectory, addr, n uint32) []byte {
	buf := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		page, _ := pd.GetPage(addr + i)
		buf[i] = page[(addr+i)%collaborators.PageSize]
	}
	return buf
}

func writeUserBuffer(pd collaborators.PageDirectory, addr uint32, buf []byte) {
	for i, b := range buf {
		page, ok := pd.GetPage(addr + uint32(i))
		if !ok {
			return
		}
		page[(addr+uint32(i))%collaborators.PageSize] = b
	}
}
