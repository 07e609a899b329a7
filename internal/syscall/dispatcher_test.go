package syscall_test

import (
	"encoding/binary"
	"testing"

	"github.com/go-pintos/kernel/internal/collaborators"
	"github.com/go-pintos/kernel/internal/kernel"
	"github.com/go-pintos/kernel/internal/process"
	"github.com/go-pintos/kernel/internal/syscall"
)

const (
	scratchVA = 0x08060000
	frameVA   = 0x08061000
)

func newTestManager() (*process.Manager, *collaborators.FakeFileSystem, *collaborators.FakeMachine) {
	sched := kernel.New()
	fs := collaborators.NewFakeFileSystem()
	machine := &collaborators.FakeMachine{}
	mgr := process.NewManager(sched, fs, collaborators.NewFakeConsole(), machine, func() collaborators.PageDirectory {
		return collaborators.NewFakePageDirectory()
	})
	return mgr, fs, machine
}

// setFrame writes a call-number-plus-three-arguments trap frame at frameVA,
// mutating the already-mapped scratch page in place.
func setFrame(pd collaborators.PageDirectory, num, a0, a1, a2 uint32) {
	page, ok := pd.GetPage(frameVA)
	if !ok {
		panic("frame page not mapped")
	}
	binary.LittleEndian.PutUint32(page[0:4], num)
	binary.LittleEndian.PutUint32(page[4:8], a0)
	binary.LittleEndian.PutUint32(page[8:12], a1)
	binary.LittleEndian.PutUint32(page[12:16], a2)
}

func TestDispatchFullTable(t *testing.T) {
	mgr, fs, machine := newTestManager()
	fs.Seed("prog", process.BuildStubELF())

	mgr.RegisterProgram("prog", func(m *process.Manager, info *process.Info, argv []string) {
		pd := info.PageDir()
		scratch := make([]byte, collaborators.PageSize)
		copy(scratch[0:], "data.txt\x00")
		copy(scratch[64:], "helloworld")
		pd.SetPage(scratchVA, scratch, true)
		pd.SetPage(frameVA, make([]byte, collaborators.PageSize), true)

		disp := syscall.New(m)
		dispatch := func(num, a0, a1, a2 uint32) int32 {
			setFrame(pd, num, a0, a1, a2)
			return disp.Dispatch(info, syscall.TrapFrame{ESP: frameVA})
		}

		if ret := dispatch(syscall.SysCreate, scratchVA, 100, 0); ret != 1 {
			t.Errorf("SysCreate = %d, want 1", ret)
		}

		fd := dispatch(syscall.SysOpen, scratchVA, 0, 0)
		if fd < 2 {
			t.Errorf("SysOpen = %d, want fd >= 2", fd)
		}

		if ret := dispatch(syscall.SysWrite, uint32(fd), scratchVA+64, 10); ret != 10 {
			t.Errorf("SysWrite = %d, want 10", ret)
		}

		if ret := dispatch(syscall.SysFilesize, uint32(fd), 0, 0); ret != 100 {
			t.Errorf("SysFilesize = %d, want 100 (Create's initial size)", ret)
		}

		dispatch(syscall.SysSeek, uint32(fd), 5, 0)
		if ret := dispatch(syscall.SysTell, uint32(fd), 0, 0); ret != 5 {
			t.Errorf("SysTell after Seek(5) = %d, want 5", ret)
		}

		if ret := dispatch(syscall.SysRead, uint32(fd), scratchVA+128, 5); ret != 5 {
			t.Errorf("SysRead = %d, want 5", ret)
		}
		page, _ := pd.GetPage(scratchVA)
		if got := string(page[128:133]); got != "world" {
			t.Errorf("SysRead landed %q, want \"world\"", got)
		}

		dispatch(syscall.SysClose, uint32(fd), 0, 0)

		if ret := dispatch(syscall.SysRemove, scratchVA, 0, 0); ret != 1 {
			t.Errorf("SysRemove = %d, want 1", ret)
		}

		dispatch(syscall.SysHalt, 0, 0, 0)

		dispatch(syscall.SysExit, 5, 0, 0)
	})

	tid, err := mgr.Execute("prog")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status := mgr.Wait(tid); status != 5 {
		t.Fatalf("Wait status = %d, want 5", status)
	}
	if !machine.IsPoweredOff() {
		t.Fatal("SysHalt did not power off the machine")
	}
}

func TestDispatchExecAndWait(t *testing.T) {
	mgr, fs, _ := newTestManager()
	fs.Seed("parent", process.BuildStubELF())
	fs.Seed("child", process.BuildStubELF())

	mgr.RegisterProgram("child", func(m *process.Manager, info *process.Info, argv []string) {
		m.ExitProcess(info, 7)
	})
	mgr.RegisterProgram("parent", func(m *process.Manager, info *process.Info, argv []string) {
		pd := info.PageDir()
		scratch := make([]byte, collaborators.PageSize)
		copy(scratch, "child\x00")
		pd.SetPage(scratchVA, scratch, true)
		pd.SetPage(frameVA, make([]byte, collaborators.PageSize), true)

		disp := syscall.New(m)
		setFrame(pd, syscall.SysExec, scratchVA, 0, 0)
		childTid := disp.Dispatch(info, syscall.TrapFrame{ESP: frameVA})
		if childTid < 0 {
			m.ExitProcess(info, -1)
			return
		}

		setFrame(pd, syscall.SysWait, uint32(childTid), 0, 0)
		status := disp.Dispatch(info, syscall.TrapFrame{ESP: frameVA})
		m.ExitProcess(info, status)
	})

	tid, err := mgr.Execute("parent")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status := mgr.Wait(tid); status != 7 {
		t.Fatalf("Wait status = %d, want 7 (forwarded from grandchild)", status)
	}
}

func TestDispatchBadFramePointerExits(t *testing.T) {
	mgr, fs, _ := newTestManager()
	fs.Seed("prog", process.BuildStubELF())

	mgr.RegisterProgram("prog", func(m *process.Manager, info *process.Info, argv []string) {
		disp := syscall.New(m)
		// esp itself is unmapped: the dispatcher must exit(-1) without ever
		// decoding a call number.
		disp.Dispatch(info, syscall.TrapFrame{ESP: 0x99999000})
	})

	tid, err := mgr.Execute("prog")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status := mgr.Wait(tid); status != -1 {
		t.Fatalf("Wait status = %d, want -1", status)
	}
}

func TestDispatchWriteToKernelSpaceExits(t *testing.T) {
	mgr, fs, _ := newTestManager()
	fs.Seed("prog", process.BuildStubELF())

	mgr.RegisterProgram("prog", func(m *process.Manager, info *process.Info, argv []string) {
		pd := info.PageDir()
		pd.SetPage(frameVA, make([]byte, collaborators.PageSize), true)
		setFrame(pd, syscall.SysWrite, 1, process.PhysBase, 8)

		disp := syscall.New(m)
		disp.Dispatch(info, syscall.TrapFrame{ESP: frameVA})
	})

	tid, err := mgr.Execute("prog")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status := mgr.Wait(tid); status != -1 {
		t.Fatalf("write(1, PHYS_BASE, 8) exit status = %d, want -1", status)
	}
}
