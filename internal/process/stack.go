package process

import (
	"encoding/binary"
	"errors"

	"github.com/go-pintos/kernel/internal/collaborators"
)

// PhysBase is the boundary between user and kernel virtual address space;
// user pointers must be strictly below it, and the initial user stack is
// built growing down from it.
const PhysBase = 0xC0000000

// ErrStackOverflow is returned when argv does not fit in the single
// zero-filled page the reference kernel allocates for the initial stack.
var ErrStackOverflow = errors.New("process: argument list does not fit in one stack page")

// buildStack lays out the initial user stack exactly as §6 describes:
// argv strings (NUL-terminated) packed at the top, an alignment pad, the
// argv[argc] NULL sentinel, the argv pointer array (reverse order so it
// reads forward), the argv base pointer, argc, and a fake return address —
// growing down from PhysBase into a single zeroed page, mirroring
// setup_stack's one-page allocation. Returns the resulting esp.
func buildStack(pd collaborators.PageDirectory, progName string, args []string) (uint32, error) {
	page := make([]byte, collaborators.PageSize)
	pageBase := uint32(PhysBase - collaborators.PageSize)
	esp := int(collaborators.PageSize)

	push := func(b []byte) (uint32, error) {
		esp -= len(b)
		if esp < 0 {
			return 0, ErrStackOverflow
		}
		copy(page[esp:], b)
		return pageBase + uint32(esp), nil
	}
	pushUint32 := func(v uint32) error {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		_, err := push(b[:])
		return err
	}

	argv := make([]string, 0, len(args)+1)
	argv = append(argv, progName)
	argv = append(argv, args...)

	addrs := make([]uint32, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		bytes := append([]byte(argv[i]), 0)
		addr, err := push(bytes)
		if err != nil {
			return 0, err
		}
		addrs[i] = addr
	}

	// Align so the word pushed next (the NULL sentinel) starts on a
	// 4-byte boundary, mirroring push_arguments's alignment step.
	consumed := collaborators.PageSize - esp
	if pad := consumed % 4; pad != 0 {
		esp -= 4 - pad
		if esp < 0 {
			return 0, ErrStackOverflow
		}
	}

	if err := pushUint32(0); err != nil { // argv[argc] sentinel
		return 0, err
	}
	for i := len(addrs) - 1; i >= 0; i-- {
		if err := pushUint32(addrs[i]); err != nil {
			return 0, err
		}
	}
	argvPtr := pageBase + uint32(esp)

	if err := pushUint32(argvPtr); err != nil { // argv
		return 0, err
	}
	if err := pushUint32(uint32(len(argv))); err != nil { // argc
		return 0, err
	}
	if err := pushUint32(0); err != nil { // fake return address
		return 0, err
	}

	if !pd.SetPage(pageBase, page, true) {
		return 0, ErrStackOverflow
	}
	return pageBase + uint32(esp), nil
}

// ReadCString reads a NUL-terminated string starting at vaddr out of pd,
// for tests that want to inspect a built stack's argv entries without a
// live dispatcher. Returns false if vaddr is unmapped or no NUL is found
// within the page.
func ReadCString(pd collaborators.PageDirectory, vaddr uint32) (string, bool) {
	page, ok := pd.GetPage(vaddr)
	if !ok {
		return "", false
	}
	off := int(vaddr % collaborators.PageSize)
	for i := off; i < len(page); i++ {
		if page[i] == 0 {
			return string(page[off:i]), true
		}
	}
	return "", false
}

// IsMapped reports whether vaddr falls within a page currently mapped in
// pd.
func IsMapped(pd collaborators.PageDirectory, vaddr uint32) bool {
	_, ok := pd.GetPage(vaddr)
	return ok
}

// ReadUint32 reads a little-endian 32-bit word at vaddr out of pd.
func ReadUint32(pd collaborators.PageDirectory, vaddr uint32) (uint32, bool) {
	page, ok := pd.GetPage(vaddr)
	if !ok {
		return 0, false
	}
	off := vaddr % collaborators.PageSize
	if off+4 > collaborators.PageSize {
		return 0, false
	}
	return binary.LittleEndian.Uint32(page[off : off+4]), true
}
