package process

import (
	"encoding/binary"

	"github.com/go-pintos/kernel/internal/collaborators"
)

// stubCodeVaddr is the load address the stub segment built by BuildStubELF
// maps its single page at; it must satisfy validateSegment (page-aligned,
// above page zero, wholly below PhysBase).
const stubCodeVaddr = 0x08048000

// BuildStubELF constructs a minimal, valid ELF32 executable consisting of
// a single one-page PT_LOAD segment at stubCodeVaddr, with its entry point
// set to that segment's start. It exists because this simulation never
// compiles or executes real machine code: a registered Program supplies the
// behavior a real executable's code would have, and BuildStubELF supplies
// bytes that satisfy load()'s header and segment validation so the loader
// itself can be exercised end to end.
func BuildStubELF() []byte {
	const phoff = 52 // immediately after the fixed header

	buf := make([]byte, phoff+elfPhdrSize)

	copy(buf[0:7], []byte{0x7F, 'E', 'L', 'F', 1, 1, 1})
	binary.LittleEndian.PutUint16(buf[16:18], 2)            // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 3)             // e_machine = EM_386
	binary.LittleEndian.PutUint32(buf[20:24], 1)             // e_version
	binary.LittleEndian.PutUint32(buf[24:28], stubCodeVaddr) // e_entry
	binary.LittleEndian.PutUint32(buf[28:32], phoff)         // e_phoff
	binary.LittleEndian.PutUint16(buf[42:44], elfPhdrSize)   // e_phentsize
	binary.LittleEndian.PutUint16(buf[44:46], 1)             // e_phnum

	ph := buf[phoff:]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:8], 0)              // p_offset
	binary.LittleEndian.PutUint32(ph[8:12], stubCodeVaddr)  // p_vaddr
	binary.LittleEndian.PutUint32(ph[12:16], stubCodeVaddr) // p_paddr
	binary.LittleEndian.PutUint32(ph[16:20], uint32(len(buf)))
	binary.LittleEndian.PutUint32(ph[20:24], collaborators.PageSize)
	binary.LittleEndian.PutUint32(ph[24:28], pfR|pfX)
	binary.LittleEndian.PutUint32(ph[28:32], collaborators.PageSize)

	return buf
}
