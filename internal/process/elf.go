package process

import (
	"encoding/binary"
	"errors"

	"github.com/go-pintos/kernel/internal/collaborators"
)

// ELF32 program-header types. See the ELF specification, [ELF1] 2-3.
const (
	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptNote    = 4
	ptShlib   = 5
	ptPhdr    = 6
	ptStack   = 0x6474e551
)

// ELF32 program-header flags. [ELF3] 2-3, 2-4.
const (
	pfX = 1
	pfW = 2
	pfR = 4
)

const (
	elfHeaderSize  = 52
	elfPhdrSize    = 32
	maxProgHeaders = 1024
)

var elfIdentMagic = [7]byte{0x7F, 'E', 'L', 'F', 1, 1, 1}

// ErrBadELFHeader is returned when the executable header fails any of the
// constraints laid out for load().
var ErrBadELFHeader = errors.New("process: malformed or unsupported ELF header")

// ErrBadSegment is returned when a PT_LOAD program header fails
// validateSegment, or a disallowed segment type (PT_DYNAMIC, PT_INTERP,
// PT_SHLIB) is encountered.
var ErrBadSegment = errors.New("process: invalid or unsupported program header")

type elfHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elfProgramHeader struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

// readELFHeader reads and validates the fixed executable header at the
// start of f against the exact constraints of §4.4: magic bytes, type,
// machine, version, program-header entry size, and program-header count.
func readELFHeader(f collaborators.File) (elfHeader, error) {
	var hdr elfHeader
	f.Seek(0)
	buf := make([]byte, elfHeaderSize)
	n, err := f.Read(buf)
	if err != nil || n != elfHeaderSize {
		return hdr, ErrBadELFHeader
	}
	copy(hdr.Ident[:], buf[0:16])
	hdr.Type = binary.LittleEndian.Uint16(buf[16:18])
	hdr.Machine = binary.LittleEndian.Uint16(buf[18:20])
	hdr.Version = binary.LittleEndian.Uint32(buf[20:24])
	hdr.Entry = binary.LittleEndian.Uint32(buf[24:28])
	hdr.Phoff = binary.LittleEndian.Uint32(buf[28:32])
	hdr.Shoff = binary.LittleEndian.Uint32(buf[32:36])
	hdr.Flags = binary.LittleEndian.Uint32(buf[36:40])
	hdr.Ehsize = binary.LittleEndian.Uint16(buf[40:42])
	hdr.Phentsize = binary.LittleEndian.Uint16(buf[42:44])
	hdr.Phnum = binary.LittleEndian.Uint16(buf[44:46])
	hdr.Shnum = binary.LittleEndian.Uint16(buf[46:48])
	hdr.Shstrndx = binary.LittleEndian.Uint16(buf[48:50])

	if hdr.Ident[0] != elfIdentMagic[0] || hdr.Ident[1] != elfIdentMagic[1] ||
		hdr.Ident[2] != elfIdentMagic[2] || hdr.Ident[3] != elfIdentMagic[3] ||
		hdr.Ident[4] != elfIdentMagic[4] || hdr.Ident[5] != elfIdentMagic[5] ||
		hdr.Ident[6] != elfIdentMagic[6] {
		return hdr, ErrBadELFHeader
	}
	if hdr.Type != 2 || hdr.Machine != 3 || hdr.Version != 1 {
		return hdr, ErrBadELFHeader
	}
	if hdr.Phentsize != elfPhdrSize || hdr.Phnum > maxProgHeaders {
		return hdr, ErrBadELFHeader
	}
	return hdr, nil
}

func readProgramHeader(f collaborators.File, offset uint32) (elfProgramHeader, error) {
	var ph elfProgramHeader
	if int64(offset) > int64(f.Length()) {
		return ph, ErrBadSegment
	}
	f.Seek(offset)
	buf := make([]byte, elfPhdrSize)
	n, err := f.Read(buf)
	if err != nil || n != elfPhdrSize {
		return ph, ErrBadSegment
	}
	ph.Type = binary.LittleEndian.Uint32(buf[0:4])
	ph.Offset = binary.LittleEndian.Uint32(buf[4:8])
	ph.Vaddr = binary.LittleEndian.Uint32(buf[8:12])
	ph.Paddr = binary.LittleEndian.Uint32(buf[12:16])
	ph.Filesz = binary.LittleEndian.Uint32(buf[16:20])
	ph.Memsz = binary.LittleEndian.Uint32(buf[20:24])
	ph.Flags = binary.LittleEndian.Uint32(buf[24:28])
	ph.Align = binary.LittleEndian.Uint32(buf[28:32])
	return ph, nil
}

// validateSegment checks a PT_LOAD program header against §4.4's exact
// constraints, mirroring validate_segment.
func validateSegment(ph elfProgramHeader, fileLength uint32) bool {
	if (ph.Offset & (collaborators.PageSize - 1)) != (ph.Vaddr & (collaborators.PageSize - 1)) {
		return false
	}
	if ph.Offset > fileLength {
		return false
	}
	if ph.Memsz < ph.Filesz {
		return false
	}
	if ph.Memsz == 0 {
		return false
	}
	if !isUserVaddr(ph.Vaddr) || !isUserVaddr(ph.Vaddr+ph.Memsz) {
		return false
	}
	if ph.Vaddr+ph.Memsz < ph.Vaddr {
		return false
	}
	if ph.Vaddr < collaborators.PageSize {
		return false
	}
	return true
}

// loadSegment reads read_bytes from f at ofs into pages starting at upage,
// zero-fills the remaining zero_bytes, and installs each resulting page
// into pd — split file-backed head / zero-filled tail exactly as
// load_segment does, one page at a time so a partially-loaded segment
// never leaves more than one dangling unmapped page on failure.
func loadSegment(f collaborators.File, ofs uint32, upage uint32, readBytes, zeroBytes uint32, writable bool, pd collaborators.PageDirectory) error {
	f.Seek(ofs)
	for readBytes > 0 || zeroBytes > 0 {
		pageReadBytes := readBytes
		if pageReadBytes > collaborators.PageSize {
			pageReadBytes = collaborators.PageSize
		}
		pageZeroBytes := collaborators.PageSize - pageReadBytes

		page := make([]byte, collaborators.PageSize)
		if pageReadBytes > 0 {
			n, err := f.Read(page[:pageReadBytes])
			if err != nil || uint32(n) != pageReadBytes {
				return ErrBadSegment
			}
		}
		if !pd.SetPage(upage, page, writable) {
			return ErrBadSegment
		}

		readBytes -= pageReadBytes
		zeroBytes -= pageZeroBytes
		upage += collaborators.PageSize
	}
	return nil
}

// loadELF opens f, validates the header, and maps every PT_LOAD segment
// into pd, rejecting PT_DYNAMIC/PT_INTERP/PT_SHLIB and ignoring everything
// else. Returns the entry point on success.
func loadELF(f collaborators.File, pd collaborators.PageDirectory) (uint32, error) {
	hdr, err := readELFHeader(f)
	if err != nil {
		return 0, err
	}

	fileOfs := hdr.Phoff
	for i := uint16(0); i < hdr.Phnum; i++ {
		ph, err := readProgramHeader(f, fileOfs)
		if err != nil {
			return 0, err
		}
		fileOfs += elfPhdrSize

		switch ph.Type {
		case ptNull, ptNote, ptPhdr, ptStack:
			// Ignored.
		case ptDynamic, ptInterp, ptShlib:
			return 0, ErrBadSegment
		case ptLoad:
			if !validateSegment(ph, f.Length()) {
				return 0, ErrBadSegment
			}
			writable := ph.Flags&pfW != 0
			filePage := ph.Offset &^ (collaborators.PageSize - 1)
			memPage := ph.Vaddr &^ (collaborators.PageSize - 1)
			pageOffset := ph.Vaddr & (collaborators.PageSize - 1)

			var readBytes, zeroBytes uint32
			if ph.Filesz > 0 {
				readBytes = pageOffset + ph.Filesz
				zeroBytes = roundUp(pageOffset+ph.Memsz, collaborators.PageSize) - readBytes
			} else {
				readBytes = 0
				zeroBytes = roundUp(pageOffset+ph.Memsz, collaborators.PageSize)
			}
			if err := loadSegment(f, filePage, memPage, readBytes, zeroBytes, writable, pd); err != nil {
				return 0, err
			}
		default:
			// Ignored, per §4.4.
		}
	}
	return hdr.Entry, nil
}

func roundUp(n, multiple uint32) uint32 {
	return (n + multiple - 1) &^ (multiple - 1)
}

// isUserVaddr reports whether vaddr lies strictly below PHYS_BASE.
func isUserVaddr(vaddr uint32) bool {
	return vaddr < PhysBase
}
