package collaborators

// PageSize matches the reference kernel's 4 KiB page.
const PageSize = 4096

// FakePageDirectory is an in-memory stand-in for a hardware page table: a
// map from page-aligned virtual address to a page-sized byte slice. It
// exists so internal/process can exercise ELF loading and stack setup
// without real virtual memory.
type FakePageDirectory struct {
	pages map[uint32][]byte
}

// NewFakePageDirectory constructs an empty page directory.
func NewFakePageDirectory() *FakePageDirectory {
	return &FakePageDirectory{pages: make(map[uint32][]byte)}
}

func pageBase(vaddr uint32) uint32 {
	return vaddr &^ (PageSize - 1)
}

// SetPage installs page as the backing storage for the page containing
// vaddr. page must be exactly PageSize bytes; writable is ignored, since
// this fake performs no hardware fault handling.
func (d *FakePageDirectory) SetPage(vaddr uint32, page []byte, writable bool) bool {
	if len(page) != PageSize {
		return false
	}
	base := pageBase(vaddr)
	if _, exists := d.pages[base]; exists {
		return false
	}
	d.pages[base] = page
	return true
}

// GetPage returns the page backing vaddr, if any.
func (d *FakePageDirectory) GetPage(vaddr uint32) ([]byte, bool) {
	page, ok := d.pages[pageBase(vaddr)]
	return page, ok
}

// Destroy drops every mapping.
func (d *FakePageDirectory) Destroy() {
	d.pages = nil
}
