package process

import (
	"sort"
	"sync"

	"github.com/go-pintos/kernel/internal/collaborators"
)

// stdinFd and stdoutFd are reserved and never stored in a FDTable's entry
// list.
const (
	stdinFd  = 0
	stdoutFd = 1
	firstFd  = 2
)

type fdEntry struct {
	fd   int32
	file collaborators.File
}

// FDTable is a per-process file-descriptor table: an ascending-sorted list
// of (fd, file) pairs with fd allocated as last_fd+1, matching §4.5's
// allocation policy exactly.
type FDTable struct {
	mu      sync.Mutex
	entries []fdEntry
}

// NewFDTable constructs an empty file-descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{}
}

// Open allocates the next fd for f and returns it.
func (t *FDTable) Open(f collaborators.File) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	last := int32(1)
	if n := len(t.entries); n > 0 {
		last = t.entries[n-1].fd
	}
	fd := last + 1
	t.entries = append(t.entries, fdEntry{fd: fd, file: f})
	return fd
}

// Get returns the file registered under fd, if any.
func (t *FDTable) Get(fd int32) (collaborators.File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.search(fd)
	if i < len(t.entries) && t.entries[i].fd == fd {
		return t.entries[i].file, true
	}
	return nil, false
}

// Close removes fd from the table and closes its underlying file,
// reporting whether fd was open.
func (t *FDTable) Close(fd int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.search(fd)
	if i >= len(t.entries) || t.entries[i].fd != fd {
		return false
	}
	t.entries[i].file.Close()
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// CloseAll closes every open fd in ascending order, for process exit
// cleanup.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()
	for _, e := range entries {
		e.file.Close()
	}
}

// Len reports how many fds are currently open.
func (t *FDTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *FDTable) search(fd int32) int {
	return sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].fd >= fd
	})
}
