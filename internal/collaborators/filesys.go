package collaborators

import (
	"bytes"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// maxConcurrentDiskOps bounds how many simulated disk operations the fake
// file system allows in flight at once, standing in for the single IDE
// channel the reference file system serializes all of its block reads and
// writes through.
const maxConcurrentDiskOps = 1

// FakeFileSystem is an in-memory file system keyed by name, used to
// exercise internal/process and internal/syscall without a real disk. Disk
// I/O is modeled as acquiring diskSem around every Read/Write/Create, and
// concurrent Open calls for the same name are collapsed with group so that
// two callers racing to open the same path observe a single underlying
// open.
type FakeFileSystem struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer

	diskSem *semaphore.Weighted
	group   singleflight.Group
}

// NewFakeFileSystem constructs an empty file system.
func NewFakeFileSystem() *FakeFileSystem {
	return &FakeFileSystem{
		files:   make(map[string]*bytes.Buffer),
		diskSem: semaphore.NewWeighted(maxConcurrentDiskOps),
	}
}

// Seed installs name with the given initial contents, for tests that need
// an executable or data file to already exist.
func (fs *FakeFileSystem) Seed(name string, contents []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	buf := bytes.NewBuffer(nil)
	buf.Write(contents)
	fs.files[name] = buf
}

// Create adds a file of the given name holding initialSize zero bytes,
// failing if it already exists.
func (fs *FakeFileSystem) Create(name string, initialSize uint32) error {
	_ = fs.diskSem.Acquire(context.Background(), 1)
	defer fs.diskSem.Release(1)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, exists := fs.files[name]; exists {
		return ErrExists
	}
	buf := bytes.NewBuffer(make([]byte, initialSize))
	buf.Reset()
	buf.Write(make([]byte, initialSize))
	fs.files[name] = buf
	return nil
}

// Open returns a handle onto name's contents, or ErrNotFound. Concurrent
// Open calls for the same name share one singleflight call, so each gets
// back an independently-seeked view over the same backing bytes.
func (fs *FakeFileSystem) Open(name string) (File, error) {
	v, err, _ := fs.group.Do(name, func() (any, error) {
		_ = fs.diskSem.Acquire(context.Background(), 1)
		defer fs.diskSem.Release(1)

		fs.mu.Lock()
		defer fs.mu.Unlock()
		buf, ok := fs.files[name]
		if !ok {
			return nil, ErrNotFound
		}
		return append([]byte(nil), buf.Bytes()...), nil
	})
	if err != nil {
		return nil, err
	}
	return &fakeFile{fs: fs, name: name, data: v.([]byte)}, nil
}

// Remove deletes name, failing if it does not exist.
func (fs *FakeFileSystem) Remove(name string) error {
	_ = fs.diskSem.Acquire(context.Background(), 1)
	defer fs.diskSem.Release(1)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return ErrNotFound
	}
	delete(fs.files, name)
	return nil
}

// fakeFile is a per-open cursor over a snapshot of a FakeFileSystem entry's
// bytes. Writes are flushed back to the backing file on every call, not
// just on Close, since the fake has no notion of dirty buffering.
type fakeFile struct {
	fs       *FakeFileSystem
	name     string
	data     []byte
	pos      uint32
	denyDeny int
}

func (f *fakeFile) Read(buf []byte) (int, error) {
	_ = f.fs.diskSem.Acquire(context.Background(), 1)
	defer f.fs.diskSem.Release(1)

	if int(f.pos) >= len(f.data) {
		return 0, nil
	}
	n := copy(buf, f.data[f.pos:])
	f.pos += uint32(n)
	return n, nil
}

func (f *fakeFile) Write(buf []byte) (int, error) {
	_ = f.fs.diskSem.Acquire(context.Background(), 1)
	defer f.fs.diskSem.Release(1)

	end := int(f.pos) + len(buf)
	if end > len(f.data) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	n := copy(f.data[f.pos:end], buf)
	f.pos += uint32(n)

	f.fs.mu.Lock()
	if existing, ok := f.fs.files[f.name]; ok {
		existing.Reset()
		existing.Write(f.data)
	}
	f.fs.mu.Unlock()
	return n, nil
}

func (f *fakeFile) Seek(pos uint32)  { f.pos = pos }
func (f *fakeFile) Tell() uint32     { return f.pos }
func (f *fakeFile) Length() uint32   { return uint32(len(f.data)) }
func (f *fakeFile) Close()           {}
func (f *fakeFile) DenyWrite()       { f.denyDeny++ }
func (f *fakeFile) AllowWrite()      { f.denyDeny-- }
