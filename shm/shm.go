// Package shm maps fixed-layout binary regions backed by an ordinary file
// so that independent processes can share and byte-range lock them.
//
// It generalises the teacher's anonymous-memory allocator (lib/mmap,
// MustAlloc/MustFree) to a file-backed, growable, MAP_SHARED region: the
// FRA and FSA tables and every per-directory retrieve list are regions of
// this kind.
package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Region is a memory-mapped view of a file opened for shared read-write
// access. The zero value is not usable; construct with Open.
type Region struct {
	file *os.File
	data []byte
}

// Open maps size bytes of path, creating and zero-extending the file if it
// is shorter. The caller must Close the Region when done.
func Open(path string, size int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("shm: open %q: %w", path, err)
	}
	if err := growFile(f, size); err != nil {
		_ = f.Close()
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shm: mmap %q: %w", path, err)
	}
	return &Region{file: f, data: data}, nil
}

func growFile(f *os.File, size int) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("shm: stat: %w", err)
	}
	if info.Size() >= int64(size) {
		return nil
	}
	if err := f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("shm: truncate: %w", err)
	}
	return nil
}

// Bytes returns the mapped region. Callers must coordinate access with the
// Lock methods below; Bytes itself does no locking.
func (r *Region) Bytes() []byte {
	return r.data
}

// Remap grows the backing file and replaces the mapping, invalidating any
// slice previously returned by Bytes. Callers must hold the process lock
// (LockRange over LOCK_RETR_PROC or equivalent) while remapping.
func (r *Region) Remap(size int) error {
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	if err := growFile(r.file, size); err != nil {
		return err
	}
	data, err := unix.Mmap(int(r.file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shm: re-mmap: %w", err)
	}
	r.data = data
	return nil
}

// Truncate shrinks the backing file and mapping to size, used by
// retrlist.compact to return the store to a growth-step boundary.
func (r *Region) Truncate(size int) error {
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	if err := r.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("shm: truncate: %w", err)
	}
	data, err := unix.Mmap(int(r.file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shm: re-mmap: %w", err)
	}
	r.data = data
	return nil
}

// Close unmaps and closes the backing file.
func (r *Region) Close() error {
	err := unix.Munmap(r.data)
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Fd returns the file descriptor backing the region, for use with the lock
// helpers below which operate by fd + byte offset, independent of the
// current mapping.
func (r *Region) Fd() int {
	return int(r.file.Fd())
}
