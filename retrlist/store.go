package retrlist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/afdcore/afd/shm"
)

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// HeaderSize carries the header cell described in spec §6 ("Retrieve-list
// file layout: header [count:int32][generation:int32][version:byte]
// [reserved:3]") padded to a word boundary, plus a reserved one-byte
// region used purely as the LOCK_RETR_PROC byte-range lock target (it
// carries no data; fcntl locks a range, not a value).
const HeaderSize = 64

const (
	offCount      = 0 // current_no_of_listed_files
	offGeneration = 4
	offVersion    = 8
	offProcLock   = 16 // LOCK_RETR_PROC target byte, never overlaps entry locks
)

const storeVersion = 1

// growthStep is the number of entries the backing file grows or shrinks by
// at a time (spec §3 "a grow step appends fixed-size chunks"; §4.2
// compact() "shrunk to the next growth-step boundary").
const growthStep = 128

// AttachMode controls attach's behaviour when the store file doesn't
// exist yet.
type AttachMode int

const (
	// ModeOptional creates the store lazily if absent (spec §3
	// "A retrieve-list file is created lazily on first scan").
	ModeOptional AttachMode = iota
	// ModeRequired fails with ErrStoreUnavailable if the directory has
	// not yet been scanned.
	ModeRequired
)

// ErrStoreUnavailable is returned by Attach(ModeRequired) when the store
// file does not yet exist.
var ErrStoreUnavailable = errors.New("retrlist: store not yet scanned")

// Store is one directory's memory-mapped retrieve list.
type Store struct {
	region   *shm.Region
	capacity int // entries currently allocated in the backing file
}

func capacityForCount(count int) int {
	if count == 0 {
		return growthStep
	}
	steps := (count + growthStep - 1) / growthStep
	return steps * growthStep
}

// Attach opens (and, in ModeOptional, creates) the retrieve-list file for
// a directory.
func Attach(path string, mode AttachMode) (*Store, error) {
	exists, err := fileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists && mode == ModeRequired {
		return nil, ErrStoreUnavailable
	}
	// A fresh store starts with one growth step allocated, zero entries.
	region, err := shm.Open(path, HeaderSize+capacityForCount(0)*EntrySize)
	if err != nil {
		return nil, fmt.Errorf("retrlist: attach: %w", err)
	}
	s := &Store{region: region}
	hdr := s.region.Bytes()
	if hdr[offVersion] == 0 {
		hdr[offVersion] = storeVersion
	}
	s.capacity = capacityForCount(s.Count())
	// The file may already be larger than one growth step if this is a
	// re-attach; make sure our mapping matches its real size.
	if needed := HeaderSize + s.capacity*EntrySize; needed > len(region.Bytes()) {
		if err := region.Remap(needed); err != nil {
			return nil, fmt.Errorf("retrlist: attach remap: %w", err)
		}
	}
	return s, nil
}

// Close unmaps the store.
func (s *Store) Close() error {
	return s.region.Close()
}

// Count returns current_no_of_listed_files. Spec §4.2: "authoritative and
// always updated last after entry writes"; readers must re-read it inside
// each iteration and treat a decrease as "abort this pass" (§4.5).
func (s *Store) Count() int {
	return int(binary.LittleEndian.Uint32(s.region.Bytes()[offCount:]))
}

func (s *Store) setCount(n int) {
	binary.LittleEndian.PutUint32(s.region.Bytes()[offCount:], uint32(n))
}

// Generation returns the header generation counter.
func (s *Store) Generation() uint32 {
	return binary.LittleEndian.Uint32(s.region.Bytes()[offGeneration:])
}

func (s *Store) bumpGeneration() {
	b := s.region.Bytes()
	g := binary.LittleEndian.Uint32(b[offGeneration:]) + 1
	binary.LittleEndian.PutUint32(b[offGeneration:], g)
}

func (s *Store) entryOffset(i int) int64 {
	return int64(HeaderSize + i*EntrySize)
}

// Entry decodes entry i. Callers should hold the entry's lock (LockEntry)
// unless they only need a racy snapshot for logging.
func (s *Store) Entry(i int) (*Entry, error) {
	off := s.entryOffset(i)
	return UnmarshalEntry(s.region.Bytes()[off : off+EntrySize])
}

// PutEntry encodes e into slot i. Callers must hold the entry's lock.
func (s *Store) PutEntry(i int, e *Entry) error {
	buf, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	off := s.entryOffset(i)
	copy(s.region.Bytes()[off:off+EntrySize], buf)
	return nil
}

// procLockRange returns LOCK_RETR_PROC: a single reserved header byte,
// never overlapping any per-entry lock region (spec §4.2).
func (s *Store) procLockRange() shm.Range {
	return shm.Range{Offset: offProcLock, Len: 1}
}

// LockProc acquires the process-wide lock, blocking. It serialises scan-
// reset (grow/compact/reset) against every other worker on this directory.
func (s *Store) LockProc() error {
	return shm.LockBlocking(s.region, s.procLockRange())
}

// UnlockProc releases the process-wide lock.
func (s *Store) UnlockProc() error {
	return shm.Unlock(s.region, s.procLockRange())
}

// LockProcHelper implements the §4.2 helper-attach rule for `remove` and
// `get_once_*` modes: a helper attempting to attach with write intent
// retries up to 30 times (~3s) if LOCK_RETR_PROC is held, then gives up
// and reports ok=false — the caller must treat that as SUCCESS, since
// another process is already doing the work, not as an error.
func (s *Store) LockProcHelper() (ok bool, err error) {
	return shm.RetryBackoff(func() (bool, error) {
		return shm.TryLock(s.region, s.procLockRange())
	})
}

func entryLockRange(off int64) shm.Range {
	return shm.Range{Offset: off, Len: EntrySize}
}

// LockEntry attempts a non-blocking lock on entry i. ok=false (no error)
// means another worker already holds it; per spec §4.5 the caller skips
// this name and moves to the next ("the other worker wins this one").
func (s *Store) LockEntry(i int) (ok bool, err error) {
	return shm.TryLock(s.region, entryLockRange(s.entryOffset(i)))
}

// UnlockEntry releases entry i's lock.
func (s *Store) UnlockEntry(i int) error {
	return shm.Unlock(s.region, entryLockRange(s.entryOffset(i)))
}

// Insert appends a new entry, growing the backing region in fixed-size
// growthStep increments whenever capacity is exhausted (spec §4.2
// "if the existing capacity is a multiple of a growth step, the backing
// region is resized before insertion"). Must be called with LockProc held.
func (s *Store) Insert(e *Entry) (index int, err error) {
	n := s.Count()
	if n >= s.capacity {
		newCapacity := s.capacity + growthStep
		if err := s.region.Remap(HeaderSize + newCapacity*EntrySize); err != nil {
			return 0, fmt.Errorf("retrlist: grow: %w", err)
		}
		s.capacity = newCapacity
	}
	if err := s.PutEntry(n, e); err != nil {
		return 0, err
	}
	// current_no_of_listed_files is written last, after the entry slot
	// (spec §4.2 invariant: release-after-entry-writes ordering).
	s.setCount(n + 1)
	s.bumpGeneration()
	return n, nil
}

// Find looks up a file name among live entries (n = Count() at call
// time). Returns -1 if absent. This intentionally does not lock entries:
// check_list (spec §4.5 step 4) locks only the specific entry it matches.
func (s *Store) Find(name string) (int, error) {
	n := s.Count()
	for i := 0; i < n; i++ {
		e, err := s.Entry(i)
		if err != nil {
			return -1, err
		}
		if e.FileName == name {
			return i, nil
		}
	}
	return -1, nil
}

// Compact removes every entry with InList=false by a stable move of the
// tail, then shrinks the backing region to the next growth-step boundary.
// Must only run with LockProc held (spec §4.2), and only when the
// directory's mode is neither `remove` nor `get_once_*` (spec §4.5
// "Deletion of known entries after scan").
func (s *Store) Compact() (removed int, err error) {
	n := s.Count()
	write := 0
	for read := 0; read < n; read++ {
		e, err := s.Entry(read)
		if err != nil {
			return 0, err
		}
		if !e.InList {
			removed++
			continue
		}
		if write != read {
			if err := s.PutEntry(write, e); err != nil {
				return 0, err
			}
		}
		write++
	}
	if removed == 0 {
		return 0, nil
	}
	newCapacity := capacityForCount(write)
	if err := s.region.Truncate(HeaderSize + newCapacity*EntrySize); err != nil {
		return 0, fmt.Errorf("retrlist: compact truncate: %w", err)
	}
	s.capacity = newCapacity
	s.setCount(write)
	s.bumpGeneration()
	return removed, nil
}

// Reset truncates the store to zero entries. Only legal in `remove`/
// `get_once_*` modes (spec §4.2).
func (s *Store) Reset() error {
	newCapacity := growthStep
	if err := s.region.Truncate(HeaderSize + newCapacity*EntrySize); err != nil {
		return fmt.Errorf("retrlist: reset: %w", err)
	}
	s.capacity = newCapacity
	s.setCount(0)
	s.bumpGeneration()
	return nil
}

// ClearInListMarks sets InList=false on every live entry at the start of a
// scan; the scan then sets InList=true on every name it sees present, so
// that Compact can find what disappeared.
func (s *Store) ClearInListMarks() error {
	n := s.Count()
	for i := 0; i < n; i++ {
		e, err := s.Entry(i)
		if err != nil {
			return err
		}
		if e.InList {
			e.InList = false
			if err := s.PutEntry(i, e); err != nil {
				return err
			}
		}
	}
	return nil
}
