package fra

import (
	"encoding/binary"
	"fmt"

	"github.com/afdcore/afd/shm"
)

// HeaderSize matches AFD_WORD_OFFSET in spec §4.1: a fixed-size header
// cell carrying the entry count and a generation counter, padded to a
// word-aligned boundary so entry 0 starts on a clean offset.
const HeaderSize = 64

const (
	offCount      = 0
	offGeneration = 4
	offVersion    = 8
	offProcLock   = 16 // process-wide lock target byte, never overlaps entry locks
	// 9..HeaderSize reserved (minus offProcLock)
)

const tableVersion = 1

// Table is a memory-mapped, shared FRA: one Entry per configured source
// directory, addressed positionally (spec §3 "positionally addressable").
type Table struct {
	region *shm.Region
}

// Open attaches to (creating if necessary) the FRA backing file at path,
// sized to hold at least capacity entries.
func Open(path string, capacity int) (*Table, error) {
	size := HeaderSize + capacity*EntrySize
	region, err := shm.Open(path, size)
	if err != nil {
		return nil, fmt.Errorf("fra: open: %w", err)
	}
	t := &Table{region: region}
	hdr := t.region.Bytes()
	if hdr[offVersion] == 0 {
		hdr[offVersion] = tableVersion
	}
	return t, nil
}

// Close unmaps the table.
func (t *Table) Close() error {
	return t.region.Close()
}

// Count returns the live entry count recorded in the header.
func (t *Table) Count() int {
	return int(binary.LittleEndian.Uint32(t.region.Bytes()[offCount:]))
}

// Generation returns the header generation counter. Clients re-check this
// on every touch; a changed value means the table topology (its identity,
// not just its contents) may have moved and the client should detach and
// re-resolve by stable id (spec §4.1).
func (t *Table) Generation() uint32 {
	return binary.LittleEndian.Uint32(t.region.Bytes()[offGeneration:])
}

func (t *Table) bumpGeneration() {
	b := t.region.Bytes()
	g := binary.LittleEndian.Uint32(b[offGeneration:]) + 1
	binary.LittleEndian.PutUint32(b[offGeneration:], g)
}

func (t *Table) entryOffset(i int) int64 {
	return int64(HeaderSize + i*EntrySize)
}

// Entry decodes entry i.
func (t *Table) Entry(i int) (*Entry, error) {
	off := t.entryOffset(i)
	buf := t.region.Bytes()[off : off+EntrySize]
	return UnmarshalEntry(buf)
}

// PutEntry encodes e into slot i. Callers must hold the ErrorStatusRange
// lock (or a wider process lock) when mutating DirFlag/ErrorCounter.
func (t *Table) PutEntry(i int, e *Entry) error {
	buf, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	off := t.entryOffset(i)
	copy(t.region.Bytes()[off:off+EntrySize], buf)
	return nil
}

func procLockRange() shm.Range {
	return shm.Range{Offset: offProcLock, Len: 1}
}

// LockProc acquires a table-wide lock, blocking. Callers must hold it
// while growing the table (Append) so two workers first-seeing a new
// directory never race the same Remap (spec §4.1's generation counter
// exists to let readers detect a grow that already happened, not to
// serialise concurrent growers against each other).
func (t *Table) LockProc() error {
	return shm.LockBlocking(t.region, procLockRange())
}

// UnlockProc releases the table-wide lock.
func (t *Table) UnlockProc() error {
	return shm.Unlock(t.region, procLockRange())
}

// Append grows the table by one entry, bumping both Count and Generation,
// and returns the new entry's index. Callers must hold LockProc: growing
// a shared table while another process iterates or grows it is the exact
// hazard spec §4.1's generation counter exists to detect.
func (t *Table) Append(e *Entry) (int, error) {
	i := t.Count()
	newSize := HeaderSize + (i+1)*EntrySize
	if err := t.region.Remap(newSize); err != nil {
		return 0, fmt.Errorf("fra: grow: %w", err)
	}
	if err := t.PutEntry(i, e); err != nil {
		return 0, err
	}
	b := t.region.Bytes()
	binary.LittleEndian.PutUint32(b[offCount:], uint32(i+1))
	t.bumpGeneration()
	return i, nil
}

// Find returns the index of the entry whose DirAlias matches alias, or -1.
func (t *Table) Find(alias string) (int, error) {
	n := t.Count()
	for i := 0; i < n; i++ {
		e, err := t.Entry(i)
		if err != nil {
			return -1, err
		}
		if e.DirAlias == alias {
			return i, nil
		}
	}
	return -1, nil
}

// LockErrorStatus acquires LOCK_EC for entry i, blocking.
func (t *Table) LockErrorStatus(i int) error {
	return shm.LockBlocking(t.region, ErrorStatusRange(t.entryOffset(i)))
}

// UnlockErrorStatus releases LOCK_EC for entry i.
func (t *Table) UnlockErrorStatus(i int) error {
	return shm.Unlock(t.region, ErrorStatusRange(t.entryOffset(i)))
}

// RecordError increments error_counter (capped at max_errors, spec §3
// invariant "error_counter <= max_errors") and sets DIR_ERROR_SET once the
// cap is reached, under LOCK_EC.
func (t *Table) RecordError(i int) error {
	rng := ErrorStatusRange(t.entryOffset(i))
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)
	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	if e.ErrorCounter < e.MaxErrors {
		e.ErrorCounter++
	}
	if e.ErrorCounter >= e.MaxErrors && e.MaxErrors > 0 {
		e.DirFlag |= FlagDirErrorSet
	}
	return t.PutEntry(i, e)
}

// ClearErrorState zeroes error_counter and clears DIR_ERROR_SET under
// LOCK_EC — the §4.8 "first successful fetch after fra.error_counter > 0"
// state transition.
func (t *Table) ClearErrorState(i int) error {
	rng := ErrorStatusRange(t.entryOffset(i))
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)
	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	e.ErrorCounter = 0
	e.DirFlag &^= FlagDirErrorSet
	return t.PutEntry(i, e)
}

// MarkLastRetrieval stamps LastRetrieval with now, enforcing the
// monotone-non-decreasing invariant (spec §3).
func (t *Table) MarkLastRetrieval(i int, now int64) error {
	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	if now < e.LastRetrieval {
		now = e.LastRetrieval
	}
	e.LastRetrieval = now
	return t.PutEntry(i, e)
}

// AddCounters adds delta files/bytes to the directory's monotone counters.
func (t *Table) AddCounters(i int, files, bytes int64) error {
	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	if files > 0 {
		e.FilesReceived += uint64(files)
	}
	if bytes > 0 {
		e.BytesReceived += uint64(bytes)
	}
	return t.PutEntry(i, e)
}
