package fsa

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/afdcore/afd/shm"
)

// HeaderSize mirrors fra.HeaderSize: a fixed word-aligned cell carrying
// count and generation.
const HeaderSize = 64

const (
	offCount      = 0
	offGeneration = 4
	offProcLock   = 16 // process-wide lock target byte, never overlaps entry locks
)

// ErrNoFreeSlot is returned by AcquireTransferSlot when allowed_transfers
// is already saturated (the active_transfers <= allowed_transfers floor
// invariant, spec §8 property 1).
var ErrNoFreeSlot = errors.New("fsa: no free transfer slot")

// Table is the memory-mapped, shared FSA: one Entry per remote host.
type Table struct {
	region *shm.Region
}

// Open attaches to (creating if necessary) the FSA backing file.
func Open(path string, capacity int) (*Table, error) {
	size := HeaderSize + capacity*EntrySize
	region, err := shm.Open(path, size)
	if err != nil {
		return nil, fmt.Errorf("fsa: open: %w", err)
	}
	return &Table{region: region}, nil
}

// Close unmaps the table.
func (t *Table) Close() error {
	return t.region.Close()
}

// Count returns the live entry count.
func (t *Table) Count() int {
	return int(binary.LittleEndian.Uint32(t.region.Bytes()[offCount:]))
}

func (t *Table) entryOffset(i int) int64 {
	return int64(HeaderSize + i*EntrySize)
}

// Entry decodes entry i.
func (t *Table) Entry(i int) (*Entry, error) {
	off := t.entryOffset(i)
	return UnmarshalEntry(t.region.Bytes()[off : off+EntrySize])
}

// PutEntry encodes e into slot i.
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
// host never race the same Remap.
func (t *Table) LockProc() error {
	return shm.LockBlocking(t.region, procLockRange())
}

// UnlockProc releases the table-wide lock.
func (t *Table) UnlockProc() error {
	return shm.Unlock(t.region, procLockRange())
}

// Append grows the table by one host entry. Callers must hold LockProc.
func (t *Table) Append(e *Entry) (int, error) {
	i := t.Count()
	newSize := HeaderSize + (i+1)*EntrySize
	if err := t.region.Remap(newSize); err != nil {
		return 0, fmt.Errorf("fsa: grow: %w", err)
	}
	if err := t.PutEntry(i, e); err != nil {
		return 0, err
	}
	b := t.region.Bytes()
	binary.LittleEndian.PutUint32(b[offCount:], uint32(i+1))
	g := binary.LittleEndian.Uint32(b[offGeneration:]) + 1
	binary.LittleEndian.PutUint32(b[offGeneration:], g)
	return i, nil
}

// Find returns the index of the entry whose HostAlias matches alias, or -1.
func (t *Table) Find(alias string) (int, error) {
	n := t.Count()
	for i := 0; i < n; i++ {
		e, err := t.Entry(i)
		if err != nil {
			return -1, err
		}
		if e.HostAlias == alias {
			return i, nil
		}
	}
	return -1, nil
}

func tfcRange(entryOffset int64) shm.Range {
	return shm.Range{Offset: entryOffset + offActiveTransfers, Len: lockTFCLen}
}

func ecRange(entryOffset int64) shm.Range {
	return shm.Range{Offset: entryOffset + offErrorCounter, Len: lockECLen}
}

func hsRange(entryOffset int64) shm.Range {
	return shm.Range{Offset: entryOffset + offHostStatus, Len: lockHSLen}
}

func jobStatusOffset(entryOffset int64, worker int) int64 {
	return entryOffset + int64(offJobStatus) + int64(worker)*int64(JobStatusSize)
}

func conRange(entryOffset int64, worker int) shm.Range {
	return shm.Range{Offset: jobStatusOffset(entryOffset, worker) + jsOffConnectStatus, Len: jsLockConLen}
}

func checkWorker(worker int) error {
	if worker < 0 || worker >= MaxJobsPerHost {
		return fmt.Errorf("fsa: worker index %d out of range", worker)
	}
	return nil
}

// SetJobConnection updates job_status[w].connect_status and proc_id under
// LOCK_CON (spec §4.7), the pair the keep-alive arbiter and supervisor
// read to tell a worker that is actually connected from a stale slot.
func (t *Table) SetJobConnection(i, worker int, status uint8, procID int32) error {
	if err := checkWorker(worker); err != nil {
		return err
	}
	off := t.entryOffset(i)
	rng := conRange(off, worker)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)

	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	e.Jobs[worker].ConnectStatus = status
	e.Jobs[worker].ProcID = procID
	return t.PutEntry(i, e)
}

// BeginJobFile seeds job_status[w] with the file now in flight under
// LOCK_TFC, resetting file_size_in_use_done so progress attributed below
// is always relative to the file actually streaming (spec §4.6 step 4).
func (t *Table) BeginJobFile(i, worker int, name string, size int64) error {
	if err := checkWorker(worker); err != nil {
		return err
	}
	off := t.entryOffset(i)
	rng := tfcRange(off)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)

	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	e.Jobs[worker].FileNameInUse = name
	e.Jobs[worker].FileSizeInUse = size
	e.Jobs[worker].FileSizeInUseDone = 0
	e.Jobs[worker].NoOfFiles++
	return t.PutEntry(i, e)
}

// AddJobProgress accumulates delta bytes into job_status[w]'s in-flight
// and lifetime counters under LOCK_TFC (spec §4.6 step 4:
// file_size_in_use_done tracks the current file, bytes_send and
// file_size_done are the worker's running totals).
func (t *Table) AddJobProgress(i, worker int, delta int64) error {
	if err := checkWorker(worker); err != nil {
		return err
	}
	off := t.entryOffset(i)
	rng := tfcRange(off)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)

	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	e.Jobs[worker].FileSizeInUseDone += delta
	e.Jobs[worker].BytesSend += delta
	e.Jobs[worker].FileSizeDone += delta
	return t.PutEntry(i, e)
}

// EndJobFile marks the in-flight file complete under LOCK_TFC, incrementing
// no_of_files_done (spec §4.6 step 4).
func (t *Table) EndJobFile(i, worker int) error {
	if err := checkWorker(worker); err != nil {
		return err
	}
	off := t.entryOffset(i)
	rng := tfcRange(off)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)

	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	e.Jobs[worker].NoOfFilesDone++
	e.Jobs[worker].FileNameInUse = ""
	return t.PutEntry(i, e)
}

// AcquireTransferSlot increments active_transfers for host i and
// recomputes trl_per_process, both under LOCK_TFC, preserving the
// invariant 0 <= active_transfers <= allowed_transfers (spec §8 #1) and
// trl_per_process = transfer_rate_limit / max(1, active_transfers) (spec
// §8 #4). Returns ErrNoFreeSlot without mutating anything if saturated.
func (t *Table) AcquireTransferSlot(i int) error {
	off := t.entryOffset(i)
	rng := tfcRange(off)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)

	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	if e.ActiveTransfers >= e.AllowedTransfers {
		return ErrNoFreeSlot
	}
	e.ActiveTransfers++
	e.TrlPerProcess = trlPerProcess(e.TransferRateLimit, e.ActiveTransfers)
	return t.PutEntry(i, e)
}

// ReleaseTransferSlot decrements active_transfers for host i and
// recomputes trl_per_process, honouring the floor of zero even if called
// after a failure path that never successfully acquired (a no-op in that
// case, matching §4.1 "Failure semantics": release must not drive the
// counter negative).
func (t *Table) ReleaseTransferSlot(i int) error {
	off := t.entryOffset(i)
	rng := tfcRange(off)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)

	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	if e.ActiveTransfers > 0 {
		e.ActiveTransfers--
	}
	e.TrlPerProcess = trlPerProcess(e.TransferRateLimit, e.ActiveTransfers)
	return t.PutEntry(i, e)
}

func trlPerProcess(rateLimit int64, active int32) int64 {
	if rateLimit <= 0 {
		return rateLimit
	}
	n := int64(active)
	if n < 1 {
		n = 1
	}
	return rateLimit / n
}

// AddCounters adds delta file and byte counts to the host's totals under
// LOCK_TFC (spec §4.5 step 5, §4.6 step 7).
func (t *Table) AddCounters(i int, files int64, bytes int64) error {
	off := t.entryOffset(i)
	rng := tfcRange(off)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)

	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	e.TotalFileCounter = addClampUint64(e.TotalFileCounter, files)
	e.TotalFileSize = addClampUint64(e.TotalFileSize, bytes)
	return t.PutEntry(i, e)
}

func addClampUint64(base uint64, delta int64) uint64 {
	if delta >= 0 {
		return base + uint64(delta)
	}
	d := uint64(-delta)
	if d > base {
		return 0
	}
	return base - d
}

// RecordError increments error_counter and shifts error_history under
// LOCK_EC (spec §4.8).
func (t *Table) RecordError(i int) error {
	off := t.entryOffset(i)
	rng := ecRange(off)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)

	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	e.ErrorCounter++
	e.ErrorHistory[1] = e.ErrorHistory[0]
	e.ErrorHistory[0] = int32(e.ErrorCounter)
	return t.PutEntry(i, e)
}

// ClearErrorState zeroes error_counter and error_history[0..1] under
// LOCK_EC, then clears AUTO_PAUSE_QUEUE_STAT under LOCK_HS — the §4.8
// "first successful fetch after fsa.error_counter > 0" state transition
// (spec §8 property 5).
func (t *Table) ClearErrorState(i int) (wasOffline bool, err error) {
	off := t.entryOffset(i)
	ecR := ecRange(off)
	if err := shm.LockBlocking(t.region, ecR); err != nil {
		return false, err
	}
	e, err := t.Entry(i)
	if err != nil {
		shm.Unlock(t.region, ecR)
		return false, err
	}
	e.ErrorCounter = 0
	e.ErrorHistory[0] = 0
	e.ErrorHistory[1] = 0
	if err := t.PutEntry(i, e); err != nil {
		shm.Unlock(t.region, ecR)
		return false, err
	}
	shm.Unlock(t.region, ecR)

	hsR := hsRange(off)
	if err := shm.LockBlocking(t.region, hsR); err != nil {
		return false, err
	}
	defer shm.Unlock(t.region, hsR)
	e, err = t.Entry(i)
	if err != nil {
		return false, err
	}
	wasOffline = e.HostStatus&(StatusErrorOffline|StatusErrorAcknowledged) != 0
	e.HostStatus &^= StatusAutoPauseQueue | StatusErrorOffline | StatusErrorOfflineT |
		StatusErrorAcknowledged | StatusErrorAcknowledgedT
	return wasOffline, t.PutEntry(i, e)
}

// SetHostStatus ORs bits into host_status under LOCK_HS (operator
// acknowledge/offline actions, spec §7).
func (t *Table) SetHostStatus(i int, bits HostStatus) error {
	off := t.entryOffset(i)
	rng := hsRange(off)
	if err := shm.LockBlocking(t.region, rng); err != nil {
		return err
	}
	defer shm.Unlock(t.region, rng)
	e, err := t.Entry(i)
	if err != nil {
		return err
	}
	e.HostStatus |= bits
	return t.PutEntry(i, e)
}
