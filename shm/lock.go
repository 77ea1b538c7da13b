package shm

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Range identifies a byte-range lock over a Region by fd-relative offset
// and length. A length of 0 means "to end of file" per fcntl semantics,
// but every named lock region in this system is fixed-size, so callers
// always pass an explicit length.
type Range struct {
	Offset int64
	Len    int64
}

// LockBlocking acquires an exclusive byte-range lock, blocking until it is
// available. Used for LOCK_PROC-class acquisitions and for the few FSA/FRA
// multi-field updates (LOCK_EC, LOCK_HS, LOCK_TFC, LOCK_CON) that must be
// held for their minimum window but may briefly contend with a sibling
// worker.
func LockBlocking(r *Region, rng Range) error {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  rng.Offset,
		Len:    rng.Len,
	}
	if err := unix.FcntlFlock(uintptr(r.Fd()), unix.F_SETLKW, &lk); err != nil {
		return fmt.Errorf("shm: lock [%d,%d): %w", rng.Offset, rng.Offset+rng.Len, err)
	}
	return nil
}

// TryLock attempts a non-blocking exclusive byte-range lock. It returns
// ok=false (not an error) if another process already holds the range —
// the caller is expected to skip the entry and move on, per the per-entry
// lock discipline in spec §4.2/§4.5 ("non-blocking: if already taken, skip
// to the next name").
func TryLock(r *Region, rng Range) (ok bool, err error) {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  rng.Offset,
		Len:    rng.Len,
	}
	if err := unix.FcntlFlock(uintptr(r.Fd()), unix.F_SETLK, &lk); err != nil {
		if err == unix.EAGAIN || err == unix.EACCES {
			return false, nil
		}
		return false, fmt.Errorf("shm: try-lock [%d,%d): %w", rng.Offset, rng.Offset+rng.Len, err)
	}
	return true, nil
}

// Unlock releases a previously held byte-range lock.
func Unlock(r *Region, rng Range) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  rng.Offset,
		Len:    rng.Len,
	}
	if err := unix.FcntlFlock(uintptr(r.Fd()), unix.F_SETLK, &lk); err != nil {
		return fmt.Errorf("shm: unlock [%d,%d): %w", rng.Offset, rng.Offset+rng.Len, err)
	}
	return nil
}

// RetryBackoff implements the §4.2 LOCK_PROC acquisition policy: up to 30
// attempts at a fixed 100ms sleep (≈3s total), after which the caller
// should treat the contention as "another process is doing the work" and
// exit SUCCESS rather than erroring.
//
// Modelled on the teacher's lib/pacer retry/decay idiom (lib/pacer
// pacer_test.go: attack/decay constants driving a bounded sleep), adapted
// from "retry a flaky network call" to "retry a locked shared region".
func RetryBackoff(acquire func() (ok bool, err error)) (ok bool, err error) {
	const maxAttempts = 30
	sleep := 100 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, err = acquire()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		time.Sleep(sleep)
	}
	return false, nil
}
