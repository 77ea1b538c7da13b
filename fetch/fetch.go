// Package fetch implements the fetch worker loop (spec component C6): for
// each retrieve-list entry assigned to this worker, it resolves a staging
// path, streams the remote body through a per-file rate limiter into a
// dot-prefixed temp path, renames into place on success, and applies the
// host/directory counter and error-state side effects spec §4.6/§4.8
// describe.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
	"github.com/afdcore/afd/remote"
	"github.com/afdcore/afd/report"
	"github.com/afdcore/afd/retrlist"
	"github.com/afdcore/afd/urlcfg"
)

// defaultBlockSize is used when the host's configured block_size is zero,
// matching the teacher's own fallback-to-a-sane-default idiom for a
// chunk-size knob (fs/config's buffer-size default).
const defaultBlockSize = 64 * 1024

// ErrStillFilesToSend is returned when a per-file transfer timeout elapses
// mid-stream (spec §4.6 step 5, exit class STILL_FILES_TO_SEND in §6).
var ErrStillFilesToSend = errors.New("fetch: transfer timeout elapsed with data remaining")

// Config bundles one worker's collaborators for a single assigned entry.
type Config struct {
	Session    remote.Session
	Store      *retrlist.Store
	FRA        *fra.Table
	DirIndex   int
	FSA        *fsa.Table
	HostIndex  int
	WorkerSlot int
	Logger     *report.Logger
}

// Run fetches the entry at retrieve-list index idx, previously locked and
// assigned to this worker by scan.Reconcile. The caller holds (and
// releases) the entry lock; Run only reads/writes the decoded Entry it is
// given and returns the entry to persist.
func Run(ctx context.Context, cfg Config, idx int, e *retrlist.Entry) (*retrlist.Entry, error) {
	dirEntry, err := cfg.FRA.Entry(cfg.DirIndex)
	if err != nil {
		return e, fmt.Errorf("fetch: read dir entry: %w", err)
	}
	hostEntry, err := cfg.FSA.Entry(cfg.HostIndex)
	if err != nil {
		return e, fmt.Errorf("fetch: read host entry: %w", err)
	}

	tmpPath, finalPath := resolvePaths(dirEntry.StagingPath, e.FileName)

	if err := cfg.FSA.AcquireTransferSlot(cfg.HostIndex); err != nil {
		return e, fmt.Errorf("fetch: acquire transfer slot: %w", err)
	}
	defer cfg.FSA.ReleaseTransferSlot(cfg.HostIndex)

	if err := cfg.FSA.SetJobConnection(cfg.HostIndex, cfg.WorkerSlot, fsa.JobConnected, int32(os.Getpid())); err != nil {
		cfg.Logger.Errorf("fetch: %s: set job connection: %v", e.FileName, err)
	}
	defer func() {
		if err := cfg.FSA.SetJobConnection(cfg.HostIndex, cfg.WorkerSlot, fsa.JobDisconnected, 0); err != nil {
			cfg.Logger.Errorf("fetch: %s: clear job connection: %v", e.FileName, err)
		}
	}()

	cfg.Logger.TransferOpen(e.FileName)

	offset, appendMode, err := resumeOffset(dirEntry, e, tmpPath)
	if err != nil {
		return e, fmt.Errorf("fetch: resume check: %w", err)
	}

	body, err := cfg.Session.Fetch(ctx, e.FileName, offset)
	if err != nil {
		return e, fmt.Errorf("fetch: open remote: %w", err)
	}
	defer body.Close()

	dst, err := openTmp(tmpPath, appendMode)
	if err != nil {
		return e, fmt.Errorf("fetch: open local: %w", err)
	}
	hostEntryAfterAcquire, err := cfg.FSA.Entry(cfg.HostIndex)
	if err != nil {
		dst.Close()
		return e, fmt.Errorf("fetch: reread host entry: %w", err)
	}

	blockSize := int(hostEntry.BlockSize)
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}

	limiter := rateLimiter(hostEntryAfterAcquire.TrlPerProcess, blockSize)
	timeout := time.Duration(hostEntry.TransferTimeout) * time.Second

	if err := cfg.FSA.BeginJobFile(cfg.HostIndex, cfg.WorkerSlot, e.FileName, e.Size); err != nil {
		cfg.Logger.Errorf("fetch: %s: begin job file: %v", e.FileName, err)
	}

	written, streamErr := stream(ctx, dst, body, limiter, blockSize, timeout, func(delta int64) {
		if err := cfg.FSA.AddJobProgress(cfg.HostIndex, cfg.WorkerSlot, delta); err != nil {
			cfg.Logger.Errorf("fetch: %s: update job progress: %v", e.FileName, err)
		}
	})
	if streamErr != nil {
		dst.Close()
		return e, streamErr
	}
	if err := dst.Close(); err != nil {
		return e, fmt.Errorf("fetch: close local: %w", err)
	}
	if err := cfg.FSA.EndJobFile(cfg.HostIndex, cfg.WorkerSlot); err != nil {
		cfg.Logger.Errorf("fetch: %s: end job file: %v", e.FileName, err)
	}

	if dirEntry.Remove {
		if err := cfg.Session.Delete(ctx, e.FileName); err != nil {
			return e, fmt.Errorf("fetch: remote delete: %w", err)
		}
		cfg.Logger.Delete(e.FileName, urlcfg.DeleteMirrorDelete)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return e, fmt.Errorf("fetch: rename into place: %w", err)
	}

	observedSize := offset + written
	sizeDelta := observedSize - e.Size
	e.Retrieved = true
	e.Assigned = 0
	e.Size = observedSize

	if err := cfg.FSA.AddCounters(cfg.HostIndex, -1, sizeDelta); err != nil {
		cfg.Logger.Errorf("fetch: %s: update host counters: %v", e.FileName, err)
	}
	if err := cfg.FRA.AddCounters(cfg.DirIndex, 1, sizeDelta); err != nil {
		cfg.Logger.Errorf("fetch: %s: update dir counters: %v", e.FileName, err)
	}
	if err := cfg.FRA.MarkLastRetrieval(cfg.DirIndex, time.Now().Unix()); err != nil {
		cfg.Logger.Errorf("fetch: %s: update dir last retrieval: %v", e.FileName, err)
	}

	if hostEntry.ErrorCounter > 0 {
		if _, err := cfg.FSA.ClearErrorState(cfg.HostIndex); err != nil {
			cfg.Logger.Errorf("fetch: %s: clear host error state: %v", e.FileName, err)
		} else {
			cfg.Logger.HostUnset()
		}
	}
	if dirEntry.ErrorCounter > 0 {
		if err := cfg.FRA.ClearErrorState(cfg.DirIndex); err != nil {
			cfg.Logger.Errorf("fetch: %s: clear dir error state: %v", e.FileName, err)
		} else {
			cfg.Logger.DirErrorEnd(dirEntry.DirAlias, report.SeverityInfo)
		}
	}

	cfg.Logger.TransferClose(e.FileName, observedSize)
	cfg.Logger.TransferSuccess(e.FileName, observedSize, time.Duration(0))

	return e, nil
}

// resolvePaths implements spec §4.6 step 1.
func resolvePaths(stagingDir, name string) (tmpPath, finalPath string) {
	return filepath.Join(stagingDir, "."+name), filepath.Join(stagingDir, name)
}

// resumeOffset implements spec §4.6 step 2: append_only with a positive
// prev_size and an already-present tmp file resumes a ranged fetch;
// everything else starts from zero.
func resumeOffset(dirEntry *fra.Entry, e *retrlist.Entry, tmpPath string) (offset int64, appendMode bool, err error) {
	if dirEntry.StupidMode != fra.ModeAppendOnly || e.PrevSize <= 0 {
		return 0, false, nil
	}
	if _, statErr := os.Stat(tmpPath); statErr != nil {
		if os.IsNotExist(statErr) {
			return 0, false, nil
		}
		return 0, false, statErr
	}
	return e.PrevSize, true, nil
}

func openTmp(tmpPath string, appendMode bool) (*os.File, error) {
	if appendMode {
		return os.OpenFile(tmpPath, os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// rateLimiter builds a byte-oriented token bucket sized to trl_per_process
// (spec §4.6 step 3), grounded on the teacher's own rate.Limiter usage in
// backend/cache and backend/xpan (rate.NewLimiter(rate.Limit(bytesPerSec),
// burst)). A non-positive limit means unthrottled. The burst is floored at
// blockSize so a single chunk's WaitN(ctx, n) never exceeds the bucket's
// capacity regardless of how small trl_per_process is.
func rateLimiter(trlPerProcess int64, blockSize int) *rate.Limiter {
	if trlPerProcess <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := blockSize
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(trlPerProcess), burst)
}

// stream copies body into dst in blockSize chunks, honouring limiter and
// timeout, invoking progress after each chunk write with the number of
// bytes just written (spec §4.6 step 4's file_size_in_use_done / bytes_send
// bookkeeping; Run's progress callback is what actually updates job_status,
// this loop only reports deltas).
func stream(ctx context.Context, dst io.Writer, body io.Reader, limiter *rate.Limiter, blockSize int, timeout time.Duration, progress func(int64)) (int64, error) {
	start := time.Now()
	buf := make([]byte, blockSize)
	var total int64

	for {
		if timeout > 0 && time.Since(start) > timeout {
			return total, ErrStillFilesToSend
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if err := limiter.WaitN(ctx, n); err != nil {
				return total, fmt.Errorf("fetch: rate limiter: %w", err)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("fetch: write local: %w", err)
			}
			total += int64(n)
			progress(int64(n))
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			if remote.Retryable(ctx, readErr) {
				return total, fmt.Errorf("fetch: read remote: %w", readErr)
			}
			return total, fmt.Errorf("fetch: read remote: %w", readErr)
		}
	}
}
