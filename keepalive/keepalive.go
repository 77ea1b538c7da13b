// Package keepalive implements the session keep-alive arbiter (spec
// component C7): after a scan, it decides whether a fetch worker loops
// immediately, holds the session open through a chunked, no-op-pinged
// sleep, or closes it and exits, per spec §4.7.
package keepalive

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
)

// Decision is the arbiter's outcome for one post-scan evaluation.
type Decision int

const (
	// LoopImmediately means more_files_in_list was set: rescan without
	// closing the session (spec §4.7 "loop immediately").
	LoopImmediately Decision = iota
	// HoldSession means the arbiter slept through its window and the
	// caller should scan again using the same session.
	HoldSession
	// CloseSession means the next scheduled check falls after the
	// keep-alive window: close the session and exit.
	CloseSession
	// Cancelled means the supervisor's cancel signal fired mid-sleep.
	Cancelled
	// Stale means the FRA/FSA entries no longer address the same
	// directory/host on wake (spec §4.7 "exit cleanly").
	Stale
)

// Config bundles the arbiter's collaborators for one directory/host pair.
type Config struct {
	FRA       *fra.Table
	DirIndex  int
	DirAlias  string // expected DirAlias, for staleness re-verification on wake
	FSA       *fsa.Table
	HostIndex int
	HostAlias string // expected HostAlias, for staleness re-verification on wake

	WorkerSlot int // index into fsa.Entry.Jobs for this worker's CancelSignal

	// Schedule evaluates the directory's cron time-entry array (if any)
	// in its configured timezone, returning the next firing strictly
	// after now. A nil Schedule means "no cron entries": next_check_time
	// falls back to now+RemoteFileCheckInterval.
	Schedule                *cron.SpecSchedule
	RemoteFileCheckInterval time.Duration
	DefaultNoopInterval     time.Duration

	// Noop pings the still-open session once per sleep chunk (spec §4.7
	// "issuing no-op pings per chunk"). May be nil if the protocol has no
	// such ping (the arbiter simply sleeps).
	Noop func(ctx context.Context) error

	// Sleep is the clock primitive, overridable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Evaluate runs one post-scan decision cycle (spec §4.7). moreFilesInList
// comes from the scan.Result the caller just produced. now is threaded
// explicitly so callers can drive deterministic tests.
func Evaluate(ctx context.Context, cfg Config, moreFilesInList bool, now time.Time) (Decision, error) {
	if moreFilesInList {
		return LoopImmediately, nil
	}

	dirEntry, err := cfg.FRA.Entry(cfg.DirIndex)
	if err != nil {
		return Stale, fmt.Errorf("keepalive: read dir entry: %w", err)
	}
	hostEntry, err := cfg.FSA.Entry(cfg.HostIndex)
	if err != nil {
		return Stale, fmt.Errorf("keepalive: read host entry: %w", err)
	}

	keepConnected := dirEntry.KeepConnected
	if keepConnected <= 0 {
		keepConnected = time.Duration(hostEntry.TransferTimeout) * time.Second
	}
	timeup := now.Add(keepConnected)

	nextCheck := nextCheckTime(cfg, now)
	if nextCheck.After(timeup) {
		return CloseSession, nil
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	for now.Before(timeup) {
		chunk := sleepChunk(cfg, hostEntry.TransferTimeout, timeup.Sub(now))
		if chunk <= 0 {
			break
		}

		if cancelled(cfg) {
			return Cancelled, nil
		}

		if err := sleep(ctx, chunk); err != nil {
			return Cancelled, err
		}
		now = now.Add(chunk)

		if cancelled(cfg) {
			return Cancelled, nil
		}

		if cfg.Noop != nil {
			if err := cfg.Noop(ctx); err != nil {
				return CloseSession, fmt.Errorf("keepalive: noop ping: %w", err)
			}
		}

		if stale, err := stillAddressesSameTarget(cfg); err != nil {
			return Stale, err
		} else if stale {
			return Stale, nil
		}
	}

	return HoldSession, nil
}

// nextCheckTime implements spec §4.7's next_check_time computation: the
// directory's cron schedule if configured, else now+remote_file_check_interval.
func nextCheckTime(cfg Config, now time.Time) time.Time {
	if cfg.Schedule != nil {
		return cfg.Schedule.Next(now)
	}
	return now.Add(cfg.RemoteFileCheckInterval)
}

// sleepChunk implements spec §4.7: min(transfer_timeout-5, default_noop_interval, timeup-now).
func sleepChunk(cfg Config, transferTimeout int64, remaining time.Duration) time.Duration {
	chunk := remaining
	if tt := time.Duration(transferTimeout)*time.Second - 5*time.Second; tt > 0 && tt < chunk {
		chunk = tt
	}
	if cfg.DefaultNoopInterval > 0 && cfg.DefaultNoopInterval < chunk {
		chunk = cfg.DefaultNoopInterval
	}
	return chunk
}

// cancelled reads this worker's distinguished cancel byte (spec §4.7
// Cancellation, §5 "Worker abort": supervisor writes a signal byte in
// job_status[w]). A racy, unlocked read is sufficient: this is advisory,
// polled between sleep chunks, not a correctness-critical lock.
func cancelled(cfg Config) bool {
	e, err := cfg.FSA.Entry(cfg.HostIndex)
	if err != nil || cfg.WorkerSlot < 0 || cfg.WorkerSlot >= len(e.Jobs) {
		return false
	}
	return e.Jobs[cfg.WorkerSlot].CancelSignal != 0
}

// stillAddressesSameTarget re-verifies on wake that the FRA/FSA entries
// this arbiter was given still address the same directory/host (spec
// §4.7: "Re-verify on wake that the FRA and FSA entries still address
// the same directory/host; if stale, exit cleanly").
func stillAddressesSameTarget(cfg Config) (bool, error) {
	dirEntry, err := cfg.FRA.Entry(cfg.DirIndex)
	if err != nil {
		return false, fmt.Errorf("keepalive: reread dir entry: %w", err)
	}
	hostEntry, err := cfg.FSA.Entry(cfg.HostIndex)
	if err != nil {
		return false, fmt.Errorf("keepalive: reread host entry: %w", err)
	}
	if cfg.DirAlias != "" && dirEntry.DirAlias != cfg.DirAlias {
		return true, nil
	}
	if cfg.HostAlias != "" && hostEntry.HostAlias != cfg.HostAlias {
		return true, nil
	}
	return false, nil
}
