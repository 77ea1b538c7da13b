// Package scan implements scan & assignment reconciliation (spec
// component C5): it reconciles a fresh remote listing against the
// retrieve list, applies the filter/age/size selection pipeline, marks
// entries assigned to a worker, and carries out the remote-deletion side
// effects for disabled directories, stale dot-locked files, and unknown
// files (spec §4.5).
package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
	"github.com/afdcore/afd/filter"
	"github.com/afdcore/afd/remote"
	"github.com/afdcore/afd/report"
	"github.com/afdcore/afd/retrlist"
	"github.com/afdcore/afd/urlcfg"
)

// Config bundles one scan pass's collaborators: the protocol session
// obtained from C4, the directory's retrieve-list handle (C2), its filter
// (C3), and the FRA/FSA slots (C1) it reconciles against.
type Config struct {
	Session  remote.Session
	Store    *retrlist.Store
	Filter   *filter.Filter
	FRA      *fra.Table
	DirIndex int
	FSA      *fsa.Table
	HostIndex int
	WorkerID int32

	// DefaultTransferTimeout stands in for the host's transfer_timeout
	// when a directory's locked_file_time/unknown_file_time window is
	// shorter than it (spec §4.5: "older than max(locked_file_time,
	// default_transfer_timeout)").
	DefaultTransferTimeout time.Duration

	Logger *report.Logger
}

// Result is the per-pass summary spec §4.5 names as C5's outputs.
type Result struct {
	FilesToRetrieve int
	BytesToRetrieve int64
	MoreFilesInList bool
	Deleted         int
}

// Reconcile runs one scan pass: list, mark-sweep the retrieve list, apply
// the per-name pipeline, compact, and update FSA totals. now is threaded
// through explicitly (rather than taken from time.Now internally) so a
// caller can drive deterministic tests and so a single "now" is shared
// across the whole pass, matching spec §4.3's "expanded against now".
func Reconcile(ctx context.Context, cfg Config, now time.Time) (Result, error) {
	dirEntry, err := cfg.FRA.Entry(cfg.DirIndex)
	if err != nil {
		return Result{}, fmt.Errorf("scan: read dir entry: %w", err)
	}

	names, err := cfg.Session.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scan: list: %w", err)
	}

	if err := cfg.Store.LockProc(); err != nil {
		return Result{}, fmt.Errorf("scan: lock proc: %w", err)
	}
	if err := cfg.Store.ClearInListMarks(); err != nil {
		cfg.Store.UnlockProc()
		return Result{}, fmt.Errorf("scan: clear in-list marks: %w", err)
	}
	if err := cfg.Store.UnlockProc(); err != nil {
		return Result{}, fmt.Errorf("scan: unlock proc: %w", err)
	}

	res := Result{}
	for _, e := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := reconcileName(ctx, cfg, dirEntry, e.Name, now, &res); err != nil {
			cfg.Logger.Errorf("scan: %s: %v", e.Name, err)
		}
	}

	if !dirEntry.Remove && dirEntry.StupidMode != fra.ModeGetOnceExact && dirEntry.StupidMode != fra.ModeGetOnceInexact {
		if err := cfg.Store.LockProc(); err != nil {
			return res, fmt.Errorf("scan: lock proc for compact: %w", err)
		}
		_, err := cfg.Store.Compact()
		unlockErr := cfg.Store.UnlockProc()
		if err != nil {
			return res, fmt.Errorf("scan: compact: %w", err)
		}
		if unlockErr != nil {
			return res, fmt.Errorf("scan: unlock proc after compact: %w", unlockErr)
		}
	}

	if res.FilesToRetrieve > 0 {
		if err := cfg.FSA.AddCounters(cfg.HostIndex, int64(res.FilesToRetrieve), res.BytesToRetrieve); err != nil {
			return res, fmt.Errorf("scan: update fsa counters: %w", err)
		}
	}

	return res, nil
}

func reconcileName(ctx context.Context, cfg Config, dirEntry *fra.Entry, rawName string, now time.Time, res *Result) error {
	name := strings.TrimPrefix(rawName, "./")

	if len(name) >= retrlist.MaxFilenameLength {
		cfg.Logger.Errorf("scan: name %q exceeds MaxFilenameLength-1, ignoring", name)
		return nil
	}

	dotPrefixed := strings.HasPrefix(name, ".")
	if dotPrefixed && dirEntry.DirFlag&fra.FlagAcceptDotFiles == 0 {
		return nil
	}

	if dirEntry.DirFlag&fra.FlagAllDisabled != 0 {
		if dirEntry.Remove {
			return deleteRemote(ctx, cfg, name, urlcfg.DeleteHostDisabled, res)
		}
		return nil
	}

	result, err := cfg.Filter.Evaluate(name, now)
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}

	if result != filter.Match {
		return applyRejectPolicy(ctx, cfg, dirEntry, name, dotPrefixed, now, res)
	}

	return checkList(ctx, cfg, dirEntry, name, res)
}

// applyRejectPolicy implements spec §4.5 step 3's two delete rules that
// fire on a non-Match outcome: the stale-dot-lock sweep and the unknown-
// file sweep. It runs unconditionally on every rejected name in the
// pass (the scan.Reconcile supplement in SPEC_FULL.md §3: the sweep must
// not depend on anything in this round actually matching the filter).
func applyRejectPolicy(ctx context.Context, cfg Config, dirEntry *fra.Entry, name string, dotPrefixed bool, now time.Time, res *Result) error {
	if dotPrefixed && dirEntry.DirFlag&fra.FlagDeleteOldLockedFiles != 0 && dirEntry.LockedFileTime != -1 {
		mtime, ok, err := probeMtime(ctx, cfg, name)
		if err != nil {
			return err
		}
		if ok && staleBy(now, mtime, dirEntry.LockedFileTime, cfg.DefaultTransferTimeout) {
			return deleteRemote(ctx, cfg, name, urlcfg.DeleteOldRlockedGlobal, res)
		}
		return nil
	}

	if dirEntry.DirFlag&fra.FlagDeleteUnknownFiles != 0 && dirEntry.UnknownFileTime != -2 {
		mtime, ok, err := probeMtime(ctx, cfg, name)
		if err != nil {
			return err
		}
		if ok && staleBy(now, mtime, dirEntry.UnknownFileTime, cfg.DefaultTransferTimeout) {
			return deleteRemote(ctx, cfg, name, urlcfg.DeleteUnknownGlobal, res)
		}
	}
	return nil
}

func staleBy(now time.Time, mtime time.Time, configured int64, defaultTimeout time.Duration) bool {
	window := time.Duration(configured) * time.Second
	if window < defaultTimeout {
		window = defaultTimeout
	}
	return now.Sub(mtime) > window
}

func probeMtime(ctx context.Context, cfg Config, name string) (time.Time, bool, error) {
	if !cfg.Session.Capabilities().DateSupported() {
		return time.Time{}, false, nil
	}
	pr, err := cfg.Session.Probe(ctx, name)
	if err != nil {
		if remote.Retryable(ctx, err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return pr.Mtime, pr.DateKnown, nil
}

func deleteRemote(ctx context.Context, cfg Config, name string, reason urlcfg.DeleteReason, res *Result) error {
	if err := cfg.Session.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	cfg.Logger.Delete(name, reason)
	res.Deleted++
	return nil
}

// checkList implements spec §4.5 step 4: look up name in the retrieve
// list under its entry lock, and either insert a new entry or refresh an
// existing one.
func checkList(ctx context.Context, cfg Config, dirEntry *fra.Entry, name string, res *Result) error {
	idx, err := cfg.Store.Find(name)
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	if idx < 0 {
		return insertNew(ctx, cfg, dirEntry, name, res)
	}
	return refreshExisting(ctx, cfg, dirEntry, idx, name, res)
}

func insertNew(ctx context.Context, cfg Config, dirEntry *fra.Entry, name string, res *Result) error {
	pr, err := probeSizeDate(ctx, cfg, name)
	if err != nil {
		return err
	}

	e := &retrlist.Entry{
		FileName: name,
		Size:     -1,
		InList:   true,
	}
	applyProbe(e, pr)

	if !ignoredBySizeOrTime(dirEntry, e) {
		decideAssignment(cfg, dirEntry, e, res)
	}

	return withProcLock(cfg.Store, func() error {
		_, err := cfg.Store.Insert(e)
		return err
	})
}

// withProcLock runs fn while holding the store's LOCK_RETR_PROC: every
// Insert (and the end-of-pass Compact) must be serialised against growth
// and scan-reset from sibling workers (spec §4.2).
func withProcLock(s *retrlist.Store, fn func() error) error {
	if err := s.LockProc(); err != nil {
		return err
	}
	defer s.UnlockProc()
	return fn()
}

func refreshExisting(ctx context.Context, cfg Config, dirEntry *fra.Entry, idx int, name string, res *Result) error {
	ok, err := cfg.Store.LockEntry(idx)
	if err != nil {
		return fmt.Errorf("lock entry: %w", err)
	}
	if !ok {
		// Another worker holds it this round; it wins, we move on
		// (spec §4.5 "the other worker wins this one").
		return nil
	}
	defer cfg.Store.UnlockEntry(idx)

	e, err := cfg.Store.Entry(idx)
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}

	alreadyHandled := e.Assigned != 0
	if dirEntry.StupidMode == fra.ModeGetOnceExact && e.Retrieved {
		alreadyHandled = true
	}
	if alreadyHandled {
		e.InList = true
		return cfg.Store.PutEntry(idx, e)
	}

	pr, err := probeSizeDate(ctx, cfg, name)
	if err != nil {
		return err
	}

	changed := (pr.sizeKnown && pr.size != e.Size) || (pr.dateKnown && pr.mtime.Unix() != e.FileMtime)
	e.InList = true
	if changed {
		oldSize := e.Size
		e.Retrieved = false
		e.Assigned = 0
		if dirEntry.StupidMode == fra.ModeAppendOnly && pr.size > oldSize && oldSize > 0 {
			e.PrevSize = oldSize
		}
		applyProbe(e, pr)
		if !ignoredBySizeOrTime(dirEntry, e) {
			decideAssignment(cfg, dirEntry, e, res)
		}
	}

	return cfg.Store.PutEntry(idx, e)
}

type probeOutcome struct {
	size      int64
	sizeKnown bool
	mtime     time.Time
	dateKnown bool
}

func probeSizeDate(ctx context.Context, cfg Config, name string) (probeOutcome, error) {
	caps := cfg.Session.Capabilities()
	if !caps.SizeSupported() && !caps.DateSupported() {
		return probeOutcome{}, nil
	}
	pr, err := cfg.Session.Probe(ctx, name)
	if err != nil {
		if remote.Retryable(ctx, err) {
			return probeOutcome{}, nil
		}
		return probeOutcome{}, fmt.Errorf("probe %s: %w", name, err)
	}
	return probeOutcome{size: pr.Size, sizeKnown: pr.SizeKnown, mtime: pr.Mtime, dateKnown: pr.DateKnown}, nil
}

func applyProbe(e *retrlist.Entry, pr probeOutcome) {
	if pr.sizeKnown {
		e.Size = pr.size
		e.SpecialFlag |= retrlist.FlagGotExactSize
	}
	if pr.dateKnown {
		e.FileMtime = pr.mtime.Unix()
		e.GotDate = true
		e.SpecialFlag |= retrlist.FlagGotExactDate
	}
	if pr.sizeKnown && pr.dateKnown {
		e.SpecialFlag |= retrlist.FlagGotSizeDate
	}
}

// ignoredBySizeOrTime evaluates the ignore_size/ignore_file_time
// comparators (spec §3, §4.5): a name whose size or mtime satisfies the
// configured comparator is excluded from assignment, though it remains in
// the retrieve list (in_list stays true).
func ignoredBySizeOrTime(dirEntry *fra.Entry, e *retrlist.Entry) bool {
	if dirEntry.IgnoreSizeOp != fra.CompareNone && e.Size >= 0 {
		if compareMatches(dirEntry.IgnoreSizeOp, e.Size, dirEntry.IgnoreSize) {
			return true
		}
	}
	if dirEntry.IgnoreFileTimeOp != fra.CompareNone && e.GotDate {
		if compareMatches(dirEntry.IgnoreFileTimeOp, e.FileMtime, dirEntry.IgnoreFileTime) {
			return true
		}
	}
	return false
}

func compareMatches(op fra.Comparator, observed, configured int64) bool {
	switch op {
	case fra.CompareEqual:
		return observed == configured
	case fra.CompareLess:
		return observed < configured
	case fra.CompareGreater:
		return observed > configured
	default:
		return false
	}
}

// decideAssignment applies the accept/cap/ONE_PROCESS_JUST_SCANNING
// decision from spec §4.5 step 4's "New entry" bullet (shared by the
// refresh path once an entry has been reset).
func decideAssignment(cfg Config, dirEntry *fra.Entry, e *retrlist.Entry, res *Result) {
	size := e.Size
	if size < 0 {
		size = 0
	}
	if dirEntry.MaxCopiedFiles > 0 && int32(res.FilesToRetrieve+1) >= dirEntry.MaxCopiedFiles {
		return
	}
	if dirEntry.MaxCopiedFileSize > 0 && res.BytesToRetrieve+size >= dirEntry.MaxCopiedFileSize {
		return
	}

	scanOnly := dirEntry.DirFlag&fra.FlagOneProcessJustScanning != 0 && dirEntry.DirFlag&fra.FlagDistributedHelperJob == 0
	if scanOnly {
		res.MoreFilesInList = true
		return
	}

	e.Assign(uint32(cfg.WorkerID))
	res.FilesToRetrieve++
	res.BytesToRetrieve += size
}
