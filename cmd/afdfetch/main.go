// Command afdfetch is the fetch worker binary (spec component C6,
// wired to C1 through C8): one OS process mapped to the shared FRA/FSA
// tables and one directory's retrieve list, pulling files from a single
// configured remote source until its keep-alive window closes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/afdcore/afd/afdconf"
	"github.com/afdcore/afd/fetch"
	"github.com/afdcore/afd/filter"
	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
	"github.com/afdcore/afd/keepalive"
	"github.com/afdcore/afd/remote"
	"github.com/afdcore/afd/report"
	"github.com/afdcore/afd/retrlist"
	"github.com/afdcore/afd/scan"
	"github.com/afdcore/afd/urlcfg"
)

var version = "dev"

// options collects the flags and positional arguments spec §6's
// command-line contract names, plus a --config flag this rewrite needs
// to locate the YAML descriptor that seeds the FRA/FSA tables (the
// teacher's own source process read this information from a compiled-in
// job database; here it is read from a file instead).
type options struct {
	configPath        string
	distributedHelper bool
	oldErrorRetries   int
	tempToggleHost    bool

	workingDir string
	workerIdx  int
	fsaID      int
	fsaPos     int
	dirAlias   string
}

func main() {
	opt := &options{}

	root := &cobra.Command{
		Use:           "afdfetch <working-directory> <worker-index> <fsa-id> <fsa-position> <directory-alias>",
		Short:         "Pull files from one configured remote source into the incoming queue",
		Version:       version,
		Args:          cobra.ExactArgs(5),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opt.parsePositional(args); err != nil {
				return report.Exit(urlcfg.ExitIncorrect, err)
			}
			return run(cmd.Context(), opt)
		},
	}

	root.Flags().StringVar(&opt.configPath, "config", "", "path to the directory/host YAML descriptor")
	root.Flags().BoolVarP(&opt.distributedHelper, "distributed-helper", "d", false, "run as a distributed helper picking up already-assigned work")
	root.Flags().IntVarP(&opt.oldErrorRetries, "old-error", "o", 0, "treat as an old-error job with this many retries remaining")
	root.Flags().BoolVarP(&opt.tempToggleHost, "temp-toggle", "t", false, "dial the host's secondary real_hostname for this invocation")
	_ = root.MarkFlagRequired("config")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *report.ExitError
		if ok := asExitError(err, &exitErr); ok {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			os.Exit(int(exitErr.Code))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(urlcfg.ExitIncorrect))
	}
}

func asExitError(err error, target **report.ExitError) bool {
	for err != nil {
		if ee, ok := err.(*report.ExitError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (o *options) parsePositional(args []string) error {
	o.workingDir = args[0]

	workerIdx, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("afdfetch: worker-index %q: %w", args[1], err)
	}
	o.workerIdx = workerIdx

	fsaID, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("afdfetch: fsa-id %q: %w", args[2], err)
	}
	o.fsaID = fsaID

	fsaPos, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("afdfetch: fsa-position %q: %w", args[3], err)
	}
	o.fsaPos = fsaPos

	o.dirAlias = args[4]
	return nil
}

// run wires C1 through C8 together and drives the worker's main loop
// until keepalive.Evaluate reports CloseSession, Cancelled, or Stale
// (spec §4.7, §4.3's sequential per-worker loop).
func run(ctx context.Context, opt *options) error {
	descriptor, err := afdconf.Load(opt.configPath)
	if err != nil {
		return report.Exit(urlcfg.ExitIncorrect, err)
	}

	var dirSpec *afdconf.DirectorySpec
	for i := range descriptor.Directories {
		if descriptor.Directories[i].Alias == opt.dirAlias {
			dirSpec = &descriptor.Directories[i]
			break
		}
	}
	if dirSpec == nil {
		return report.Exit(urlcfg.ExitIncorrect, fmt.Errorf("afdfetch: unknown directory alias %q", opt.dirAlias))
	}
	hostSpec, ok := descriptor.HostByAlias(dirSpec.HostAlias)
	if !ok {
		return report.Exit(urlcfg.ExitIncorrect, fmt.Errorf("afdfetch: directory %q: unknown host alias %q", opt.dirAlias, dirSpec.HostAlias))
	}

	fraTbl, dirIndex, err := openFRA(opt.workingDir, descriptor, dirSpec)
	if err != nil {
		return report.Exit(urlcfg.ExitAllocError, err)
	}
	defer fraTbl.Close()

	fsaTbl, hostIndex, err := openFSA(opt.workingDir, descriptor, hostSpec, opt.fsaID, opt.fsaPos)
	if err != nil {
		return report.Exit(urlcfg.ExitAllocError, err)
	}
	defer fsaTbl.Close()

	store, err := retrlist.Attach(filepath.Join(opt.workingDir, opt.dirAlias+".rl"), retrlist.ModeOptional)
	if err != nil {
		return report.Exit(urlcfg.ExitAllocError, err)
	}
	defer store.Close()

	group, err := dirSpec.FilterGroup()
	if err != nil {
		return report.Exit(urlcfg.ExitIncorrect, err)
	}
	flt := filter.New(group)

	url, err := dirSpec.ParsedURL()
	if err != nil {
		return report.Exit(urlcfg.ExitIncorrect, err)
	}

	logger := report.NewLogger(hostSpec.Alias, maxHostnameLength(descriptor), opt.workerIdx)
	if opt.distributedHelper {
		logger.Infof("starting as distributed helper for %s", opt.dirAlias)
	}
	if opt.oldErrorRetries > 0 {
		logger.Infof("old-error job, %d retries remaining", opt.oldErrorRetries)
	}

	session, err := dialSession(ctx, url, hostSpec, opt.tempToggleHost)
	if err != nil {
		if fraTbl.RecordError(dirIndex) != nil {
			logger.Errorf("afdfetch: record dir error failed after dial failure")
		}
		return report.Exit(urlcfg.ExitConnectError, err)
	}
	defer session.Close()

	hostEntry, err := fsaTbl.Entry(hostIndex)
	if err != nil {
		return report.Exit(urlcfg.ExitAllocError, err)
	}

	for {
		scanCfg := scan.Config{
			Session:                session,
			Store:                  store,
			Filter:                 flt,
			FRA:                    fraTbl,
			DirIndex:               dirIndex,
			FSA:                    fsaTbl,
			HostIndex:              hostIndex,
			WorkerID:               int32(opt.workerIdx),
			DefaultTransferTimeout: time.Duration(hostEntry.TransferTimeout) * time.Second,
			Logger:                 logger,
		}

		res, err := scan.Reconcile(ctx, scanCfg, time.Now())
		if err != nil {
			if fraTbl.RecordError(dirIndex) != nil {
				logger.Errorf("afdfetch: record dir error failed after scan failure")
			}
			return report.Exit(urlcfg.ExitListError, err)
		}

		if err := runAssigned(ctx, fraTbl, dirIndex, fsaTbl, hostIndex, store, session, logger, int32(opt.workerIdx)); err != nil {
			return report.Exit(exitCodeFor(err), err)
		}

		keepCfg := keepalive.Config{
			FRA:                     fraTbl,
			DirIndex:                dirIndex,
			DirAlias:                opt.dirAlias,
			FSA:                     fsaTbl,
			HostIndex:               hostIndex,
			HostAlias:               hostSpec.Alias,
			WorkerSlot:              opt.workerIdx,
			RemoteFileCheckInterval: 5 * time.Minute,
			DefaultNoopInterval:     30 * time.Second,
			Noop: func(ctx context.Context) error {
				_, err := session.List(ctx)
				return err
			},
		}

		decision, err := keepalive.Evaluate(ctx, keepCfg, res.MoreFilesInList, time.Now())
		if err != nil {
			return report.Exit(urlcfg.ExitConnectError, err)
		}

		switch decision {
		case keepalive.LoopImmediately, keepalive.HoldSession:
			continue
		case keepalive.CloseSession, keepalive.Stale:
			return nil
		case keepalive.Cancelled:
			return report.Exit(urlcfg.ExitGotKilled, fmt.Errorf("afdfetch: cancelled"))
		}
	}
}

// runAssigned drains every retrieve-list entry assigned to this worker,
// fetching each under its own entry lock (spec §4.2's per-entry
// LOCK_RL_ENTRY discipline, §4.6's fetch loop).
func runAssigned(ctx context.Context, fraTbl *fra.Table, dirIndex int, fsaTbl *fsa.Table, hostIndex int, store *retrlist.Store, session remote.Session, logger *report.Logger, workerID int32) error {
	for i := 0; i < store.Count(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := store.LockEntry(i)
		if err != nil {
			return fmt.Errorf("afdfetch: lock entry %d: %w", i, err)
		}
		if !ok {
			continue
		}

		e, err := store.Entry(i)
		if err != nil {
			store.UnlockEntry(i)
			return fmt.Errorf("afdfetch: read entry %d: %w", i, err)
		}

		id, assigned := e.WorkerID()
		if !assigned || id != uint32(workerID) || e.Retrieved {
			store.UnlockEntry(i)
			continue
		}

		fetchCfg := fetch.Config{
			Session:    session,
			Store:      store,
			FRA:        fraTbl,
			DirIndex:   dirIndex,
			FSA:        fsaTbl,
			HostIndex:  hostIndex,
			WorkerSlot: int(workerID),
			Logger:     logger,
		}

		updated, fetchErr := fetch.Run(ctx, fetchCfg, i, e)
		if putErr := store.PutEntry(i, updated); putErr != nil {
			store.UnlockEntry(i)
			return fmt.Errorf("afdfetch: persist entry %d: %w", i, putErr)
		}
		store.UnlockEntry(i)

		if fetchErr != nil {
			if fraTbl.RecordError(dirIndex) != nil {
				logger.Errorf("afdfetch: record dir error failed after fetch failure")
			}
			if fsaTbl.RecordError(hostIndex) != nil {
				logger.Errorf("afdfetch: record host error failed after fetch failure")
			}
			return fetchErr
		}
	}
	return nil
}

func exitCodeFor(err error) urlcfg.ExitCode {
	switch err {
	case fetch.ErrStillFilesToSend:
		return urlcfg.ExitStillFilesToSend
	}
	return urlcfg.ExitReadRemoteError
}

func maxHostnameLength(d *afdconf.Descriptor) int {
	n := 0
	for _, h := range d.Hosts {
		if len(h.Alias) > n {
			n = len(h.Alias)
		}
	}
	return n
}

// openFRA finds or appends this directory's FRA entry under the table's
// process-wide lock: two workers first-scanning the same directory
// concurrently must not race each other's Append/Remap (fra.Table.Append's
// documented contract).
func openFRA(workingDir string, d *afdconf.Descriptor, dirSpec *afdconf.DirectorySpec) (*fra.Table, int, error) {
	tbl, err := fra.Open(filepath.Join(workingDir, "fra.dat"), len(d.Directories))
	if err != nil {
		return nil, 0, fmt.Errorf("afdfetch: open fra: %w", err)
	}
	if err := tbl.LockProc(); err != nil {
		tbl.Close()
		return nil, 0, fmt.Errorf("afdfetch: lock fra: %w", err)
	}
	defer tbl.UnlockProc()

	idx, err := tbl.Find(dirSpec.Alias)
	if err != nil {
		tbl.Close()
		return nil, 0, fmt.Errorf("afdfetch: find dir entry: %w", err)
	}
	if idx < 0 {
		e, err := dirSpec.Entry()
		if err != nil {
			tbl.Close()
			return nil, 0, err
		}
		idx, err = tbl.Append(e)
		if err != nil {
			tbl.Close()
			return nil, 0, fmt.Errorf("afdfetch: append dir entry: %w", err)
		}
	}
	return tbl, idx, nil
}

// openFSA finds or appends this host's FSA entry under the table's
// process-wide lock, for the same reason as openFRA.
func openFSA(workingDir string, d *afdconf.Descriptor, hostSpec *afdconf.HostSpec, fsaID, fsaPos int) (*fsa.Table, int, error) {
	tbl, err := fsa.Open(filepath.Join(workingDir, fmt.Sprintf("fsa-%d.dat", fsaID)), len(d.Hosts))
	if err != nil {
		return nil, 0, fmt.Errorf("afdfetch: open fsa: %w", err)
	}
	if err := tbl.LockProc(); err != nil {
		tbl.Close()
		return nil, 0, fmt.Errorf("afdfetch: lock fsa: %w", err)
	}
	defer tbl.UnlockProc()

	idx, err := tbl.Find(hostSpec.Alias)
	if err != nil {
		tbl.Close()
		return nil, 0, fmt.Errorf("afdfetch: find host entry: %w", err)
	}
	if idx < 0 {
		e, err := hostSpec.Entry()
		if err != nil {
			tbl.Close()
			return nil, 0, err
		}
		idx, err = tbl.Append(e)
		if err != nil {
			tbl.Close()
			return nil, 0, fmt.Errorf("afdfetch: append host entry: %w", err)
		}
	}
	if fsaPos >= 0 && idx != fsaPos && fsaPos < tbl.Count() {
		idx = fsaPos
	}
	return tbl, idx, nil
}
