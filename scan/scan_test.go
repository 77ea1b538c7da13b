package scan

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdcore/afd/filter"
	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
	"github.com/afdcore/afd/remote"
	"github.com/afdcore/afd/report"
	"github.com/afdcore/afd/retrlist"
)

type fakeSession struct {
	names   []string
	probes  map[string]remote.ProbeResult
	deleted []string
	caps    *remote.Capabilities
}

func newFakeSession(names ...string) *fakeSession {
	return &fakeSession{names: names, probes: map[string]remote.ProbeResult{}, caps: remote.NewCapabilities()}
}

func (f *fakeSession) List(ctx context.Context) ([]remote.Entry, error) {
	entries := make([]remote.Entry, 0, len(f.names))
	for _, n := range f.names {
		entries = append(entries, remote.Entry{Name: n})
	}
	return entries, nil
}

func (f *fakeSession) Probe(ctx context.Context, name string) (remote.ProbeResult, error) {
	if pr, ok := f.probes[name]; ok {
		return pr, nil
	}
	return remote.ProbeResult{Size: -1}, errors.New("fakeSession: no probe fixture for " + name)
}

func (f *fakeSession) Fetch(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	return nil, errors.New("fakeSession: Fetch not used by scan tests")
}

func (f *fakeSession) Delete(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeSession) Capabilities() *remote.Capabilities { return f.caps }
func (f *fakeSession) Close() error                       { return nil }

func newTestStore(t *testing.T) *retrlist.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retrlist.dat")
	s, err := retrlist.Attach(path, retrlist.ModeOptional)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestFRA(t *testing.T, e *fra.Entry) (*fra.Table, int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fra.dat")
	tbl, err := fra.Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	idx, err := tbl.Append(e)
	require.NoError(t, err)
	return tbl, idx
}

func newTestFSA(t *testing.T) (*fsa.Table, int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fsa.dat")
	tbl, err := fsa.Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	idx, err := tbl.Append(&fsa.Entry{HostAlias: "host-a", AllowedTransfers: 4})
	require.NoError(t, err)
	return tbl, idx
}

func testLogger() *report.Logger {
	l := report.NewLogger("host-a", 10, 1)
	return l
}

func matchAllFilter() *filter.Filter {
	g, err := filter.ParseGroup([]string{"+ *"})
	if err != nil {
		panic(err)
	}
	return filter.New(g)
}

func TestReconcileAssignsNewMatchedEntry(t *testing.T) {
	sess := newFakeSession("report.txt")
	sess.probes["report.txt"] = remote.ProbeResult{Size: 100, SizeKnown: true, Mtime: time.Now(), DateKnown: true}

	store := newTestStore(t)
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a", MaxCopiedFiles: 100, MaxCopiedFileSize: 1 << 30})
	fsaTbl, hostIdx := newTestFSA(t)

	cfg := Config{
		Session: sess, Store: store, Filter: matchAllFilter(),
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		WorkerID: 3, DefaultTransferTimeout: 30 * time.Second, Logger: testLogger(),
	}

	res, err := Reconcile(context.Background(), cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesToRetrieve)
	assert.EqualValues(t, 100, res.BytesToRetrieve)

	idx, err := store.Find("report.txt")
	require.NoError(t, err)
	require.GreaterOrEqual(t, idx, 0)
	e, err := store.Entry(idx)
	require.NoError(t, err)
	id, ok := e.WorkerID()
	assert.True(t, ok)
	assert.EqualValues(t, 3, id)
	assert.True(t, e.InList)
}

func TestReconcileSkipsDotFilesWhenNotAccepted(t *testing.T) {
	sess := newFakeSession(".hidden")
	store := newTestStore(t)
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a", MaxCopiedFiles: 100, MaxCopiedFileSize: 1 << 30})
	fsaTbl, hostIdx := newTestFSA(t)

	cfg := Config{
		Session: sess, Store: store, Filter: matchAllFilter(),
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		WorkerID: 1, DefaultTransferTimeout: 30 * time.Second, Logger: testLogger(),
	}

	res, err := Reconcile(context.Background(), cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesToRetrieve)
	idx, err := store.Find(".hidden")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestReconcileDeletesOnAllDisabledWithRemove(t *testing.T) {
	sess := newFakeSession("report.txt")
	store := newTestStore(t)
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a", DirFlag: fra.FlagAllDisabled, Remove: true})
	fsaTbl, hostIdx := newTestFSA(t)

	cfg := Config{
		Session: sess, Store: store, Filter: matchAllFilter(),
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		WorkerID: 1, DefaultTransferTimeout: 30 * time.Second, Logger: testLogger(),
	}

	res, err := Reconcile(context.Background(), cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"report.txt"}, sess.deleted)
}

func TestReconcileDeletesStaleLockedDotFile(t *testing.T) {
	sess := newFakeSession(".report.txt")
	old := time.Now().Add(-time.Hour)
	sess.probes[".report.txt"] = remote.ProbeResult{Mtime: old, DateKnown: true}

	store := newTestStore(t)
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{
		DirAlias: "dir-a", DirFlag: fra.FlagAcceptDotFiles | fra.FlagDeleteOldLockedFiles,
		LockedFileTime: 60,
	})
	fsaTbl, hostIdx := newTestFSA(t)

	noMatch, err := filter.ParseGroup([]string{"- *"})
	require.NoError(t, err)

	cfg := Config{
		Session: sess, Store: store, Filter: filter.New(noMatch),
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		WorkerID: 1, DefaultTransferTimeout: 30 * time.Second, Logger: testLogger(),
	}

	res, err := Reconcile(context.Background(), cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{".report.txt"}, sess.deleted)
}

func TestReconcileResetsRetrievedEntryOnSizeChange(t *testing.T) {
	sess := newFakeSession("report.txt")
	sess.probes["report.txt"] = remote.ProbeResult{Size: 2000, SizeKnown: true, Mtime: time.Now(), DateKnown: true}

	store := newTestStore(t)
	idx, err := store.Insert(&retrlist.Entry{FileName: "report.txt", Size: 1000, Retrieved: true})
	require.NoError(t, err)

	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a", MaxCopiedFiles: 100, MaxCopiedFileSize: 1 << 30})
	fsaTbl, hostIdx := newTestFSA(t)

	cfg := Config{
		Session: sess, Store: store, Filter: matchAllFilter(),
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		WorkerID: 2, DefaultTransferTimeout: 30 * time.Second, Logger: testLogger(),
	}

	res, err := Reconcile(context.Background(), cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesToRetrieve)

	e, err := store.Entry(idx)
	require.NoError(t, err)
	assert.False(t, e.Retrieved)
	assert.EqualValues(t, 2000, e.Size)
	id, ok := e.WorkerID()
	assert.True(t, ok)
	assert.EqualValues(t, 2, id)
}

func TestReconcileIgnoresEntryMatchingIgnoreSize(t *testing.T) {
	sess := newFakeSession("report.txt")
	sess.probes["report.txt"] = remote.ProbeResult{Size: 0, SizeKnown: true, Mtime: time.Now(), DateKnown: true}

	store := newTestStore(t)
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{
		DirAlias: "dir-a", MaxCopiedFiles: 100, MaxCopiedFileSize: 1 << 30,
		IgnoreSizeOp: fra.CompareEqual, IgnoreSize: 0,
	})
	fsaTbl, hostIdx := newTestFSA(t)

	cfg := Config{
		Session: sess, Store: store, Filter: matchAllFilter(),
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		WorkerID: 1, DefaultTransferTimeout: 30 * time.Second, Logger: testLogger(),
	}

	res, err := Reconcile(context.Background(), cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesToRetrieve)

	idx, err := store.Find("report.txt")
	require.NoError(t, err)
	e, err := store.Entry(idx)
	require.NoError(t, err)
	assert.True(t, e.Unassigned())
}

func TestReconcileRejectsOverLongName(t *testing.T) {
	longName := strings.Repeat("a", retrlist.MaxFilenameLength+1)
	sess := newFakeSession(longName)
	store := newTestStore(t)
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a", MaxCopiedFiles: 100, MaxCopiedFileSize: 1 << 30})
	fsaTbl, hostIdx := newTestFSA(t)

	cfg := Config{
		Session: sess, Store: store, Filter: matchAllFilter(),
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		WorkerID: 1, DefaultTransferTimeout: 30 * time.Second, Logger: testLogger(),
	}

	res, err := Reconcile(context.Background(), cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesToRetrieve)
	idx, err := store.Find(longName)
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}
