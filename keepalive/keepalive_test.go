package keepalive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
)

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

func newTestFSA(t *testing.T, e *fsa.Entry) (*fsa.Table, int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fsa.dat")
	tbl, err := fsa.Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	idx, err := tbl.Append(e)
	require.NoError(t, err)
	return tbl, idx
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestEvaluateLoopsImmediatelyWhenMoreFilesInList(t *testing.T) {
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a"})
	fsaTbl, hostIdx := newTestFSA(t, &fsa.Entry{HostAlias: "host-a"})

	cfg := Config{FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx}
	decision, err := Evaluate(context.Background(), cfg, true, time.Now())
	require.NoError(t, err)
	assert.Equal(t, LoopImmediately, decision)
}

func TestEvaluateClosesWhenNextCheckPastKeepWindow(t *testing.T) {
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a", KeepConnected: 5 * time.Second})
	fsaTbl, hostIdx := newTestFSA(t, &fsa.Entry{HostAlias: "host-a"})

	cfg := Config{
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		RemoteFileCheckInterval: time.Hour,
		Sleep:                   noSleep,
	}
	decision, err := Evaluate(context.Background(), cfg, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, CloseSession, decision)
}

func TestEvaluateHoldsSessionAcrossSleepChunksWithNoopPings(t *testing.T) {
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a", KeepConnected: 30 * time.Second})
	fsaTbl, hostIdx := newTestFSA(t, &fsa.Entry{HostAlias: "host-a", TransferTimeout: 3600})

	var pings int
	var slept []time.Duration
	fakeSleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	cfg := Config{
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		RemoteFileCheckInterval: time.Second,
		DefaultNoopInterval:     10 * time.Second,
		Noop:                    func(ctx context.Context) error { pings++; return nil },
		Sleep:                   fakeSleep,
	}
	decision, err := Evaluate(context.Background(), cfg, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, HoldSession, decision)
	assert.Equal(t, 3, pings)
	for _, d := range slept {
		assert.Equal(t, 10*time.Second, d)
	}
}

func TestEvaluateDetectsCancelSignalBeforeSleeping(t *testing.T) {
	fraTbl, dirIdx := newTestFRA(t, &fra.Entry{DirAlias: "dir-a", KeepConnected: 30 * time.Second})
	hostEntry := &fsa.Entry{HostAlias: "host-a", TransferTimeout: 3600}
	hostEntry.Jobs[0].CancelSignal = 1
	fsaTbl, hostIdx := newTestFSA(t, hostEntry)

	slept := false
	cfg := Config{
		FRA: fraTbl, DirIndex: dirIdx, FSA: fsaTbl, HostIndex: hostIdx,
		RemoteFileCheckInterval: time.Second,
		DefaultNoopInterval:     10 * time.Second,
		WorkerSlot:              0,
		Sleep:                   func(ctx context.Context, d time.Duration) error { slept = true; return nil },
	}
	decision, err := Evaluate(context.Background(), cfg, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Cancelled, decision)
	assert.False(t, slept)
}

func TestEvaluateReturnsStaleWhenDirAliasChangesOnWake(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fra.dat")
	fraTbl, err := fra.Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { fraTbl.Close() })
	dirIdx, err := fraTbl.Append(&fra.Entry{DirAlias: "dir-a", KeepConnected: 30 * time.Second})
	require.NoError(t, err)

	fsaTbl, hostIdx := newTestFSA(t, &fsa.Entry{HostAlias: "host-a", TransferTimeout: 3600})

	renamed := false
	fakeSleep := func(ctx context.Context, d time.Duration) error {
		if !renamed {
			renamed = true
			require.NoError(t, fraTbl.PutEntry(dirIdx, &fra.Entry{DirAlias: "dir-b", KeepConnected: 30 * time.Second}))
		}
		return nil
	}

	cfg := Config{
		FRA: fraTbl, DirIndex: dirIdx, DirAlias: "dir-a",
		FSA: fsaTbl, HostIndex: hostIdx,
		RemoteFileCheckInterval: time.Second,
		DefaultNoopInterval:     5 * time.Second,
		Sleep:                   fakeSleep,
	}
	decision, err := Evaluate(context.Background(), cfg, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Stale, decision)
}
