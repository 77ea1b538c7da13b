package fsa

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fsa.dat")
	tbl, err := Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestAcquireReleaseTransferSlot(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01", AllowedTransfers: 2, TransferRateLimit: 1000})
	require.NoError(t, err)

	require.NoError(t, tbl.AcquireTransferSlot(i))
	e, err := tbl.Entry(i)
	require.NoError(t, err)
	assert.EqualValues(t, 1, e.ActiveTransfers)
	assert.EqualValues(t, 1000, e.TrlPerProcess)

	require.NoError(t, tbl.AcquireTransferSlot(i))
	e, err = tbl.Entry(i)
	require.NoError(t, err)
	assert.EqualValues(t, 2, e.ActiveTransfers)
	assert.EqualValues(t, 500, e.TrlPerProcess)

	err = tbl.AcquireTransferSlot(i)
	assert.ErrorIs(t, err, ErrNoFreeSlot)

	require.NoError(t, tbl.ReleaseTransferSlot(i))
	e, err = tbl.Entry(i)
	require.NoError(t, err)
	assert.EqualValues(t, 1, e.ActiveTransfers)
	assert.EqualValues(t, 1000, e.TrlPerProcess)
}

func TestReleaseTransferSlotFloorsAtZero(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01", AllowedTransfers: 2})
	require.NoError(t, err)

	require.NoError(t, tbl.ReleaseTransferSlot(i))
	e, err := tbl.Entry(i)
	require.NoError(t, err)
	assert.EqualValues(t, 0, e.ActiveTransfers)
}

func TestTrlPerProcessUnlimitedWhenRateLimitUnset(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01", AllowedTransfers: 4, TransferRateLimit: 0})
	require.NoError(t, err)

	require.NoError(t, tbl.AcquireTransferSlot(i))
	e, err := tbl.Entry(i)
	require.NoError(t, err)
	assert.EqualValues(t, 0, e.TrlPerProcess)
}

func TestAddCountersClampsAtZero(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01"})
	require.NoError(t, err)

	require.NoError(t, tbl.AddCounters(i, 5, 100))
	require.NoError(t, tbl.AddCounters(i, -100, -1000))

	e, err := tbl.Entry(i)
	require.NoError(t, err)
	assert.EqualValues(t, 0, e.TotalFileCounter)
	assert.EqualValues(t, 0, e.TotalFileSize)
}

func TestRecordErrorShiftsHistory(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01"})
	require.NoError(t, err)

	require.NoError(t, tbl.RecordError(i))
	require.NoError(t, tbl.RecordError(i))

	e, err := tbl.Entry(i)
	require.NoError(t, err)
	assert.EqualValues(t, 2, e.ErrorCounter)
	assert.Equal(t, int32(2), e.ErrorHistory[0])
	assert.Equal(t, int32(1), e.ErrorHistory[1])
}

func TestClearErrorStateReportsPriorOfflineAndClearsStatus(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01"})
	require.NoError(t, err)
	require.NoError(t, tbl.RecordError(i))
	require.NoError(t, tbl.SetHostStatus(i, StatusErrorOffline|StatusAutoPauseQueue))

	wasOffline, err := tbl.ClearErrorState(i)
	require.NoError(t, err)
	assert.True(t, wasOffline)

	e, err := tbl.Entry(i)
	require.NoError(t, err)
	assert.Zero(t, e.ErrorCounter)
	assert.Zero(t, e.ErrorHistory[0])
	assert.Zero(t, e.HostStatus&(StatusErrorOffline|StatusAutoPauseQueue))
}

func TestClearErrorStateReportsNotOfflineWhenAlreadyClean(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01"})
	require.NoError(t, err)

	wasOffline, err := tbl.ClearErrorState(i)
	require.NoError(t, err)
	assert.False(t, wasOffline)
}

func TestLockProcRoundTrip(t *testing.T) {
	tbl := newTestTable(t)
	require.NoError(t, tbl.LockProc())
	require.NoError(t, tbl.UnlockProc())
	require.NoError(t, tbl.LockProc(), "the range must be free again after UnlockProc")
	require.NoError(t, tbl.UnlockProc())
}

func TestJobFileLifecycleUpdatesProgress(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01"})
	require.NoError(t, err)

	require.NoError(t, tbl.SetJobConnection(i, 3, JobConnected, 4242))
	require.NoError(t, tbl.BeginJobFile(i, 3, "report.txt", 300))
	require.NoError(t, tbl.AddJobProgress(i, 3, 100))
	require.NoError(t, tbl.AddJobProgress(i, 3, 200))
	require.NoError(t, tbl.EndJobFile(i, 3))
	require.NoError(t, tbl.SetJobConnection(i, 3, JobDisconnected, 0))

	e, err := tbl.Entry(i)
	require.NoError(t, err)
	job := e.Jobs[3]
	assert.Equal(t, JobDisconnected, job.ConnectStatus)
	assert.EqualValues(t, 0, job.ProcID)
	assert.EqualValues(t, 1, job.NoOfFiles)
	assert.EqualValues(t, 1, job.NoOfFilesDone)
	assert.EqualValues(t, 300, job.FileSizeInUseDone)
	assert.EqualValues(t, 300, job.BytesSend)
	assert.EqualValues(t, 300, job.FileSizeDone)
	assert.Equal(t, "", job.FileNameInUse)
}

func TestJobProgressRejectsOutOfRangeWorker(t *testing.T) {
	tbl := newTestTable(t)
	i, err := tbl.Append(&Entry{HostAlias: "mirror01"})
	require.NoError(t, err)

	assert.Error(t, tbl.BeginJobFile(i, MaxJobsPerHost, "x", 1))
	assert.Error(t, tbl.AddJobProgress(i, -1, 1))
}

func TestFindByAlias(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.Append(&Entry{HostAlias: "alpha"})
	require.NoError(t, err)
	j, err := tbl.Append(&Entry{HostAlias: "beta"})
	require.NoError(t, err)

	found, err := tbl.Find("beta")
	require.NoError(t, err)
	assert.Equal(t, j, found)

	missing, err := tbl.Find("gamma")
	require.NoError(t, err)
	assert.Equal(t, -1, missing)
}
