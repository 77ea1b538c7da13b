package fsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	e := &Entry{
		HostAlias:         "mirror01",
		RealHostname:      [2]string{"ftp1.example.net", "ftp2.example.net"},
		HostToggle:        HostToggle2,
		AutoToggle:        true,
		AllowedTransfers:  4,
		TransferRateLimit: 1 << 20,
		TransferTimeout:   120,
		BlockSize:         65536,
		ActiveTransfers:   2,
		TrlPerProcess:     524288,
		TotalFileCounter:  17,
		TotalFileSize:     999999,
		ErrorCounter:      1,
		ErrorHistory:      [2]int32{1, 0},
		HostStatus:        StatusAutoPauseQueue,
		StartEventHandle:  1000,
		EndEventHandle:    2000,
		JobCount:          1,
	}
	e.Jobs[0] = JobStatus{
		ConnectStatus: 1,
		ProcID:        4242,
		NoOfFiles:     10,
		FileSize:      2048,
		FileNameInUse: "incoming/partial.dat",
		CancelSignal:  0,
	}

	buf, err := e.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, buf, EntrySize)

	got, err := UnmarshalEntry(buf)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestJobStatusRangeIsDisjointFromHostRanges(t *testing.T) {
	// LOCK_CON guards only the first job slot's ConnectStatus+ProcID; it
	// must not reach into LOCK_TFC/LOCK_EC/LOCK_HS, which live earlier in
	// the entry and are locked independently.
	assert.Less(t, int64(offHostStatus+lockHSLen), int64(offJobStatus))
	assert.Less(t, int64(offErrorHistory1+4), int64(offHostStatus))
	assert.Less(t, int64(offTotalFileSize+8), int64(offErrorCounter))
}

func TestUnmarshalRejectsWrongSize(t *testing.T) {
	_, err := UnmarshalEntry(make([]byte, 10))
	assert.Error(t, err)
}
