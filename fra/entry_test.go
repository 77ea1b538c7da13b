package fra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	e := &Entry{
		DirAlias:          "archive01",
		URL:               "ftp://mirror.example.net/pub/drops",
		StagingPath:       "/var/afd/staging/archive01",
		MaxCopiedFiles:    500,
		MaxCopiedFileSize: 1 << 30,
		StupidMode:        ModeAppendOnly,
		Remove:            true,
		IgnoreSize:        1024,
		IgnoreSizeOp:      CompareLess,
		IgnoreFileTime:    3600,
		IgnoreFileTimeOp:  CompareGreater,
		DirFlag:           FlagAcceptDotFiles | FlagDeleteUnknownFiles,
		ErrorCounter:      2,
		MaxErrors:         10,
		LockedFileTime:    120,
		UnknownFileTime:   3600,
		KeepConnected:     30 * time.Second,
		NextCheckTime:     1_700_000_000,
		WarnTime:          1_700_003_600,
		LastRetrieval:     1_699_999_000,
		BytesReceived:     123456789,
		FilesReceived:     42,
	}

	buf, err := e.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, buf, EntrySize)

	got, err := UnmarshalEntry(buf)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestMarshalRejectsOverlongFields(t *testing.T) {
	long := make([]byte, lenDirAlias)
	for i := range long {
		long[i] = 'x'
	}
	e := &Entry{DirAlias: string(long)}
	_, err := e.MarshalBinary()
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestUnmarshalRejectsWrongSize(t *testing.T) {
	_, err := UnmarshalEntry(make([]byte, 10))
	assert.Error(t, err)
}

func TestErrorStatusRangeCoversFlagAndCounter(t *testing.T) {
	rng := ErrorStatusRange(0)
	assert.Equal(t, int64(offDirFlag), rng.Offset)
	assert.Equal(t, int64(lockECLen), rng.Len)
	// Must cover exactly dir_flag (4 bytes) + error_counter (4 bytes).
	assert.Equal(t, int64(offErrorCounter+4-offDirFlag), rng.Len)
}
