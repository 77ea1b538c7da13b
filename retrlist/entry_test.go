package retrlist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	e := &Entry{
		FileName:    "drop-20260730.tar.gz",
		Size:        123456,
		PrevSize:    100000,
		FileMtime:   1_753_000_000,
		GotDate:     true,
		SpecialFlag: FlagGotExactSize | FlagGotSizeDate,
		InList:      true,
		Retrieved:   false,
		Assigned:    0,
	}
	e.Assign(7)

	buf, err := e.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, buf, EntrySize)

	got, err := UnmarshalEntry(buf)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestUnassignedDefault(t *testing.T) {
	e := &Entry{FileName: "x"}
	assert.True(t, e.Unassigned())
	_, ok := e.WorkerID()
	assert.False(t, ok)
}

func TestAssignUnassignRoundTrip(t *testing.T) {
	e := &Entry{FileName: "x"}
	e.Assign(0)
	assert.False(t, e.Unassigned())
	id, ok := e.WorkerID()
	assert.True(t, ok)
	assert.EqualValues(t, 0, id)

	e.Assign(41)
	id, ok = e.WorkerID()
	assert.True(t, ok)
	assert.EqualValues(t, 41, id)

	e.Unassign()
	assert.True(t, e.Unassigned())
}

func TestMarshalRejectsNameAtMaxLength(t *testing.T) {
	// Exactly MaxFilenameLength-1 bytes is accepted.
	ok := strings.Repeat("a", MaxFilenameLength-1)
	e := &Entry{FileName: ok}
	_, err := e.MarshalBinary()
	assert.NoError(t, err)

	// MaxFilenameLength bytes is rejected.
	tooLong := strings.Repeat("a", MaxFilenameLength)
	e2 := &Entry{FileName: tooLong}
	_, err = e2.MarshalBinary()
	assert.Error(t, err)
}

func TestUnmarshalRejectsWrongSize(t *testing.T) {
	_, err := UnmarshalEntry(make([]byte, 4))
	assert.Error(t, err)
}
