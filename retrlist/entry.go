// Package retrlist implements the persistent, memory-mapped retrieve
// list: the per-directory catalogue of remote files observed across
// scans, with assignment bits that are the sole ownership token between
// concurrent fetch workers (spec §3, §4.2).
package retrlist

import (
	"encoding/binary"
	"errors"
)

// MaxFilenameLength bounds file_name (spec §4.4 edge case: names of
// exactly MaxFilenameLength-1 bytes are accepted, MaxFilenameLength is
// rejected).
const MaxFilenameLength = 1024

// SpecialFlag bits (spec §3).
type SpecialFlag uint8

const (
	FlagGotExactSize SpecialFlag = 1 << iota
	FlagGotExactDate
	FlagGotSizeDate
)

const (
	offFileName    = 0
	lenFileName    = MaxFilenameLength
	offSize        = offFileName + lenFileName // 1024
	offPrevSize    = offSize + 8                // 1032
	offFileMtime   = offPrevSize + 8            // 1040
	offGotDate     = offFileMtime + 8           // 1048
	offSpecialFlag = offGotDate + 1             // 1049
	offInList      = offSpecialFlag + 1         // 1050
	offRetrieved   = offInList + 1              // 1051
	offAssigned    = offRetrieved + 1           // 1052 (4 bytes)
)

// EntrySize is the fixed on-disk size of one retrieve-list entry.
const EntrySize = offAssigned + 4

// Entry is the decoded, in-memory form of one retrieve-list row.
type Entry struct {
	FileName    string
	Size        int64 // -1 == unknown
	PrevSize    int64 // append-only restart point
	FileMtime   int64
	GotDate     bool
	SpecialFlag SpecialFlag
	InList      bool // scan-marker
	Retrieved   bool
	Assigned    uint32 // 0 == free, else worker-id+1
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func putFixed(b []byte, off, width int, s string) error {
	if len(s) >= width {
		return errors.New("retrlist: file name exceeds MaxFilenameLength-1")
	}
	for i := range b[off : off+width] {
		b[off+i] = 0
	}
	copy(b[off:off+width], s)
	return nil
}

func getFixed(b []byte, off, width int) string {
	end := off
	for end < off+width && b[end] != 0 {
		end++
	}
	return string(b[off:end])
}

// MarshalBinary encodes e into a fixed EntrySize-byte buffer.
func (e *Entry) MarshalBinary() ([]byte, error) {
	b := make([]byte, EntrySize)
	if err := putFixed(b, offFileName, lenFileName, e.FileName); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(b[offSize:], uint64(e.Size))
	binary.LittleEndian.PutUint64(b[offPrevSize:], uint64(e.PrevSize))
	binary.LittleEndian.PutUint64(b[offFileMtime:], uint64(e.FileMtime))
	b[offGotDate] = boolByte(e.GotDate)
	b[offSpecialFlag] = byte(e.SpecialFlag)
	b[offInList] = boolByte(e.InList)
	b[offRetrieved] = boolByte(e.Retrieved)
	binary.LittleEndian.PutUint32(b[offAssigned:], e.Assigned)
	return b, nil
}

// UnmarshalEntry decodes one EntrySize-byte slice into an Entry.
func UnmarshalEntry(b []byte) (*Entry, error) {
	if len(b) != EntrySize {
		return nil, errors.New("retrlist: entry buffer must be EntrySize bytes")
	}
	return &Entry{
		FileName:    getFixed(b, offFileName, lenFileName),
		Size:        int64(binary.LittleEndian.Uint64(b[offSize:])),
		PrevSize:    int64(binary.LittleEndian.Uint64(b[offPrevSize:])),
		FileMtime:   int64(binary.LittleEndian.Uint64(b[offFileMtime:])),
		GotDate:     b[offGotDate] != 0,
		SpecialFlag: SpecialFlag(b[offSpecialFlag]),
		InList:      b[offInList] != 0,
		Retrieved:   b[offRetrieved] != 0,
		Assigned:    binary.LittleEndian.Uint32(b[offAssigned:]),
	}, nil
}

// Unassigned reports whether the entry currently has no owning worker.
func (e *Entry) Unassigned() bool { return e.Assigned == 0 }

// WorkerID returns the owning worker's id and ok=true, or ok=false if free.
func (e *Entry) WorkerID() (id uint32, ok bool) {
	if e.Assigned == 0 {
		return 0, false
	}
	return e.Assigned - 1, true
}

// Assign sets the entry's owner to workerID (spec GLOSSARY "Worker id":
// stored as id+1 so zero means unassigned).
func (e *Entry) Assign(workerID uint32) { e.Assigned = workerID + 1 }

// Unassign clears ownership.
func (e *Entry) Unassign() { e.Assigned = 0 }
