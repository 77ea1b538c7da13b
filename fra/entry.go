// Package fra implements the directory retrieve status table (FRA): one
// fixed-size entry per configured source directory, memory-mapped and
// shared across every fetch worker and the supervisor.
//
// The binary layout follows the teacher's fixed-footer encode/decode idiom
// (backend/raid3/footer.go: MarshalBinary writes named byte ranges with
// encoding/binary, ParseFooter reads them back) generalised from a 90-byte
// trailer to a growable table of directory entries.
package fra

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/afdcore/afd/shm"
)

// StupidMode is the directory's reacquisition policy (spec §3, §9 GLOSSARY
// "Stupid mode"). The legacy name is kept only here, in enum naming.
type StupidMode uint8

const (
	ModeNone StupidMode = iota
	ModeGetOnceExact
	ModeGetOnceInexact
	ModeAppendOnly
	ModeRemove
)

// Comparator is the operator used by ignore_size/ignore_file_time.
type Comparator uint8

const (
	CompareNone Comparator = iota
	CompareEqual
	CompareLess
	CompareGreater
)

// DirFlag bits (spec §3 dir_flag bitset).
type DirFlag uint32

const (
	FlagAllDisabled DirFlag = 1 << iota
	FlagDirErrorSet
	FlagOneProcessJustScanning
	FlagMaxCopied
	FlagDistributedHelperJob
	FlagAcceptDotFiles
	FlagDeleteUnknownFiles
	FlagDeleteOldLockedFiles
)

// EntrySize is the fixed on-disk size of one FRA entry, including padding.
const EntrySize = 704

const (
	offDirAlias          = 0
	lenDirAlias          = 64
	offURL               = offDirAlias + lenDirAlias // 64
	lenURL               = 256
	offStagingPath       = offURL + lenURL // 320
	lenStagingPath       = 256
	offMaxCopiedFiles    = offStagingPath + lenStagingPath // 576
	offMaxCopiedFileSize = offMaxCopiedFiles + 4           // 580
	offStupidMode        = offMaxCopiedFileSize + 8        // 588
	offRemove            = offStupidMode + 1               // 589
	offIgnoreSize        = offRemove + 1                   // 590
	offIgnoreSizeOp      = offIgnoreSize + 8                // 598
	offIgnoreFileTime    = offIgnoreSizeOp + 1              // 599
	offIgnoreFileTimeOp  = offIgnoreFileTime + 8            // 607
	offDirFlag           = offIgnoreFileTimeOp + 1          // 608 -- LOCK_EC region start
	offErrorCounter      = offDirFlag + 4                   // 612
	lockECLen            = 8                                // DirFlag + ErrorCounter
	offMaxErrors         = offErrorCounter + 4               // 616
	offLockedFileTime    = offMaxErrors + 4                  // 620
	offUnknownFileTime   = offLockedFileTime + 8             // 628
	offKeepConnected     = offUnknownFileTime + 8            // 636
	offNextCheckTime     = offKeepConnected + 8              // 644
	offWarnTime          = offNextCheckTime + 8              // 652
	offLastRetrieval     = offWarnTime + 8                   // 660
	offBytesReceived     = offLastRetrieval + 8              // 668
	offFilesReceived     = offBytesReceived + 8              // 676
	// 684..EntrySize reserved/padding
)

// ErrNameTooLong is returned when a directory alias or URL exceeds its
// fixed field width.
var ErrNameTooLong = errors.New("fra: field exceeds fixed width")

// Entry is the decoded, in-memory form of one FRA row.
type Entry struct {
	DirAlias          string
	URL               string
	StagingPath       string
	MaxCopiedFiles    int32
	MaxCopiedFileSize int64
	StupidMode        StupidMode
	Remove            bool
	IgnoreSize        int64
	IgnoreSizeOp      Comparator
	IgnoreFileTime    int64
	IgnoreFileTimeOp  Comparator
	DirFlag           DirFlag
	ErrorCounter      uint32
	MaxErrors         uint32
	LockedFileTime    int64
	UnknownFileTime   int64
	KeepConnected     time.Duration
	NextCheckTime     int64
	WarnTime          int64
	LastRetrieval     int64
	BytesReceived     uint64
	FilesReceived     uint64
}

func putFixed(b []byte, off int, width int, s string) error {
	if len(s) >= width {
		return ErrNameTooLong
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

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// MarshalBinary encodes e into a fixed EntrySize-byte buffer.
func (e *Entry) MarshalBinary() ([]byte, error) {
	b := make([]byte, EntrySize)
	if err := putFixed(b, offDirAlias, lenDirAlias, e.DirAlias); err != nil {
		return nil, err
	}
	if err := putFixed(b, offURL, lenURL, e.URL); err != nil {
		return nil, err
	}
	if err := putFixed(b, offStagingPath, lenStagingPath, e.StagingPath); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(b[offMaxCopiedFiles:], uint32(e.MaxCopiedFiles))
	binary.LittleEndian.PutUint64(b[offMaxCopiedFileSize:], uint64(e.MaxCopiedFileSize))
	b[offStupidMode] = byte(e.StupidMode)
	b[offRemove] = boolByte(e.Remove)
	binary.LittleEndian.PutUint64(b[offIgnoreSize:], uint64(e.IgnoreSize))
	b[offIgnoreSizeOp] = byte(e.IgnoreSizeOp)
	binary.LittleEndian.PutUint64(b[offIgnoreFileTime:], uint64(e.IgnoreFileTime))
	b[offIgnoreFileTimeOp] = byte(e.IgnoreFileTimeOp)
	binary.LittleEndian.PutUint32(b[offDirFlag:], uint32(e.DirFlag))
	binary.LittleEndian.PutUint32(b[offErrorCounter:], e.ErrorCounter)
	binary.LittleEndian.PutUint32(b[offMaxErrors:], e.MaxErrors)
	binary.LittleEndian.PutUint64(b[offLockedFileTime:], uint64(e.LockedFileTime))
	binary.LittleEndian.PutUint64(b[offUnknownFileTime:], uint64(e.UnknownFileTime))
	binary.LittleEndian.PutUint64(b[offKeepConnected:], uint64(e.KeepConnected))
	binary.LittleEndian.PutUint64(b[offNextCheckTime:], uint64(e.NextCheckTime))
	binary.LittleEndian.PutUint64(b[offWarnTime:], uint64(e.WarnTime))
	binary.LittleEndian.PutUint64(b[offLastRetrieval:], uint64(e.LastRetrieval))
	binary.LittleEndian.PutUint64(b[offBytesReceived:], e.BytesReceived)
	binary.LittleEndian.PutUint64(b[offFilesReceived:], e.FilesReceived)
	return b, nil
}

// UnmarshalEntry decodes one EntrySize-byte slice into an Entry.
func UnmarshalEntry(b []byte) (*Entry, error) {
	if len(b) != EntrySize {
		return nil, errors.New("fra: entry buffer must be EntrySize bytes")
	}
	e := &Entry{
		DirAlias:          getFixed(b, offDirAlias, lenDirAlias),
		URL:               getFixed(b, offURL, lenURL),
		StagingPath:       getFixed(b, offStagingPath, lenStagingPath),
		MaxCopiedFiles:    int32(binary.LittleEndian.Uint32(b[offMaxCopiedFiles:])),
		MaxCopiedFileSize: int64(binary.LittleEndian.Uint64(b[offMaxCopiedFileSize:])),
		StupidMode:        StupidMode(b[offStupidMode]),
		Remove:            b[offRemove] != 0,
		IgnoreSize:        int64(binary.LittleEndian.Uint64(b[offIgnoreSize:])),
		IgnoreSizeOp:      Comparator(b[offIgnoreSizeOp]),
		IgnoreFileTime:    int64(binary.LittleEndian.Uint64(b[offIgnoreFileTime:])),
		IgnoreFileTimeOp:  Comparator(b[offIgnoreFileTimeOp]),
		DirFlag:           DirFlag(binary.LittleEndian.Uint32(b[offDirFlag:])),
		ErrorCounter:      binary.LittleEndian.Uint32(b[offErrorCounter:]),
		MaxErrors:         binary.LittleEndian.Uint32(b[offMaxErrors:]),
		LockedFileTime:    int64(binary.LittleEndian.Uint64(b[offLockedFileTime:])),
		UnknownFileTime:   int64(binary.LittleEndian.Uint64(b[offUnknownFileTime:])),
		KeepConnected:     time.Duration(binary.LittleEndian.Uint64(b[offKeepConnected:])),
		NextCheckTime:     int64(binary.LittleEndian.Uint64(b[offNextCheckTime:])),
		WarnTime:          int64(binary.LittleEndian.Uint64(b[offWarnTime:])),
		LastRetrieval:     int64(binary.LittleEndian.Uint64(b[offLastRetrieval:])),
		BytesReceived:     binary.LittleEndian.Uint64(b[offBytesReceived:]),
		FilesReceived:     binary.LittleEndian.Uint64(b[offFilesReceived:]),
	}
	return e, nil
}

// ErrorStatusRange is the LOCK_EC byte range within one entry: DirFlag and
// ErrorCounter must be mutated together (spec §4.1).
func ErrorStatusRange(entryOffset int64) shm.Range {
	return shm.Range{Offset: entryOffset + offDirFlag, Len: lockECLen}
}
