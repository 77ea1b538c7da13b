// Package fsa implements the host transfer status table (FSA): one
// fixed-size entry per remote host, carrying the connection/slot state
// that every fetch worker for that host shares.
//
// Binary layout idiom grounded on the same fixed-footer marshal/unmarshal
// style as fra (itself grounded on backend/raid3/footer.go).
package fsa

import (
	"encoding/binary"
	"errors"
)

// HostToggle selects between the two real_hostname slots (spec §3).
type HostToggle uint8

const (
	HostToggle1 HostToggle = 1
	HostToggle2 HostToggle = 2
)

// HostStatus bits (spec §3 host_status bitset).
type HostStatus uint32

const (
	StatusErrorAcknowledged HostStatus = 1 << iota
	StatusErrorAcknowledgedT
	StatusErrorOffline
	StatusErrorOfflineT
	StatusAutoPauseQueue
)

// MaxJobsPerHost bounds the job_status sub-record array (spec §3 job_status[J]).
const MaxJobsPerHost = 8

// connect_status values for job_status[w] (spec §4.7 LOCK_CON region).
const (
	JobDisconnected uint8 = 0
	JobConnected    uint8 = 1
)

const (
	jsOffConnectStatus     = 0
	jsOffProcID            = jsOffConnectStatus + 1 // 1 -- LOCK_CON region start
	jsLockConLen           = 4 + 1                  // ConnectStatus + ProcID, contiguous from offset 0
	jsOffNoOfFiles         = jsOffProcID + 4         // 5
	jsOffFileSize          = jsOffNoOfFiles + 4       // 9
	jsOffNoOfFilesDone     = jsOffFileSize + 8        // 17
	jsOffFileSizeDone      = jsOffNoOfFilesDone + 4   // 21
	jsOffBytesSend         = jsOffFileSizeDone + 8    // 29
	jsOffFileSizeInUse     = jsOffBytesSend + 8       // 37
	jsOffFileSizeInUseDone = jsOffFileSizeInUse + 8   // 45
	jsOffFileNameInUse     = jsOffFileSizeInUseDone + 8 // 53
	jsLenFileNameInUse     = 256
	jsOffCancelSignal      = jsOffFileNameInUse + jsLenFileNameInUse // 309
	JobStatusSize          = jsOffCancelSignal + 1                  // 310
)

// JobStatus is the decoded per-worker sub-record (spec §3 job_status[J]).
type JobStatus struct {
	ConnectStatus     uint8
	ProcID            int32
	NoOfFiles         int32
	FileSize          int64
	NoOfFilesDone     int32
	FileSizeDone      int64
	BytesSend         int64
	FileSizeInUse     int64
	FileSizeInUseDone int64
	FileNameInUse     string
	// CancelSignal is the "distinguished byte" the supervisor writes to
	// abort a worker's keep-alive sleep (spec §4.7 Cancellation, §5).
	CancelSignal byte
}

func (j *JobStatus) marshalInto(b []byte) error {
	if len(b) != JobStatusSize {
		return errors.New("fsa: job status buffer size mismatch")
	}
	b[jsOffConnectStatus] = j.ConnectStatus
	binary.LittleEndian.PutUint32(b[jsOffProcID:], uint32(j.ProcID))
	binary.LittleEndian.PutUint32(b[jsOffNoOfFiles:], uint32(j.NoOfFiles))
	binary.LittleEndian.PutUint64(b[jsOffFileSize:], uint64(j.FileSize))
	binary.LittleEndian.PutUint32(b[jsOffNoOfFilesDone:], uint32(j.NoOfFilesDone))
	binary.LittleEndian.PutUint64(b[jsOffFileSizeDone:], uint64(j.FileSizeDone))
	binary.LittleEndian.PutUint64(b[jsOffBytesSend:], uint64(j.BytesSend))
	binary.LittleEndian.PutUint64(b[jsOffFileSizeInUse:], uint64(j.FileSizeInUse))
	binary.LittleEndian.PutUint64(b[jsOffFileSizeInUseDone:], uint64(j.FileSizeInUseDone))
	if err := putFixed(b, jsOffFileNameInUse, jsLenFileNameInUse, j.FileNameInUse); err != nil {
		return err
	}
	b[jsOffCancelSignal] = j.CancelSignal
	return nil
}

func unmarshalJobStatus(b []byte) (*JobStatus, error) {
	if len(b) != JobStatusSize {
		return nil, errors.New("fsa: job status buffer size mismatch")
	}
	return &JobStatus{
		ConnectStatus:     b[jsOffConnectStatus],
		ProcID:            int32(binary.LittleEndian.Uint32(b[jsOffProcID:])),
		NoOfFiles:         int32(binary.LittleEndian.Uint32(b[jsOffNoOfFiles:])),
		FileSize:          int64(binary.LittleEndian.Uint64(b[jsOffFileSize:])),
		NoOfFilesDone:     int32(binary.LittleEndian.Uint32(b[jsOffNoOfFilesDone:])),
		FileSizeDone:      int64(binary.LittleEndian.Uint64(b[jsOffFileSizeDone:])),
		BytesSend:         int64(binary.LittleEndian.Uint64(b[jsOffBytesSend:])),
		FileSizeInUse:     int64(binary.LittleEndian.Uint64(b[jsOffFileSizeInUse:])),
		FileSizeInUseDone: int64(binary.LittleEndian.Uint64(b[jsOffFileSizeInUseDone:])),
		FileNameInUse:     getFixed(b, jsOffFileNameInUse, jsLenFileNameInUse),
		CancelSignal:      b[jsOffCancelSignal],
	}, nil
}

const (
	offHostAlias         = 0
	lenHostAlias         = 64
	offRealHostname0     = offHostAlias + lenHostAlias // 64
	lenRealHostname      = 64
	offRealHostname1     = offRealHostname0 + lenRealHostname // 128
	offHostToggle        = offRealHostname1 + lenRealHostname // 192
	offAutoToggle        = offHostToggle + 1                  // 193
	offAllowedTransfers  = offAutoToggle + 1                  // 194
	offTransferRateLimit = offAllowedTransfers + 4            // 198
	offTransferTimeout   = offTransferRateLimit + 8           // 206
	offBlockSize         = offTransferTimeout + 8             // 214
	offActiveTransfers   = offBlockSize + 4                   // 218 -- LOCK_TFC region start
	offTrlPerProcess     = offActiveTransfers + 4              // 222
	offTotalFileCounter  = offTrlPerProcess + 8                // 230
	offTotalFileSize     = offTotalFileCounter + 8             // 238
	lockTFCLen           = offTotalFileSize + 8 - offActiveTransfers // 28
	offErrorCounter      = offTotalFileSize + 8                // 246 -- LOCK_EC region start
	offErrorHistory0     = offErrorCounter + 4                 // 250
	offErrorHistory1     = offErrorHistory0 + 4                // 254
	lockECLen            = offErrorHistory1 + 4 - offErrorCounter // 12
	offHostStatus        = offErrorHistory1 + 4                // 258 -- LOCK_HS region start
	lockHSLen            = 4
	offStartEventHandle  = offHostStatus + 4                   // 262
	offEndEventHandle    = offStartEventHandle + 8              // 270
	offJobCount          = offEndEventHandle + 8                // 278
	offJobStatus         = offJobCount + 4                      // 282
)

// EntrySize is the fixed on-disk size of one FSA entry.
const EntrySize = offJobStatus + MaxJobsPerHost*JobStatusSize

// Entry is the decoded, in-memory form of one FSA row.
type Entry struct {
	HostAlias         string
	RealHostname      [2]string
	HostToggle        HostToggle
	AutoToggle        bool
	AllowedTransfers  int32
	TransferRateLimit int64
	TransferTimeout   int64
	BlockSize         int32
	ActiveTransfers   int32
	TrlPerProcess     int64
	TotalFileCounter  uint64
	TotalFileSize     uint64
	ErrorCounter      uint32
	ErrorHistory      [2]int32
	HostStatus        HostStatus
	StartEventHandle  int64
	EndEventHandle    int64
	JobCount          int32
	Jobs              [MaxJobsPerHost]JobStatus
}

func putFixed(b []byte, off, width int, s string) error {
	if len(s) >= width {
		return errors.New("fsa: field exceeds fixed width")
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

func autoToggleByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// MarshalBinary encodes e into a fixed EntrySize-byte buffer.
func (e *Entry) MarshalBinary() ([]byte, error) {
	b := make([]byte, EntrySize)
	if err := putFixed(b, offHostAlias, lenHostAlias, e.HostAlias); err != nil {
		return nil, err
	}
	if err := putFixed(b, offRealHostname0, lenRealHostname, e.RealHostname[0]); err != nil {
		return nil, err
	}
	if err := putFixed(b, offRealHostname1, lenRealHostname, e.RealHostname[1]); err != nil {
		return nil, err
	}
	b[offHostToggle] = byte(e.HostToggle)
	b[offAutoToggle] = autoToggleByte(e.AutoToggle)
	binary.LittleEndian.PutUint32(b[offAllowedTransfers:], uint32(e.AllowedTransfers))
	binary.LittleEndian.PutUint64(b[offTransferRateLimit:], uint64(e.TransferRateLimit))
	binary.LittleEndian.PutUint64(b[offTransferTimeout:], uint64(e.TransferTimeout))
	binary.LittleEndian.PutUint32(b[offBlockSize:], uint32(e.BlockSize))
	binary.LittleEndian.PutUint32(b[offActiveTransfers:], uint32(e.ActiveTransfers))
	binary.LittleEndian.PutUint64(b[offTrlPerProcess:], uint64(e.TrlPerProcess))
	binary.LittleEndian.PutUint64(b[offTotalFileCounter:], e.TotalFileCounter)
	binary.LittleEndian.PutUint64(b[offTotalFileSize:], e.TotalFileSize)
	binary.LittleEndian.PutUint32(b[offErrorCounter:], e.ErrorCounter)
	binary.LittleEndian.PutUint32(b[offErrorHistory0:], uint32(e.ErrorHistory[0]))
	binary.LittleEndian.PutUint32(b[offErrorHistory1:], uint32(e.ErrorHistory[1]))
	binary.LittleEndian.PutUint32(b[offHostStatus:], uint32(e.HostStatus))
	binary.LittleEndian.PutUint64(b[offStartEventHandle:], uint64(e.StartEventHandle))
	binary.LittleEndian.PutUint64(b[offEndEventHandle:], uint64(e.EndEventHandle))
	binary.LittleEndian.PutUint32(b[offJobCount:], uint32(e.JobCount))
	for i := range e.Jobs {
		off := offJobStatus + i*JobStatusSize
		if err := e.Jobs[i].marshalInto(b[off : off+JobStatusSize]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// UnmarshalEntry decodes one EntrySize-byte slice into an Entry.
func UnmarshalEntry(b []byte) (*Entry, error) {
	if len(b) != EntrySize {
		return nil, errors.New("fsa: entry buffer must be EntrySize bytes")
	}
	e := &Entry{
		HostAlias:         getFixed(b, offHostAlias, lenHostAlias),
		HostToggle:        HostToggle(b[offHostToggle]),
		AutoToggle:        b[offAutoToggle] != 0,
		AllowedTransfers:  int32(binary.LittleEndian.Uint32(b[offAllowedTransfers:])),
		TransferRateLimit: int64(binary.LittleEndian.Uint64(b[offTransferRateLimit:])),
		TransferTimeout:   int64(binary.LittleEndian.Uint64(b[offTransferTimeout:])),
		BlockSize:         int32(binary.LittleEndian.Uint32(b[offBlockSize:])),
		ActiveTransfers:   int32(binary.LittleEndian.Uint32(b[offActiveTransfers:])),
		TrlPerProcess:     int64(binary.LittleEndian.Uint64(b[offTrlPerProcess:])),
		TotalFileCounter:  binary.LittleEndian.Uint64(b[offTotalFileCounter:]),
		TotalFileSize:     binary.LittleEndian.Uint64(b[offTotalFileSize:]),
		ErrorCounter:      binary.LittleEndian.Uint32(b[offErrorCounter:]),
		HostStatus:        HostStatus(binary.LittleEndian.Uint32(b[offHostStatus:])),
		StartEventHandle:  int64(binary.LittleEndian.Uint64(b[offStartEventHandle:])),
		EndEventHandle:    int64(binary.LittleEndian.Uint64(b[offEndEventHandle:])),
		JobCount:          int32(binary.LittleEndian.Uint32(b[offJobCount:])),
	}
	e.RealHostname[0] = getFixed(b, offRealHostname0, lenRealHostname)
	e.RealHostname[1] = getFixed(b, offRealHostname1, lenRealHostname)
	e.ErrorHistory[0] = int32(binary.LittleEndian.Uint32(b[offErrorHistory0:]))
	e.ErrorHistory[1] = int32(binary.LittleEndian.Uint32(b[offErrorHistory1:]))
	for i := range e.Jobs {
		off := offJobStatus + i*JobStatusSize
		js, err := unmarshalJobStatus(b[off : off+JobStatusSize])
		if err != nil {
			return nil, err
		}
		e.Jobs[i] = *js
	}
	return e, nil
}
