package urlcfg

// DeleteReason is the stable 0-29 delete-reason enum (spec §6).
type DeleteReason int

const (
	DeleteAgeLimitOut DeleteReason = iota
	DeleteAgeLimitIn
	DeleteUserRequest
	DeleteExecFailedDelete
	DeleteUnreadableMessages
	DeleteDupCheckIn
	DeleteDupCheckOut
	DeleteUnknownDirOption
	DeleteLocateJobFailed
	DeleteOldLockedDirOption
	DeleteQueuedDirOption
	DeleteOption
	DeleteStaleErrorJobs
	DeleteStaleAfterDBUpdate
	DeleteTransmittedByPeer
	DeleteUnknownPoolDir
	DeleteExecFailedStored
	DeleteHostDisabled
	DeleteConversionFailed
	DeleteRenameOverwrite
	DeleteMailRejected
	DeleteMirrorDelete
	DeleteMkdirQueueError
	DeleteInternalLinkFailed
	DeleteUnreadableFile
	DeleteUnknownGlobal
	DeleteOldLockedGlobal
	DeleteOldRlockedGlobal
	DeleteQueuedGlobal
	DeleteOldLockedIncomingGlobal
)

var deleteReasonNames = [...]string{
	"age-limit-out", "age-limit-in", "user-request", "exec-failed-delete",
	"unreadable-messages", "dup-check-in", "dup-check-out", "unknown-dir-option",
	"locate-job-failed", "old-locked-dir-option", "queued-dir-option", "delete-option",
	"stale-error-jobs", "stale-after-db-update", "transmitted-by-peer", "unknown-pool-dir",
	"exec-failed-stored", "host-disabled", "conversion-failed", "rename-overwrite",
	"mail-rejected", "mirror-delete", "mkdir-queue-error", "internal-link-failed",
	"unreadable-file", "unknown-global", "old-locked-global", "old-rlocked-global",
	"queued-global", "old-locked-incoming-global",
}

func (r DeleteReason) String() string {
	if r < 0 || int(r) >= len(deleteReasonNames) {
		return "unknown-delete-reason"
	}
	return deleteReasonNames[r]
}

// ExitCode is a fetch-worker process exit status (spec §6, partial stable
// list).
type ExitCode int

const (
	ExitSuccess ExitCode = iota
	ExitIncorrect
	ExitConnectError
	ExitListError
	ExitDateError
	ExitSizeError
	ExitOpenLocalError
	ExitWriteLocalError
	ExitReadRemoteError
	ExitStillFilesToSend
	ExitAllocError
	ExitGotKilled
)

var exitCodeNames = [...]string{
	"SUCCESS", "INCORRECT", "CONNECT_ERROR", "LIST_ERROR", "DATE_ERROR",
	"SIZE_ERROR", "OPEN_LOCAL_ERROR", "WRITE_LOCAL_ERROR", "READ_REMOTE_ERROR",
	"STILL_FILES_TO_SEND", "ALLOC_ERROR", "GOT_KILLED",
}

func (c ExitCode) String() string {
	if c < 0 || int(c) >= len(exitCodeNames) {
		return "UNKNOWN_EXIT_CODE"
	}
	return exitCodeNames[c]
}
