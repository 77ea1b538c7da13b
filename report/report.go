// Package report implements the error & event reporter (spec component
// C8): fixed-width log lines across four sinks (transfer, debug, event,
// delete), plus structured event records for the machine-readable
// collaborators named in spec §1, and the tagged ExitError used to
// propagate a fetch worker's termination code (spec §9, §6).
package report

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afdcore/afd/urlcfg"
)

// Severity is the 3-character "SGN" field in the spec §6 16-byte log
// header (`DD HH:MM:SS SGN `).
type Severity string

const (
	SeverityDebug   Severity = "DBG"
	SeverityInfo    Severity = "INF"
	SeverityWarn    Severity = "WRN"
	SeverityError   Severity = "ERR"
	SeverityOffline Severity = "OFL"
)

// Logger formats and routes one FRA/FSA pair's log output. One instance is
// constructed per fetch worker process.
type Logger struct {
	HostAlias         string
	MaxHostnameLength int
	WorkerIndex       int

	Transfer io.Writer
	Debug    io.Writer
	Event    io.Writer
	Delete   io.Writer

	// Structured mirrors the Event taxonomy (DELETE/ACK/OFFLINE/UNSET/
	// ERROR_START/ERROR_END/OPEN/CLOSE/SUCCESS) as logrus fields for
	// the directory-status/file-transfer-status collaborator tables
	// named in spec §1. Nil disables structured emission.
	Structured *logrus.Logger
}

// NewLogger builds a Logger writing nowhere (io.Discard) for any sink left
// nil, so a caller that only cares about one sink need not wire all four.
func NewLogger(hostAlias string, maxHostnameLength, workerIndex int) *Logger {
	return &Logger{
		HostAlias:         hostAlias,
		MaxHostnameLength: maxHostnameLength,
		WorkerIndex:       workerIndex,
		Transfer:          io.Discard,
		Debug:             io.Discard,
		Event:             io.Discard,
		Delete:            io.Discard,
		Structured:        logrus.New(),
	}
}

// header formats the fixed 16-byte `DD HH:MM:SS SGN ` prefix (spec §6).
func header(now time.Time, sev Severity) string {
	return fmt.Sprintf("%02d %02d:%02d:%02d %s ", now.Day(), now.Hour(), now.Minute(), now.Second(), sev)
}

func (l *Logger) pad() string {
	alias := l.HostAlias
	if len(alias) >= l.MaxHostnameLength {
		return alias
	}
	return alias + strings.Repeat(" ", l.MaxHostnameLength-len(alias))
}

// writeLine assembles one header+alias+worker+message(+origin) line and
// writes it to w. origin is the empty string to omit the trailing
// "(file line)" (spec §6: only debug/transient entries carry it).
func (l *Logger) writeLine(w io.Writer, sev Severity, msg, origin string) {
	line := header(time.Now(), sev) + l.pad() + fmt.Sprintf("[%d]: %s", l.WorkerIndex, msg)
	if origin != "" {
		line += " (" + origin + ")"
	}
	fmt.Fprintln(w, line)
}

func callerOrigin(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s %d", file, line)
}

// Debugf writes a debug-sink line carrying its call-site origin.
func (l *Logger) Debugf(format string, args ...any) {
	l.writeLine(l.Debug, SeverityDebug, fmt.Sprintf(format, args...), callerOrigin(2))
}

// Infof writes an event-sink line at INF severity, no call-site origin.
func (l *Logger) Infof(format string, args ...any) {
	l.writeLine(l.Event, SeverityInfo, fmt.Sprintf(format, args...), "")
}

// Warnf writes an event-sink line at WRN severity, no call-site origin.
func (l *Logger) Warnf(format string, args ...any) {
	l.writeLine(l.Event, SeverityWarn, fmt.Sprintf(format, args...), "")
}

// Errorf writes an event-sink line at ERR severity, carrying its call-site
// origin: most operational errors reported this way originate from a
// transient transport failure (spec §7), which spec §6 says should carry
// "(file line)".
func (l *Logger) Errorf(format string, args ...any) {
	l.writeLine(l.Event, SeverityError, fmt.Sprintf(format, args...), callerOrigin(2))
}

// TransferOpen/TransferClose/TransferSuccess emit the transfer-sink OPEN/
// CLOSE/SUCCESS taxonomy (spec §4.8).

func (l *Logger) TransferOpen(fileName string) {
	l.writeLine(l.Transfer, SeverityInfo, fmt.Sprintf("OPEN %s", fileName), "")
	l.structured("OPEN", logrus.Fields{"file": fileName})
}

func (l *Logger) TransferClose(fileName string, bytesSent int64) {
	l.writeLine(l.Transfer, SeverityInfo, fmt.Sprintf("CLOSE %s (%d bytes)", fileName, bytesSent), "")
	l.structured("CLOSE", logrus.Fields{"file": fileName, "bytes": bytesSent})
}

func (l *Logger) TransferSuccess(fileName string, bytesSent int64, elapsed time.Duration) {
	l.writeLine(l.Transfer, SeverityInfo, fmt.Sprintf("SUCCESS %s (%d bytes, %s)", fileName, bytesSent, elapsed), "")
	l.structured("SUCCESS", logrus.Fields{"file": fileName, "bytes": bytesSent, "elapsed": elapsed.String()})
}

// Delete emits a per-file DELETE event to the delete sink, carrying the
// stable 0-29 reason code from urlcfg.DeleteReason (spec §6).
func (l *Logger) Delete(fileName string, reason urlcfg.DeleteReason) {
	l.writeLine(l.Delete, SeverityInfo, fmt.Sprintf("DELETE %s reason=%s", fileName, reason), "")
	l.structured("DELETE", logrus.Fields{"file": fileName, "reason": reason.String(), "reason_code": int(reason)})
}

// HostAck/HostOffline/HostUnset emit the per-host ACK/OFFLINE/UNSET
// taxonomy to the event sink (spec §4.8).

func (l *Logger) HostAck() {
	l.writeLine(l.Event, SeverityInfo, "ACK", "")
	l.structured("ACK", logrus.Fields{"host": l.HostAlias})
}

func (l *Logger) HostOffline() {
	l.writeLine(l.Event, SeverityOffline, "OFFLINE", "")
	l.structured("OFFLINE", logrus.Fields{"host": l.HostAlias})
}

func (l *Logger) HostUnset() {
	l.writeLine(l.Event, SeverityInfo, "UNSET", "")
	l.structured("UNSET", logrus.Fields{"host": l.HostAlias})
}

// DirErrorStart emits a per-directory ERROR_START event.
func (l *Logger) DirErrorStart(dirAlias string) {
	l.writeLine(l.Event, SeverityWarn, fmt.Sprintf("ERROR_START %s", dirAlias), "")
	l.structured("ERROR_START", logrus.Fields{"dir": dirAlias})
}

// DirErrorEnd emits a per-directory ERROR_END event. sev is
// SeverityOffline when the host's offline/acknowledged flags are set at
// the moment of recovery, SeverityInfo otherwise (spec §4.8: "If
// offline/acknowledged flags are set, use OFFLINE severity instead of
// INFO").
func (l *Logger) DirErrorEnd(dirAlias string, sev Severity) {
	l.writeLine(l.Event, sev, fmt.Sprintf("ERROR_END %s", dirAlias), "")
	l.structured("ERROR_END", logrus.Fields{"dir": dirAlias})
}

func (l *Logger) structured(event string, fields logrus.Fields) {
	if l.Structured == nil {
		return
	}
	fields["event"] = event
	fields["worker"] = l.WorkerIndex
	fields["host"] = l.HostAlias
	l.Structured.WithFields(fields).Info(event)
}
