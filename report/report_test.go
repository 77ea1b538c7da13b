package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdcore/afd/urlcfg"
)

func newTestLogger() (*Logger, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	l := NewLogger("host-a", 10, 2)
	transfer, debug, event, del := &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{}
	l.Transfer, l.Debug, l.Event, l.Delete = transfer, debug, event, del
	return l, transfer, debug, event, del
}

func TestHeaderIsSixteenBytes(t *testing.T) {
	l, _, _, event, _ := newTestLogger()
	l.Infof("hello")
	line := event.String()
	require.True(t, len(line) >= 16)
	assert.Equal(t, byte(' '), line[2])
	assert.Equal(t, byte(':'), line[5])
	assert.Equal(t, byte(':'), line[8])
	assert.Equal(t, byte(' '), line[11])
	assert.Equal(t, "INF", line[12:15])
	assert.Equal(t, byte(' '), line[15])
}

func TestInfofPadsHostAliasToMaxHostnameLength(t *testing.T) {
	l, _, _, event, _ := newTestLogger()
	l.Infof("hello")
	line := event.String()
	rest := line[16:]
	assert.True(t, strings.HasPrefix(rest, "host-a    [2]: hello"))
}

func TestDebugfIncludesCallerOrigin(t *testing.T) {
	l, _, debug, _, _ := newTestLogger()
	l.Debugf("checking %s", "entry")
	assert.Contains(t, debug.String(), "report_test.go")
	assert.Contains(t, debug.String(), "checking entry")
}

func TestInfofOmitsOrigin(t *testing.T) {
	l, _, _, event, _ := newTestLogger()
	l.Infof("plain message")
	assert.NotContains(t, event.String(), ".go")
}

func TestErrorfIncludesCallerOrigin(t *testing.T) {
	l, _, _, event, _ := newTestLogger()
	l.Errorf("boom")
	assert.Contains(t, event.String(), "report_test.go")
}

func TestDeleteWritesReasonToDeleteSink(t *testing.T) {
	l, _, _, _, del := newTestLogger()
	l.Delete("report.txt", urlcfg.DeleteAgeLimitOut)
	assert.Contains(t, del.String(), "DELETE report.txt reason=age-limit-out")
}

func TestTransferTaxonomyWritesToTransferSink(t *testing.T) {
	l, transfer, _, _, _ := newTestLogger()
	l.TransferOpen("a.dat")
	l.TransferClose("a.dat", 100)
	l.TransferSuccess("a.dat", 100, 0)
	out := transfer.String()
	assert.Contains(t, out, "OPEN a.dat")
	assert.Contains(t, out, "CLOSE a.dat (100 bytes)")
	assert.Contains(t, out, "SUCCESS a.dat (100 bytes")
}

func TestHostTaxonomyWritesToEventSink(t *testing.T) {
	l, _, _, event, _ := newTestLogger()
	l.HostAck()
	l.HostOffline()
	l.HostUnset()
	out := event.String()
	assert.Contains(t, out, "ACK")
	assert.Contains(t, out, "OFL")
	assert.Contains(t, out, "OFFLINE")
	assert.Contains(t, out, "UNSET")
}

func TestDirErrorEndUsesOfflineSeverityWhenRequested(t *testing.T) {
	l, _, _, event, _ := newTestLogger()
	l.DirErrorEnd("dir-a", SeverityOffline)
	assert.Contains(t, event.String(), "OFL")
	assert.Contains(t, event.String(), "ERROR_END dir-a")
}

func TestAliasLongerThanMaxHostnameLengthIsNotTruncated(t *testing.T) {
	l := NewLogger("a-very-long-host-alias", 4, 0)
	buf := &bytes.Buffer{}
	l.Event = buf
	l.Infof("hi")
	assert.Contains(t, buf.String(), "a-very-long-host-alias[0]: hi")
}

func TestExitWrapsErrorWithCode(t *testing.T) {
	base := assert.AnError
	err := Exit(urlcfg.ExitConnectError, base)
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, urlcfg.ExitConnectError, exitErr.Code)
}

func TestExitReturnsNilForNilError(t *testing.T) {
	assert.NoError(t, Exit(urlcfg.ExitSuccess, nil))
}
