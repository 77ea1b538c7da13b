package afdconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdcore/afd/fra"
)

const sampleYAML = `
directories:
  - alias: dir-a
    url: "file-transfer://anonymous@remote-a/incoming"
    staging_path: /var/spool/afd/dir-a
    host_alias: host-a
    filter_rules:
      - "+ *.dat"
      - "- *.tmp"
    max_copied_files: 50
    max_copied_file_size: 104857600
    stupid_mode: append_only
    remove: true
    accept_dot_files: true
    delete_unknown_files: true
    max_errors: 5
    keep_connected_seconds: 60
hosts:
  - alias: host-a
    real_hostname_primary: remote-a.example.org
    allowed_transfers: 4
    transfer_rate_limit_bytes_per_sec: 1048576
    transfer_timeout_seconds: 120
    block_size_bytes: 65536
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "afd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadDecodesDirectoriesAndHosts(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)
	require.Len(t, d.Directories, 1)
	require.Len(t, d.Hosts, 1)
	assert.Equal(t, "dir-a", d.Directories[0].Alias)
	assert.Equal(t, "host-a", d.Directories[0].HostAlias)

	host, ok := d.HostByAlias("host-a")
	require.True(t, ok)
	assert.EqualValues(t, 4, host.AllowedTransfers)
}

func TestDirectorySpecEntryBuildsFRAEntry(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)

	e, err := d.Directories[0].Entry()
	require.NoError(t, err)
	assert.Equal(t, "dir-a", e.DirAlias)
	assert.Equal(t, fra.ModeAppendOnly, e.StupidMode)
	assert.True(t, e.Remove)
	assert.NotZero(t, e.DirFlag&fra.FlagAcceptDotFiles)
	assert.NotZero(t, e.DirFlag&fra.FlagDeleteUnknownFiles)
	assert.EqualValues(t, 60, e.KeepConnected.Seconds())
}

func TestDirectorySpecFilterGroupParsesRules(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)

	g, err := d.Directories[0].FilterGroup()
	require.NoError(t, err)
	assert.Len(t, g.Masks, 2)
}

func TestDirectorySpecParsedURLDecodesScheme(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)

	u, err := d.Directories[0].ParsedURL()
	require.NoError(t, err)
	assert.Equal(t, "remote-a", u.Host)
	assert.Equal(t, "anonymous", u.User)
}

func TestHostSpecEntryBuildsFSAEntry(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)
	host, ok := d.HostByAlias("host-a")
	require.True(t, ok)

	e, err := host.Entry()
	require.NoError(t, err)
	assert.Equal(t, "host-a", e.HostAlias)
	assert.EqualValues(t, 65536, e.BlockSize)
}

func TestLoadRejectsMissingAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("directories:\n  - url: \"local:///tmp\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownDirectoryFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
