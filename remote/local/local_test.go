package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Dial(context.Background(), Options{Root: dir})
	require.NoError(t, err)
	return s, dir
}

func TestDialRejectsMissingRoot(t *testing.T) {
	_, err := Dial(context.Background(), Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestDialRejectsFileRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Dial(context.Background(), Options{Root: file})
	assert.Error(t, err)
}

func TestListSkipsSubdirectories(t *testing.T) {
	s, dir := newTestSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("data"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.txt", entries[0].Name)
}

func TestProbeReturnsSizeAndMtime(t *testing.T) {
	s, dir := newTestSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("hello"), 0o644))

	result, err := s.Probe(context.Background(), "report.txt")
	require.NoError(t, err)
	assert.True(t, result.SizeKnown)
	assert.EqualValues(t, 5, result.Size)
	assert.True(t, result.DateKnown)
}

func TestFetchSeeksToOffset(t *testing.T) {
	s, dir := newTestSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("0123456789"), 0o644))

	rc, err := s.Fetch(context.Background(), "report.txt", 5)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(data))
}

func TestDeleteRemovesFile(t *testing.T) {
	s, dir := newTestSession(t)
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	require.NoError(t, s.Delete(context.Background(), "report.txt"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
