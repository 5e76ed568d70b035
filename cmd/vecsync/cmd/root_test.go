package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkazakov/vecsync/pkg/version"
)

// execute runs the root command with the given args against a throwaway
// data directory and returns its combined output.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--data-dir", dataDir, "--offline", "--log-level", "error"}, args...))

	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd_DefaultOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "vecsync")
	assert.Contains(t, buf.String(), version.Version)
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--short"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.Version, strings.TrimSpace(buf.String()))
}

func TestVersionCmd_JSONOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	require.NoError(t, cmd.Execute())

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestStatusCmd_EmptyRegistry(t *testing.T) {
	// Given: a fresh data directory with no watched folders
	dataDir := t.TempDir()

	// When: asking for status
	out, err := execute(t, dataDir, "status")

	// Then: the command succeeds and suggests watching a folder
	require.NoError(t, err)
	assert.Contains(t, out, "No folders are watched")
}

func TestWatchStatusSearchUnwatch_RoundTrip(t *testing.T) {
	// Given: a folder with one text file
	dataDir := t.TempDir()
	folder := t.TempDir()
	file := filepath.Join(folder, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("the quick brown fox jumps over the lazy dog near the old river bank"), 0o644))

	// When: watching the folder
	out, err := execute(t, dataDir, "watch", folder)
	require.NoError(t, err)
	assert.Contains(t, out, "Watching")

	// Then: status lists it with indexed fragments
	out, err = execute(t, dataDir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, folder)

	// And: search finds the file
	out, err = execute(t, dataDir, "search", folder, "quick brown fox")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")

	// And: unwatch removes it again
	_, err = execute(t, dataDir, "unwatch", folder)
	require.NoError(t, err)

	out, err = execute(t, dataDir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No folders are watched")
}

func TestWatchCmd_MissingFolder_Fails(t *testing.T) {
	dataDir := t.TempDir()

	out, err := execute(t, dataDir, "watch", filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.Contains(t, out, "Error")
}
