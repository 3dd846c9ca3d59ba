package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandrut83/sentinel/sentinel"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "hotlist.yaml")
	require.NoError(t, os.WriteFile(list, []byte("version: v7\nids:\n  - STOLEN-123\n  - STOLEN-456\n"), 0o644))

	cfgFile := filepath.Join(dir, "sentinel.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("filter:\n  bit_count: 4096\n  hash_rounds: 4\n"), 0o644))

	out, err := runRoot(t, "check", "--config", cfgFile, "--hotlist", list, "STOLEN-123", "CLEAN-1")
	require.NoError(t, err)

	assert.Contains(t, out, "hot list: 2 entries, index 4096 bits x 4 rounds")
	assert.Contains(t, out, "STOLEN-123\thit\n")
	assert.True(t, strings.Contains(out, "CLEAN-1\tmiss\n") || strings.Contains(out, "CLEAN-1\thit (false positive)\n"))
}

func TestCheckCommandRequiresIDs(t *testing.T) {
	_, err := runRoot(t, "check")
	assert.Error(t, err)
}

func TestCheckCommandRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "sentinel.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("rewards:\n  passive_interval: 0\n"), 0o644))

	_, err := runRoot(t, "check", "--config", cfgFile, "X")
	require.Error(t, err)
	assert.Equal(t, sentinel.CodeInvalidConfiguration, sentinel.CodeOf(err))
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sentineld "+sentinel.Version)
	assert.Contains(t, out, sentinel.NetworkName)
}
