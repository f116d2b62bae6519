package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCommand(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"resolve", "--root", root, "--state", t.TempDir(), "docs", "../etc", "escape/x"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "inside")
	assert.Contains(t, lines[2], "violation")
	assert.Contains(t, lines[3], "violation")
}

func TestResolveCommandNeedsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"resolve"})
	assert.Error(t, cmd.Execute())
}

func TestServeRejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "fileroom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("root: "+t.TempDir()+"\nmax_upload_size: -1\n"), 0o644))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", cfgPath})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_upload_size")
}
