package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBootSpecRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootspec.json")
	const body = `{
		"BoxID": "box-1",
		"KernelPath": "/boot/vmlinux",
		"CPUs": 2,
		"MemoryMiB": 512,
		"VsockCID": 42,
		"ControlSocketPath": "/tmp/box-1/control.sock"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	spec, err := loadBootSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "box-1", spec.BoxID)
	assert.Equal(t, "/boot/vmlinux", spec.KernelPath)
	assert.Equal(t, 2, spec.CPUs)
	assert.Equal(t, 512, spec.MemoryMiB)
	assert.Equal(t, uint32(42), spec.VsockCID)
}

func TestLoadBootSpecMissingFile(t *testing.T) {
	_, err := loadBootSpec(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadBootSpecInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootspec.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := loadBootSpec(path)
	assert.Error(t, err)
}
