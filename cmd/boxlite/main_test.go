package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfirmRemoveAllAcceptsLowercaseY(t *testing.T) {
	var out bytes.Buffer
	ok := confirmRemoveAll(strings.NewReader("y\n"), &out)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "WARNING!")
	assert.Contains(t, out.String(), "[y/N]")
}

func TestConfirmRemoveAllAcceptsUppercaseY(t *testing.T) {
	ok := confirmRemoveAll(strings.NewReader("Y\n"), &bytes.Buffer{})
	assert.True(t, ok)
}

func TestConfirmRemoveAllRejectsAnythingElse(t *testing.T) {
	for _, answer := range []string{"n\n", "no\n", "\n", "yes\n"} {
		ok := confirmRemoveAll(strings.NewReader(answer), &bytes.Buffer{})
		assert.False(t, ok, "answer %q should cancel", answer)
	}
}

func TestConfirmRemoveAllRejectsOnEmptyInput(t *testing.T) {
	ok := confirmRemoveAll(strings.NewReader(""), &bytes.Buffer{})
	assert.False(t, ok)
}

func TestParseEnvRejectsMissingEquals(t *testing.T) {
	_, err := parseEnv([]string{"NOVALUE"})
	assert.Error(t, err)
}

func TestParseEnvParsesKeyValue(t *testing.T) {
	env, err := parseEnv([]string{"KEY=value", "EMPTY="})
	assert.NoError(t, err)
	assert.Equal(t, "KEY", env[0].Key)
	assert.Equal(t, "value", env[0].Value)
	assert.Equal(t, "EMPTY", env[1].Key)
	assert.Equal(t, "", env[1].Value)
}

func TestParseVolumesDefaultsToReadWrite(t *testing.T) {
	volumes, err := parseVolumes([]string{"/host:/guest"})
	assert.NoError(t, err)
	assert.False(t, volumes[0].ReadOnly)
}

func TestParseVolumesHonorsReadOnlySuffix(t *testing.T) {
	volumes, err := parseVolumes([]string{"/host:/guest:ro"})
	assert.NoError(t, err)
	assert.True(t, volumes[0].ReadOnly)
}

func TestParseVolumesRejectsMissingGuestPath(t *testing.T) {
	_, err := parseVolumes([]string{"/host-only"})
	assert.Error(t, err)
}
