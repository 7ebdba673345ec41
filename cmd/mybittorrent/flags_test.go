package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputFlag(t *testing.T) {
	out, rest, err := parseOutputFlag("download", []string{"-o", "file.bin", "torrent.file"})
	require.NoError(t, err)
	assert.Equal(t, "file.bin", out)
	assert.Equal(t, []string{"torrent.file"}, rest)
}

func TestParseOutputFlagRequiresOutput(t *testing.T) {
	_, _, err := parseOutputFlag("download", []string{"torrent.file"})
	assert.Error(t, err)
}
