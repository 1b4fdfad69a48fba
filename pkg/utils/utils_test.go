package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installer.bat")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	ok, err := MatchesSHA256(path, "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = FileSHA256(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLiteralString_RoundTrip(t *testing.T) {
	type doc struct {
		Notes LiteralString `yaml:"notes"`
	}
	out, err := yaml.Marshal(doc{Notes: "line one\nline two\n"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "notes: |")

	var back doc
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, LiteralString("line one\nline two\n"), back.Notes)
}
