package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/steplog"
)

func newVerifier() *Verifier {
	return New(ledger.New(), steplog.New())
}

func writeFile(t *testing.T, root, rel string, size int) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	data := make([]byte, size)
	for i := range data {
		data[i] = 'x'
	}
	require.NoError(t, os.WriteFile(full, data, 0644))
}

func TestVerify_AllPresent(t *testing.T) {
	root := t.TempDir()
	manifest := []string{"main.py", "themes/dark.json"}
	writeFile(t, root, "main.py", 10)
	writeFile(t, root, "themes/dark.json", 5)
	writeFile(t, root, "extra/unlisted.bin", 100)

	v := newVerifier()
	res := v.Verify(root, manifest)

	assert.True(t, res.Complete())
	assert.Len(t, res.Found, 2)
	assert.Empty(t, res.Missing)
	assert.Equal(t, int64(115), res.TotalInstalledBytes)
	assert.Empty(t, v.Ledger.Errors())

	steps := v.Steps.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, steplog.Running, steps[0].Status)
	assert.Equal(t, steplog.Success, steps[1].Status)
}

func TestVerify_SomeMissingOneAggregateError(t *testing.T) {
	root := t.TempDir()
	var manifest []string
	for i := 0; i < 10; i++ {
		manifest = append(manifest, fmt.Sprintf("f%d.txt", i))
	}
	for i := 0; i < 7; i++ {
		writeFile(t, root, manifest[i], 1)
	}

	v := newVerifier()
	res := v.Verify(root, manifest)

	assert.Len(t, res.Found, 7)
	assert.Len(t, res.Missing, 3)
	assert.Equal(t, 10, res.TotalExpected)

	errs := v.Ledger.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "File Verification", errs[0].Category)
	assert.Equal(t, ledger.Medium, errs[0].Severity)
	assert.Equal(t, "3 files missing, 0 files empty", errs[0].Message)
	assert.Equal(t, steplog.Warning, v.Steps.Steps()[1].Status)
}

func TestVerify_ManyMissingIsHigh(t *testing.T) {
	root := t.TempDir()
	manifest := []string{"a", "b", "c", "d", "e", "f", "g"}
	writeFile(t, root, "a", 1)

	v := newVerifier()
	v.Verify(root, manifest)

	errs := v.Ledger.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, ledger.High, errs[0].Severity)
}

func TestVerify_NothingFound(t *testing.T) {
	root := t.TempDir()

	v := newVerifier()
	res := v.Verify(root, []string{"a", "b"})

	assert.Empty(t, res.Found)
	assert.True(t, v.Ledger.HasErrorCategory("File Verification"))
	assert.True(t, v.Ledger.HasErrorCategory("Installation"))
	assert.Len(t, v.Ledger.Serious(), 1)
}

func TestVerify_EmptyFileIsFoundAndPartial(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.py", 0)
	writeFile(t, root, "other.py", 3)

	v := newVerifier()
	res := v.Verify(root, []string{"main.py", "other.py"})

	assert.Len(t, res.Found, 2)
	assert.Equal(t, []string{"main.py"}, res.Partial)
	assert.True(t, res.Found[0].IsEmpty)
	assert.Empty(t, v.Ledger.Errors())

	warnings := v.Ledger.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "File Content", warnings[0].Category)
	assert.Equal(t, "Empty file: main.py", warnings[0].Message)
}

func TestVerify_MissingRoot(t *testing.T) {
	manifest := []string{"a", "b", "c"}

	v := newVerifier()
	res := v.Verify(filepath.Join(t.TempDir(), "does-not-exist"), manifest)

	assert.False(t, res.RootExists)
	assert.Equal(t, manifest, res.Missing)
	assert.Empty(t, res.Found)

	errs := v.Ledger.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Installation Directory", errs[0].Category)
	assert.Equal(t, ledger.Critical, errs[0].Severity)
}

func TestVerify_DirectoryInPlaceOfFileIsMissing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "main.py"), 0755))

	v := newVerifier()
	res := v.Verify(root, []string{"main.py"})
	assert.Equal(t, []string{"main.py"}, res.Missing)
}
