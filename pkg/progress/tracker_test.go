package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainUntil(t *testing.T, tr *Tracker, cond func(Progress) bool) Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		p := tr.Drain()
		if cond(p) || time.Now().After(deadline) {
			return p
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTracker_CountsExpectedFiles(t *testing.T) {
	root := t.TempDir()
	tr, err := NewTracker(root, []string{"main.py", "themes/dark.json", "never.txt"})
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("print()"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "themes"), 0755))
	// let the watcher pick up the new directory before writing into it
	drainUntil(t, tr, func(p Progress) bool { return p.Created >= 2 })
	require.NoError(t, os.WriteFile(filepath.Join(root, "themes", "dark.json"), []byte("{}"), 0644))

	p := drainUntil(t, tr, func(p Progress) bool { return p.ExpectedSeen >= 2 })

	assert.Equal(t, 2, p.ExpectedSeen)
	assert.Equal(t, 3, p.ExpectedTotal)
	assert.Equal(t, 66, p.Percent())
	assert.Greater(t, p.Events, 0)
	assert.False(t, p.LastActivity.IsZero())
}

func TestTracker_PreexistingFilesCount(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), nil, 0644))

	tr, err := NewTracker(root, []string{"a.txt"})
	require.NoError(t, err)
	defer tr.Close()

	p := tr.Drain()
	assert.Equal(t, 1, p.ExpectedSeen)
	assert.Equal(t, 100, p.Percent())
}

func TestTracker_DrainDoesNotBlock(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), nil)
	require.NoError(t, err)
	defer tr.Close()

	done := make(chan Progress, 1)
	go func() { done <- tr.Drain() }()
	select {
	case p := <-done:
		assert.Equal(t, 0, p.Percent())
	case <-time.After(2 * time.Second):
		t.Fatal("Drain blocked")
	}
}

func TestSaveProgressFile(t *testing.T) {
	root := t.TempDir()
	tr, err := NewTracker(root, []string{"x"})
	require.NoError(t, err)
	defer tr.Close()

	out := t.TempDir()
	require.NoError(t, tr.SaveProgressFile(out, 2, 1500*time.Millisecond))

	data, err := os.ReadFile(filepath.Join(out, "progress.json"))
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, float64(2), doc["attempt"])
	assert.Equal(t, float64(1500), doc["elapsed_ms"])
}

func TestNewTracker_MissingRoot(t *testing.T) {
	_, err := NewTracker(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
