package blocking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	proc := ProcessInfo{Name: "M3U Matrix.exe", Exe: `C:\Apps\M3U Matrix\M3U Matrix.exe`}

	assert.True(t, Matches("m3u matrix", proc))
	assert.True(t, Matches("M3U Matrix.exe", proc))
	assert.True(t, Matches(`c:\apps\m3u matrix\m3u matrix.exe`, proc))
	assert.False(t, Matches("matrix", proc))
	assert.False(t, Matches("", proc))
	assert.False(t, Matches(`C:\Other\M3U Matrix.exe`, proc))
}

func TestRunning_PreservesOrder(t *testing.T) {
	list := func() ([]ProcessInfo, error) {
		return []ProcessInfo{{Name: "node.exe"}, {Name: "app"}}, nil
	}

	running, err := Running([]string{"app", "missing", "node"}, list)
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "node"}, running)
}

func TestRunning_ListerError(t *testing.T) {
	list := func() ([]ProcessInfo, error) { return nil, errors.New("denied") }

	_, err := Running([]string{"app"}, list)
	assert.Error(t, err)
}

func TestRunning_NoNames(t *testing.T) {
	running, err := Running(nil, func() ([]ProcessInfo, error) {
		t.Fatal("lister should not be called")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Empty(t, running)
}
