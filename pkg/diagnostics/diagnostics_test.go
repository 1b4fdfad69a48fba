package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/steplog"
)

func newTestProbe(t *testing.T, url string, usedPercent float64) *Probe {
	t.Helper()
	p := NewProbe(ledger.New(), steplog.New())
	p.DiskPath = filepath.Join(t.TempDir(), "not", "created", "yet")
	p.ConnectivityURL = url
	p.Timeout = 2 * time.Second
	p.DiskUsage = func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{
			Path:        path,
			Total:       100 * bytesPerGB,
			Free:        uint64((100 - usedPercent) * bytesPerGB),
			UsedPercent: usedPercent,
		}, nil
	}
	p.HostInfo = func() (*host.InfoStat, error) {
		return &host.InfoStat{Hostname: "testhost", Platform: "testos", PlatformVersion: "1.0"}, nil
	}
	return p
}

func TestCollect_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProbe(t, srv.URL, 40)
	snap := p.Collect(context.Background())

	assert.True(t, snap.Network.InternetAccess)
	assert.Equal(t, http.StatusOK, snap.Network.StatusCode)
	require.NotNil(t, snap.Disk)
	assert.Equal(t, 60.0, snap.Disk.PercentFree)
	assert.Equal(t, 60.0, snap.Disk.FreeGB)
	assert.Equal(t, "testhost", snap.System.Hostname)
	assert.Empty(t, snap.Issues)
	assert.Empty(t, p.Ledger.Errors())
	assert.Empty(t, p.Ledger.Warnings())
	assert.Equal(t, steplog.Success, p.Steps.Steps()[1].Status)
}

func TestCollect_LowDiskIsWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := newTestProbe(t, srv.URL, 95)
	snap := p.Collect(context.Background())

	assert.Len(t, snap.Issues, 1)
	assert.True(t, p.Ledger.HasWarningCategory("Disk"))
	assert.Empty(t, p.Ledger.Errors())
	assert.Equal(t, steplog.Warning, p.Steps.Steps()[1].Status)
}

func TestCollect_NetworkFailureIsHighError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newTestProbe(t, srv.URL, 10)
	snap := p.Collect(context.Background())

	assert.False(t, snap.Network.InternetAccess)
	assert.Equal(t, http.StatusServiceUnavailable, snap.Network.StatusCode)
	errs := p.Ledger.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Network", errs[0].Category)
	assert.Equal(t, ledger.High, errs[0].Severity)
}

func TestCollect_CollectorFailureIsLow(t *testing.T) {
	p := newTestProbe(t, "", 10)
	p.DiskUsage = func(string) (*disk.UsageStat, error) { return nil, errors.New("no such volume") }

	snap := p.Collect(context.Background())

	assert.Nil(t, snap.Disk)
	errs := p.Ledger.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Diagnostics", errs[0].Category)
	assert.Equal(t, ledger.Low, errs[0].Severity)
}

func TestCollect_HashesInstaller(t *testing.T) {
	installer := filepath.Join(t.TempDir(), "install.bat")
	require.NoError(t, os.WriteFile(installer, []byte("abc"), 0644))

	p := newTestProbe(t, "", 10)
	p.InstallerPath = installer
	snap := p.Collect(context.Background())

	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", snap.System.InstallerSHA256)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "SYSTEM_DIAGNOSTICS.json")
	snap := Snapshot{
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Network:   NetworkInfo{Target: "https://example.invalid", Error: "dial failed"},
		Issues:    []string{"No internet connection"},
	}
	require.NoError(t, WriteJSON(path, snap))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Contains(t, back, "system")
	assert.Contains(t, back, "network")
	assert.NotContains(t, back, "disk")
}

func TestExistingAncestor(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, existingAncestor(filepath.Join(dir, "a", "b")))
}
