// pkg/diagnostics/diagnostics.go - host facts gathered before an install run.

package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/logging"
	"github.com/windowsadmins/installwatch/pkg/steplog"
	"github.com/windowsadmins/installwatch/pkg/utils"
)

const stepName = "System diagnostics"

const bytesPerGB = 1024 * 1024 * 1024

// Snapshot is written to SYSTEM_DIAGNOSTICS.json.
type Snapshot struct {
	Timestamp time.Time   `json:"timestamp"`
	System    SystemInfo  `json:"system"`
	Disk      *DiskInfo   `json:"disk,omitempty"`
	Network   NetworkInfo `json:"network"`
	Issues    []string    `json:"issues,omitempty"`
}

// SystemInfo describes the host and the installer being supervised.
type SystemInfo struct {
	Platform        string `json:"platform"`
	OS              string `json:"os"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelArch      string `json:"kernel_arch,omitempty"`
	Hostname        string `json:"hostname,omitempty"`
	GoVersion       string `json:"go_version"`
	Executable      string `json:"executable,omitempty"`
	DesktopPath     string `json:"desktop_path,omitempty"`
	InstallerPath   string `json:"installer_path"`
	InstallerSHA256 string `json:"installer_sha256,omitempty"`

	// Windows only
	OSCaption    string `json:"os_caption,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	MachineType  string `json:"machine_type,omitempty"`
}

// DiskInfo is disk usage for the volume holding the install root.
type DiskInfo struct {
	Path        string  `json:"path"`
	FreeGB      float64 `json:"free_gb"`
	TotalGB     float64 `json:"total_gb"`
	PercentFree float64 `json:"percent_free"`
	PercentUsed float64 `json:"percent_used"`
}

// NetworkInfo records the reachability probe.
type NetworkInfo struct {
	InternetAccess bool   `json:"internet_access"`
	Target         string `json:"target"`
	StatusCode     int    `json:"status_code,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Probe gathers host facts and records advisories in the ledger. Nothing it
// finds is fatal.
type Probe struct {
	Ledger *ledger.Ledger
	Steps  *steplog.Log

	InstallerPath   string
	DiskPath        string
	DesktopPath     string
	ConnectivityURL string
	Timeout         time.Duration
	DiskWarnPercent float64

	Client    *http.Client
	DiskUsage func(path string) (*disk.UsageStat, error)
	HostInfo  func() (*host.InfoStat, error)
}

// NewProbe returns a Probe with gopsutil collectors and default thresholds.
func NewProbe(l *ledger.Ledger, steps *steplog.Log) *Probe {
	return &Probe{
		Ledger:          l,
		Steps:           steps,
		ConnectivityURL: "https://www.google.com",
		Timeout:         10 * time.Second,
		DiskWarnPercent: 90,
		DiskUsage:       disk.Usage,
		HostInfo:        host.Info,
	}
}

// Collect runs every collector and returns the snapshot.
func (p *Probe) Collect(ctx context.Context) Snapshot {
	p.Steps.Start(stepName)
	snap := Snapshot{Timestamp: time.Now()}

	snap.System = p.collectSystem(&snap)
	if p.DiskPath != "" {
		snap.Disk = p.collectDisk(&snap)
	}
	if p.ConnectivityURL != "" {
		snap.Network = p.checkNetwork(ctx, &snap)
	}

	status := steplog.Success
	detail := "No issues detected"
	if len(snap.Issues) > 0 {
		status = steplog.Warning
		detail = fmt.Sprintf("%d issue(s) detected", len(snap.Issues))
	}
	p.Steps.Append(stepName, status, detail, 1)

	logging.Event("diagnostics", "collect", "completed", detail,
		logging.WithContext("internet_access", snap.Network.InternetAccess),
		logging.WithContext("issues", len(snap.Issues)))
	return snap
}

func (p *Probe) collectorFailed(snap *Snapshot, what string, err error) {
	msg := fmt.Sprintf("Could not collect %s: %v", what, err)
	snap.Issues = append(snap.Issues, msg)
	p.Ledger.AddError("Diagnostics", msg, ledger.Low, "")
	logging.Warn("Diagnostics collector failed", "collector", what, "error", err)
}

func (p *Probe) collectSystem(snap *Snapshot) SystemInfo {
	info := SystemInfo{
		Platform:      runtime.GOOS,
		OS:            runtime.GOOS,
		KernelArch:    runtime.GOARCH,
		GoVersion:     runtime.Version(),
		DesktopPath:   p.DesktopPath,
		InstallerPath: p.InstallerPath,
	}
	if exe, err := os.Executable(); err == nil {
		info.Executable = exe
	}

	if p.HostInfo != nil {
		hi, err := p.HostInfo()
		if err != nil {
			p.collectorFailed(snap, "host information", err)
		} else if hi != nil {
			info.Hostname = hi.Hostname
			info.Platform = hi.Platform
			info.PlatformVersion = hi.PlatformVersion
			if hi.OS != "" {
				info.OS = hi.OS
			}
			if hi.KernelArch != "" {
				info.KernelArch = hi.KernelArch
			}
		}
	}

	if facts, err := windowsFacts(); err == nil {
		info.OSCaption = facts.caption
		info.Manufacturer = facts.manufacturer
		info.Model = facts.model
		info.MachineType = facts.machineType
	} else if err != errNotWindows {
		p.collectorFailed(snap, "WMI facts", err)
	}

	if p.InstallerPath != "" {
		if sum, err := utils.FileSHA256(p.InstallerPath); err == nil {
			info.InstallerSHA256 = sum
		} else {
			logging.Debug("Installer hash unavailable", "path", p.InstallerPath, "error", err)
		}
	}
	return info
}

func (p *Probe) collectDisk(snap *Snapshot) *DiskInfo {
	if p.DiskUsage == nil {
		return nil
	}
	path := existingAncestor(p.DiskPath)
	usage, err := p.DiskUsage(path)
	if err != nil {
		p.collectorFailed(snap, "disk usage", err)
		return nil
	}

	d := &DiskInfo{
		Path:        path,
		FreeGB:      round2(float64(usage.Free) / bytesPerGB),
		TotalGB:     round2(float64(usage.Total) / bytesPerGB),
		PercentUsed: round2(usage.UsedPercent),
		PercentFree: round2(100 - usage.UsedPercent),
	}
	logging.Info("Disk space checked", "path", path, "free_gb", d.FreeGB, "percent_used", d.PercentUsed)

	if usage.UsedPercent > p.DiskWarnPercent {
		msg := fmt.Sprintf("Low disk space: %.1f%% used, %.2f GB free", d.PercentUsed, d.FreeGB)
		snap.Issues = append(snap.Issues, msg)
		p.Ledger.AddWarning("Disk Space", msg, "Free up disk space before installing")
	}
	return d
}

func (p *Probe) checkNetwork(ctx context.Context, snap *Snapshot) NetworkInfo {
	info := NetworkInfo{Target: p.ConnectivityURL}

	client := p.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ConnectivityURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

		info.StatusCode = resp.StatusCode
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
		}
		return nil
	}()

	if err != nil {
		info.Error = err.Error()
		msg := fmt.Sprintf("No internet connection: %v", err)
		snap.Issues = append(snap.Issues, msg)
		p.Ledger.AddError("Network", msg, ledger.High,
			"Check your internet connection and firewall settings")
		logging.Warn("Connectivity check failed", "target", p.ConnectivityURL, "error", err)
		return info
	}

	info.InternetAccess = true
	logging.Info("Internet connection verified", "target", p.ConnectivityURL)
	return info
}

// WriteJSON persists the snapshot as indented JSON.
func WriteJSON(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create diagnostics directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write diagnostics: %w", err)
	}
	return nil
}

// existingAncestor walks up from path to the first directory that exists, so
// disk usage can be read before the install root is created.
func existingAncestor(path string) string {
	dir := filepath.Clean(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
