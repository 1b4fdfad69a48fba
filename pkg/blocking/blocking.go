// pkg/blocking/blocking.go - detects applications that hold the install folder open

package blocking

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/windowsadmins/installwatch/pkg/logging"
)

// ProcessInfo is the subset of a running process the matcher needs.
type ProcessInfo struct {
	Name string
	Exe  string
}

// Lister enumerates running processes.
type Lister func() ([]ProcessInfo, error)

// SystemProcesses lists processes through gopsutil. Processes whose name
// cannot be read are skipped.
func SystemProcesses() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		exe, _ := p.Exe()
		out = append(out, ProcessInfo{Name: name, Exe: exe})
	}
	return out, nil
}

// Matches reports whether proc is an instance of appName. appName may be a
// full path, an executable name, or a bare name without the .exe suffix.
func Matches(appName string, proc ProcessInfo) bool {
	want := strings.ToLower(strings.TrimSpace(appName))
	if want == "" {
		return false
	}
	got := strings.ToLower(proc.Name)

	switch {
	case strings.HasPrefix(want, "/") || strings.Contains(want, `:\`):
		return proc.Exe != "" && strings.EqualFold(proc.Exe, appName)
	case strings.HasSuffix(want, ".exe"):
		return got == want
	default:
		return got == want || got == want+".exe"
	}
}

// Running returns the entries of appNames that currently have a matching
// process, in the order given. A nil lister uses SystemProcesses.
func Running(appNames []string, list Lister) ([]string, error) {
	if len(appNames) == 0 {
		return nil, nil
	}
	if list == nil {
		list = SystemProcesses
	}

	procs, err := list()
	if err != nil {
		logging.Error("Failed to get process list", "error", err)
		return nil, err
	}

	var running []string
	for _, name := range appNames {
		for _, p := range procs {
			if Matches(name, p) {
				logging.Debug("Found running application", "app", name, "process", p.Name)
				running = append(running, name)
				break
			}
		}
	}
	return running, nil
}
