// pkg/scripts/prepost.go - Functions for running preflight and postflight scripts.

package scripts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/windowsadmins/installwatch/pkg/logging"
	"github.com/windowsadmins/installwatch/pkg/process"
)

// DefaultTimeout bounds a single hook run.
const DefaultTimeout = 5 * time.Minute

// pipeGrace is how long output pipes stay open after a timed-out hook is killed.
const pipeGrace = 2 * time.Second

// ErrNotFound is returned when a configured script does not exist.
var ErrNotFound = errors.New("script not found")

// Result is the outcome of a hook run.
type Result struct {
	Name     string
	Path     string
	Output   []string
	ExitCode int
	Duration time.Duration
}

// Runner executes hook scripts.
type Runner struct {
	Timeout time.Duration
	// Command builds the argv for a script; replaceable in tests.
	Command func(scriptPath string) []string
}

// NewRunner returns a Runner using the platform interpreter for each script type.
func NewRunner() *Runner {
	return &Runner{Timeout: DefaultTimeout, Command: interpreterFor}
}

// interpreterFor picks the shell for a script based on its extension.
func interpreterFor(scriptPath string) []string {
	switch strings.ToLower(filepath.Ext(scriptPath)) {
	case ".ps1":
		return []string{"pwsh.exe", "-NoLogo", "-NoProfile", "-NonInteractive",
			"-Command", fmt.Sprintf(`& "%s" 2>&1`, scriptPath)}
	case ".bat", ".cmd":
		return []string{"cmd.exe", "/c", scriptPath}
	}
	if runtime.GOOS == "windows" {
		return []string{"cmd.exe", "/c", scriptPath}
	}
	return []string{"/bin/sh", scriptPath}
}

// Run executes the script at scriptPath, logging every output line.
func (r *Runner) Run(ctx context.Context, name, scriptPath string) (Result, error) {
	res := Result{Name: name, Path: scriptPath}
	if _, err := os.Stat(scriptPath); err != nil {
		logging.Warn(name+" script not found", "path", scriptPath)
		return res, fmt.Errorf("%s: %w", scriptPath, ErrNotFound)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := r.Command(scriptPath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(scriptPath)
	process.Supervise(cmd, pipeGrace)

	start := time.Now()
	outputBytes, err := cmd.CombinedOutput()
	res.Duration = time.Since(start)

	for _, line := range strings.Split(string(outputBytes), "\n") {
		txt := cleanLine(line)
		if txt == "" {
			continue
		}
		res.Output = append(res.Output, txt)
		logging.Info(name+": "+txt)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", timeout)
		}
		logging.LogHookEvent(strings.ToLower(name), "failed", name+" script failed", res.Duration, err)
		return res, fmt.Errorf("%s script error: %w", name, err)
	}

	logging.LogHookEvent(strings.ToLower(name), "completed", name+" script completed successfully", res.Duration, nil)
	logging.Info(name+" script completed successfully", "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// cleanLine trims whitespace, a UTF-8 BOM and ANSI colour sequences.
func cleanLine(line string) string {
	txt := strings.TrimSpace(line)
	txt = strings.TrimPrefix(txt, "\ufeff")
	for {
		i := strings.Index(txt, "\x1b[")
		if i < 0 {
			break
		}
		j := strings.IndexFunc(txt[i+2:], func(r rune) bool {
			return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
		})
		if j < 0 {
			txt = txt[:i]
			break
		}
		txt = txt[:i] + txt[i+2+j+1:]
	}
	return strings.TrimSpace(txt)
}
