// pkg/process/process.go - launching and supervising installer processes.

package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/windowsadmins/installwatch/pkg/logging"
)

// Process is a launched installer that can be polled without blocking.
type Process interface {
	Pid() int
	// Exited reports whether the process has finished. When done is true,
	// exitCode holds its exit status and err is non-nil only if the wait
	// itself failed.
	Exited() (done bool, exitCode int, err error)
	// Terminate kills the process and every descendant.
	Terminate() error
}

// Launcher starts installer processes.
type Launcher interface {
	Launch(installerPath, workDir string) (Process, error)
	CommandLine(installerPath string) []string
}

// ExecLauncher starts installers through the platform shell in their own
// process group so a timeout can take down the whole tree.
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecLauncher returns a launcher whose child output is discarded.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// CommandLine returns the argv used to run installerPath.
func (l *ExecLauncher) CommandLine(installerPath string) []string {
	return shellCommand(installerPath)
}

// Launch starts the installer and returns immediately.
func (l *ExecLauncher) Launch(installerPath, workDir string) (Process, error) {
	argv := shellCommand(installerPath)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.SysProcAttr = sysProcAttr()
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", filepath.Base(installerPath), err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()

	logging.Debug("Installer process started", "pid", cmd.Process.Pid, "command", strings.Join(argv, " "))
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
		p.waitErr = err
	}
	p.mu.Unlock()

	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() (bool, int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return true, p.exitCode, p.waitErr
	default:
		return false, 0, nil
	}
}

func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.Pid()
	logging.Debug("Terminating process tree", "rootPid", pid)

	treeErr := KillTree(pid)
	if err := killGroup(pid); err != nil {
		logging.Debug("Process group kill failed", "pid", pid, "error", err)
	}
	if treeErr != nil {
		// The root may already be gone; fall back to the direct handle.
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to terminate process %d: %w", pid, treeErr)
		}
	}
	return nil
}

// Supervise runs cmd in its own process group and makes context cancellation
// kill the whole tree. Output pipes are closed waitDelay after the kill so a
// descendant holding them cannot block Wait.
func Supervise(cmd *exec.Cmd, waitDelay time.Duration) {
	cmd.SysProcAttr = groupProcAttr()
	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		treeErr := KillTree(pid)
		if err := killGroup(pid); err != nil && treeErr != nil {
			logging.Debug("Process group kill failed", "pid", pid, "error", err)
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = waitDelay
}

// KillTree kills pid and all of its descendants, children first.
func KillTree(pid int) error {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}
	killDescendants(root)
	if err := root.Kill(); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}

func killDescendants(p *process.Process) {
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		killDescendants(child)
		if err := child.Kill(); err != nil {
			logging.Debug("Failed to kill child process", "pid", child.Pid, "error", err)
		}
	}
}

// Stats is a point-in-time resource sample of a running process.
type Stats struct {
	RSSBytes uint64
	Threads  int32
	Children int
}

// Sample reads resource usage for pid.
func Sample(pid int) (Stats, error) {
	var stats Stats
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return stats, err
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if threads, err := p.NumThreads(); err == nil {
		stats.Threads = threads
	}
	if children, err := p.Children(); err == nil {
		stats.Children = len(children)
	}
	return stats, nil
}
