//go:build !windows
// +build !windows

package process

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// groupProcAttr places a helper command in its own process group.
func groupProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func shellCommand(installerPath string) []string {
	return []string{"/bin/sh", installerPath}
}

// killGroup signals the installer's process group.
func killGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}
