//go:build windows
// +build windows

package utils

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// NativeArgs re-parses the raw Windows command line so quoted paths with
// spaces survive intact. The program name is dropped.
func NativeArgs(fallback []string) []string {
	cmdLinePtr := windows.GetCommandLine()
	if cmdLinePtr == nil {
		return fallback
	}
	var argc int32
	argvPtr, err := windows.CommandLineToArgv(cmdLinePtr, &argc)
	if err != nil || argvPtr == nil || argc < 1 {
		return fallback
	}
	defer windows.LocalFree(windows.Handle(uintptr(unsafe.Pointer(argvPtr))))

	argv := unsafe.Slice((**uint16)(unsafe.Pointer(argvPtr)), argc)
	args := make([]string, 0, argc-1)
	for _, p := range argv[1:] {
		if p != nil {
			args = append(args, windows.UTF16PtrToString(p))
		}
	}
	return args
}
