//go:build !windows
// +build !windows

package logging

// enableColors is a no-op; ANSI sequences work on these terminals already.
func enableColors() {}
