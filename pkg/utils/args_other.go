//go:build !windows
// +build !windows

package utils

// NativeArgs returns fallback unchanged; only Windows needs re-parsing.
func NativeArgs(fallback []string) []string {
	return fallback
}
