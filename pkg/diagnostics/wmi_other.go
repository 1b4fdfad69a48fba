//go:build !windows
// +build !windows

package diagnostics

import "errors"

var errNotWindows = errors.New("not running on Windows")

type hostFacts struct {
	caption      string
	manufacturer string
	model        string
	machineType  string
}

func windowsFacts() (hostFacts, error) {
	return hostFacts{}, errNotWindows
}
