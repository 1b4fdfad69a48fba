//go:build !windows
// +build !windows

package config

import "errors"

var errRegistryUnavailable = errors.New("registry configuration not available")

// loadFromRegistry has no backing store outside Windows.
func loadFromRegistry(cfg *Configuration) error {
	return errRegistryUnavailable
}
