//go:build windows
// +build windows

package config

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// RegistryPath holds policy-managed configuration under HKLM.
const RegistryPath = `SOFTWARE\InstallWatch\Config`

var errRegistryUnavailable = errors.New("registry configuration not available")

// loadFromRegistry overlays values found under RegistryPath.
func loadFromRegistry(cfg *Configuration) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, RegistryPath, registry.READ)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return errRegistryUnavailable
		}
		return fmt.Errorf("failed to open registry key %s: %w", RegistryPath, err)
	}
	defer key.Close()

	loadStringFromRegistry(key, "AppName", &cfg.AppName)
	loadStringFromRegistry(key, "InstallerPath", &cfg.InstallerPath)
	loadStringFromRegistry(key, "WorkingDir", &cfg.WorkingDir)
	loadStringFromRegistry(key, "InstallRoot", &cfg.InstallRoot)
	loadStringFromRegistry(key, "ReportDir", &cfg.ReportDir)
	loadStringFromRegistry(key, "ManifestPath", &cfg.ManifestPath)
	loadStringFromRegistry(key, "VersionConstraint", &cfg.VersionConstraint)
	loadStringFromRegistry(key, "InstallerSHA256", &cfg.InstallerSHA256)
	loadStringFromRegistry(key, "ConnectivityURL", &cfg.ConnectivityURL)
	loadStringFromRegistry(key, "LogLevel", &cfg.LogLevel)

	loadIntFromRegistry(key, "MaxAttempts", &cfg.MaxAttempts)
	loadIntFromRegistry(key, "InstallerTimeoutSeconds", &cfg.InstallerTimeoutSeconds)
	loadIntFromRegistry(key, "RetryDelaySeconds", &cfg.RetryDelaySeconds)

	loadBoolFromRegistry(key, "KillOnTimeout", &cfg.KillOnTimeout)
	loadBoolFromRegistry(key, "CleanInstall", &cfg.CleanInstall)
	loadBoolFromRegistry(key, "Verbose", &cfg.Verbose)

	loadStringArrayFromRegistry(key, "ExpectedFiles", &cfg.ExpectedFiles)
	loadStringArrayFromRegistry(key, "InstallerMarkers", &cfg.InstallerMarkers)
	loadStringArrayFromRegistry(key, "BlockingApps", &cfg.BlockingApps)

	log.Printf("Loaded configuration from registry path: %s", RegistryPath)
	return nil
}

// loadStringFromRegistry loads a string value from registry if it exists.
func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
	}
}

// loadBoolFromRegistry accepts "true"/"false", "1"/"0" strings or a DWORD.
func loadBoolFromRegistry(key registry.Key, valueName string, target *bool) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.ParseBool(val); parseErr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = val != 0
	}
}

// loadIntFromRegistry loads an integer stored as a string or DWORD.
func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(val); parseErr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
	}
}

// loadStringArrayFromRegistry reads REG_MULTI_SZ or a comma separated string.
func loadStringArrayFromRegistry(key registry.Key, valueName string, target *[]string) {
	if vals, _, err := key.GetStringsValue(valueName); err == nil && len(vals) > 0 {
		if filtered := trimAll(vals); len(filtered) > 0 {
			*target = filtered
			return
		}
	}
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		if filtered := trimAll(strings.Split(val, ",")); len(filtered) > 0 {
			*target = filtered
		}
	}
}

func trimAll(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
