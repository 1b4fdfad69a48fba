//go:build windows
// +build windows

package diagnostics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yusufpapurcu/wmi"
)

var errNotWindows = errors.New("not running on Windows")

type Win32_OperatingSystem struct {
	Caption     string `wmi:"Caption"`
	Version     string `wmi:"Version"`
	BuildNumber string `wmi:"BuildNumber"`
}

type Win32_ComputerSystem struct {
	Model        string `wmi:"Model"`
	Manufacturer string `wmi:"Manufacturer"`
}

type Win32_SystemEnclosure struct {
	ChassisTypes []uint16 `wmi:"ChassisTypes"`
}

type hostFacts struct {
	caption      string
	manufacturer string
	model        string
	machineType  string
}

func windowsFacts() (hostFacts, error) {
	var facts hostFacts

	var systems []Win32_OperatingSystem
	if err := wmi.Query("SELECT Caption, Version, BuildNumber FROM Win32_OperatingSystem", &systems); err != nil {
		return facts, fmt.Errorf("Win32_OperatingSystem query failed: %w", err)
	}
	if len(systems) > 0 {
		facts.caption = strings.TrimSpace(systems[0].Caption)
		if systems[0].BuildNumber != "" {
			facts.caption = fmt.Sprintf("%s (build %s)", facts.caption, systems[0].BuildNumber)
		}
	}

	var computers []Win32_ComputerSystem
	if err := wmi.Query("SELECT Model, Manufacturer FROM Win32_ComputerSystem", &computers); err == nil && len(computers) > 0 {
		facts.manufacturer = strings.TrimSpace(computers[0].Manufacturer)
		facts.model = strings.TrimSpace(computers[0].Model)
	}

	facts.machineType = machineType()
	return facts, nil
}

// machineType maps SMBIOS chassis types to laptop or desktop.
func machineType() string {
	var enclosures []Win32_SystemEnclosure
	if err := wmi.Query("SELECT ChassisTypes FROM Win32_SystemEnclosure", &enclosures); err != nil {
		return "unknown"
	}
	if len(enclosures) == 0 {
		return "unknown"
	}
	for _, chassisType := range enclosures[0].ChassisTypes {
		switch chassisType {
		case 8, 9, 10, 14, 30, 31, 32:
			return "laptop"
		case 3, 4, 5, 6, 7, 15, 16:
			return "desktop"
		}
	}
	return "unknown"
}
