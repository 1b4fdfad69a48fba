// pkg/preflight/preflight.go - static checks on the installer before it is run.

package preflight

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-version"
	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/logging"
	"github.com/windowsadmins/installwatch/pkg/steplog"
	"github.com/windowsadmins/installwatch/pkg/utils"
)

const stepName = "Verify installer"

var (
	utf8BOM      = []byte{0xEF, 0xBB, 0xBF}
	versionToken = regexp.MustCompile(`(?i)\bv(\d+\.\d+(?:\.\d+)?)\b`)
)

// Result describes what the validator learned about the installer.
type Result struct {
	Passed       bool
	Exists       bool
	Size         int64
	ExtensionOK  bool
	HasBOM       bool
	MarkersFound []string
	Version      string
}

// Validator checks an installer script before any attempt is made. Only a
// missing file or undecodable content fails validation; everything else is
// reported as a warning.
type Validator struct {
	Ledger *ledger.Ledger
	Steps  *steplog.Log

	MinBytes          int64
	Extension         string
	Markers           []string
	MinMarkers        int
	VersionConstraint string
	// ExpectedSHA256 pins the installer digest; empty skips the check.
	ExpectedSHA256 string
}

// NewValidator returns a Validator with the stock batch-installer heuristics.
func NewValidator(l *ledger.Ledger, steps *steplog.Log, appName string) *Validator {
	markers := []string{"@echo off", "pip install", "python"}
	if appName != "" {
		markers = []string{"@echo off", appName, "pip install", "python"}
	}
	return &Validator{
		Ledger:     l,
		Steps:      steps,
		MinBytes:   100,
		Extension:  ".bat",
		Markers:    markers,
		MinMarkers: 2,
	}
}

// Validate runs every check in order and records the findings.
func (v *Validator) Validate(installerPath string) Result {
	var res Result
	v.Steps.Start(stepName)

	info, err := os.Stat(installerPath)
	if err != nil {
		msg := fmt.Sprintf("Installer not found: %s", installerPath)
		if !errors.Is(err, fs.ErrNotExist) {
			msg = fmt.Sprintf("Cannot access installer %s: %v", installerPath, err)
		}
		v.Ledger.AddError("Installer Verification", msg, ledger.Critical,
			"Place the installer next to this program or pass --installer")
		v.Steps.Append(stepName, steplog.Failed, msg, 1)
		return res
	}
	res.Exists = true
	res.Size = info.Size()
	logging.Info("Installer found", "path", installerPath, "size", res.Size)

	if res.Size < v.MinBytes {
		v.Ledger.AddWarning("Installer Size",
			fmt.Sprintf("Installer is only %d bytes", res.Size),
			"The installer may be truncated; download it again")
	}

	if v.ExpectedSHA256 != "" {
		ok, err := utils.MatchesSHA256(installerPath, v.ExpectedSHA256)
		if err != nil || !ok {
			msg := "Installer checksum does not match the pinned SHA-256"
			if err != nil {
				msg = fmt.Sprintf("Cannot hash installer: %v", err)
			}
			v.Ledger.AddError("Installer Verification", msg, ledger.Critical,
				"Download the installer again from a trusted source")
			v.Steps.Append(stepName, steplog.Failed, msg, 1)
			return res
		}
		logging.Debug("Installer checksum verified", "sha256", v.ExpectedSHA256)
	}

	res.ExtensionOK = v.Extension == "" || strings.EqualFold(filepath.Ext(installerPath), v.Extension)
	logging.Debug("Installer extension checked", "extension", filepath.Ext(installerPath), "expected", v.Extension, "match", res.ExtensionOK)

	data, err := os.ReadFile(installerPath)
	if err != nil {
		msg := fmt.Sprintf("Cannot read installer: %v", err)
		v.Ledger.AddError("Installer Verification", msg, ledger.High,
			"Check file permissions on the installer")
		v.Steps.Append(stepName, steplog.Failed, msg, 1)
		return res
	}

	if bytes.HasPrefix(data, utf8BOM) {
		res.HasBOM = true
		data = data[len(utf8BOM):]
	}
	if !utf8.Valid(data) {
		msg := "Installer is not valid UTF-8 text"
		v.Ledger.AddError("Installer Encoding", msg, ledger.High,
			"Re-save the installer with UTF-8 encoding")
		v.Steps.Append(stepName, steplog.Failed, msg, 1)
		return res
	}
	content := string(data)

	lower := strings.ToLower(content)
	for _, marker := range v.Markers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			res.MarkersFound = append(res.MarkersFound, marker)
		}
	}
	if len(res.MarkersFound) < v.MinMarkers {
		v.Ledger.AddWarning("Installer Content",
			fmt.Sprintf("Only %d of %d expected markers found in installer", len(res.MarkersFound), len(v.Markers)),
			"Confirm this is the correct installer")
	}

	if v.VersionConstraint != "" {
		res.Version = v.checkVersion(content)
	}

	res.Passed = true
	detail := fmt.Sprintf("%d bytes, %d/%d markers", res.Size, len(res.MarkersFound), len(v.Markers))
	status := steplog.Success
	if res.Size < v.MinBytes || len(res.MarkersFound) < v.MinMarkers {
		status = steplog.Warning
	}
	v.Steps.Append(stepName, status, detail, 1)
	return res
}

// checkVersion compares the first vX.Y[.Z] token in content against the
// configured constraint. Problems are warnings only.
func (v *Validator) checkVersion(content string) string {
	constraints, err := version.NewConstraint(v.VersionConstraint)
	if err != nil {
		v.Ledger.AddWarning("Installer Version",
			fmt.Sprintf("Invalid version constraint %q: %v", v.VersionConstraint, err),
			"Fix VersionConstraint in the configuration")
		return ""
	}

	match := versionToken.FindStringSubmatch(content)
	if match == nil {
		v.Ledger.AddWarning("Installer Version",
			"No version number found in installer",
			fmt.Sprintf("Expected a version satisfying %s", v.VersionConstraint))
		return ""
	}

	found, err := version.NewVersion(match[1])
	if err != nil {
		v.Ledger.AddWarning("Installer Version",
			fmt.Sprintf("Unparseable installer version %q", match[1]), "")
		return match[1]
	}
	if !constraints.Check(found) {
		v.Ledger.AddWarning("Installer Version",
			fmt.Sprintf("Installer version %s does not satisfy %s", found, v.VersionConstraint),
			"Download the current installer release")
	}
	return found.String()
}
