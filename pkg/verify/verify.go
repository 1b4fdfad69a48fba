// pkg/verify/verify.go - compares an install tree against its expected manifest.

package verify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/logging"
	"github.com/windowsadmins/installwatch/pkg/steplog"
)

const stepName = "Comprehensive installation verification"

// missingHighThreshold is the number of missing files above which the
// aggregate verification error is raised to HIGH.
const missingHighThreshold = 5

// FoundFile is a manifest entry present on disk.
type FoundFile struct {
	Path    string `json:"path" yaml:"path"`
	Size    int64  `json:"size" yaml:"size"`
	IsEmpty bool   `json:"is_empty" yaml:"is_empty"`
}

// Result is the outcome of one verification pass.
type Result struct {
	Found               []FoundFile
	Missing             []string
	Partial             []string
	TotalExpected       int
	TotalInstalledBytes int64
	RootExists          bool
}

// Complete reports whether every manifest entry was found.
func (r Result) Complete() bool {
	return r.RootExists && len(r.Missing) == 0
}

// Verifier inspects an install root.
type Verifier struct {
	Ledger *ledger.Ledger
	Steps  *steplog.Log
}

// New returns a Verifier recording into l and steps.
func New(l *ledger.Ledger, steps *steplog.Log) *Verifier {
	return &Verifier{Ledger: l, Steps: steps}
}

// Verify checks every manifest entry (relative, forward-slash paths) below
// installRoot. Missing and empty files are recorded in the ledger; nothing is
// retried.
func (v *Verifier) Verify(installRoot string, manifest []string) Result {
	res := Result{TotalExpected: len(manifest)}
	v.Steps.Start(stepName)

	info, err := os.Stat(installRoot)
	if err != nil || !info.IsDir() {
		res.Missing = append(res.Missing, manifest...)
		v.Ledger.AddError("Installation Directory",
			fmt.Sprintf("Installation directory not found: %s", installRoot),
			ledger.Critical,
			"The installer did not create the application folder; run it again")
		v.Steps.Append(stepName, steplog.Warning, "Installation directory missing", 1)
		logging.LogVerificationEvent("failed", 0, len(res.Missing), 0, 0)
		return res
	}
	res.RootExists = true
	res.TotalInstalledBytes = treeSize(installRoot)

	for _, entry := range manifest {
		full := filepath.Join(installRoot, filepath.FromSlash(entry))
		fi, err := os.Stat(full)
		if err != nil || fi.IsDir() {
			res.Missing = append(res.Missing, entry)
			logging.Debug("Expected file missing", "path", entry)
			continue
		}

		found := FoundFile{Path: entry, Size: fi.Size(), IsEmpty: fi.Size() == 0}
		res.Found = append(res.Found, found)
		if found.IsEmpty {
			res.Partial = append(res.Partial, entry)
			v.Ledger.AddWarning("File Content",
				fmt.Sprintf("Empty file: %s", entry),
				"The download may have been interrupted")
		}
	}

	if len(res.Missing) > 0 {
		severity := ledger.Medium
		if len(res.Missing) > missingHighThreshold {
			severity = ledger.High
		}
		v.Ledger.AddError("File Verification",
			fmt.Sprintf("%d files missing, %d files empty", len(res.Missing), len(res.Partial)),
			severity,
			"Check network connection and GitHub availability")
	}
	if len(res.Found) == 0 {
		v.Ledger.AddError("Installation",
			"No expected files were installed",
			ledger.Critical,
			"Run the installer again as Administrator")
	}

	detail := fmt.Sprintf("%d/%d files found, %d missing, %d empty",
		len(res.Found), res.TotalExpected, len(res.Missing), len(res.Partial))
	status := steplog.Success
	eventStatus := "completed"
	if len(res.Missing) > 0 {
		status = steplog.Warning
		eventStatus = "warning"
	}
	v.Steps.Append(stepName, status, detail, 1)
	logging.LogVerificationEvent(eventStatus, len(res.Found), len(res.Missing), len(res.Partial), res.TotalInstalledBytes)
	return res
}

// treeSize sums regular file sizes below root in one walk. Entries that
// cannot be read are skipped.
func treeSize(root string) int64 {
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Debug("Skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logging.Debug("Skipping unreadable file", "path", p, "error", err)
			}
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		logging.Warn("Install tree walk incomplete", "root", root, "error", err)
	}
	return total
}
