// pkg/reporting/reporting.go - audit report and summary generation

package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/steplog"
	"github.com/windowsadmins/installwatch/pkg/utils"
	"github.com/windowsadmins/installwatch/pkg/verify"
	"gopkg.in/yaml.v3"
)

const timeLayout = "2006-01-02 15:04:05"

// Files lists the artifact locations printed at the end of the report.
type Files struct {
	Log         string
	Events      string
	Report      string
	Summary     string
	Diagnostics string
	Installer   string
	InstallRoot string
}

// Input is everything the report is rendered from.
type Input struct {
	AppName    string
	SessionID  string
	LaunchHint string

	StartTime time.Time
	EndTime   time.Time

	InstallSucceeded bool
	AttemptsUsed     int
	// Verification is nil when the verification phase never ran.
	Verification *verify.Result

	Errors   []ledger.ErrorRecord
	Warnings []ledger.WarningRecord
	Steps    []steplog.Step

	Files Files
}

// VerificationSummary condenses a verify.Result for the YAML summary.
type VerificationSummary struct {
	Expected       int      `yaml:"expected"`
	Found          int      `yaml:"found"`
	Missing        []string `yaml:"missing,omitempty"`
	Empty          []string `yaml:"empty,omitempty"`
	InstalledBytes int64    `yaml:"installed_bytes"`
}

// Summary is the machine-readable counterpart of the text report.
type Summary struct {
	AppName          string               `yaml:"app_name"`
	SessionID        string               `yaml:"session_id,omitempty"`
	StartTime        time.Time            `yaml:"start_time"`
	EndTime          time.Time            `yaml:"end_time"`
	Duration         string               `yaml:"duration"`
	OverallSuccess   bool                 `yaml:"overall_success"`
	InstallSucceeded bool                 `yaml:"install_succeeded"`
	AttemptsUsed     int                  `yaml:"attempts_used"`
	TotalErrors      int                  `yaml:"total_errors"`
	TotalWarnings    int                  `yaml:"total_warnings"`
	BySeverity       map[string]int       `yaml:"by_severity,omitempty"`
	ByCategory       map[string]int       `yaml:"by_category,omitempty"`
	Verification     *VerificationSummary `yaml:"verification,omitempty"`
	Recommendations  utils.LiteralString  `yaml:"recommendations,omitempty"`
}

// OverallSuccess is true only when the installer succeeded and verification
// ran and found every expected file.
func OverallSuccess(in Input) bool {
	return in.InstallSucceeded && in.Verification != nil && len(in.Verification.Missing) == 0
}

// Build renders the report text and its summary. It has no side effects, so
// the same input always yields the same output.
func Build(in Input) (string, Summary) {
	success := OverallSuccess(in)
	duration := in.EndTime.Sub(in.StartTime).Round(time.Second)

	bySeverity := make(map[string]int)
	byCategory := make(map[string]int)
	var categories []string
	for _, e := range in.Errors {
		bySeverity[e.Severity.String()]++
		if byCategory[e.Category] == 0 {
			categories = append(categories, e.Category)
		}
		byCategory[e.Category]++
	}
	recs := Recommendations(in.Errors, in.Warnings, success, in.LaunchHint)

	var b strings.Builder
	title := strings.ToUpper(in.AppName)
	if title == "" {
		title = "INSTALLATION"
	}
	rule := strings.Repeat("=", 62)
	fmt.Fprintf(&b, "%s\n  %s - AUDIT REPORT\n%s\n\n", rule, title, rule)

	b.WriteString("TIMELINE:\n")
	fmt.Fprintf(&b, "  Start    : %s\n", in.StartTime.Format(timeLayout))
	fmt.Fprintf(&b, "  End      : %s\n", in.EndTime.Format(timeLayout))
	fmt.Fprintf(&b, "  Duration : %s\n", duration)
	if in.SessionID != "" {
		fmt.Fprintf(&b, "  Session  : %s\n", in.SessionID)
	}

	b.WriteString("\nSUMMARY:\n")
	fmt.Fprintf(&b, "  Success  : %s\n", yesNo(success))
	fmt.Fprintf(&b, "  Attempts : %d\n", in.AttemptsUsed)
	fmt.Fprintf(&b, "  Errors   : %d\n", len(in.Errors))
	fmt.Fprintf(&b, "  Warnings : %d\n", len(in.Warnings))

	b.WriteString("\nERROR SEVERITY BREAKDOWN:\n")
	for _, severity := range ledger.Severities {
		sev := severity.String()
		if n := bySeverity[sev]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d error(s)\n", sev, n)
		}
	}

	b.WriteString("\nERROR CATEGORIES:\n")
	for _, cat := range categories {
		fmt.Fprintf(&b, "  %s: %d error(s)\n", cat, byCategory[cat])
	}

	b.WriteString("\nDETAILED STEPS:\n")
	for _, step := range in.Steps {
		fmt.Fprintf(&b, "  %s [%s] %s\n", statusMark(step.Status), step.Status, step.Name)
		if step.Detail != "" {
			fmt.Fprintf(&b, "      -> %s\n", step.Detail)
		}
		if step.Attempt > 1 {
			fmt.Fprintf(&b, "      -> Attempt: %d\n", step.Attempt)
		}
	}

	var serious []ledger.ErrorRecord
	for _, e := range in.Errors {
		if e.Severity >= ledger.High {
			serious = append(serious, e)
		}
	}
	if len(serious) > 0 {
		b.WriteString("\nCRITICAL ERRORS:\n")
		for _, e := range serious {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", e.Severity, e.Category, e.Message)
			if e.Suggestion != "" {
				fmt.Fprintf(&b, "      Suggestion: %s\n", e.Suggestion)
			}
		}
	}

	if len(in.Warnings) > 0 {
		b.WriteString("\nWARNINGS:\n")
		for _, w := range in.Warnings {
			fmt.Fprintf(&b, "  %s: %s\n", w.Category, w.Message)
			if w.Suggestion != "" {
				fmt.Fprintf(&b, "      Suggestion: %s\n", w.Suggestion)
			}
		}
	}

	b.WriteString("\nRECOMMENDATIONS:\n")
	for _, rec := range recs {
		fmt.Fprintf(&b, "  - %s\n", rec)
	}

	if v := in.Verification; v != nil {
		b.WriteString("\nVERIFICATION:\n")
		fmt.Fprintf(&b, "  Expected : %d\n", v.TotalExpected)
		fmt.Fprintf(&b, "  Found    : %d\n", len(v.Found))
		fmt.Fprintf(&b, "  Missing  : %d\n", len(v.Missing))
		fmt.Fprintf(&b, "  Empty    : %d\n", len(v.Partial))
		fmt.Fprintf(&b, "  Size     : %s\n", formatBytes(v.TotalInstalledBytes))
		for _, m := range v.Missing {
			fmt.Fprintf(&b, "    missing: %s\n", m)
		}
	}

	b.WriteString("\nFILES:\n")
	writeFileLine(&b, "Log", in.Files.Log)
	writeFileLine(&b, "Events", in.Files.Events)
	writeFileLine(&b, "Report", in.Files.Report)
	writeFileLine(&b, "Summary", in.Files.Summary)
	writeFileLine(&b, "Diagnostics", in.Files.Diagnostics)
	writeFileLine(&b, "Installer", in.Files.Installer)
	writeFileLine(&b, "Location", in.Files.InstallRoot)

	summary := Summary{
		AppName:          in.AppName,
		SessionID:        in.SessionID,
		StartTime:        in.StartTime,
		EndTime:          in.EndTime,
		Duration:         duration.String(),
		OverallSuccess:   success,
		InstallSucceeded: in.InstallSucceeded,
		AttemptsUsed:     in.AttemptsUsed,
		TotalErrors:      len(in.Errors),
		TotalWarnings:    len(in.Warnings),
		BySeverity:       bySeverity,
		ByCategory:       byCategory,
		Recommendations:  utils.LiteralString(strings.Join(recs, "\n") + "\n"),
	}
	if v := in.Verification; v != nil {
		summary.Verification = &VerificationSummary{
			Expected:       v.TotalExpected,
			Found:          len(v.Found),
			Missing:        v.Missing,
			Empty:          v.Partial,
			InstalledBytes: v.TotalInstalledBytes,
		}
	}
	return b.String(), summary
}

// Recommendations derives advice from the recorded error and warning categories.
func Recommendations(errs []ledger.ErrorRecord, warnings []ledger.WarningRecord, success bool, launchHint string) []string {
	hasError := func(substr string) bool {
		for _, e := range errs {
			if strings.Contains(e.Category, substr) {
				return true
			}
		}
		return false
	}
	hasWarning := func(substr string) bool {
		for _, w := range warnings {
			if strings.Contains(w.Category, substr) {
				return true
			}
		}
		return false
	}

	var recs []string
	if hasError("Network") {
		recs = append(recs, "Check your internet connection and firewall settings")
	}
	if hasError("Installer") {
		recs = append(recs, "Verify the installer file is complete and not corrupted")
	}
	if hasWarning("Disk") {
		recs = append(recs, "Free up disk space on the install drive")
	}
	if hasError("File Verification") {
		recs = append(recs,
			"The installer may be blocked from downloading files",
			"Try running as Administrator",
			"Check antivirus software isn't blocking the installation")
	}

	if len(recs) == 0 {
		if success {
			recs = append(recs, "Installation completed successfully!")
			if launchHint != "" {
				recs = append(recs, "Run: "+launchHint)
			}
		} else {
			recs = append(recs,
				"Review the errors above and try again",
				"Contact support with the audit log")
		}
	}
	return recs
}

// WriteReport writes the report text, creating the parent directory.
func WriteReport(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteSummary writes the summary as YAML.
func WriteSummary(path string, summary Summary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (Summary, error) {
	var s Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read summary: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse summary: %w", err)
	}
	return s, nil
}

func yesNo(ok bool) string {
	if ok {
		return "YES"
	}
	return "NO"
}

func statusMark(status steplog.Status) string {
	switch status {
	case steplog.Success:
		return "[ok]"
	case steplog.Warning:
		return "[!!]"
	case steplog.Running:
		return "[..]"
	default:
		return "[xx]"
	}
}

func writeFileLine(b *strings.Builder, label, path string) {
	if path == "" {
		return
	}
	fmt.Fprintf(b, "  %-12s: %s\n", label, path)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
