// pkg/monitor/monitor.go - sequencing of a single supervised installation run.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/windowsadmins/installwatch/pkg/blocking"
	"github.com/windowsadmins/installwatch/pkg/config"
	"github.com/windowsadmins/installwatch/pkg/diagnostics"
	"github.com/windowsadmins/installwatch/pkg/ledger"
	"github.com/windowsadmins/installwatch/pkg/logging"
	"github.com/windowsadmins/installwatch/pkg/manifest"
	"github.com/windowsadmins/installwatch/pkg/preflight"
	"github.com/windowsadmins/installwatch/pkg/process"
	"github.com/windowsadmins/installwatch/pkg/progress"
	"github.com/windowsadmins/installwatch/pkg/reporting"
	"github.com/windowsadmins/installwatch/pkg/retry"
	"github.com/windowsadmins/installwatch/pkg/scripts"
	"github.com/windowsadmins/installwatch/pkg/steplog"
	"github.com/windowsadmins/installwatch/pkg/verify"
)

var (
	// ErrValidation means the installer failed pre-flight checks and was never run.
	ErrValidation = errors.New("installer validation failed")
	// ErrRuntime wraps unexpected failures while sequencing the run.
	ErrRuntime = errors.New("unexpected runtime error")
)

// Result is what a completed (or cancelled) session produced.
type Result struct {
	Cancelled    bool
	Validated    bool
	Install      retry.Outcome
	Verification *verify.Result
	Diagnostics  diagnostics.Snapshot
	Report       string
	Summary      reporting.Summary
}

// Session runs diagnostics, validation, the retry loop, verification and
// reporting for one installer. A Session is single use.
type Session struct {
	Config   *config.Configuration
	Ledger   *ledger.Ledger
	Steps    *steplog.Log
	Printer  *logging.Printer
	Probe    *diagnostics.Probe
	Launcher process.Launcher
	Hooks    *scripts.Runner

	// Processes lists running processes for the blocking application check.
	Processes blocking.Lister

	// Confirm is asked before the installer runs; nil proceeds without asking.
	Confirm func(prompt string) bool
	// Sleep is passed to the retry runner and used for the pause after
	// removing an old install tree.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// New builds a Session for cfg with real process, probe and hook backends.
func New(cfg *config.Configuration, printer *logging.Printer) *Session {
	if printer == nil {
		printer = logging.NewWithWriter(io.Discard)
	}
	l := ledger.New()
	steps := steplog.New()

	probe := diagnostics.NewProbe(l, steps)
	probe.InstallerPath = cfg.ResolvedInstallerPath()
	probe.DiskPath = cfg.InstallRoot
	probe.DesktopPath = filepath.Dir(cfg.InstallRoot)
	probe.ConnectivityURL = cfg.ConnectivityURL
	probe.Timeout = cfg.ConnectivityTimeout()
	probe.DiskWarnPercent = cfg.DiskWarnPercent

	return &Session{
		Config:   cfg,
		Ledger:   l,
		Steps:    steps,
		Printer:  printer,
		Probe:    probe,
		Launcher: process.NewExecLauncher(),
		Hooks:    scripts.NewRunner(),
		Sleep:    time.Sleep,
		Now:      time.Now,
	}
}

// Run executes the whole sequence. A report is written for every run that
// was not cancelled, including runs that fail validation or panic.
func (s *Session) Run(ctx context.Context) (res Result, err error) {
	cfg := s.Config
	start := s.Now()
	installOK := false
	reported := false

	defer func() {
		if r := recover(); r != nil {
			logging.Error("CRITICAL FAILURE", "panic", r)
			s.Ledger.AddError("Main Process", fmt.Sprint(r), ledger.Critical, "See the audit log for details")
			if !reported {
				if ferr := s.finish(&res, start, installOK); ferr != nil {
					logging.Error("Failed to write report after failure", "error", ferr)
				}
			}
			s.Printer.Error("CRITICAL ERROR: %v", r)
			err = fmt.Errorf("%w: %v", ErrRuntime, r)
		}
	}()

	installerPath := cfg.ResolvedInstallerPath()
	logging.Info("=== INSTALL MONITOR STARTED ===", "installer", installerPath, "install_root", cfg.InstallRoot)
	logging.LogSessionEvent("start", "started", "Install monitor started", map[string]interface{}{
		"installer":    installerPath,
		"install_root": cfg.InstallRoot,
		"max_attempts": cfg.MaxAttempts,
	})

	s.Printer.Rule()
	s.Printer.Printf("   %s - INSTALL MONITOR", strings.ToUpper(cfg.AppName))
	s.Printer.Rule()
	s.Printer.Printf("Monitoring: %s", installerPath)
	s.Printer.Printf("Installing to: %s", cfg.InstallRoot)
	s.Printer.Printf("Automatic retries: %d attempts", cfg.MaxAttempts)

	// Diagnostics
	res.Diagnostics = s.Probe.Collect(ctx)
	if werr := diagnostics.WriteJSON(cfg.DiagnosticsPath(), res.Diagnostics); werr != nil {
		s.Ledger.AddError("Diagnostics", werr.Error(), ledger.Low, "")
	}
	for _, issue := range res.Diagnostics.Issues {
		s.Printer.Warning("%s", issue)
	}

	// Installer validation
	validator := preflight.NewValidator(s.Ledger, s.Steps, cfg.AppName)
	validator.MinBytes = cfg.MinInstallerBytes
	validator.Extension = cfg.InstallerExtension
	if len(cfg.InstallerMarkers) > 0 {
		validator.Markers = cfg.InstallerMarkers
	}
	validator.MinMarkers = cfg.MinMarkers
	validator.VersionConstraint = cfg.VersionConstraint
	validator.ExpectedSHA256 = cfg.InstallerSHA256

	if vr := validator.Validate(installerPath); !vr.Passed {
		s.Printer.Error("CRITICAL: Installer verification failed!")
		reported = true
		if ferr := s.finish(&res, start, false); ferr != nil {
			return res, fmt.Errorf("%w: %v", ErrRuntime, ferr)
		}
		return res, ErrValidation
	}
	res.Validated = true
	s.Printer.Success("Installer verified")

	// Preflight hook
	if cfg.PreflightScript != "" {
		if !s.runHook(ctx, "Preflight", cfg.PreflightScript, cfg.PreflightFailureAction) {
			reported = true
			if ferr := s.finish(&res, start, false); ferr != nil {
				return res, fmt.Errorf("%w: %v", ErrRuntime, ferr)
			}
			return res, fmt.Errorf("%w: preflight script failed", ErrValidation)
		}
	}

	expected, merr := manifest.Resolve(cfg.ExpectedFiles, cfg.ManifestPath, config.DefaultExpectedFiles)
	if merr != nil {
		s.Ledger.AddError("Manifest", merr.Error(), ledger.Critical, "Fix ExpectedFiles or ManifestPath in the configuration")
		s.Printer.Error("Invalid manifest: %v", merr)
		reported = true
		if ferr := s.finish(&res, start, false); ferr != nil {
			return res, fmt.Errorf("%w: %v", ErrRuntime, ferr)
		}
		return res, fmt.Errorf("%w: %v", config.ErrInvalid, merr)
	}

	s.prepareInstallRoot()

	s.Printer.Rule()
	s.Printer.Printf("   READY FOR INSTALLATION")
	s.Printer.Rule()
	s.Printer.Printf("Installer: %s", filepath.Base(installerPath))
	s.Printer.Printf("Location:  %s", cfg.InstallRoot)
	if s.Confirm != nil && !s.Confirm("Proceed with installation? [Y]es / [N]o: ") {
		logging.Info("User cancelled installation")
		logging.LogSessionEvent("end", "cancelled", "User cancelled installation", nil)
		s.Printer.Printf("Installation cancelled. You can run the installer manually later.")
		res.Cancelled = true
		return res, nil
	}

	// Retry loop
	logging.Info("Starting installation with retry support...")
	runner := s.newRunner(installerPath)
	tracker, terr := progress.NewTracker(cfg.InstallRoot, expected)
	if terr != nil {
		logging.Debug("Progress tracking disabled", "error", terr)
	} else {
		defer tracker.Close()
		runner.OnHeartbeat = func(hb retry.Heartbeat) {
			p := tracker.Drain()
			logging.Info("Install progress", "attempt", hb.Attempt, "progress", p.Summary())
			s.Printer.Printf("  ... %s elapsed, %s", hb.Elapsed, p.Summary())
			if err := tracker.SaveProgressFile(cfg.ReportDir, hb.Attempt, hb.Elapsed); err != nil {
				logging.Debug("Failed to save progress file", "error", err)
			}
		}
	}
	res.Install = runner.RunContext(ctx, cfg.MaxAttempts, cfg.InstallerTimeout())
	installOK = res.Install.Success
	switch {
	case installOK:
		s.Printer.Success("Installer completed on attempt %d", res.Install.AttemptsUsed)
	case res.Install.Interrupted:
		s.Printer.Warning("Interrupted after %d attempt(s); remaining attempts skipped", res.Install.AttemptsUsed)
	default:
		s.Printer.Error("Installer failed after %d attempt(s)", res.Install.AttemptsUsed)
	}

	// Postflight hook
	if cfg.PostflightScript != "" {
		if !s.runHook(ctx, "Postflight", cfg.PostflightScript, cfg.PostflightFailureAction) {
			installOK = false
		}
	}

	// Verification
	vres := verify.New(s.Ledger, s.Steps).Verify(cfg.InstallRoot, expected)
	res.Verification = &vres

	reported = true
	if ferr := s.finish(&res, start, installOK); ferr != nil {
		return res, fmt.Errorf("%w: %v", ErrRuntime, ferr)
	}
	logging.Info("=== MONITORING COMPLETED ===")

	s.Printer.Rule()
	if res.Summary.OverallSuccess {
		s.Printer.Success("SUCCESS! Application is ready to use.")
		if cfg.LaunchHint != "" {
			s.Printer.Printf("   Run: %s", cfg.LaunchHint)
		}
	} else {
		s.Printer.Warning("Installation completed with issues. Review the recommendations in the report.")
	}
	s.Printer.Printf("Files installed: %d/%d", len(vres.Found), vres.TotalExpected)
	if len(vres.Missing) > 5 {
		s.Printer.Warning("The installer may be downloading to the wrong location; check network connectivity and GitHub access")
	}
	s.Printer.Printf("Report: %s", cfg.ReportPath())
	s.Printer.Printf("Diagnostics: %s", cfg.DiagnosticsPath())
	return res, nil
}

func (s *Session) newRunner(installerPath string) *retry.Runner {
	cfg := s.Config
	r := retry.NewRunner(s.Ledger, s.Steps, s.Launcher, installerPath, cfg.WorkingDir)
	r.PollInterval = cfg.PollInterval()
	r.HeartbeatEvery = cfg.HeartbeatSeconds / cfg.PollIntervalSeconds
	if r.HeartbeatEvery < 1 {
		r.HeartbeatEvery = 1
	}
	r.RetryDelay = cfg.RetryDelay()
	r.KillOnTimeout = cfg.KillOnTimeout
	if s.Sleep != nil {
		r.Sleep = s.Sleep
	}
	return r
}

// prepareInstallRoot removes any previous tree (when configured) and creates
// the install root. Failures are recorded, not fatal.
func (s *Session) prepareInstallRoot() {
	const step = "Create installation folder"
	root := s.Config.InstallRoot
	s.Steps.Start(step)
	s.checkBlockingApps()

	if s.Config.CleanInstall {
		if _, err := os.Stat(root); err == nil {
			logging.Info("Removing old installation folder...", "path", root)
			if err := os.RemoveAll(root); err != nil {
				s.Ledger.AddWarning("Folder Creation",
					fmt.Sprintf("Could not fully remove old installation: %v", err),
					"Close any programs using the installation folder")
			}
			if s.Sleep != nil {
				s.Sleep(2 * time.Second)
			}
		}
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		s.Ledger.AddError("Folder Creation", err.Error(), ledger.High,
			"Check permissions on the desktop folder")
		s.Steps.Append(step, steplog.Failed, err.Error(), 1)
		return
	}
	s.Steps.Append(step, steplog.Success, "Created: "+root, 1)
}

// checkBlockingApps warns about configured applications that are running and
// may keep files in the install root locked.
func (s *Session) checkBlockingApps() {
	running, err := blocking.Running(s.Config.BlockingApps, s.Processes)
	if err != nil {
		logging.Debug("Blocking application check skipped", "error", err)
		return
	}
	for _, app := range running {
		logging.Warn("Blocking application is running", "app", app)
		s.Ledger.AddWarning("Blocking Application",
			fmt.Sprintf("%s is running", app),
			fmt.Sprintf("Close %s before installing", app))
	}
}

// runHook runs an optional script and reports whether the run may continue.
func (s *Session) runHook(ctx context.Context, name, path, action string) bool {
	step := name + " script"
	s.Steps.Start(step)

	res, err := s.Hooks.Run(ctx, name, path)
	if err == nil {
		s.Steps.Append(step, steplog.Success, fmt.Sprintf("Completed in %s", res.Duration.Round(time.Millisecond)), 1)
		return true
	}

	category := name + " Script"
	if strings.EqualFold(action, "abort") {
		s.Ledger.AddError(category, err.Error(), ledger.High, "Fix the "+strings.ToLower(name)+" script or set its failure action to continue")
		s.Steps.Append(step, steplog.Failed, err.Error(), 1)
		s.Printer.Error("%s script failed: %v", name, err)
		return false
	}
	s.Ledger.AddWarning(category, err.Error(), "Review the script output in the audit log")
	s.Steps.Append(step, steplog.Warning, err.Error(), 1)
	s.Printer.Warning("%s script failed: %v", name, err)
	return true
}

// finish renders and writes the report and summary.
func (s *Session) finish(res *Result, start time.Time, installOK bool) error {
	cfg := s.Config
	in := reporting.Input{
		AppName:          cfg.AppName,
		SessionID:        logging.GetSessionID(),
		LaunchHint:       cfg.LaunchHint,
		StartTime:        start,
		EndTime:          s.Now(),
		InstallSucceeded: installOK,
		AttemptsUsed:     res.Install.AttemptsUsed,
		Verification:     res.Verification,
		Errors:           s.Ledger.Errors(),
		Warnings:         s.Ledger.Warnings(),
		Steps:            s.Steps.Steps(),
		Files: reporting.Files{
			Log:         cfg.LogPath(),
			Events:      cfg.EventsPath(),
			Report:      cfg.ReportPath(),
			Summary:     cfg.SummaryPath(),
			Diagnostics: cfg.DiagnosticsPath(),
			Installer:   cfg.ResolvedInstallerPath(),
			InstallRoot: cfg.InstallRoot,
		},
	}
	res.Report, res.Summary = reporting.Build(in)

	logging.LogSessionEvent("end", "completed", "Install monitor finished", map[string]interface{}{
		"overall_success": res.Summary.OverallSuccess,
		"errors":          res.Summary.TotalErrors,
		"warnings":        res.Summary.TotalWarnings,
	})

	if err := reporting.WriteReport(cfg.ReportPath(), res.Report); err != nil {
		logging.Error("Failed to save report", "error", err)
		return err
	}
	logging.Info("Audit report saved", "path", cfg.ReportPath())
	if err := reporting.WriteSummary(cfg.SummaryPath(), res.Summary); err != nil {
		logging.Error("Failed to save summary", "error", err)
		return err
	}
	return nil
}
