// cmd/installwatch/main.go

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/installwatch/pkg/config"
	"github.com/windowsadmins/installwatch/pkg/logging"
	"github.com/windowsadmins/installwatch/pkg/monitor"
	"github.com/windowsadmins/installwatch/pkg/utils"
	"github.com/windowsadmins/installwatch/pkg/version"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitInvalidConfig    = 2
	ExitValidationFailed = 3
	ExitRuntimeError     = 4
)

// exitError carries a process exit code out of a cobra command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

type runOptions struct {
	configPath  string
	installer   string
	installDir  string
	reportDir   string
	attempts    int
	timeout     int
	expect      []string
	blocking    []string
	yes         bool
	showConfig  bool
	printReport bool
	verbosity   int
}

var opts runOptions

var rootCmd = &cobra.Command{
	Use:   "installwatch",
	Short: "Supervise a batch installer, retry it on failure and audit the result",
	Long: `installwatch runs a third-party installer script with a bounded wait,
re-runs it when it fails, checks the installed files against an expected
manifest and writes an audit report with recovery suggestions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run and monitor the installer",
	RunE:  runInstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		version.PrintFull(cmd.OutOrStdout())
	},
}

func init() {
	addRunFlags(runCmd.Flags(), &opts)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func addRunFlags(fs *pflag.FlagSet, o *runOptions) {
	fs.StringVarP(&o.configPath, "config", "c", "", "Path to the YAML configuration file (default installwatch.yaml)")
	fs.StringVar(&o.installer, "installer", "", "Installer script to run")
	fs.StringVar(&o.installDir, "install-dir", "", "Directory the installer populates")
	fs.StringVar(&o.reportDir, "report-dir", "", "Directory for the audit log, report and diagnostics")
	fs.IntVar(&o.attempts, "attempts", 0, "Maximum installer attempts")
	fs.IntVar(&o.timeout, "timeout", 0, "Per-attempt timeout in seconds")
	fs.StringSliceVar(&o.expect, "expect", nil, "Expected file relative to the install directory (repeatable; replaces the configured list)")
	fs.StringSliceVar(&o.blocking, "blocking-app", nil, "Application that must not be running during install (repeatable)")
	fs.BoolVarP(&o.yes, "yes", "y", false, "Do not ask for confirmation before running the installer")
	fs.BoolVar(&o.showConfig, "show-config", false, "Display the effective configuration and exit")
	fs.BoolVar(&o.printReport, "print-report", false, "Print the full audit report when finished")
	fs.CountVarP(&o.verbosity, "verbose", "v", "Increase verbosity (-v mirrors the audit log, -vv adds debug)")
}

// applyFlags overlays explicitly set flags onto cfg.
func applyFlags(fs *pflag.FlagSet, o *runOptions, cfg *config.Configuration) {
	if fs.Changed("installer") {
		cfg.InstallerPath = o.installer
	}
	if fs.Changed("install-dir") {
		cfg.InstallRoot = o.installDir
	}
	if fs.Changed("report-dir") {
		cfg.ReportDir = o.reportDir
	}
	if fs.Changed("attempts") {
		cfg.MaxAttempts = o.attempts
	}
	if fs.Changed("timeout") {
		cfg.InstallerTimeoutSeconds = o.timeout
	}
	if fs.Changed("expect") {
		cfg.ExpectedFiles = o.expect
		cfg.ManifestPath = ""
	}
	if fs.Changed("blocking-app") {
		cfg.BlockingApps = o.blocking
	}
	switch {
	case o.verbosity >= 2:
		cfg.LogLevel = "DEBUG"
		cfg.Verbose = true
	case o.verbosity == 1:
		cfg.Verbose = true
	}
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return &exitError{ExitInvalidConfig, fmt.Errorf("failed to load configuration: %w", err)}
	}
	applyFlags(cmd.Flags(), &opts, cfg)
	if err := cfg.Validate(); err != nil {
		return &exitError{ExitInvalidConfig, err}
	}

	if opts.showConfig {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return &exitError{ExitRuntimeError, err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration (from %s):\n%s", cfg.Source, data)
		return nil
	}

	if err := logging.Init(logging.LoggerConfig{
		LogPath:       cfg.LogPath(),
		EventsPath:    cfg.EventsPath(),
		Level:         logging.ParseLevel(cfg.LogLevel),
		EnableConsole: cfg.Verbose,
		Console:       os.Stderr,
	}); err != nil {
		return &exitError{ExitRuntimeError, fmt.Errorf("error initializing logger: %w", err)}
	}
	defer logging.CloseLogger()
	logging.Info("Configuration loaded", "source", cfg.Source, "version", version.Version().Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := logging.New(true)
	session := monitor.New(cfg, printer)
	if !opts.yes {
		session.Confirm = promptYesNo(printer)
	}

	res, err := session.Run(ctx)
	if opts.printReport && res.Report != "" {
		printer.Rule()
		fmt.Fprint(cmd.OutOrStdout(), res.Report)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, monitor.ErrValidation):
		return &exitError{ExitValidationFailed, err}
	case errors.Is(err, config.ErrInvalid):
		return &exitError{ExitInvalidConfig, err}
	default:
		return &exitError{ExitRuntimeError, err}
	}
}

// promptYesNo asks on stdin. A non-interactive stdin declines.
func promptYesNo(printer *logging.Printer) func(string) bool {
	return func(prompt string) bool {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			printer.Warning("stdin is not a terminal; pass --yes to run unattended")
			return false
		}
		fmt.Fprint(os.Stdout, "\n"+prompt)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

func main() {
	rootCmd.SetArgs(utils.NativeArgs(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		code := ExitRuntimeError
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintf(os.Stderr, "installwatch: %v\n", err)
		os.Exit(code)
	}
	os.Exit(ExitOK)
}
