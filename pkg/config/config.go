// pkg/config/config.go - configuration settings for installwatch.

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "installwatch.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INSTALLWATCH_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// DefaultExpectedFiles is the manifest used when neither ExpectedFiles nor
// ManifestPath is configured.
var DefaultExpectedFiles = []string{
	"main.py",
	"gemini_api.py",
	"imdb_scraper.py",
	"requirements.txt",
	"build_installer.py",
	"weebly_player_full.html",
	"player/player-logic.js",
	"themes/dark.json",
	"themes/neon.json",
	"electron_app/main.js",
	"electron_app/preload.js",
	"electron_app/package.json",
}

// Configuration holds the configurable options for installwatch in YAML format.
type Configuration struct {
	AppName       string `yaml:"AppName"`
	InstallerPath string `yaml:"InstallerPath"`
	WorkingDir    string `yaml:"WorkingDir"`
	InstallRoot   string `yaml:"InstallRoot"`
	ReportDir     string `yaml:"ReportDir"`
	LaunchHint    string `yaml:"LaunchHint"`

	ExpectedFiles []string `yaml:"ExpectedFiles"`
	ManifestPath  string   `yaml:"ManifestPath"`

	// Retry loop
	MaxAttempts             int  `yaml:"MaxAttempts"`
	InstallerTimeoutSeconds int  `yaml:"InstallerTimeoutSeconds"`
	PollIntervalSeconds     int  `yaml:"PollIntervalSeconds"`
	HeartbeatSeconds        int  `yaml:"HeartbeatSeconds"`
	RetryDelaySeconds       int  `yaml:"RetryDelaySeconds"`
	KillOnTimeout           bool `yaml:"KillOnTimeout"`
	CleanInstall            bool `yaml:"CleanInstall"`

	// BlockingApps are process names that keep files in InstallRoot open.
	BlockingApps []string `yaml:"BlockingApps"`

	// Installer pre-flight
	MinInstallerBytes  int64    `yaml:"MinInstallerBytes"`
	InstallerExtension string   `yaml:"InstallerExtension"`
	InstallerMarkers   []string `yaml:"InstallerMarkers"`
	MinMarkers         int      `yaml:"MinMarkers"`
	VersionConstraint  string   `yaml:"VersionConstraint"`
	InstallerSHA256    string   `yaml:"InstallerSHA256"`

	// Diagnostics
	ConnectivityURL            string  `yaml:"ConnectivityURL"`
	ConnectivityTimeoutSeconds int     `yaml:"ConnectivityTimeoutSeconds"`
	DiskWarnPercent            float64 `yaml:"DiskWarnPercent"`

	// Hooks
	PreflightScript         string `yaml:"PreflightScript"`
	PostflightScript        string `yaml:"PostflightScript"`
	PreflightFailureAction  string `yaml:"PreflightFailureAction"`  // "continue" or "abort"
	PostflightFailureAction string `yaml:"PostflightFailureAction"` // "continue" or "abort"

	LogLevel string `yaml:"LogLevel"`
	Verbose  bool   `yaml:"Verbose"`

	// Source records where the configuration came from; not persisted.
	Source string `yaml:"-"`
}

// desktopDir returns the user's desktop folder, falling back to the home directory.
func desktopDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	desktop := filepath.Join(home, "Desktop")
	if info, err := os.Stat(desktop); err == nil && info.IsDir() {
		return desktop
	}
	return home
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	appName := "M3U Matrix CDS v5.0"
	desktop := desktopDir()
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return &Configuration{
		AppName:       appName,
		InstallerPath: "installer m3u builder.bat",
		WorkingDir:    cwd,
		InstallRoot:   filepath.Join(desktop, appName),
		ReportDir:     filepath.Join(desktop, appName+" Audit"),
		LaunchHint:    "START M3U Matrix.bat",

		MaxAttempts:             3,
		InstallerTimeoutSeconds: 300,
		PollIntervalSeconds:     1,
		HeartbeatSeconds:        30,
		RetryDelaySeconds:       5,
		KillOnTimeout:           true,
		CleanInstall:            true,

		MinInstallerBytes:  100,
		InstallerExtension: ".bat",
		InstallerMarkers:   []string{"@echo off", "M3U Matrix", "pip install", "python"},
		MinMarkers:         2,

		ConnectivityURL:            "https://www.google.com",
		ConnectivityTimeoutSeconds: 10,
		DiskWarnPercent:            90,

		PreflightFailureAction:  "continue",
		PostflightFailureAction: "continue",

		LogLevel: "INFO",
		Source:   "defaults",
	}
}

// LoadConfig builds the effective configuration. Values are layered as
// defaults, then the YAML file (or the Windows registry when no file exists),
// then a .env file next to the config, then INSTALLWATCH_* environment
// variables. The result is validated before it is returned.
func LoadConfig(path string) (*Configuration, error) {
	cfg := GetDefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading configuration file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing configuration file %s: %w", path, err)
		}
		cfg.Source = path
	} else if explicit {
		return nil, fmt.Errorf("configuration file does not exist: %s", path)
	} else if regErr := loadFromRegistry(cfg); regErr == nil {
		cfg.Source = "registry"
	} else if !errors.Is(regErr, errRegistryUnavailable) {
		log.Printf("Failed to load configuration from registry: %v", regErr)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load %s: %v", envFile, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path as YAML.
func SaveConfig(cfg *Configuration, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating configuration directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overlays INSTALLWATCH_* environment variables.
func applyEnv(cfg *Configuration) error {
	strs := map[string]*string{
		"APP_NAME":           &cfg.AppName,
		"INSTALLER":          &cfg.InstallerPath,
		"WORKING_DIR":        &cfg.WorkingDir,
		"INSTALL_DIR":        &cfg.InstallRoot,
		"REPORT_DIR":         &cfg.ReportDir,
		"MANIFEST":           &cfg.ManifestPath,
		"VERSION_CONSTRAINT": &cfg.VersionConstraint,
		"INSTALLER_SHA256":   &cfg.InstallerSHA256,
		"CONNECTIVITY_URL":   &cfg.ConnectivityURL,
		"PREFLIGHT_SCRIPT":   &cfg.PreflightScript,
		"POSTFLIGHT_SCRIPT":  &cfg.PostflightScript,
		"LOG_LEVEL":          &cfg.LogLevel,
	}
	for key, target := range strs {
		if val, ok := os.LookupEnv(EnvPrefix + key); ok && val != "" {
			*target = val
		}
	}

	ints := map[string]*int{
		"MAX_ATTEMPTS":    &cfg.MaxAttempts,
		"TIMEOUT_SECONDS": &cfg.InstallerTimeoutSeconds,
		"RETRY_DELAY":     &cfg.RetryDelaySeconds,
	}
	for key, target := range ints {
		val, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || val == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalid, EnvPrefix, key, val)
		}
		*target = n
	}

	bools := map[string]*bool{
		"KILL_ON_TIMEOUT": &cfg.KillOnTimeout,
		"CLEAN_INSTALL":   &cfg.CleanInstall,
		"VERBOSE":         &cfg.Verbose,
	}
	for key, target := range bools {
		val, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || val == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not a boolean", ErrInvalid, EnvPrefix, key, val)
		}
		*target = b
	}
	return nil
}

// Validate checks that the configuration can drive a run.
func (c *Configuration) Validate() error {
	var problems []string
	if strings.TrimSpace(c.InstallerPath) == "" {
		problems = append(problems, "InstallerPath is required")
	}
	if strings.TrimSpace(c.InstallRoot) == "" {
		problems = append(problems, "InstallRoot is required")
	}
	if strings.TrimSpace(c.ReportDir) == "" {
		problems = append(problems, "ReportDir is required")
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "MaxAttempts must be at least 1")
	}
	if c.InstallerTimeoutSeconds < 1 {
		problems = append(problems, "InstallerTimeoutSeconds must be positive")
	}
	if c.PollIntervalSeconds < 1 {
		problems = append(problems, "PollIntervalSeconds must be positive")
	}
	if c.HeartbeatSeconds < 1 {
		problems = append(problems, "HeartbeatSeconds must be positive")
	}
	if c.RetryDelaySeconds < 0 {
		problems = append(problems, "RetryDelaySeconds cannot be negative")
	}
	if c.MinMarkers < 0 {
		problems = append(problems, "MinMarkers cannot be negative")
	}
	if c.DiskWarnPercent < 0 || c.DiskWarnPercent > 100 {
		problems = append(problems, "DiskWarnPercent must be between 0 and 100")
	}
	for _, fa := range []struct{ name, action string }{
		{"PreflightFailureAction", c.PreflightFailureAction},
		{"PostflightFailureAction", c.PostflightFailureAction},
	} {
		switch strings.ToLower(fa.action) {
		case "", "continue", "abort":
		default:
			problems = append(problems, fmt.Sprintf("%s must be continue or abort, got %q", fa.name, fa.action))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// InstallerTimeout returns the per-attempt timeout.
func (c *Configuration) InstallerTimeout() time.Duration {
	return time.Duration(c.InstallerTimeoutSeconds) * time.Second
}

// PollInterval returns the liveness poll interval.
func (c *Configuration) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat interval.
func (c *Configuration) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// RetryDelay returns the constant backoff between attempts.
func (c *Configuration) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// ConnectivityTimeout returns the network probe timeout.
func (c *Configuration) ConnectivityTimeout() time.Duration {
	return time.Duration(c.ConnectivityTimeoutSeconds) * time.Second
}

// LogPath is the line-oriented audit log location.
func (c *Configuration) LogPath() string {
	return filepath.Join(c.ReportDir, "install_audit.log")
}

// EventsPath is the structured events location.
func (c *Configuration) EventsPath() string {
	return filepath.Join(c.ReportDir, "events.jsonl")
}

// ReportPath is the text report location.
func (c *Configuration) ReportPath() string {
	return filepath.Join(c.ReportDir, "AUDIT_REPORT.txt")
}

// SummaryPath is the YAML audit summary location.
func (c *Configuration) SummaryPath() string {
	return filepath.Join(c.ReportDir, "AUDIT_SUMMARY.yaml")
}

// DiagnosticsPath is the diagnostics snapshot location.
func (c *Configuration) DiagnosticsPath() string {
	return filepath.Join(c.ReportDir, "SYSTEM_DIAGNOSTICS.json")
}

// ResolvedInstallerPath returns the installer path made absolute against WorkingDir.
func (c *Configuration) ResolvedInstallerPath() string {
	if filepath.IsAbs(c.InstallerPath) || c.WorkingDir == "" {
		return c.InstallerPath
	}
	return filepath.Join(c.WorkingDir, c.InstallerPath)
}
