package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windowsadmins/installwatch/pkg/config"
	"github.com/windowsadmins/installwatch/pkg/monitor"
)

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	var o runOptions
	addRunFlags(fs, &o)
	require.NoError(t, fs.Parse([]string{"--attempts", "5", "--report-dir", "/tmp/audit", "-vv"}))

	cfg := config.GetDefaultConfig()
	installer := cfg.InstallerPath
	applyFlags(fs, &o, cfg)

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, "/tmp/audit", cfg.ReportDir)
	assert.Equal(t, installer, cfg.InstallerPath)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.True(t, cfg.Verbose)
}

func TestApplyFlags_ZeroAttemptsFailsValidation(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	var o runOptions
	addRunFlags(fs, &o)
	require.NoError(t, fs.Parse([]string{"--attempts", "0"}))

	cfg := config.GetDefaultConfig()
	applyFlags(fs, &o, cfg)
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
}

func TestApplyFlags_ExpectReplacesManifest(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	var o runOptions
	addRunFlags(fs, &o)
	require.NoError(t, fs.Parse([]string{"--expect", "main.py,app.json", "--expect", "run.bat", "--blocking-app", "python.exe"}))

	cfg := config.GetDefaultConfig()
	cfg.ManifestPath = "files.yaml"
	applyFlags(fs, &o, cfg)

	assert.Equal(t, []string{"main.py", "app.json", "run.bat"}, cfg.ExpectedFiles)
	assert.Empty(t, cfg.ManifestPath)
	assert.Equal(t, []string{"python.exe"}, cfg.BlockingApps)
}

func TestExitError_Unwraps(t *testing.T) {
	err := &exitError{ExitValidationFailed, monitor.ErrValidation}
	assert.True(t, errors.Is(err, monitor.ErrValidation))

	var ee *exitError
	require.True(t, errors.As(error(err), &ee))
	assert.Equal(t, ExitValidationFailed, ee.code)
}

func TestShowConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "installwatch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("AppName: Shown\n"), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--config", cfgPath, "--show-config"})
	t.Cleanup(func() {
		opts = runOptions{}
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "AppName: Shown")
	assert.Contains(t, out.String(), cfgPath)
}

func TestRun_BadConfigExitCode(t *testing.T) {
	rootCmd.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	t.Cleanup(func() {
		opts = runOptions{}
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ExitInvalidConfig, ee.code)
}
