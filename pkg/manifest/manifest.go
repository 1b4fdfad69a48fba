// pkg/manifest/manifest.go - expected-file manifests for install verification.

package manifest

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/windowsadmins/installwatch/pkg/logging"
	"gopkg.in/yaml.v3"
)

// ErrInvalidEntry is wrapped when a manifest entry would escape the install root.
var ErrInvalidEntry = errors.New("invalid manifest entry")

// File is the on-disk manifest format.
type File struct {
	Name     string   `yaml:"name,omitempty"`
	Files    []string `yaml:"files"`
	Includes []string `yaml:"included_manifests,omitempty"`
}

// Load reads a manifest file and any manifests it includes. Included paths are
// relative to the including file. Entries keep their first-seen order and
// duplicates are dropped.
func Load(manifestPath string) ([]string, error) {
	var entries []string
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	if err := load(manifestPath, visited, seen, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func load(manifestPath string, visited, seen map[string]bool, entries *[]string) error {
	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		abs = manifestPath
	}
	if visited[abs] {
		logging.Warn("Manifest include cycle skipped", "manifest", manifestPath)
		return nil
	}
	visited[abs] = true

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to read manifest %s: %w", manifestPath, err)
	}
	var mf File
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return fmt.Errorf("failed to parse manifest %s: %w", manifestPath, err)
	}
	logging.Debug("Loaded manifest", "manifest", manifestPath, "name", mf.Name, "files", len(mf.Files), "includes", len(mf.Includes))

	for _, entry := range mf.Files {
		clean, err := Clean(entry)
		if err != nil {
			return fmt.Errorf("%s: %w", manifestPath, err)
		}
		if !seen[clean] {
			seen[clean] = true
			*entries = append(*entries, clean)
		}
	}

	base := filepath.Dir(manifestPath)
	for _, inc := range mf.Includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(base, inc)
		}
		if err := load(incPath, visited, seen, entries); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the effective manifest: the manifest file when one is
// configured, otherwise the configured list, otherwise defaults.
func Resolve(configured []string, manifestPath string, defaults []string) ([]string, error) {
	if manifestPath != "" {
		return Load(manifestPath)
	}
	source := configured
	if len(source) == 0 {
		source = defaults
	}

	entries := make([]string, 0, len(source))
	seen := make(map[string]bool, len(source))
	for _, entry := range source {
		clean, err := Clean(entry)
		if err != nil {
			return nil, err
		}
		if !seen[clean] {
			seen[clean] = true
			entries = append(entries, clean)
		}
	}
	return entries, nil
}

// Clean normalises an entry to a forward-slash path relative to the install
// root, rejecting absolute paths and parent escapes.
func Clean(entry string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(entry, `\`, "/"))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidEntry)
	}
	if strings.HasPrefix(trimmed, "/") || filepath.IsAbs(entry) || filepath.VolumeName(entry) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidEntry, entry)
	}
	clean := path.Clean(trimmed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the install root", ErrInvalidEntry, entry)
	}
	return clean, nil
}
